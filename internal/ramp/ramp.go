// Copyright (C) 2021 The stcal-go authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ramp

import (
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	"github.com/tapastro/stcal/internal/cube"
	"github.com/tapastro/stcal/internal/fit"
	"github.com/tapastro/stcal/internal/jump"
)

// Processing options for one exposure
type Options struct {
	Algorithm    string              `json:"algorithm"` // "OLS" is the only supported algorithm
	Weighting    string              `json:"weighting"` // "optimal" is the only supported weighting
	SaveOptional bool                `json:"saveOptional"`
	MaxCores     string              `json:"maxCores"` // none, quarter, half or all
	Thresholds   jump.Thresholds     `json:"thresholds"`
	Neighbors    jump.NeighborPolicy `json:"neighbors"`
}

func DefaultOptions() Options {
	return Options{
		Algorithm:    "OLS",
		Weighting:    "optimal",
		SaveOptional: false,
		MaxCores:     "none",
		Thresholds:   jump.DefaultThresholds(),
		Neighbors:    jump.DefaultNeighborPolicy(),
	}
}

func (o *Options) validate() error {
	if o.Algorithm != "" && o.Algorithm != "OLS" {
		return fmt.Errorf("unsupported algorithm %q, only OLS is implemented", o.Algorithm)
	}
	if o.Weighting != "" && o.Weighting != "optimal" {
		return fmt.Errorf("unsupported weighting %q, only optimal is implemented", o.Weighting)
	}
	switch o.MaxCores {
	case "", "none", "quarter", "half", "all":
		return nil
	}
	return fmt.Errorf("invalid maxCores %q, want none, quarter, half or all", o.MaxCores)
}

// Number of schedulable cores, counting SMT siblings
func numAvailableCores() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ComputeSlices translates the maxCores setting into a row-band count:
// one band for "none", else the selected fraction of the logical cores,
// floored at one and capped at the row count.
func ComputeSlices(maxCores string, nRows int) int {
	numCores := numAvailableCores()
	var n int
	switch maxCores {
	case "quarter":
		n = numCores / 4
	case "half":
		n = numCores / 2
	case "all":
		n = numCores
	default:
		return 1
	}
	if n < 1 {
		n = 1
	}
	if n > nRows {
		n = nRows
	}
	return n
}

// Concurrent band workers are throttled so their working copies stay within
// a fraction of physical memory, alongside the core count
func maxConcurrentWorkers(bandBytes uint64, numSlices int) int {
	budget := memory.TotalMemory() * 7 / 10
	n := numSlices
	if bandBytes > 0 {
		if byMem := int(budget / bandBytes); byMem < n {
			n = byMem
		}
	}
	if byCPU := numAvailableCores(); byCPU < n {
		n = byCPU
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Row bounds of band b out of numSlices. Bands can come out empty when the
// band count does not divide the row count; callers skip those.
func bandBounds(nRows, numSlices, b int) (rLow, rHigh int) {
	rowsPerBand := (nRows + numSlices - 1) / numSlices
	rLow = b * rowsPerBand
	rHigh = rLow + rowsPerBand
	if rLow > nRows {
		rLow = nRows
	}
	if rHigh > nRows {
		rHigh = nRows
	}
	return rLow, rHigh
}

// DetectJumps runs two-point difference jump detection over the whole
// exposure, updating the cube's group DQ in place. With multiple row bands,
// each worker owns a private band copy; neighbor flags that spilled over a
// band edge are OR-ed into the adjacent rows after all workers have joined.
func DetectJumps(rc *cube.Cube, opts *Options, logWriter io.Writer) error {
	if err := rc.Validate(); err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}
	if rc.NGroups < 3 {
		return errors.New("jump detection needs at least 3 groups per integration")
	}

	numSlices := ComputeSlices(opts.MaxCores, rc.NRows)
	if numSlices == 1 {
		jump.Detect(rc, opts.Thresholds, opts.Neighbors, logWriter)
		return nil
	}

	bandBytes := uint64(len(rc.Data)) / uint64(numSlices) * 8 // data + DQ copies
	numWorkers := maxConcurrentWorkers(bandBytes, numSlices)
	fmt.Fprintf(logWriter, "Detecting jumps in %d row band(s) with %d worker(s)\n", numSlices, numWorkers)

	bands := make([]*cube.Cube, numSlices)
	belows := make([][]uint32, numSlices)
	aboves := make([][]uint32, numSlices)
	sem := make(chan bool, numWorkers)
	for b := 0; b < numSlices; b++ {
		rLow, rHigh := bandBounds(rc.NRows, numSlices, b)
		if rLow >= rHigh {
			continue
		}
		sem <- true
		go func(b, rLow, rHigh int) {
			defer func() { <-sem }()
			band := rc.SliceRows(rLow, rHigh)
			below, above := jump.Detect(band, opts.Thresholds, opts.Neighbors, io.Discard)
			bands[b], belows[b], aboves[b] = band, below, above
		}(b, rLow, rHigh)
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}

	// join bands, then fold edge spill-over into the neighboring rows,
	// single threaded
	for b := 0; b < numSlices; b++ {
		rLow, rHigh := bandBounds(rc.NRows, numSlices, b)
		if rLow >= rHigh {
			continue
		}
		rc.MergeDQFrom(bands[b], rLow)
	}
	for b := 0; b < numSlices; b++ {
		rLow, rHigh := bandBounds(rc.NRows, numSlices, b)
		if rLow >= rHigh {
			continue
		}
		for i := 0; i < rc.NInts; i++ {
			for g := 0; g < rc.NGroups; g++ {
				for c := 0; c < rc.NCols; c++ {
					spill := (i*rc.NGroups+g)*rc.NCols + c
					if rLow > 0 {
						rc.GroupDQ[rc.GIdx(i, g, rLow-1, c)] |= belows[b][spill]
					}
					if rHigh < rc.NRows {
						rc.GroupDQ[rc.GIdx(i, g, rHigh, c)] |= aboves[b][spill]
					}
				}
			}
		}
	}
	return nil
}

// ResetBadGain flags pixels whose gain is non-positive or NaN as
// NoGainValue and DoNotUse in the pixel DQ, excluding them from fitting.
// Returns the number of pixels flagged.
func ResetBadGain(rc *cube.Cube) int {
	fl := rc.Flags
	num := 0
	for p, g := range rc.Gain {
		if g <= 0 || math.IsNaN(float64(g)) || math.IsInf(float64(g), 0) {
			rc.PixelDQ[p] |= fl.NoGainValue | fl.DoNotUse
			num++
		}
	}
	return num
}

// Read noise conditioned for the fit: scaled by the gain and by the
// frame averaging within a group
func conditionReadNoise(rc *cube.Cube) []float32 {
	scale := 1 / float32(math.Sqrt(2*float64(rc.Meta.NFrames)))
	rnFit := make([]float32, len(rc.ReadNoise))
	for p, rn := range rc.ReadNoise {
		rnFit[p] = rn * rc.Gain[p] * scale
	}
	return rnFit
}

// FitRamps fits all ramps of the exposure and combines them into the
// image-level, integration-level and optional products. Jump detection is
// assumed to have run already (or jumps to be pre-flagged in the group DQ).
// The integration product is nil for single-integration exposures, and the
// optional product is nil unless requested.
func FitRamps(rc *cube.Cube, opts *Options, logWriter io.Writer) (*fit.ImageInfo, *fit.IntegInfo, *fit.OptInfo, error) {
	if err := rc.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, nil, nil, err
	}

	if rc.AllSaturated() {
		fmt.Fprintf(logWriter, "All groups of all integrations are saturated\n")
		img, integ, opt := fit.AllSaturated(rc, opts.SaveOptional)
		return img, integ, opt, nil
	}

	numBadGain := ResetBadGain(rc)
	if numBadGain > 0 {
		fmt.Fprintf(logWriter, "Flagged %d pixel(s) with non-positive or NaN gain\n", numBadGain)
	}
	rnFit := conditionReadNoise(rc)
	maxSeg := fit.MaxSegments(rc)

	numSlices := ComputeSlices(opts.MaxCores, rc.NRows)
	var img *fit.ImageInfo
	var integ *fit.IntegInfo
	var opt *fit.OptInfo
	if numSlices == 1 {
		img, integ, opt = fit.FitBand(rc, rnFit, maxSeg, opts.SaveOptional, logWriter)
	} else {
		bandBytes := uint64(len(rc.Data)) / uint64(numSlices) * 12 // copies + outputs
		numWorkers := maxConcurrentWorkers(bandBytes, numSlices)
		fmt.Fprintf(logWriter, "Fitting ramps in %d row band(s) with %d worker(s)\n", numSlices, numWorkers)

		img, integ, opt = fit.NewExposureProducts(rc, maxSeg, opts.SaveOptional)
		sem := make(chan bool, numWorkers)
		for b := 0; b < numSlices; b++ {
			rLow, rHigh := bandBounds(rc.NRows, numSlices, b)
			if rLow >= rHigh {
				continue
			}
			sem <- true
			go func(rLow, rHigh int) {
				defer func() { <-sem }()
				band := rc.SliceRows(rLow, rHigh)
				bandRn := rnFit[rLow*rc.NCols : rHigh*rc.NCols]
				bImg, bInteg, bOpt := fit.FitBand(band, bandRn, maxSeg, opts.SaveOptional, io.Discard)
				img.CopyBand(bImg, rLow)
				integ.CopyBand(bInteg, rLow)
				if bOpt != nil {
					opt.CopyBand(bOpt, rLow)
				}
			}(rLow, rHigh)
		}
		for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
			sem <- true
		}
	}

	if opt != nil {
		opt.Finalize()
	}
	if rc.NInts == 1 {
		integ = nil
	}
	return img, integ, opt, nil
}

// Process runs the full pipeline: jump detection followed by ramp fitting
func Process(rc *cube.Cube, opts *Options, logWriter io.Writer) (*fit.ImageInfo, *fit.IntegInfo, *fit.OptInfo, error) {
	if rc.NGroups >= 3 && !rc.AllSaturated() {
		if err := DetectJumps(rc, opts, logWriter); err != nil {
			return nil, nil, nil, err
		}
	}
	return FitRamps(rc, opts, logWriter)
}
