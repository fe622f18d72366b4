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

package fit

import (
	"math"

	"github.com/tapastro/stcal/internal/diffstats"
	"github.com/tapastro/stcal/internal/segment"
	"github.com/tapastro/stcal/internal/stats"
)

// Sentinel variance for nonexistent or degenerate segments and ramps
const LargeVariance = 1e8

// Result of fitting one segment of one pixel's ramp in one integration
type SegmentFit struct {
	Slope        float32 // e-/s
	Intercept    float32 // e- at t=0 of the integration
	SigSlope     float32 // read-noise uncertainty of the slope
	SigIntercept float32 // read-noise uncertainty of the intercept
	VarPoisson   float32 // slope variance due to Poisson noise
	VarRead      float32 // slope variance due to read noise
	InvVar       float32 // 1 / (VarPoisson + VarRead), the combining weight
	WeightSum    float32 // sum of the fitting weights
	Start        int     // first group of the segment
	Length       int     // number of groups
}

// Power of the signal-dependent weighting by segment signal to noise ratio.
// Low-signal segments fit with uniform weights; high-signal segments
// concentrate weight on the endpoints.
func weightPower(snr float32) float32 {
	switch {
	case snr < 5:
		return 0
	case snr < 10:
		return 1
	case snr < 20:
		return 2
	case snr < 50:
		return 3
	case snr < 100:
		return 6
	default:
		return 10
	}
}

// Fitter runs segment fits for ramps of a fixed group count, reusing its
// scratch buffers across pixels and segments
type Fitter struct {
	groupTime float32
	xs        []float32
	ys        []float32
	ws        []float32
	diffs     []float32
	scratch   []float32
}

func NewFitter(nGroups int, groupTime float32) *Fitter {
	nDiffs := nGroups - 1
	if nDiffs < 1 {
		nDiffs = 1
	}
	return &Fitter{
		groupTime: groupTime,
		xs:        make([]float32, nGroups),
		ys:        make([]float32, nGroups),
		ws:        make([]float32, nGroups),
		diffs:     make([]float32, nDiffs),
		scratch:   make([]float32, nDiffs),
	}
}

// FitSegment runs the signal-weighted least-squares line fit on one segment.
// ramp holds the pixel's per-group samples for one integration; rnFit is the
// conditioned read noise, gain the pixel gain, and medRate the pixel's
// estimated median count rate used for the Poisson variance.
//
// Single-group segments get no fit: slope 0, Poisson variance forced to the
// sentinel, and a read variance with the group count floored at 2.
func (f *Fitter) FitSegment(ramp []float32, seg segment.Segment, rnFit, gain, medRate float32) SegmentFit {
	n := seg.Len()
	sf := SegmentFit{Start: seg.Start, Length: n}

	rnPerTime := rnFit / f.groupTime
	if n == 1 {
		sf.VarRead = 12 * rnPerTime * rnPerTime / 6
		sf.VarPoisson = LargeVariance
		sf.InvVar = 1 / (sf.VarPoisson + sf.VarRead)
		return sf
	}
	sf.VarRead = 12 * rnPerTime * rnPerTime / float32(n*n*n-n)
	sf.VarPoisson = medRate / (f.groupTime * gain * float32(n-1))

	// median first difference within the segment estimates the signal for
	// the weighting schedule
	diffs := f.diffs[:n-1]
	diffstats.FirstDiffs(diffs, ramp[seg.Start:seg.End])
	sig := diffstats.MedianDiff(diffs, f.scratch) * float32(n-1)
	if math.IsNaN(float64(sig)) || sig < 0 {
		sig = 0
	}
	snr := sig / float32(math.Sqrt(float64(sig+rnFit*rnFit)))
	power := weightPower(snr)

	xs, ys, ws := f.xs[:n], f.ys[:n], f.ws[:n]
	mid := float32(n-1) / 2
	sumW := float32(0)
	for j := 0; j < n; j++ {
		xs[j] = float32(seg.Start+j) * f.groupTime
		ys[j] = ramp[seg.Start+j]
		dist := float32(j) - mid
		if dist < 0 {
			dist = -dist
		}
		if power == 0 {
			ws[j] = 1
		} else {
			ws[j] = float32(math.Pow(float64(dist), float64(power)))
		}
		sumW += ws[j]
	}

	slope, intercept, varSlopeUnit, varIntUnit := stats.WeightedLinFit(xs, ys, ws)
	if math.IsNaN(float64(slope)) {
		// degenerate design, treat like a single-group segment
		sf.VarPoisson = LargeVariance
		sf.InvVar = 1 / (sf.VarPoisson + sf.VarRead)
		return sf
	}
	sf.Slope = slope
	sf.Intercept = intercept
	sf.SigSlope = rnFit * float32(math.Sqrt(float64(varSlopeUnit)))
	sf.SigIntercept = rnFit * float32(math.Sqrt(float64(varIntUnit)))
	sf.WeightSum = sumW
	if v := sf.VarPoisson + sf.VarRead; v > 0 {
		sf.InvVar = 1 / v
	}
	return sf
}
