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
	"fmt"
	"io"
	"math"

	"github.com/tapastro/stcal/internal/cube"
	"github.com/tapastro/stcal/internal/diffstats"
	"github.com/tapastro/stcal/internal/segment"
)

// MaxSegments returns the largest per-pixel segment count over all
// integrations, after bad-singles removal. At least 1, so diagnostic arrays
// always have a plane to write to.
func MaxSegments(rc *cube.Cube) int {
	numPix := rc.NRows * rc.NCols
	gdqRamp := make([]uint32, rc.NGroups)
	segs := make([]segment.Segment, 0, rc.NGroups)
	maxSeg := 1
	for i := 0; i < rc.NInts; i++ {
		base := rc.GIdx(i, 0, 0, 0)
		for p := 0; p < numPix; p++ {
			for g := 0; g < rc.NGroups; g++ {
				gdqRamp[g] = rc.GroupDQ[base+g*numPix+p]
			}
			segs = segment.Build(gdqRamp, rc.Flags, segs)
			segs = segment.RemoveBadSingles(segs)
			if len(segs) > maxSeg {
				maxSeg = len(segs)
			}
		}
	}
	return maxSeg
}

// frameTime falls back to dividing the group time by the frames per group
// when the metadata carries no frame time
func frameTime(meta *cube.Metadata) float32 {
	if meta.FrameTime > 0 {
		return meta.FrameTime
	}
	return meta.EffGroupTime() / float32(meta.NFrames+meta.GroupGap)
}

// FitBand fits every ramp of the given (possibly row-banded) cube: segments
// split at jumps and saturation, signal-weighted line fit per segment,
// inverse-variance combination per integration and across integrations.
// rnFit is the conditioned read noise plane for the band; maxSeg the
// exposure-wide maximum segment count. The returned IntegInfo is always
// populated; callers decide whether to surface it. OptInfo is nil unless
// saveOpt is set, and still needs finalize() after row bands are joined.
func FitBand(rc *cube.Cube, rnFit []float32, maxSeg int, saveOpt bool, logWriter io.Writer) (*ImageInfo, *IntegInfo, *OptInfo) {
	nInts, nGroups := rc.NInts, rc.NGroups
	nRows, nCols := rc.NRows, rc.NCols
	numPix := nRows * nCols
	fl := rc.Flags
	gt := rc.Meta.EffGroupTime()

	img := newImageInfo(nRows, nCols)
	integ := newIntegInfo(nInts, nRows, nCols)
	fillIntTimes(integ.IntTimes, &rc.Meta, nGroups)
	var opt *OptInfo
	if saveOpt {
		opt = newOptInfo(nInts, maxSeg, nRows, nCols).withCRMagRaw(nGroups)
	}

	dat := make([]float32, nInts*nGroups*numPix) // unusable samples masked NaN
	copy(dat, rc.Data[:len(dat)])
	for s, w := range rc.GroupDQ[:len(dat)] {
		if fl.Unusable(w) {
			dat[s] = float32(math.NaN())
		}
	}

	// estimated median count rate per pixel, for the Poisson variances;
	// cosmic ray magnitudes fall out of the same differencing pass
	medRates := make([]float32, numPix)
	ramp := make([]float32, nGroups)
	diffs := make([]float32, nGroups-1)
	scratch := make([]float32, nGroups-1)
	for p := 0; p < numPix; p++ {
		sum, num := float32(0), 0
		for i := 0; i < nInts; i++ {
			base := i * nGroups * numPix
			for g := 0; g < nGroups; g++ {
				ramp[g] = dat[base+g*numPix+p]
			}
			diffstats.FirstDiffs(diffs, ramp)
			m := diffstats.MedianDiff(diffs, scratch)
			if !math.IsNaN(float64(m)) {
				sum += m
				num++
			}
			if saveOpt {
				for g := 1; g < nGroups; g++ {
					if rc.GroupDQ[rc.GIdx(i, g, 0, 0)+p]&fl.JumpDet == 0 {
						continue
					}
					if mag := diffs[g-1] - m; !math.IsNaN(float64(mag)) {
						opt.setCRMag(i, g, p, mag)
					}
				}
			}
		}
		if num > 0 {
			medRates[p] = sum / float32(num) / gt
		}
		if medRates[p] < 0 {
			medRates[p] = 0
		}
	}

	fitter := NewFitter(nGroups, gt)
	gdqRamp := make([]uint32, nGroups)
	segs := make([]segment.Segment, 0, nGroups)
	numSegsFit := 0

	for i := 0; i < nInts; i++ {
		base := rc.GIdx(i, 0, 0, 0)
		for p := 0; p < numPix; p++ {
			word := rc.PixelDQ[p]
			anySat, anyJump := false, false
			for g := 0; g < nGroups; g++ {
				w := rc.GroupDQ[base+g*numPix+p]
				gdqRamp[g] = w
				anySat = anySat || fl.IsSaturated(w)
				anyJump = anyJump || fl.IsJump(w)
			}
			if anySat {
				word |= fl.Saturated
			}
			if anyJump {
				word |= fl.JumpDet
			}

			slope, varP, varR, varBoth := float32(0), float32(LargeVariance), float32(LargeVariance), float32(LargeVariance)
			switch {
			case fl.IsSaturated(gdqRamp[0]):
				// ramp saturated from its first group: no usable interval at all
				word |= fl.DoNotUse

			case rc.PixelDQ[p]&fl.DoNotUse != 0:
				// bad gain or otherwise unusable pixel, excluded from fitting
				word |= fl.DoNotUse

			default:
				segs = segment.Build(gdqRamp, fl, segs)
				segs = segment.RemoveBadSingles(segs)
				if len(segs) == 1 && segs[0].Len() == 1 {
					word |= fl.UnreliableSlope
				}

				for g := 0; g < nGroups; g++ {
					ramp[g] = dat[base+g*numPix+p]
				}
				sumSlopeW, sumInvBoth, sumInvP, sumInvR := float32(0), float32(0), float32(0), float32(0)
				for k, seg := range segs {
					sf := fitter.FitSegment(ramp, seg, rnFit[p], rc.Gain[p], medRates[p])
					sumSlopeW += sf.Slope * sf.InvVar
					sumInvBoth += sf.InvVar
					sumInvP += 1 / sf.VarPoisson
					sumInvR += 1 / sf.VarRead
					if saveOpt {
						opt.setSegment(i, k, p, sf)
					}
					numSegsFit++
				}
				if sumInvBoth == 0 {
					word |= fl.DoNotUse
				} else {
					slope = sumSlopeW / sumInvBoth
					varBoth = 1 / sumInvBoth
					varP = 1 / sumInvP
					varR = 1 / sumInvR
					if varP > LargeVariance || math.IsNaN(float64(varP)) {
						varP = LargeVariance
					}
					if varR > LargeVariance || math.IsNaN(float64(varR)) {
						varR = LargeVariance
					}
				}
			}

			s := i*numPix + p
			integ.Data[s] = slope
			integ.DQ[s] = word
			integ.VarPoisson[s] = varP
			integ.VarRnoise[s] = varR
			integ.Err[s] = float32(math.Sqrt(float64(varBoth)))

			if saveOpt {
				first := rc.Data[base+p]
				meta := &rc.Meta
				ped := first - slope*frameTime(meta)*
					(float32(meta.NFrames+1)/2+float32(meta.DropFrames1))
				if fl.IsSaturated(gdqRamp[0]) || math.IsNaN(float64(ped)) {
					ped = 0
				}
				opt.Pedestal[i*numPix+p] = ped
			}
		}
	}

	// combine integrations into the exposure products, Poisson and read
	// noise components independently
	dqInt := make([][]uint32, nInts)
	for i := range dqInt {
		dqInt[i] = integ.DQ[i*numPix : (i+1)*numPix]
	}
	finalDq := fl.CompressFinal(dqInt)
	for p := 0; p < numPix; p++ {
		sumSlopeW, sumW, sumInvP, sumInvR := float32(0), float32(0), float32(0), float32(0)
		for i := 0; i < nInts; i++ {
			s := i*numPix + p
			vb := integ.VarPoisson[s] + integ.VarRnoise[s]
			if vb <= 0 {
				vb = 1.0 / LargeVariance
			}
			w := 1 / vb
			sumSlopeW += integ.Data[s] * w
			sumW += w
			sumInvP += 1 / integ.VarPoisson[s]
			sumInvR += 1 / integ.VarRnoise[s]
		}
		slope, varP, varR := float32(0), float32(LargeVariance), float32(LargeVariance)
		if sumW > 0 {
			slope = sumSlopeW / sumW
		}
		if sumInvP > 0 {
			if varP = 1 / sumInvP; varP > LargeVariance {
				varP = LargeVariance
			}
		}
		if sumInvR > 0 {
			if varR = 1 / sumInvR; varR > LargeVariance {
				varR = LargeVariance
			}
		}
		img.Data[p] = slope
		img.DQ[p] = finalDq[p]
		img.VarPoisson[p] = varP
		img.VarRnoise[p] = varR
		img.Err[p] = float32(math.Sqrt(float64(varP + varR)))
	}

	fmt.Fprintf(logWriter, "Fitted %d segment(s) over %d pixel(s) in %d integration(s)\n",
		numSegsFit, numPix, nInts)
	return img, integ, opt
}
