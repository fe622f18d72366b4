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
)

// Optional per-segment diagnostics. The segment-indexed planes are 4D
// [nInts][MaxSeg][nRows*nCols]; Pedestal is 3D [nInts][nRows*nCols]; CRMag
// is 4D [nInts][MaxCR][nRows*nCols] after compression.
type OptInfo struct {
	NInts, MaxSeg, NRows, NCols int

	Slope      []float32 `json:"slope"`
	SigSlope   []float32 `json:"sigSlope"`
	VarPoisson []float32 `json:"varPoisson"`
	VarRnoise  []float32 `json:"varRnoise"`
	Yint       []float32 `json:"yint"`
	SigYint    []float32 `json:"sigYint"`
	Pedestal   []float32 `json:"pedestal"`
	Weights    []float32 `json:"weights"`
	CRMag      []float32 `json:"crMag"`
	MaxCR      int       `json:"maxCR"`

	nGroups  int
	crMagRaw []float32 // [nInts][nGroups][nRows*nCols] before compression
}

func newOptInfo(nInts, maxSeg, nRows, nCols int) *OptInfo {
	numPix := nRows * nCols
	n4 := nInts * maxSeg * numPix
	o := &OptInfo{
		NInts: nInts, MaxSeg: maxSeg, NRows: nRows, NCols: nCols,
		Slope:      make([]float32, n4),
		SigSlope:   make([]float32, n4),
		VarPoisson: make([]float32, n4),
		VarRnoise:  make([]float32, n4),
		Yint:       make([]float32, n4),
		SigYint:    make([]float32, n4),
		Pedestal:   make([]float32, nInts*numPix),
		Weights:    make([]float32, n4),
	}
	return o
}

func (o *OptInfo) withCRMagRaw(nGroups int) *OptInfo {
	o.nGroups = nGroups
	o.crMagRaw = make([]float32, o.NInts*nGroups*o.NRows*o.NCols)
	return o
}

func (o *OptInfo) segIdx(i, k, p int) int { return (i*o.MaxSeg+k)*o.NRows*o.NCols + p }

func (o *OptInfo) setSegment(i, k, p int, sf SegmentFit) {
	if k >= o.MaxSeg {
		return
	}
	s := o.segIdx(i, k, p)
	o.Slope[s] = sf.Slope
	o.SigSlope[s] = sf.SigSlope
	o.VarPoisson[s] = sf.VarPoisson
	o.VarRnoise[s] = sf.VarRead
	o.Yint[s] = sf.Intercept
	o.SigYint[s] = sf.SigIntercept
	o.Weights[s] = sf.InvVar
}

func (o *OptInfo) setCRMag(i, g, p int, mag float32) {
	o.crMagRaw[(i*o.nGroups+g)*o.NRows*o.NCols+p] = mag
}

// compressCRMag collapses the zero entries of the raw cosmic-ray magnitude
// cube along the group axis. The compressed depth is the maximum number of
// nonzero magnitudes over all pixels and integrations, or 1 if none.
func (o *OptInfo) compressCRMag() {
	numPix := o.NRows * o.NCols

	maxCR := 0
	for i := 0; i < o.NInts; i++ {
		for p := 0; p < numPix; p++ {
			n := 0
			for g := 0; g < o.nGroups; g++ {
				if o.crMagRaw[(i*o.nGroups+g)*numPix+p] != 0 {
					n++
				}
			}
			if n > maxCR {
				maxCR = n
			}
		}
	}
	if maxCR == 0 {
		maxCR = 1
	}

	o.MaxCR = maxCR
	o.CRMag = make([]float32, o.NInts*maxCR*numPix)
	for i := 0; i < o.NInts; i++ {
		for p := 0; p < numPix; p++ {
			k := 0
			for g := 0; g < o.nGroups; g++ {
				if mag := o.crMagRaw[(i*o.nGroups+g)*numPix+p]; mag != 0 {
					o.CRMag[(i*maxCR+k)*numPix+p] = mag
					k++
				}
			}
		}
	}
	o.crMagRaw = nil
}

// finalize applies the output conventions: segment variances that are a
// large fraction of the sentinel mark nonexistent segments and become 0, as
// do weights whose reciprocal would be that large
func (o *OptInfo) finalize() {
	for s := range o.VarPoisson {
		if o.VarPoisson[s] > 0.4*LargeVariance {
			o.VarPoisson[s] = 0
		}
		if o.VarRnoise[s] > 0.4*LargeVariance {
			o.VarRnoise[s] = 0
		}
		if w := o.Weights[s]; w == 0 || math.IsInf(1/float64(w), 0) || 1/w > 0.4*LargeVariance {
			o.Weights[s] = 0
		}
	}
	o.compressCRMag()
}
