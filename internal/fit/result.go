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
	"github.com/tapastro/stcal/internal/cube"
)

// Exposure-level ramp fitting products, all 2D [nRows*nCols]
type ImageInfo struct {
	NRows, NCols int
	Data         []float32 `json:"data"` // count rate, e-/s
	DQ           []uint32  `json:"dq"`
	VarPoisson   []float32 `json:"varPoisson"`
	VarRnoise    []float32 `json:"varRnoise"`
	Err          []float32 `json:"err"`
}

// Integration-level ramp fitting products, all 3D [nInts][nRows*nCols]
// except IntTimes. Nil when the exposure has a single integration.
type IntegInfo struct {
	NInts, NRows, NCols int
	Data                []float32 `json:"data"`
	DQ                  []uint32  `json:"dq"`
	VarPoisson          []float32 `json:"varPoisson"`
	VarRnoise           []float32 `json:"varRnoise"`
	IntTimes            []float32 `json:"intTimes"` // mid-integration times, seconds
	Err                 []float32 `json:"err"`
}

func newImageInfo(nRows, nCols int) *ImageInfo {
	numPix := nRows * nCols
	return &ImageInfo{
		NRows: nRows, NCols: nCols,
		Data:       make([]float32, numPix),
		DQ:         make([]uint32, numPix),
		VarPoisson: make([]float32, numPix),
		VarRnoise:  make([]float32, numPix),
		Err:        make([]float32, numPix),
	}
}

func newIntegInfo(nInts, nRows, nCols int) *IntegInfo {
	numPix := nRows * nCols
	return &IntegInfo{
		NInts: nInts, NRows: nRows, NCols: nCols,
		Data:       make([]float32, nInts*numPix),
		DQ:         make([]uint32, nInts*numPix),
		VarPoisson: make([]float32, nInts*numPix),
		VarRnoise:  make([]float32, nInts*numPix),
		IntTimes:   make([]float32, nInts),
		Err:        make([]float32, nInts*numPix),
	}
}

// Mid-integration elapsed times from the exposure metadata
func fillIntTimes(times []float32, meta *cube.Metadata, nGroups int) {
	integTime := meta.EffGroupTime() * float32(nGroups)
	for i := range times {
		times[i] = integTime * (float32(i) + 0.5)
	}
}

// AllSaturated is the fast path for an exposure whose every group of every
// integration is saturated: well-formed zero outputs with the DQ planes
// carrying the saturation. Never an error.
func AllSaturated(rc *cube.Cube, saveOpt bool) (*ImageInfo, *IntegInfo, *OptInfo) {
	fl := rc.Flags
	numPix := rc.NRows * rc.NCols

	img := newImageInfo(rc.NRows, rc.NCols)
	for p := 0; p < numPix; p++ {
		img.DQ[p] = rc.PixelDQ[p] | fl.Saturated | fl.DoNotUse
	}

	var integ *IntegInfo
	if rc.NInts > 1 {
		integ = newIntegInfo(rc.NInts, rc.NRows, rc.NCols)
		fillIntTimes(integ.IntTimes, &rc.Meta, rc.NGroups)
		for i := 0; i < rc.NInts; i++ {
			for p := 0; p < numPix; p++ {
				word := uint32(0)
				for g := 0; g < rc.NGroups; g++ {
					word |= rc.GroupDQ[rc.GIdx(i, g, 0, 0)+p]
				}
				integ.DQ[i*numPix+p] = word | fl.DoNotUse
			}
		}
	}

	var opt *OptInfo
	if saveOpt {
		opt = newOptInfo(rc.NInts, 1, rc.NRows, rc.NCols)
		opt.CRMag = make([]float32, rc.NInts*1*numPix)
		opt.MaxCR = 1
	}
	return img, integ, opt
}
