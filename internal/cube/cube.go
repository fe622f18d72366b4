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

package cube

import (
	"errors"
	"fmt"

	"github.com/tapastro/stcal/internal/dq"
)

// Exposure timing metadata, from the instrument keywords.
type Metadata struct {
	FrameTime   float32 `json:"frameTime"`   // seconds to read one frame
	GroupTime   float32 `json:"groupTime"`   // seconds between group starts
	NFrames     int     `json:"nFrames"`     // frames averaged per group
	GroupGap    int     `json:"groupGap"`    // frames dropped between groups
	DropFrames1 int     `json:"dropFrames1"` // frames dropped at integration start
}

// Effective integration time for a single group.
func (m *Metadata) EffGroupTime() float32 {
	if m.FrameTime > 0 {
		return float32(m.NFrames+m.GroupGap) * m.FrameTime
	}
	return m.GroupTime
}

// A ramp cube: non-destructive detector readouts for one exposure, in
// electrons, with group- and pixel-level data quality and per-pixel
// calibration planes. Data is stored flat with the column index varying
// most quickly, i.e. element (i,g,r,c) lives at ((i*NGroups+g)*NRows+r)*NCols+c.
type Cube struct {
	NInts   int `json:"nInts"`
	NGroups int `json:"nGroups"`
	NRows   int `json:"nRows"`
	NCols   int `json:"nCols"`

	Data      []float32 `json:"data"`      // 4D ramp samples, electrons
	GroupDQ   []uint32  `json:"groupDq"`   // 4D group data quality
	PixelDQ   []uint32  `json:"pixelDq"`   // 2D exposure-level pixel data quality
	ReadNoise []float32 `json:"readNoise"` // 2D read noise, electrons
	Gain      []float32 `json:"gain"`      // 2D gain, electrons per DN

	Meta  Metadata `json:"meta"`
	Flags dq.Flags `json:"flags"`
}

// Creates a ramp cube of the given dimensions with all planes allocated
func NewCube(nInts, nGroups, nRows, nCols int, meta Metadata, flags dq.Flags) *Cube {
	numPix := nRows * nCols
	return &Cube{
		NInts:     nInts,
		NGroups:   nGroups,
		NRows:     nRows,
		NCols:     nCols,
		Data:      make([]float32, nInts*nGroups*numPix),
		GroupDQ:   make([]uint32, nInts*nGroups*numPix),
		PixelDQ:   make([]uint32, numPix),
		ReadNoise: make([]float32, numPix),
		Gain:      make([]float32, numPix),
		Meta:      meta,
		Flags:     flags,
	}
}

// Index of pixel (r,c) in the 2D planes
func (rc *Cube) PIdx(r, c int) int { return r*rc.NCols + c }

// Index of sample (i,g,r,c) in the 4D planes
func (rc *Cube) GIdx(i, g, r, c int) int {
	return ((i*rc.NGroups+g)*rc.NRows+r)*rc.NCols + c
}

// Validates dimensions and plane lengths before any processing starts
func (rc *Cube) Validate() error {
	if rc.NInts < 1 || rc.NGroups < 1 || rc.NRows < 1 || rc.NCols < 1 {
		return fmt.Errorf("invalid cube dimensions %dx%dx%dx%d", rc.NInts, rc.NGroups, rc.NRows, rc.NCols)
	}
	numPix := rc.NRows * rc.NCols
	numSamples := rc.NInts * rc.NGroups * numPix
	if len(rc.Data) != numSamples {
		return fmt.Errorf("data length %d does not match dimensions %dx%dx%dx%d",
			len(rc.Data), rc.NInts, rc.NGroups, rc.NRows, rc.NCols)
	}
	if len(rc.GroupDQ) != numSamples {
		return fmt.Errorf("group DQ length %d does not match data length %d", len(rc.GroupDQ), numSamples)
	}
	if len(rc.PixelDQ) != numPix {
		return fmt.Errorf("pixel DQ length %d does not match image size %d", len(rc.PixelDQ), numPix)
	}
	if len(rc.ReadNoise) != numPix {
		return fmt.Errorf("read noise length %d does not match image size %d", len(rc.ReadNoise), numPix)
	}
	if len(rc.Gain) != numPix {
		return fmt.Errorf("gain length %d does not match image size %d", len(rc.Gain), numPix)
	}
	if rc.Meta.EffGroupTime() <= 0 {
		return errors.New("non-positive effective group time in exposure metadata")
	}
	return nil
}

// Reports whether every group of every integration is flagged saturated
func (rc *Cube) AllSaturated() bool {
	for _, w := range rc.GroupDQ {
		if !rc.Flags.IsSaturated(w) {
			return false
		}
	}
	return true
}

// SliceRows deep-copies the row band [rLow,rHigh) into a standalone cube, so
// a worker can process it without sharing mutable state with its siblings
func (rc *Cube) SliceRows(rLow, rHigh int) *Cube {
	nRows := rHigh - rLow
	band := NewCube(rc.NInts, rc.NGroups, nRows, rc.NCols, rc.Meta, rc.Flags)
	for i := 0; i < rc.NInts; i++ {
		for g := 0; g < rc.NGroups; g++ {
			src := rc.GIdx(i, g, rLow, 0)
			dst := band.GIdx(i, g, 0, 0)
			n := nRows * rc.NCols
			copy(band.Data[dst:dst+n], rc.Data[src:src+n])
			copy(band.GroupDQ[dst:dst+n], rc.GroupDQ[src:src+n])
		}
	}
	src := rc.PIdx(rLow, 0)
	n := nRows * rc.NCols
	copy(band.PixelDQ, rc.PixelDQ[src:src+n])
	copy(band.ReadNoise, rc.ReadNoise[src:src+n])
	copy(band.Gain, rc.Gain[src:src+n])
	return band
}

// MergeDQFrom copies a band's group and pixel DQ planes back into the full
// cube at row offset rLow. The data planes are left untouched.
func (rc *Cube) MergeDQFrom(band *Cube, rLow int) {
	for i := 0; i < rc.NInts; i++ {
		for g := 0; g < rc.NGroups; g++ {
			src := band.GIdx(i, g, 0, 0)
			dst := rc.GIdx(i, g, rLow, 0)
			n := band.NRows * rc.NCols
			copy(rc.GroupDQ[dst:dst+n], band.GroupDQ[src:src+n])
		}
	}
	dst := rc.PIdx(rLow, 0)
	copy(rc.PixelDQ[dst:dst+band.NRows*rc.NCols], band.PixelDQ)
}
