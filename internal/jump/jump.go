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

package jump

import (
	"fmt"
	"io"
	"math"

	"github.com/tapastro/stcal/internal/cube"
	"github.com/tapastro/stcal/internal/diffstats"
)

// Sigma rejection thresholds for the two-point difference test, selected by
// the number of usable first differences in the ramp.
type Thresholds struct {
	Rej4 float32 `json:"rej4"` // 4 or more usable differences
	Rej3 float32 `json:"rej3"` // exactly 3
	Rej2 float32 `json:"rej2"` // exactly 2
}

func DefaultThresholds() Thresholds { return Thresholds{Rej4: 5.5, Rej3: 5.5, Rej2: 5.0} }

// Selects the threshold for the given count of usable differences
func (t Thresholds) ForCount(numUsable int) float32 {
	switch {
	case numUsable >= 4:
		return t.Rej4
	case numUsable == 3:
		return t.Rej3
	default:
		return t.Rej2
	}
}

// Policy for flagging the four orthogonal neighbors of a detected jump.
// Only marginal detections propagate: the jump's pre-refinement ratio must
// lie strictly between MinRatio and MaxRatio.
type NeighborPolicy struct {
	Enabled  bool    `json:"enabled"`
	MinRatio float32 `json:"minRatio"`
	MaxRatio float32 `json:"maxRatio"`
}

func DefaultNeighborPolicy() NeighborPolicy {
	return NeighborPolicy{Enabled: true, MinRatio: 10, MaxRatio: 1000}
}

// Detect runs the iterative two-point difference jump test on every pixel of
// every integration and sets JumpDet bits in the cube's group DQ. The sample
// data itself is only read; unusable groups are masked NaN in a working copy.
// Never clears a DQ bit.
//
// The returned rowBelow and rowAbove planes, shaped [nInts][nGroups][nCols],
// record neighbor flags that fell off the bottom and top of the image, so a
// row-banded caller can OR them into the adjacent bands after joining.
func Detect(rc *cube.Cube, thr Thresholds, nb NeighborPolicy, logWriter io.Writer) (rowBelow, rowAbove []uint32) {
	nGroups, nRows, nCols := rc.NGroups, rc.NRows, rc.NCols
	nDiffs := nGroups - 1
	numPix := nRows * nCols
	fl := rc.Flags

	rowBelow = make([]uint32, rc.NInts*nGroups*nCols)
	rowAbove = make([]uint32, rc.NInts*nGroups*nCols)

	dat := make([]float32, nGroups*numPix)   // masked working copy, one integration
	ratios := make([]float32, nDiffs*numPix) // pre-refinement ratios, one integration
	diffs := make([]float32, nDiffs)
	pixDiffs := make([]float32, nDiffs)
	ramp := make([]float32, nGroups)
	scratch := make([]float32, nDiffs)
	jumpMask := make([]bool, nDiffs)

	for i := 0; i < rc.NInts; i++ {
		// mask saturated and do-not-use samples with NaN
		base := rc.GIdx(i, 0, 0, 0)
		copy(dat, rc.Data[base:base+nGroups*numPix])
		for s, w := range rc.GroupDQ[base : base+nGroups*numPix] {
			if fl.Unusable(w) {
				dat[s] = float32(math.NaN())
			}
		}

		numJumpPix, numJumps := 0, 0
		for p := 0; p < numPix; p++ {
			for g := 0; g < nGroups; g++ {
				ramp[g] = dat[g*numPix+p]
			}
			diffstats.FirstDiffs(diffs, ramp)

			m := diffstats.MedianDiff(diffs, scratch)
			rn := rc.ReadNoise[p]
			rn2OverFrames := rn * rn / float32(rc.Meta.NFrames)
			sigma := float32(math.Sqrt(math.Abs(float64(m)) + float64(rn2OverFrames)))
			if sigma == 0 {
				// zero read noise and flat ramp: suppress flagging entirely
				sigma = float32(math.NaN())
			}

			// pre-refinement ratios, kept for the neighbor test below
			maxIdx, maxRatio := -1, float32(-1)
			for g := 0; g < nDiffs; g++ {
				ratio := float32(math.Abs(float64(diffs[g]-m))) / sigma
				ratios[g*numPix+p] = ratio
				if !math.IsNaN(float64(ratio)) && ratio > maxRatio {
					maxIdx, maxRatio = g, ratio
				}
			}

			numUsable := diffstats.CountFinite(diffs)
			if maxIdx < 0 || numUsable < 2 || maxRatio <= thr.ForCount(numUsable) {
				continue
			}

			// iterative refinement: flag the worst difference, re-estimate the
			// median and sigma from what remains, and repeat while the excess
			// persists and more than two usable differences remain
			copy(pixDiffs, diffs)
			for g := range jumpMask {
				jumpMask[g] = false
			}
			jumpMask[maxIdx] = true
			newFound := true
			for newFound && diffstats.CountFinite(pixDiffs) > 2 {
				newFound = false
				for g := range pixDiffs {
					if jumpMask[g] {
						pixDiffs[g] = float32(math.NaN())
					}
				}
				newM := diffstats.MedianDiff(pixDiffs, scratch)
				newSigma := float32(math.Sqrt(math.Abs(float64(newM)) + float64(rn2OverFrames)))
				idx, best := -1, float32(-1)
				for g, d := range pixDiffs {
					ratio := float32(math.Abs(float64(d-newM))) / newSigma
					if !math.IsNaN(float64(ratio)) && ratio > best {
						idx, best = g, ratio
					}
				}
				if idx >= 0 && best > thr.ForCount(diffstats.CountFinite(pixDiffs)) {
					newFound = true
					jumpMask[idx] = true
				}
			}

			numJumpPix++
			for g, isJump := range jumpMask {
				if isJump {
					rc.GroupDQ[base+(g+1)*numPix+p] |= fl.JumpDet
					numJumps++
				}
			}
		}

		if nb.Enabled {
			numNeighbors := flagNeighbors(rc, i, ratios, nb, rowBelow, rowAbove)
			fmt.Fprintf(logWriter, "Integration %d: flagged %d jump(s) in %d pixel(s), %d neighbor(s)\n",
				i, numJumps, numJumpPix, numNeighbors)
		} else {
			fmt.Fprintf(logWriter, "Integration %d: flagged %d jump(s) in %d pixel(s)\n",
				i, numJumps, numJumpPix)
		}
	}
	return rowBelow, rowAbove
}

// Position of one flagged jump group
type jumpLoc struct {
	g, r, c int
}

// flagNeighbors propagates marginal jumps in integration i to the four
// orthogonal neighbors at the same group. The window test consults the
// ratios computed before iterative refinement, never the refined ones.
// Neighbors off the top or bottom image edge are recorded in the
// rowAbove/rowBelow planes instead. Returns the number of flags set.
func flagNeighbors(rc *cube.Cube, i int, ratios []float32, nb NeighborPolicy, rowBelow, rowAbove []uint32) int {
	nGroups, nRows, nCols := rc.NGroups, rc.NRows, rc.NCols
	numPix := nRows * nCols
	fl := rc.Flags
	base := rc.GIdx(i, 0, 0, 0)

	// snapshot of flagged locations, so freshly flagged neighbors do not
	// recursively propagate within this pass
	locs := []jumpLoc{}
	for g := 1; g < nGroups; g++ {
		for r := 0; r < nRows; r++ {
			for c := 0; c < nCols; c++ {
				if rc.GroupDQ[base+g*numPix+r*nCols+c]&fl.JumpDet != 0 {
					locs = append(locs, jumpLoc{g, r, c})
				}
			}
		}
	}

	numFlagged := 0
	for _, l := range locs {
		ratio := ratios[(l.g-1)*numPix+l.r*nCols+l.c]
		if !(ratio > nb.MinRatio && ratio < nb.MaxRatio) {
			continue
		}
		gOff := base + l.g*numPix
		if l.r != 0 {
			rc.GroupDQ[gOff+(l.r-1)*nCols+l.c] |= fl.JumpDet
		} else {
			rowBelow[(i*nGroups+l.g)*nCols+l.c] |= fl.JumpDet
		}
		if l.r != nRows-1 {
			rc.GroupDQ[gOff+(l.r+1)*nCols+l.c] |= fl.JumpDet
		} else {
			rowAbove[(i*nGroups+l.g)*nCols+l.c] |= fl.JumpDet
		}
		if l.c != 0 {
			rc.GroupDQ[gOff+l.r*nCols+l.c-1] |= fl.JumpDet
		}
		if l.c != nCols-1 {
			rc.GroupDQ[gOff+l.r*nCols+l.c+1] |= fl.JumpDet
		}
		numFlagged++
	}
	return numFlagged
}
