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

package diffstats

import (
	"math"

	"github.com/tapastro/stcal/internal/stats"
)

// First differences of a ramp along the group axis and their robust median.
// Unusable groups are marked NaN in the ramp; a difference touching a NaN
// endpoint is itself NaN and drops out of all reductions.

// FirstDiffs fills diffs[g] = ramp[g+1] - ramp[g]. diffs must have length
// len(ramp)-1.
func FirstDiffs(diffs, ramp []float32) {
	for g := range diffs {
		diffs[g] = ramp[g+1] - ramp[g]
	}
}

// CountFinite returns the number of non-NaN entries in diffs
func CountFinite(diffs []float32) int {
	n := 0
	for _, d := range diffs {
		if !math.IsNaN(float64(d)) {
			n++
		}
	}
	return n
}

// MedianDiff estimates the per-group accumulation of a ramp from its first
// differences. With 4 or more usable differences, the single difference with
// the largest absolute value is clipped and the median of the rest returned.
// With exactly 3, the plain median. With exactly 2, the entry with the
// smaller absolute value. Fewer than 2 yields NaN. Ties pick the first
// occurrence. These small-sample policies decide which pixels get flagged
// as jumps, so they must not be "simplified".
//
// scratch must be at least len(diffs) long; diffs is not modified.
func MedianDiff(diffs, scratch []float32) float32 {
	numFinite := CountFinite(diffs)
	switch {
	case numFinite >= 4:
		clip := argmaxAbs(diffs)
		numGathered := 0
		for i, d := range diffs {
			if i != clip && !math.IsNaN(float64(d)) {
				scratch[numGathered] = d
				numGathered++
			}
		}
		return stats.SelectMedian(scratch[:numGathered])

	case numFinite == 3:
		return stats.MedianSkipNaN(diffs, scratch)

	case numFinite == 2:
		var best float32 = float32(math.NaN())
		bestAbs := float32(math.MaxFloat32)
		for _, d := range diffs {
			if math.IsNaN(float64(d)) {
				continue
			}
			abs := d
			if abs < 0 {
				abs = -abs
			}
			if abs < bestAbs {
				best, bestAbs = d, abs
			}
		}
		return best

	default:
		return float32(math.NaN())
	}
}

// Index of the finite entry with the largest absolute value, lowest index on
// ties. Returns -1 if all entries are NaN.
func argmaxAbs(diffs []float32) int {
	best, bestAbs := -1, float32(-1)
	for i, d := range diffs {
		if math.IsNaN(float64(d)) {
			continue
		}
		abs := d
		if abs < 0 {
			abs = -abs
		}
		if abs > bestAbs {
			best, bestAbs = i, abs
		}
	}
	return best
}
