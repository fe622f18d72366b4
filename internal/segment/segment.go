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

package segment

import (
	"github.com/tapastro/stcal/internal/dq"
)

// A segment is a maximal run of consecutive usable groups within one
// integration of one pixel's ramp, as a half-open group interval.
// Saturated and do-not-use groups never belong to a segment. A jump
// terminates the running segment and opens the next one at the same group:
// the jump group itself is the first group of the new segment.
type Segment struct {
	Start int // first group
	End   int // one past last group
}

// Number of groups in the segment
func (s Segment) Len() int { return s.End - s.Start }

// Build scans one pixel's group DQ ramp and appends its segments to segs,
// reusing the slice's backing array across pixels.
func Build(gdqRamp []uint32, fl dq.Flags, segs []Segment) []Segment {
	segs = segs[:0]
	open := false
	start := 0
	for g, w := range gdqRamp {
		if fl.Unusable(w) {
			if open {
				segs = append(segs, Segment{start, g})
				open = false
			}
			continue
		}
		if fl.IsJump(w) && open {
			// close at the jump, reopen including the jump group
			segs = append(segs, Segment{start, g})
			start = g
			continue
		}
		if !open {
			start = g
			open = true
		}
	}
	if open {
		segs = append(segs, Segment{start, len(gdqRamp)})
	}
	return segs
}

// RemoveBadSingles drops single-group segments from a ramp that also has at
// least one longer segment. A ramp whose segments are all single groups
// keeps only its first one; a lone single-group segment is always kept.
// One pass suffices: removing a single cannot create new singles.
func RemoveBadSingles(segs []Segment) []Segment {
	if len(segs) < 2 {
		return segs
	}
	haveLonger := false
	for _, s := range segs {
		if s.Len() > 1 {
			haveLonger = true
			break
		}
	}
	if !haveLonger {
		return segs[:1]
	}
	kept := 0
	for _, s := range segs {
		if s.Len() > 1 {
			segs[kept] = s
			kept++
		}
	}
	return segs[:kept]
}
