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
	"testing"

	"github.com/tapastro/stcal/internal/dq"
)

func segsEqual(a, b []Segment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuildCleanRamp(t *testing.T) {
	fl := dq.DefaultFlags()
	segs := Build(make([]uint32, 5), fl, nil)
	if !segsEqual(segs, []Segment{{0, 5}}) {
		t.Errorf("segments got %v; want [{0 5}]", segs)
	}
}

func TestBuildJumpSplitsSegment(t *testing.T) {
	fl := dq.DefaultFlags()
	gdq := make([]uint32, 5)
	gdq[3] = fl.JumpDet
	segs := Build(gdq, fl, nil)
	// the jump group opens the new segment
	if !segsEqual(segs, []Segment{{0, 3}, {3, 5}}) {
		t.Errorf("segments got %v; want [{0 3} {3 5}]", segs)
	}
}

func TestBuildTwoJumps(t *testing.T) {
	fl := dq.DefaultFlags()
	gdq := make([]uint32, 7)
	gdq[3] = fl.JumpDet
	gdq[5] = fl.JumpDet
	segs := Build(gdq, fl, nil)
	if !segsEqual(segs, []Segment{{0, 3}, {3, 5}, {5, 7}}) {
		t.Errorf("segments got %v; want [{0 3} {3 5} {5 7}]", segs)
	}
}

func TestBuildSaturatedTail(t *testing.T) {
	fl := dq.DefaultFlags()
	gdq := make([]uint32, 5)
	gdq[3] = fl.Saturated
	gdq[4] = fl.Saturated
	segs := Build(gdq, fl, nil)
	if !segsEqual(segs, []Segment{{0, 3}}) {
		t.Errorf("segments got %v; want [{0 3}]", segs)
	}
}

func TestBuildSaturationBeatsJump(t *testing.T) {
	fl := dq.DefaultFlags()
	gdq := make([]uint32, 5)
	gdq[2] = fl.Saturated | fl.JumpDet
	segs := Build(gdq, fl, nil)
	if !segsEqual(segs, []Segment{{0, 2}, {3, 5}}) {
		t.Errorf("segments got %v; want [{0 2} {3 5}]", segs)
	}
}

func TestBuildSumOfLengths(t *testing.T) {
	fl := dq.DefaultFlags()
	gdq := []uint32{0, fl.JumpDet, 0, fl.DoNotUse, 0, fl.JumpDet, fl.Saturated, fl.Saturated}
	segs := Build(gdq, fl, nil)
	total := 0
	for _, s := range segs {
		total += s.Len()
	}
	if total > len(gdq) {
		t.Errorf("sum of segment lengths %d exceeds group count %d", total, len(gdq))
	}
}

func TestRemoveBadSingles(t *testing.T) {
	// single next to a longer segment is dropped
	segs := RemoveBadSingles([]Segment{{0, 3}, {3, 4}})
	if !segsEqual(segs, []Segment{{0, 3}}) {
		t.Errorf("segments got %v; want [{0 3}]", segs)
	}

	// lone single is retained
	segs = RemoveBadSingles([]Segment{{2, 3}})
	if !segsEqual(segs, []Segment{{2, 3}}) {
		t.Errorf("segments got %v; want [{2 3}]", segs)
	}

	// consecutive singles with no longer segment keep exactly one
	segs = RemoveBadSingles([]Segment{{0, 1}, {1, 2}, {2, 3}})
	if !segsEqual(segs, []Segment{{0, 1}}) {
		t.Errorf("segments got %v; want [{0 1}]", segs)
	}

	// multiple singles around two longer segments all dropped
	segs = RemoveBadSingles([]Segment{{0, 1}, {1, 4}, {4, 5}, {5, 8}})
	if !segsEqual(segs, []Segment{{1, 4}, {5, 8}}) {
		t.Errorf("segments got %v; want [{1 4} {5 8}]", segs)
	}
}
