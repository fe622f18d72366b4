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
	"io"
	"testing"

	"github.com/tapastro/stcal/internal/cube"
	"github.com/tapastro/stcal/internal/dq"
)

func testMeta() cube.Metadata {
	return cube.Metadata{FrameTime: 2, GroupTime: 2, NFrames: 1, GroupGap: 0}
}

// single-pixel cube with the given ramp, read noise 1, gain 1
func onePixelCube(ramp []float32) *cube.Cube {
	rc := cube.NewCube(1, len(ramp), 1, 1, testMeta(), dq.DefaultFlags())
	copy(rc.Data, ramp)
	rc.ReadNoise[0] = 1
	rc.Gain[0] = 1
	return rc
}

func noNeighbors() NeighborPolicy { return NeighborPolicy{Enabled: false} }

func testThresholds() Thresholds { return Thresholds{Rej4: 4, Rej3: 4, Rej2: 4} }

func TestDetectCleanRamp(t *testing.T) {
	rc := onePixelCube([]float32{10, 20, 30, 40, 50})
	Detect(rc, testThresholds(), noNeighbors(), io.Discard)
	for g, w := range rc.GroupDQ {
		if w != 0 {
			t.Errorf("group %d DQ got %d; want 0", g, w)
		}
	}
}

func TestDetectSingleJump(t *testing.T) {
	rc := onePixelCube([]float32{10, 20, 30, 130, 140})
	fl := rc.Flags
	Detect(rc, testThresholds(), noNeighbors(), io.Discard)
	for g, w := range rc.GroupDQ {
		want := uint32(0)
		if g == 3 {
			want = fl.JumpDet
		}
		if w != want {
			t.Errorf("group %d DQ got %d; want %d", g, w, want)
		}
	}
}

func TestDetectTwoJumps(t *testing.T) {
	rc := onePixelCube([]float32{10, 20, 30, 130, 140, 250, 260})
	fl := rc.Flags
	Detect(rc, testThresholds(), noNeighbors(), io.Discard)
	for g, w := range rc.GroupDQ {
		want := uint32(0)
		if g == 3 || g == 5 {
			want = fl.JumpDet
		}
		if w != want {
			t.Errorf("group %d DQ got %d; want %d", g, w, want)
		}
	}
}

func TestDetectSaturatedTail(t *testing.T) {
	rc := onePixelCube([]float32{10, 20, 30, 1e6, 1e6})
	fl := rc.Flags
	rc.GroupDQ[3] = fl.Saturated
	rc.GroupDQ[4] = fl.Saturated
	Detect(rc, testThresholds(), noNeighbors(), io.Discard)
	for g, w := range rc.GroupDQ {
		if w&fl.JumpDet != 0 {
			t.Errorf("group %d unexpectedly flagged as jump", g)
		}
	}
	// monotone flags: pre-existing bits survive
	if rc.GroupDQ[3] != fl.Saturated || rc.GroupDQ[4] != fl.Saturated {
		t.Errorf("saturation flags changed: %v", rc.GroupDQ)
	}
}

func TestDetectAllSaturatedPixel(t *testing.T) {
	rc := onePixelCube([]float32{0, 0, 0, 0, 0})
	fl := rc.Flags
	for g := range rc.GroupDQ {
		rc.GroupDQ[g] = fl.Saturated
	}
	// an all-NaN ratio slice is "no detection", not an error
	Detect(rc, testThresholds(), noNeighbors(), io.Discard)
	for g, w := range rc.GroupDQ {
		if w != fl.Saturated {
			t.Errorf("group %d DQ got %d; want %d", g, w, fl.Saturated)
		}
	}
}

func TestDetectZeroReadNoiseFlatRamp(t *testing.T) {
	rc := onePixelCube([]float32{10, 10, 10, 10, 10})
	rc.ReadNoise[0] = 0 // sigma 0 suppresses flagging entirely
	Detect(rc, testThresholds(), noNeighbors(), io.Discard)
	for g, w := range rc.GroupDQ {
		if w != 0 {
			t.Errorf("group %d DQ got %d; want 0", g, w)
		}
	}
}

func TestDetectIdempotent(t *testing.T) {
	rc := onePixelCube([]float32{10, 20, 30, 130, 140, 250, 260})
	Detect(rc, testThresholds(), noNeighbors(), io.Discard)
	want := append([]uint32(nil), rc.GroupDQ...)
	Detect(rc, testThresholds(), noNeighbors(), io.Discard)
	for g := range want {
		if rc.GroupDQ[g] != want[g] {
			t.Errorf("group %d DQ changed on second pass: got %d; want %d", g, rc.GroupDQ[g], want[g])
		}
	}
}

// 3x3 cube with a jump ramp at pixel (jr,jc) and clean ramps elsewhere
func jump3x3(jr, jc int) *cube.Cube {
	rc := cube.NewCube(1, 5, 3, 3, testMeta(), dq.DefaultFlags())
	clean := []float32{10, 20, 30, 40, 50}
	hit := []float32{10, 20, 30, 130, 140}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			ramp := clean
			if r == jr && c == jc {
				ramp = hit
			}
			for g := 0; g < 5; g++ {
				rc.Data[rc.GIdx(0, g, r, c)] = ramp[g]
			}
			rc.ReadNoise[rc.PIdx(r, c)] = 1
			rc.Gain[rc.PIdx(r, c)] = 1
		}
	}
	return rc
}

func TestDetectNeighborFlagging(t *testing.T) {
	rc := jump3x3(1, 1)
	fl := rc.Flags
	nb := NeighborPolicy{Enabled: true, MinRatio: 0.5, MaxRatio: 1000}
	Detect(rc, testThresholds(), nb, io.Discard)

	wantJump := map[[2]int]bool{
		{1, 1}: true, {0, 1}: true, {2, 1}: true, {1, 0}: true, {1, 2}: true,
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			got := rc.GroupDQ[rc.GIdx(0, 3, r, c)]&fl.JumpDet != 0
			if got != wantJump[[2]int{r, c}] {
				t.Errorf("pixel (%d,%d) group 3 jump flag got %v; want %v", r, c, got, wantJump[[2]int{r, c}])
			}
		}
	}
	// other groups remain unflagged
	for g := 0; g < 5; g++ {
		if g == 3 {
			continue
		}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				if rc.GroupDQ[rc.GIdx(0, g, r, c)] != 0 {
					t.Errorf("pixel (%d,%d) group %d unexpectedly flagged", r, c, g)
				}
			}
		}
	}
}

func TestDetectNeighborWindowIsStrict(t *testing.T) {
	rc := jump3x3(1, 1)
	fl := rc.Flags
	// jump ratio is ~27, below the lower bound, so no neighbors get flagged
	nb := NeighborPolicy{Enabled: true, MinRatio: 30, MaxRatio: 1000}
	Detect(rc, testThresholds(), nb, io.Discard)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			flagged := rc.GroupDQ[rc.GIdx(0, 3, r, c)]&fl.JumpDet != 0
			if flagged != (r == 1 && c == 1) {
				t.Errorf("pixel (%d,%d) jump flag got %v with out-of-window ratio", r, c, flagged)
			}
		}
	}
}

func TestDetectNeighborRowSpill(t *testing.T) {
	rc := jump3x3(0, 1) // jump in the bottom row: one neighbor falls off the image
	fl := rc.Flags
	nb := NeighborPolicy{Enabled: true, MinRatio: 0.5, MaxRatio: 1000}
	rowBelow, rowAbove := Detect(rc, testThresholds(), nb, io.Discard)

	if rowBelow[(0*5+3)*3+1] != fl.JumpDet {
		t.Errorf("rowBelow spill got %d; want %d", rowBelow[(0*5+3)*3+1], fl.JumpDet)
	}
	for i, w := range rowAbove {
		if w != 0 {
			t.Errorf("rowAbove[%d] got %d; want 0", i, w)
		}
	}
	// in-image neighbors at the same group are flagged
	if rc.GroupDQ[rc.GIdx(0, 3, 1, 1)]&fl.JumpDet == 0 {
		t.Errorf("row above the jump not flagged")
	}
	if rc.GroupDQ[rc.GIdx(0, 3, 0, 0)]&fl.JumpDet == 0 || rc.GroupDQ[rc.GIdx(0, 3, 0, 2)]&fl.JumpDet == 0 {
		t.Errorf("column neighbors of the jump not flagged")
	}
}
