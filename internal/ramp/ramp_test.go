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

package ramp

import (
	"io"
	"math"
	"testing"

	"github.com/tapastro/stcal/internal/cube"
	"github.com/tapastro/stcal/internal/dq"
)

func testMeta() cube.Metadata {
	return cube.Metadata{FrameTime: 2, GroupTime: 2, NFrames: 1, GroupGap: 0}
}

func testOptions() *Options {
	opts := DefaultOptions()
	opts.Thresholds.Rej4 = 4
	opts.Thresholds.Rej3 = 4
	opts.Thresholds.Rej2 = 4
	opts.Neighbors.Enabled = false
	return &opts
}

// nRows x nCols cube where every pixel carries the given ramp
func uniformCube(nRows, nCols int, ramp []float32) *cube.Cube {
	rc := cube.NewCube(1, len(ramp), nRows, nCols, testMeta(), dq.DefaultFlags())
	for r := 0; r < nRows; r++ {
		for c := 0; c < nCols; c++ {
			for g := 0; g < len(ramp); g++ {
				rc.Data[rc.GIdx(0, g, r, c)] = ramp[g]
			}
			rc.ReadNoise[rc.PIdx(r, c)] = 1
			rc.Gain[rc.PIdx(r, c)] = 1
		}
	}
	return rc
}

func TestProcessSingleJumpEndToEnd(t *testing.T) {
	rc := uniformCube(1, 1, []float32{10, 20, 30, 130, 140})
	fl := rc.Flags
	img, integ, opt, err := Process(rc, testOptions(), io.Discard)
	if err != nil {
		t.Fatalf("process failed: %s", err.Error())
	}
	if rc.GroupDQ[rc.GIdx(0, 3, 0, 0)]&fl.JumpDet == 0 {
		t.Errorf("jump not flagged on group 3")
	}
	if math.Abs(float64(img.Data[0]-5)) > 1e-3 {
		t.Errorf("slope got %f; want %f", img.Data[0], float32(5))
	}
	if integ != nil {
		t.Errorf("integration products present for a single integration")
	}
	if opt != nil {
		t.Errorf("optional products present without saveOptional")
	}
}

func TestProcessShapeMismatch(t *testing.T) {
	rc := uniformCube(2, 2, []float32{10, 20, 30, 40})
	rc.ReadNoise = rc.ReadNoise[:3]
	if _, _, _, err := Process(rc, testOptions(), io.Discard); err == nil {
		t.Errorf("expected shape mismatch error, got none")
	}

	rc = uniformCube(2, 2, []float32{10, 20, 30, 40})
	rc.GroupDQ = rc.GroupDQ[:1]
	if err := DetectJumps(rc, testOptions(), io.Discard); err == nil {
		t.Errorf("expected shape mismatch error, got none")
	}
}

func TestProcessInvalidOptions(t *testing.T) {
	rc := uniformCube(1, 1, []float32{10, 20, 30})
	opts := testOptions()
	opts.Algorithm = "GLS"
	if _, _, _, err := Process(rc, opts, io.Discard); err == nil {
		t.Errorf("expected unsupported algorithm error, got none")
	}
	opts = testOptions()
	opts.MaxCores = "double"
	if _, _, _, err := Process(rc, opts, io.Discard); err == nil {
		t.Errorf("expected invalid maxCores error, got none")
	}
}

func TestDetectJumpsNeedsThreeGroups(t *testing.T) {
	rc := uniformCube(1, 1, []float32{10, 20})
	if err := DetectJumps(rc, testOptions(), io.Discard); err == nil {
		t.Errorf("expected insufficient groups error, got none")
	}
}

func TestProcessAllSaturated(t *testing.T) {
	rc := uniformCube(2, 2, []float32{0, 0, 0})
	fl := rc.Flags
	for s := range rc.GroupDQ {
		rc.GroupDQ[s] = fl.Saturated
	}
	img, _, _, err := Process(rc, testOptions(), io.Discard)
	if err != nil {
		t.Fatalf("process failed: %s", err.Error())
	}
	for p := 0; p < 4; p++ {
		if img.Data[p] != 0 {
			t.Errorf("pixel %d slope got %f; want 0", p, img.Data[p])
		}
		if img.DQ[p]&(fl.Saturated|fl.DoNotUse) != fl.Saturated|fl.DoNotUse {
			t.Errorf("pixel %d dq got %d; want SATURATED and DO_NOT_USE", p, img.DQ[p])
		}
	}
}

func TestResetBadGain(t *testing.T) {
	rc := uniformCube(2, 2, []float32{10, 20, 30, 40, 50})
	fl := rc.Flags
	rc.Gain[1] = 0
	rc.Gain[2] = float32(math.NaN())
	if n := ResetBadGain(rc); n != 2 {
		t.Errorf("flagged %d pixels; want 2", n)
	}
	for _, p := range []int{1, 2} {
		if rc.PixelDQ[p]&(fl.NoGainValue|fl.DoNotUse) != fl.NoGainValue|fl.DoNotUse {
			t.Errorf("pixel %d dq got %d; want NO_GAIN_VALUE and DO_NOT_USE", p, rc.PixelDQ[p])
		}
	}
	if rc.PixelDQ[0] != 0 || rc.PixelDQ[3] != 0 {
		t.Errorf("good pixels flagged: %v", rc.PixelDQ)
	}
}

func TestComputeSlices(t *testing.T) {
	if n := ComputeSlices("none", 1024); n != 1 {
		t.Errorf("slices for none got %d; want 1", n)
	}
	all := ComputeSlices("all", 1024)
	if all < 1 {
		t.Errorf("slices for all got %d; want >= 1", all)
	}
	if half := ComputeSlices("half", 1024); half > all || half < 1 {
		t.Errorf("slices for half got %d with all %d", half, all)
	}
	if quarter := ComputeSlices("quarter", 1024); quarter > all || quarter < 1 {
		t.Errorf("slices for quarter got %d with all %d", quarter, all)
	}
	// band count never exceeds the row count
	if n := ComputeSlices("all", 2); n > 2 {
		t.Errorf("slices capped at rows got %d; want <= 2", n)
	}
}

func TestBandedMatchesSingleThreaded(t *testing.T) {
	nRows, nCols := 8, 3
	mk := func() *cube.Cube {
		rc := uniformCube(nRows, nCols, []float32{10, 20, 30, 40, 50})
		fl := rc.Flags
		// sprinkle features across rows: a jump, a saturated tail, a dead pixel
		for g, v := range []float32{10, 20, 30, 130, 140} {
			rc.Data[rc.GIdx(0, g, 2, 1)] = v
		}
		rc.GroupDQ[rc.GIdx(0, 3, 5, 0)] = fl.Saturated
		rc.GroupDQ[rc.GIdx(0, 4, 5, 0)] = fl.Saturated
		rc.Gain[rc.PIdx(6, 2)] = 0
		return rc
	}

	optsSingle := testOptions()
	rcSingle := mk()
	imgS, _, _, err := Process(rcSingle, optsSingle, io.Discard)
	if err != nil {
		t.Fatalf("single-threaded process failed: %s", err.Error())
	}

	optsBanded := testOptions()
	optsBanded.MaxCores = "all"
	rcBanded := mk()
	imgB, _, _, err := Process(rcBanded, optsBanded, io.Discard)
	if err != nil {
		t.Fatalf("banded process failed: %s", err.Error())
	}

	for p := range imgS.Data {
		if imgS.Data[p] != imgB.Data[p] {
			t.Errorf("pixel %d slope differs: single %f banded %f", p, imgS.Data[p], imgB.Data[p])
		}
		if imgS.DQ[p] != imgB.DQ[p] {
			t.Errorf("pixel %d dq differs: single %d banded %d", p, imgS.DQ[p], imgB.DQ[p])
		}
		if imgS.Err[p] != imgB.Err[p] {
			t.Errorf("pixel %d err differs: single %f banded %f", p, imgS.Err[p], imgB.Err[p])
		}
	}
	for s := range rcSingle.GroupDQ {
		if rcSingle.GroupDQ[s] != rcBanded.GroupDQ[s] {
			t.Errorf("group dq[%d] differs: single %d banded %d", s, rcSingle.GroupDQ[s], rcBanded.GroupDQ[s])
		}
	}
}
