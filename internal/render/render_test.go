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

package render

import (
	"bytes"
	"image/jpeg"
	"math"
	"testing"

	"golang.org/x/image/tiff"
)

func gradient(width, height int) []float32 {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = float32(i)
	}
	data[3] = float32(math.NaN()) // NaNs must not break export
	return data
}

func TestWriteMonoJPG(t *testing.T) {
	data := gradient(8, 6)
	buf := &bytes.Buffer{}
	min, max := Bounds(data)
	if err := WriteMonoJPG(buf, data, 8, 6, min, max, 1.0, 95); err != nil {
		t.Fatalf("encode failed: %s", err.Error())
	}
	img, err := jpeg.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode failed: %s", err.Error())
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 6 {
		t.Errorf("image dims got %dx%d; want 8x6", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestWriteFalseColorJPG(t *testing.T) {
	data := gradient(8, 6)
	buf := &bytes.Buffer{}
	min, max := Bounds(data)
	if err := WriteFalseColorJPG(buf, data, 8, 6, min, max, 1.0, 95); err != nil {
		t.Fatalf("encode failed: %s", err.Error())
	}
	if _, err := jpeg.Decode(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("decode failed: %s", err.Error())
	}
}

func TestWriteTIFF16(t *testing.T) {
	data := gradient(8, 6)
	buf := &bytes.Buffer{}
	min, max := Bounds(data)
	if err := WriteTIFF16(buf, data, 8, 6, min, max); err != nil {
		t.Fatalf("encode failed: %s", err.Error())
	}
	img, err := tiff.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode failed: %s", err.Error())
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 6 {
		t.Errorf("image dims got %dx%d; want 8x6", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestBounds(t *testing.T) {
	nan := float32(math.NaN())
	min, max := Bounds([]float32{nan, 3, -2, 7, nan})
	if min != -2 || max != 7 {
		t.Errorf("bounds got %f, %f; want -2, 7", min, max)
	}
	min, max = Bounds([]float32{nan, nan})
	if min != 0 || max != 1 {
		t.Errorf("all-NaN bounds got %f, %f; want 0, 1", min, max)
	}
	min, max = Bounds([]float32{5, 5})
	if min != 5 || max != 6 {
		t.Errorf("degenerate bounds got %f, %f; want 5, 6", min, max)
	}
}
