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
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"
)

// Preview writers for slope and error maps. Scientific data stays in the
// returned arrays; these exist for quick visual inspection of results.

// Normalizes v into [0,1] with the given bounds and gamma; NaNs map to 0
// so the image encoders are never fed invalid values
func normalize(v, min, max, gammaInv float32) float32 {
	s := (v - min) / (max - min)
	if math.IsNaN(float64(s)) || s < 0 {
		return 0
	}
	if s > 1 {
		s = 1
	}
	if gammaInv != 1 {
		s = float32(math.Pow(float64(s), float64(gammaInv)))
	}
	return s
}

// Write a 2D float32 map as 8-bit grayscale JPEG with the given bounds and gamma
func WriteMonoJPG(writer io.Writer, data []float32, width, height int, min, max, gamma float32, quality int) error {
	img := image.NewGray(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	gammaInv := 1 / gamma
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			s := normalize(data[yoffset+x], min, max, gammaInv)
			img.SetGray(x, y, color.Gray{Y: uint8(s*255 + 0.5)})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a 2D float32 map as false-color JPEG. Values sweep a luminance and
// hue ramp in LCh space from deep blue through teal and green to bright yellow.
func WriteFalseColorJPG(writer io.Writer, data []float32, width, height int, min, max, gamma float32, quality int) error {
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	gammaInv := 1 / gamma
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			s := float64(normalize(data[yoffset+x], min, max, gammaInv))
			col := colorful.Hcl(280-190*s, 0.2+0.4*s, 0.1+0.85*s).Clamped()
			r, g, b := col.RGB255()
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a 2D float32 map as 16-bit grayscale TIFF, preserving more dynamic
// range than the JPEG previews
func WriteTIFF16(writer io.Writer, data []float32, width, height int, min, max float32) error {
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			s := normalize(data[yoffset+x], min, max, 1)
			img.SetGray16(x, y, color.Gray16{Y: uint16(s*65535 + 0.5)})
		}
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

func writeToFile(fileName string, write func(io.Writer) error) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := bufio.NewWriter(file)
	defer writer.Flush()
	return write(writer)
}

func WriteMonoJPGToFile(fileName string, data []float32, width, height int, min, max, gamma float32, quality int) error {
	return writeToFile(fileName, func(w io.Writer) error {
		return WriteMonoJPG(w, data, width, height, min, max, gamma, quality)
	})
}

func WriteFalseColorJPGToFile(fileName string, data []float32, width, height int, min, max, gamma float32, quality int) error {
	return writeToFile(fileName, func(w io.Writer) error {
		return WriteFalseColorJPG(w, data, width, height, min, max, gamma, quality)
	})
}

func WriteTIFF16ToFile(fileName string, data []float32, width, height int, min, max float32) error {
	return writeToFile(fileName, func(w io.Writer) error {
		return WriteTIFF16(w, data, width, height, min, max)
	})
}

// Bounds returns the finite minimum and maximum of the data, for scaling
// previews. All-NaN data yields (0,1).
func Bounds(data []float32) (min, max float32) {
	min, max = float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, v := range data {
		if math.IsNaN(float64(v)) {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min > max {
		return 0, 1
	}
	if min == max {
		max = min + 1
	}
	return min, max
}
