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

package stats

import (
	"math"
)

// Statistics helpers for per-ramp arrays. Ramps hold tens of samples, not
// megapixels, so these run in-place selection on scratch buffers instead of
// randomized sampling estimators.

// Median of the values in a. Reorders a. Averages the two central elements
// for even lengths. Array must not contain IEEE NaN.
func SelectMedian(a []float32) float32 {
	if len(a) == 0 {
		return float32(math.NaN())
	}
	mid := len(a) >> 1
	selectKth(a, mid)
	if len(a)&1 != 0 {
		return a[mid]
	}
	// lower middle is the max of the left partition
	lower := a[0]
	for _, v := range a[1:mid] {
		if v > lower {
			lower = v
		}
	}
	return 0.5 * (lower + a[mid])
}

// Partially sorts a so a[k] holds the k-th smallest element
func selectKth(a []float32, k int) {
	left, right := 0, len(a)-1
	for left < right {
		pivot := a[(left+right)>>1]
		l, r := left, right
		for l <= r {
			for a[l] < pivot {
				l++
			}
			for a[r] > pivot {
				r--
			}
			if l <= r {
				a[l], a[r] = a[r], a[l]
				l++
				r--
			}
		}
		if k <= r {
			right = r
		} else if k >= l {
			left = l
		} else {
			return
		}
	}
}

// MedianSkipNaN gathers the finite entries of a into scratch and returns
// their median, or NaN if none are finite. Scratch must be at least len(a).
func MedianSkipNaN(a, scratch []float32) float32 {
	numGathered := 0
	for _, v := range a {
		if !math.IsNaN(float64(v)) {
			scratch[numGathered] = v
			numGathered++
		}
	}
	if numGathered == 0 {
		return float32(math.NaN())
	}
	return SelectMedian(scratch[:numGathered])
}

// Calculate mean and standard deviation of xs
func MeanStdDev(xs []float32) (mean, stdDev float32) {
	xmean := float32(0)
	for _, x := range xs {
		xmean += x
	}
	xmean /= float32(len(xs))
	xvar := float32(0)
	for _, x := range xs {
		diff := x - xmean
		xvar += diff * diff
	}
	xvar /= float32(len(xs))
	return xmean, float32(math.Sqrt(float64(xvar)))
}

// Weighted least-squares line fit of ys over xs with weights ws.
// Returns the slope and intercept along with their variances for unit
// per-sample variance; callers scale by the actual noise variance.
// A degenerate design (sum of weights or determinant zero) returns all NaN.
func WeightedLinFit(xs, ys, ws []float32) (slope, intercept, varSlope, varIntercept float32) {
	sumW, sumWX, sumWY, sumWXX, sumWXY := float32(0), float32(0), float32(0), float32(0), float32(0)
	for i, w := range ws {
		x, y := xs[i], ys[i]
		sumW += w
		sumWX += w * x
		sumWY += w * y
		sumWXX += w * x * x
		sumWXY += w * x * y
	}
	det := sumW*sumWXX - sumWX*sumWX
	if sumW == 0 || det == 0 {
		nan := float32(math.NaN())
		return nan, nan, nan, nan
	}
	slope = (sumW*sumWXY - sumWX*sumWY) / det
	intercept = (sumWXX*sumWY - sumWX*sumWXY) / det
	varSlope = sumW / det
	varIntercept = sumWXX / det
	return slope, intercept, varSlope, varIntercept
}
