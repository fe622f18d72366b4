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

package fit

import (
	"github.com/tapastro/stcal/internal/cube"
)

// Allocation and row-band joining for the exposure products, so workers can
// fit disjoint bands and the driver can concatenate their results.

// NewExposureProducts allocates full-size output products for an exposure
func NewExposureProducts(rc *cube.Cube, maxSeg int, saveOpt bool) (*ImageInfo, *IntegInfo, *OptInfo) {
	img := newImageInfo(rc.NRows, rc.NCols)
	integ := newIntegInfo(rc.NInts, rc.NRows, rc.NCols)
	fillIntTimes(integ.IntTimes, &rc.Meta, rc.NGroups)
	var opt *OptInfo
	if saveOpt {
		opt = newOptInfo(rc.NInts, maxSeg, rc.NRows, rc.NCols).withCRMagRaw(rc.NGroups)
	}
	return img, integ, opt
}

// CopyBand copies a band's image products into the full image at row rLow
func (img *ImageInfo) CopyBand(band *ImageInfo, rLow int) {
	dst, n := rLow*img.NCols, band.NRows*band.NCols
	copy(img.Data[dst:dst+n], band.Data)
	copy(img.DQ[dst:dst+n], band.DQ)
	copy(img.VarPoisson[dst:dst+n], band.VarPoisson)
	copy(img.VarRnoise[dst:dst+n], band.VarRnoise)
	copy(img.Err[dst:dst+n], band.Err)
}

// CopyBand copies a band's integration products into the full cube at row rLow
func (integ *IntegInfo) CopyBand(band *IntegInfo, rLow int) {
	numPix, bandPix := integ.NRows*integ.NCols, band.NRows*band.NCols
	for i := 0; i < integ.NInts; i++ {
		dst := i*numPix + rLow*integ.NCols
		src := i * bandPix
		copy(integ.Data[dst:dst+bandPix], band.Data[src:src+bandPix])
		copy(integ.DQ[dst:dst+bandPix], band.DQ[src:src+bandPix])
		copy(integ.VarPoisson[dst:dst+bandPix], band.VarPoisson[src:src+bandPix])
		copy(integ.VarRnoise[dst:dst+bandPix], band.VarRnoise[src:src+bandPix])
		copy(integ.Err[dst:dst+bandPix], band.Err[src:src+bandPix])
	}
}

// CopyBand copies a band's optional diagnostics, including the raw cosmic
// ray magnitude cube, into the full arrays at row rLow. Compression happens
// once on the joined arrays via finalize.
func (o *OptInfo) CopyBand(band *OptInfo, rLow int) {
	numPix, bandPix := o.NRows*o.NCols, band.NRows*band.NCols
	for i := 0; i < o.NInts; i++ {
		for k := 0; k < o.MaxSeg; k++ {
			dst := (i*o.MaxSeg+k)*numPix + rLow*o.NCols
			src := (i*band.MaxSeg + k) * bandPix
			copy(o.Slope[dst:dst+bandPix], band.Slope[src:src+bandPix])
			copy(o.SigSlope[dst:dst+bandPix], band.SigSlope[src:src+bandPix])
			copy(o.VarPoisson[dst:dst+bandPix], band.VarPoisson[src:src+bandPix])
			copy(o.VarRnoise[dst:dst+bandPix], band.VarRnoise[src:src+bandPix])
			copy(o.Yint[dst:dst+bandPix], band.Yint[src:src+bandPix])
			copy(o.SigYint[dst:dst+bandPix], band.SigYint[src:src+bandPix])
			copy(o.Weights[dst:dst+bandPix], band.Weights[src:src+bandPix])
		}
		dst := i*numPix + rLow*o.NCols
		copy(o.Pedestal[dst:dst+bandPix], band.Pedestal[i*bandPix:(i+1)*bandPix])
		for g := 0; g < o.nGroups; g++ {
			dstG := (i*o.nGroups+g)*numPix + rLow*o.NCols
			srcG := (i*band.nGroups + g) * bandPix
			copy(o.crMagRaw[dstG:dstG+bandPix], band.crMagRaw[srcG:srcG+bandPix])
		}
	}
}

// Finalize applies the output conventions and compresses the cosmic ray
// magnitude cube; call once after all bands are joined
func (o *OptInfo) Finalize() {
	o.finalize()
}
