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

package dq

// Data quality flag vocabulary. Bit positions are supplied by the caller,
// typically from the pipeline's reference flag table; nothing in this module
// hard-codes them. A zero value for any flag disables that flag.
type Flags struct {
	DoNotUse        uint32 `json:"doNotUse"`
	Saturated       uint32 `json:"saturated"`
	JumpDet         uint32 `json:"jumpDet"`
	NoGainValue     uint32 `json:"noGainValue"`
	UnreliableSlope uint32 `json:"unreliableSlope"`
}

// Default flag assignment, matching the common pipeline bit table.
// Callers with their own reference table should supply their own Flags.
func DefaultFlags() Flags {
	return Flags{
		DoNotUse:        1,
		Saturated:       2,
		JumpDet:         4,
		NoGainValue:     1 << 19,
		UnreliableSlope: 1 << 24,
	}
}

// A group is unusable for fitting if it is saturated or marked do-not-use.
func (fl Flags) Unusable(word uint32) bool {
	return word&(fl.Saturated|fl.DoNotUse) != 0
}

func (fl Flags) IsSaturated(word uint32) bool { return word&fl.Saturated != 0 }

func (fl Flags) IsJump(word uint32) bool { return word&fl.JumpDet != 0 }

// CompressFinal combines the per-integration DQ planes into the exposure
// DQ plane. All bits are OR-ed, except DoNotUse: a pixel keeps DoNotUse only
// if every integration set it, i.e. one good integration clears it.
func (fl Flags) CompressFinal(dqInt [][]uint32) []uint32 {
	fDq := make([]uint32, len(dqInt[0]))
	copy(fDq, dqInt[0])
	for _, d := range dqInt[1:] {
		for i, v := range d {
			fDq[i] |= v
		}
	}
	for i := range fDq {
		numDnu := 0
		for _, d := range dqInt {
			if d[i]&fl.DoNotUse != 0 {
				numDnu++
			}
		}
		if numDnu < len(dqInt) {
			fDq[i] &^= fl.DoNotUse
		}
	}
	return fDq
}
