// Copyright (C) 2020 Markus L. Noga
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

package frames

import (
	"errors"
	"fmt"
	"strings"
)

// Color filter array layout of a Bayer sensor, given as the offset of the
// red sample within the repeating 2x2 unit.
// Pattern RGGB: RGRGRGRG
//               GBGBGBGB
//               RGRGRGRG
type CFA struct {
	Name    string
	xOffset int
	yOffset int
}

// Translate color filter array type into offsets
func ParseCFA(name string) (CFA, error) {
	switch strings.ToUpper(name) {
	case "RGGB":
		return CFA{Name: "RGGB", xOffset: 0, yOffset: 0}, nil
	case "GRBG":
		return CFA{Name: "GRBG", xOffset: 1, yOffset: 0}, nil
	case "GBRG":
		return CFA{Name: "GBRG", xOffset: 0, yOffset: 1}, nil
	case "BGGR":
		return CFA{Name: "BGGR", xOffset: 1, yOffset: 1}, nil
	default:
		return CFA{}, errors.New("Unknown CFA value " + name)
	}
}

// Returns the channel sampled at the given position
func (p CFA) ChannelAt(row, col int) int {
	dy, dx := (row+p.yOffset)&1, (col+p.xOffset)&1
	if dy == 0 && dx == 0 {
		return Red
	} else if dy == 1 && dx == 1 {
		return Blue
	}
	return Green
}

// Returns true if the given position holds a sample of the given channel
func (p CFA) Samples(row, col, channel int) bool {
	return p.ChannelAt(row, col) == channel
}

// Splits a monochrome Bayer stack into three zero-filled color planes per frame,
// preserving the spatial dimensions. Returns a new stack
func SplitChannels(s *ImageStack, p CFA) (*ChannelStack, error) {
	if s == nil || len(s.Data) != s.Height*s.Width*s.Repeats*s.Sensitivities {
		return nil, shapeError("SplitChannels", "consistent image stack", "inconsistent or nil stack")
	}
	if p.Name == "" {
		return nil, errors.New("SplitChannels: uninitialized CFA")
	}
	cs, err := NewChannelStack(s.Height, s.Width, NumChannels, s.Repeats, s.Sensitivities)
	if err != nil {
		return nil, err
	}

	// channel lookup for the two row phases of the pattern
	var rowChannels [2][]int
	for phase := 0; phase < 2; phase++ {
		rowChannels[phase] = make([]int, s.Width)
		for col := range rowChannels[phase] {
			rowChannels[phase][col] = p.ChannelAt(phase, col)
		}
	}

	for sens := 0; sens < s.Sensitivities; sens++ {
		for r := 0; r < s.Repeats; r++ {
			src := s.Frame(r, sens)
			var planes [NumChannels][]uint8
			for c := range planes {
				planes[c] = cs.Plane(c, r, sens)
			}
			for row := 0; row < s.Height; row++ {
				chans := rowChannels[row&1]
				offset := row * s.Width
				for col, v := range src[offset : offset+s.Width] {
					planes[chans[col]][offset+col] = v
				}
			}
		}
	}
	return cs, nil
}

// Recombines color planes into a monochrome Bayer stack, taking each position from
// the channel the CFA samples there. Inverse of SplitChannels. Returns a new stack
func MergeChannels(cs *ChannelStack, p CFA) (*ImageStack, error) {
	if cs == nil || cs.Channels != NumChannels {
		return nil, shapeError("MergeChannels", fmt.Sprintf("%d channels", NumChannels), "other channel count or nil stack")
	}
	if len(cs.Data) != cs.Height*cs.Width*cs.Channels*cs.Repeats*cs.Sensitivities {
		return nil, shapeError("MergeChannels", "consistent channel stack", len(cs.Data))
	}
	if p.Name == "" {
		return nil, errors.New("MergeChannels: uninitialized CFA")
	}
	s, err := NewImageStack(cs.Height, cs.Width, cs.Repeats, cs.Sensitivities, nil)
	if err != nil {
		return nil, err
	}
	for sens := 0; sens < cs.Sensitivities; sens++ {
		for r := 0; r < cs.Repeats; r++ {
			dest := s.Frame(r, sens)
			for row := 0; row < cs.Height; row++ {
				for col := 0; col < cs.Width; col++ {
					i := row*cs.Width + col
					dest[i] = cs.Plane(p.ChannelAt(row, col), r, sens)[i]
				}
			}
		}
	}
	return s, nil
}
