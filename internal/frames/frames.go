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

// Package frames holds the array types flowing through the noise
// characterization pipeline: stacks of 8-bit raw captures, per-channel
// stacks after Bayer splitting, and per-pixel statistic maps.
package frames

import (
	"fmt"
)

// Color channel indices of a ChannelStack
const (
	Red   = 0
	Green = 1
	Blue  = 2

	NumChannels = 3
)

// Human readable channel names, indexed by channel
var ChannelNames = [NumChannels]string{"Red", "Green", "Blue"}

// Raised eagerly when array dimensions violate a stated contract.
// Arrays are never broadcast or truncated to make them fit.
type ShapeMismatchError struct {
	Op   string // the operation which detected the mismatch
	Want string // expected shape or size
	Got  string // actual shape or size
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: shape mismatch, want %s got %s", e.Op, e.Want, e.Got)
}

func shapeError(op string, want, got any) error {
	return &ShapeMismatchError{Op: op, Want: fmt.Sprint(want), Got: fmt.Sprint(got)}
}

// A stack of monochrome 8-bit captures, indexed by (row, column, repeat, sensitivity).
// Each frame is stored contiguously in row-major order, frames ordered by repeat
// within sensitivity. Immutable once loaded.
type ImageStack struct {
	Height        int     `msgpack:"height"`
	Width         int     `msgpack:"width"`
	Repeats       int     `msgpack:"repeats"`
	Sensitivities int     `msgpack:"sensitivities"`
	Data          []uint8 `msgpack:"data"`
}

// Creates an image stack of the given dimensions. Data is allocated if nil, else
// it must hold exactly height*width*repeats*sensitivities elements
func NewImageStack(height, width, repeats, sensitivities int, data []uint8) (*ImageStack, error) {
	if height <= 0 || width <= 0 || repeats <= 0 || sensitivities <= 0 {
		return nil, shapeError("NewImageStack", "positive dimensions",
			fmt.Sprintf("%dx%dx%dx%d", height, width, repeats, sensitivities))
	}
	n := height * width * repeats * sensitivities
	if data == nil {
		data = make([]uint8, n)
	} else if len(data) != n {
		return nil, shapeError("NewImageStack", n, len(data))
	}
	return &ImageStack{Height: height, Width: width, Repeats: repeats, Sensitivities: sensitivities, Data: data}, nil
}

// Number of pixels in a single frame
func (s *ImageStack) FramePixels() int { return s.Height * s.Width }

// Returns the frame with given repeat index and sensitivity index. No copy is made
func (s *ImageStack) Frame(repeat, sensitivity int) []uint8 {
	p := s.FramePixels()
	offset := (sensitivity*s.Repeats + repeat) * p
	return s.Data[offset : offset+p]
}

// Returns the pixel value at the given position
func (s *ImageStack) At(row, col, repeat, sensitivity int) uint8 {
	return s.Frame(repeat, sensitivity)[row*s.Width+col]
}

// Returns the dimensions as a string, e.g. 600x800x200x6
func (s *ImageStack) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%dx%d", s.Height, s.Width, s.Repeats, s.Sensitivities)
}

// Combines single-sensitivity stacks into one stack along the sensitivity axis.
// All inputs must share height, width and repeats
func JoinImageStacks(stacks []*ImageStack) (*ImageStack, error) {
	if len(stacks) == 0 {
		return nil, shapeError("JoinImageStacks", "at least one stack", 0)
	}
	first := stacks[0]
	total := 0
	for _, s := range stacks {
		if s.Height != first.Height || s.Width != first.Width || s.Repeats != first.Repeats {
			return nil, shapeError("JoinImageStacks",
				fmt.Sprintf("%dx%dx%d", first.Height, first.Width, first.Repeats),
				fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Repeats))
		}
		total += s.Sensitivities
	}
	out, err := NewImageStack(first.Height, first.Width, first.Repeats, total, nil)
	if err != nil {
		return nil, err
	}
	offset := 0
	for _, s := range stacks {
		offset += copy(out.Data[offset:], s.Data)
	}
	return out, nil
}

// Returns a new stack holding only the given sensitivity index
func (s *ImageStack) Sensitivity(sensitivity int) (*ImageStack, error) {
	if sensitivity < 0 || sensitivity >= s.Sensitivities {
		return nil, shapeError("ImageStack.Sensitivity", fmt.Sprintf("index in [0,%d)", s.Sensitivities), sensitivity)
	}
	n := s.FramePixels() * s.Repeats
	data := make([]uint8, n)
	copy(data, s.Data[sensitivity*n:(sensitivity+1)*n])
	return &ImageStack{Height: s.Height, Width: s.Width, Repeats: s.Repeats, Sensitivities: 1, Data: data}, nil
}

// Crops all frames of the stack to rows [rowMin,rowMax) and columns [colMin,colMax).
// Returns a new stack
func (s *ImageStack) Crop(colMin, colMax, rowMin, rowMax int) (*ImageStack, error) {
	if colMin < 0 || rowMin < 0 || colMax > s.Width || rowMax > s.Height || colMin >= colMax || rowMin >= rowMax {
		return nil, shapeError("ImageStack.Crop",
			fmt.Sprintf("bounds within %dx%d", s.Height, s.Width),
			fmt.Sprintf("rows [%d,%d) cols [%d,%d)", rowMin, rowMax, colMin, colMax))
	}
	h, w := rowMax-rowMin, colMax-colMin
	out, err := NewImageStack(h, w, s.Repeats, s.Sensitivities, nil)
	if err != nil {
		return nil, err
	}
	for sens := 0; sens < s.Sensitivities; sens++ {
		for r := 0; r < s.Repeats; r++ {
			src, dest := s.Frame(r, sens), out.Frame(r, sens)
			for y := 0; y < h; y++ {
				copy(dest[y*w:(y+1)*w], src[(y+rowMin)*s.Width+colMin:(y+rowMin)*s.Width+colMax])
			}
		}
	}
	return out, nil
}

// A stack of per-color planes, indexed by (row, column, channel, repeat, sensitivity).
// Positions not sampled by the color filter array hold zero. Each plane is stored
// contiguously in row-major order, planes ordered by channel, then repeat, then sensitivity.
// Synthetic captures produced by the noise simulator share this layout.
type ChannelStack struct {
	Height        int     `msgpack:"height"`
	Width         int     `msgpack:"width"`
	Channels      int     `msgpack:"channels"`
	Repeats       int     `msgpack:"repeats"`
	Sensitivities int     `msgpack:"sensitivities"`
	Data          []uint8 `msgpack:"data"`
}

// Creates a zero-filled channel stack of the given dimensions
func NewChannelStack(height, width, channels, repeats, sensitivities int) (*ChannelStack, error) {
	if height <= 0 || width <= 0 || channels <= 0 || repeats <= 0 || sensitivities <= 0 {
		return nil, shapeError("NewChannelStack", "positive dimensions",
			fmt.Sprintf("%dx%dx%dx%dx%d", height, width, channels, repeats, sensitivities))
	}
	return &ChannelStack{
		Height:        height,
		Width:         width,
		Channels:      channels,
		Repeats:       repeats,
		Sensitivities: sensitivities,
		Data:          make([]uint8, height*width*channels*repeats*sensitivities),
	}, nil
}

// Number of pixels in a single plane
func (cs *ChannelStack) PlanePixels() int { return cs.Height * cs.Width }

// Returns the plane for the given channel, repeat and sensitivity. No copy is made
func (cs *ChannelStack) Plane(channel, repeat, sensitivity int) []uint8 {
	p := cs.PlanePixels()
	offset := ((sensitivity*cs.Repeats+repeat)*cs.Channels + channel) * p
	return cs.Data[offset : offset+p]
}

// Returns the value at the given position
func (cs *ChannelStack) At(row, col, channel, repeat, sensitivity int) uint8 {
	return cs.Plane(channel, repeat, sensitivity)[row*cs.Width+col]
}

// Returns the dimensions as a string, e.g. 600x800x3x200x6
func (cs *ChannelStack) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%dx%dx%d", cs.Height, cs.Width, cs.Channels, cs.Repeats, cs.Sensitivities)
}

// A map from (row, column, channel, sensitivity) to a scalar statistic,
// obtained by reducing a ChannelStack over its repeat axis
type StatisticMap struct {
	Height        int       `msgpack:"height"        json:"height"`
	Width         int       `msgpack:"width"         json:"width"`
	Channels      int       `msgpack:"channels"      json:"channels"`
	Sensitivities int       `msgpack:"sensitivities" json:"sensitivities"`
	Data          []float64 `msgpack:"data"          json:"-"`
}

// Creates a zero-filled statistic map of given dimensions
func NewStatisticMap(height, width, channels, sensitivities int) (*StatisticMap, error) {
	if height <= 0 || width <= 0 || channels <= 0 || sensitivities <= 0 {
		return nil, shapeError("NewStatisticMap", "positive dimensions",
			fmt.Sprintf("%dx%dx%dx%d", height, width, channels, sensitivities))
	}
	return &StatisticMap{
		Height:        height,
		Width:         width,
		Channels:      channels,
		Sensitivities: sensitivities,
		Data:          make([]float64, height*width*channels*sensitivities),
	}, nil
}

// Number of pixels in a single plane
func (m *StatisticMap) PlanePixels() int { return m.Height * m.Width }

// Returns the plane for given channel and sensitivity. No copy is made
func (m *StatisticMap) Plane(channel, sensitivity int) []float64 {
	p := m.PlanePixels()
	offset := (sensitivity*m.Channels + channel) * p
	return m.Data[offset : offset+p]
}

// Returns the value at the given position
func (m *StatisticMap) At(row, col, channel, sensitivity int) float64 {
	return m.Plane(channel, sensitivity)[row*m.Width+col]
}

// Returns all planes of a given sensitivity, channels concatenated. No copy is made
func (m *StatisticMap) SensitivityData(sensitivity int) []float64 {
	n := m.PlanePixels() * m.Channels
	return m.Data[sensitivity*n : (sensitivity+1)*n]
}

// Returns the dimensions as a string, e.g. 600x800x3x6
func (m *StatisticMap) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%dx%d", m.Height, m.Width, m.Channels, m.Sensitivities)
}

// Checks that two maps share all dimensions
func SameShape(op string, a, b *StatisticMap) error {
	if a == nil || b == nil {
		return shapeError(op, "two maps", "nil map")
	}
	if a.Height != b.Height || a.Width != b.Width || a.Channels != b.Channels || a.Sensitivities != b.Sensitivities {
		return shapeError(op, a.DimensionsToString(), b.DimensionsToString())
	}
	if len(a.Data) != len(b.Data) {
		return shapeError(op, len(a.Data), len(b.Data))
	}
	return nil
}

// Combines maps along the sensitivity axis. All inputs must share height, width and channels
func JoinStatisticMaps(maps []*StatisticMap) (*StatisticMap, error) {
	if len(maps) == 0 {
		return nil, shapeError("JoinStatisticMaps", "at least one map", 0)
	}
	first := maps[0]
	total := 0
	for _, m := range maps {
		if m.Height != first.Height || m.Width != first.Width || m.Channels != first.Channels {
			return nil, shapeError("JoinStatisticMaps",
				fmt.Sprintf("%dx%dx%d", first.Height, first.Width, first.Channels),
				fmt.Sprintf("%dx%dx%d", m.Height, m.Width, m.Channels))
		}
		total += m.Sensitivities
	}
	out, err := NewStatisticMap(first.Height, first.Width, first.Channels, total)
	if err != nil {
		return nil, err
	}
	offset := 0
	for _, m := range maps {
		offset += copy(out.Data[offset:], m.Data)
	}
	return out, nil
}

// A noise-free image of photon counts, indexed by (row, column, channel).
// Input to the noise simulator
type PhotonImage struct {
	Height   int      `json:"height"`
	Width    int      `json:"width"`
	Channels int      `json:"channels"`
	Data     []uint32 `json:"data,omitempty"`
}

// Creates a photon image with every pixel of channel c set to levels[c]
func NewUniformPhotonImage(height, width int, levels []uint32) (*PhotonImage, error) {
	if height <= 0 || width <= 0 || len(levels) == 0 {
		return nil, shapeError("NewUniformPhotonImage", "positive dimensions and at least one level",
			fmt.Sprintf("%dx%dx%d", height, width, len(levels)))
	}
	p := &PhotonImage{Height: height, Width: width, Channels: len(levels), Data: make([]uint32, height*width*len(levels))}
	for c, level := range levels {
		plane := p.Plane(c)
		for i := range plane {
			plane[i] = level
		}
	}
	return p, nil
}

// Returns the plane of the given channel. No copy is made
func (p *PhotonImage) Plane(channel int) []uint32 {
	n := p.Height * p.Width
	return p.Data[channel*n : (channel+1)*n]
}

// Checks internal consistency of dimensions and data length
func (p *PhotonImage) Validate() error {
	if p == nil {
		return shapeError("PhotonImage", "image", "nil")
	}
	if p.Height <= 0 || p.Width <= 0 || p.Channels <= 0 {
		return shapeError("PhotonImage", "positive dimensions", fmt.Sprintf("%dx%dx%d", p.Height, p.Width, p.Channels))
	}
	if n := p.Height * p.Width * p.Channels; len(p.Data) != n {
		return shapeError("PhotonImage", n, len(p.Data))
	}
	return nil
}
