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
	"testing"
)

func newTestStack(t *testing.T, height, width, repeats, sensitivities int) *ImageStack {
	s, err := NewImageStack(height, width, repeats, sensitivities, nil)
	if err != nil {
		t.Fatalf("NewImageStack: %v", err)
	}
	for i := range s.Data {
		s.Data[i] = uint8(1 + i%250)
	}
	return s
}

func TestSplitChannelsGBRG(t *testing.T) {
	s := newTestStack(t, 5, 7, 2, 2)
	cfa, err := ParseCFA("GBRG")
	if err != nil {
		t.Fatal(err)
	}
	cs, err := SplitChannels(s, cfa)
	if err != nil {
		t.Fatal(err)
	}
	if cs.Channels != NumChannels || cs.Repeats != 2 || cs.Sensitivities != 2 || cs.Height != 5 || cs.Width != 7 {
		t.Fatalf("dims=%s; want 5x7x3x2x2", cs.DimensionsToString())
	}
	for sens := 0; sens < 2; sens++ {
		for r := 0; r < 2; r++ {
			for row := 0; row < 5; row++ {
				for col := 0; col < 7; col++ {
					v := s.At(row, col, r, sens)
					var want [NumChannels]uint8
					switch {
					case row%2 == 1 && col%2 == 0:
						want[Red] = v
					case row%2 == 0 && col%2 == 1:
						want[Blue] = v
					default:
						want[Green] = v
					}
					for c := 0; c < NumChannels; c++ {
						if got := cs.At(row, col, c, r, sens); got != want[c] {
							t.Errorf("cs[%d,%d,%d,%d,%d]=%d; want %d", row, col, c, r, sens, got, want[c])
						}
					}
				}
			}
		}
	}
}

func TestMergeChannelsInvertsSplit(t *testing.T) {
	s := newTestStack(t, 4, 6, 3, 2)
	for _, name := range []string{"RGGB", "GRBG", "GBRG", "BGGR"} {
		cfa, _ := ParseCFA(name)
		cs, err := SplitChannels(s, cfa)
		if err != nil {
			t.Fatal(err)
		}
		m, err := MergeChannels(cs, cfa)
		if err != nil {
			t.Fatal(err)
		}
		if m.DimensionsToString() != s.DimensionsToString() {
			t.Fatalf("%s dims=%s; want %s", name, m.DimensionsToString(), s.DimensionsToString())
		}
		for i := range s.Data {
			if m.Data[i] != s.Data[i] {
				t.Fatalf("%s value %d=%d; want %d", name, i, m.Data[i], s.Data[i])
			}
		}
	}
	cs, _ := NewChannelStack(2, 2, 1, 1, 1)
	cfa, _ := ParseCFA("RGGB")
	if _, err := MergeChannels(cs, cfa); err == nil {
		t.Errorf("err=nil; want error for single channel stack")
	}
}

func TestParseCFA(t *testing.T) {
	tcs := []struct {
		name     string
		red      [2]int
		blue     [2]int
		hasError bool
	}{
		{"RGGB", [2]int{0, 0}, [2]int{1, 1}, false},
		{"grbg", [2]int{0, 1}, [2]int{1, 0}, false},
		{"GBRG", [2]int{1, 0}, [2]int{0, 1}, false},
		{"BGGR", [2]int{1, 1}, [2]int{0, 0}, false},
		{"XYZW", [2]int{}, [2]int{}, true},
	}
	for _, tc := range tcs {
		cfa, err := ParseCFA(tc.name)
		if tc.hasError {
			if err == nil {
				t.Errorf("ParseCFA(%s) err=nil; want error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCFA(%s) err=%v", tc.name, err)
			continue
		}
		if c := cfa.ChannelAt(tc.red[0], tc.red[1]); c != Red {
			t.Errorf("%s channel at %v=%d; want red", tc.name, tc.red, c)
		}
		if c := cfa.ChannelAt(tc.blue[0], tc.blue[1]); c != Blue {
			t.Errorf("%s channel at %v=%d; want blue", tc.name, tc.blue, c)
		}
		if !cfa.Samples(tc.red[0]+2, tc.red[1]+4, Red) {
			t.Errorf("%s does not repeat with period 2", tc.name)
		}
	}
}

func TestNewImageStackShapeMismatch(t *testing.T) {
	_, err := NewImageStack(2, 2, 2, 1, make([]uint8, 7))
	var sme *ShapeMismatchError
	if !errors.As(err, &sme) {
		t.Errorf("err=%v; want ShapeMismatchError", err)
	}
	_, err = NewImageStack(2, 0, 2, 1, nil)
	if !errors.As(err, &sme) {
		t.Errorf("err=%v; want ShapeMismatchError", err)
	}
}

func TestCrop(t *testing.T) {
	s := newTestStack(t, 6, 8, 3, 2)
	c, err := s.Crop(2, 5, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if c.Height != 3 || c.Width != 3 {
		t.Fatalf("dims=%s; want 3x3x3x2", c.DimensionsToString())
	}
	for sens := 0; sens < 2; sens++ {
		for r := 0; r < 3; r++ {
			for y := 0; y < 3; y++ {
				for x := 0; x < 3; x++ {
					if got, want := c.At(y, x, r, sens), s.At(y+1, x+2, r, sens); got != want {
						t.Errorf("crop[%d,%d,%d,%d]=%d; want %d", y, x, r, sens, got, want)
					}
				}
			}
		}
	}
	if _, err := s.Crop(0, 9, 0, 2); err == nil {
		t.Errorf("crop out of bounds err=nil; want error")
	}
}

func TestJoinAndSelectSensitivity(t *testing.T) {
	a := newTestStack(t, 2, 3, 2, 1)
	b := newTestStack(t, 2, 3, 2, 1)
	b.Data[0] = 99
	j, err := JoinImageStacks([]*ImageStack{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if j.Sensitivities != 2 {
		t.Fatalf("sensitivities=%d; want 2", j.Sensitivities)
	}
	if j.At(0, 0, 0, 1) != 99 {
		t.Errorf("joined value=%d; want 99", j.At(0, 0, 0, 1))
	}
	one, err := j.Sensitivity(1)
	if err != nil {
		t.Fatal(err)
	}
	if one.At(0, 0, 0, 0) != 99 {
		t.Errorf("selected value=%d; want 99", one.At(0, 0, 0, 0))
	}
	c := newTestStack(t, 2, 4, 2, 1)
	if _, err := JoinImageStacks([]*ImageStack{a, c}); err == nil {
		t.Errorf("join of mismatched stacks err=nil; want error")
	}
}

func TestJoinStatisticMaps(t *testing.T) {
	a, _ := NewStatisticMap(2, 2, 3, 1)
	b, _ := NewStatisticMap(2, 2, 3, 2)
	b.Plane(Blue, 1)[3] = 7
	j, err := JoinStatisticMaps([]*StatisticMap{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if j.Sensitivities != 3 {
		t.Fatalf("sensitivities=%d; want 3", j.Sensitivities)
	}
	if got := j.At(1, 1, Blue, 2); got != 7 {
		t.Errorf("value=%f; want 7", got)
	}
	if err := SameShape("test", a, b); err == nil {
		t.Errorf("SameShape err=nil; want error")
	}
}

func TestSummarize(t *testing.T) {
	m, _ := NewStatisticMap(2, 2, 3, 1)
	copy(m.Plane(Green, 0), []float64{4, 1, 2, 3})
	copy(m.Plane(Red, 0), []float64{0, 0, 9, 0})
	cfa, _ := ParseCFA("GBRG")

	all := Summarize(m, nil)
	if len(all) != 3 {
		t.Fatalf("len=%d; want 3", len(all))
	}
	g := all[Green]
	if g.Min != 1 || g.Max != 4 || g.Mean != 2.5 || g.Median != 2.5 || g.Pixels != 4 {
		t.Errorf("green summary=%v; want min 1 max 4 mean 2.5 median 2.5", g)
	}

	masked := Summarize(m, &cfa)
	r := masked[Red]
	if r.Pixels != 1 || r.Mean != 9 {
		t.Errorf("masked red summary=%v; want one pixel with mean 9", r)
	}
	gm := masked[Green]
	if gm.Pixels != 2 || gm.Mean != 3.5 {
		t.Errorf("masked green summary=%v; want two pixels with mean 3.5", gm)
	}
}

func TestUniformPhotonImage(t *testing.T) {
	p, err := NewUniformPhotonImage(2, 3, []uint32{5, 6})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	for _, v := range p.Plane(1) {
		if v != 6 {
			t.Errorf("value=%d; want 6", v)
		}
	}
	p.Data = p.Data[:5]
	if err := p.Validate(); err == nil {
		t.Errorf("Validate err=nil; want error")
	}
}
