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

package simulate

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/mlnoga/sensornoise/internal/frames"
	"gonum.org/v1/gonum/stat"
)

func samples(cs *frames.ChannelStack, row, col, channel, sensitivity int) []float64 {
	res := make([]float64, cs.Repeats)
	for k := range res {
		res[k] = float64(cs.At(row, col, channel, k, sensitivity))
	}
	return res
}

func TestSimulateSinglePixelScenario(t *testing.T) {
	img, _ := frames.NewUniformPhotonImage(1, 1, []uint32{100})
	p := &Parameters{Gain: []float64{2}, SigmaRead: []float64{0}, SigmaADC: []float64{0}, FullWell: 1000}
	out, err := Simulate(img, p, Options{NumImages: 1000, Seed: 7, MaxThreads: 4})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.DimensionsToString(); got != "1x1x1x1000x1" {
		t.Fatalf("dims=%s; want 1x1x1x1000x1", got)
	}
	mean, variance := stat.PopMeanVariance(samples(out, 0, 0, 0, 0), nil)
	if math.Abs(mean-200) > 4 {
		t.Errorf("mean=%f; want approx 200", mean)
	}
	if math.Abs(variance-400) > 80 {
		t.Errorf("variance=%f; want approx 400", variance)
	}
}

func TestSimulateConvergesToGainTimesSignal(t *testing.T) {
	img, _ := frames.NewUniformPhotonImage(2, 2, []uint32{10, 40, 0})
	gains := []float64{1.5, 3}
	p := &Parameters{Gain: gains, SigmaRead: make([]float64, 3), SigmaADC: make([]float64, 3), FullWell: math.Inf(1)}
	out, err := Simulate(img, p, Options{NumImages: 2000, Seed: 1, MaxThreads: 3})
	if err != nil {
		t.Fatal(err)
	}
	for s, g := range gains {
		for c, n := range []float64{10, 40, 0} {
			// truncation to integers loses half a unit on average
			want := g*n - 0.5
			if n == 0 {
				want = 0
			}
			got := stat.Mean(samples(out, 1, 0, c, s), nil)
			if math.Abs(got-want) > 0.05*g*n+0.6 {
				t.Errorf("mean[c=%d,s=%d]=%f; want approx %f", c, s, got, want)
			}
		}
	}
}

func TestSimulateFullWellClips(t *testing.T) {
	img, _ := frames.NewUniformPhotonImage(3, 3, []uint32{1000})
	p := &Parameters{Gain: []float64{2}, SigmaRead: []float64{0}, SigmaADC: []float64{0}, FullWell: 10}
	out, err := Simulate(img, p, Options{NumImages: 5, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out.Data {
		if v != 20 {
			t.Fatalf("value %d=%d; want 20", i, v)
		}
	}
}

func TestSimulateSaturates(t *testing.T) {
	img, _ := frames.NewUniformPhotonImage(8, 8, []uint32{5, 200, 0})
	p := &Parameters{Gain: []float64{1, 4}, SigmaRead: []float64{30, 0, 0}, SigmaADC: []float64{0, 0, 100}, FullWell: math.Inf(1)}
	out, err := Simulate(img, p, Options{NumImages: 10, Seed: 11, MaxThreads: 2})
	if err != nil {
		t.Fatal(err)
	}
	zeros := 0
	for k := 0; k < 10; k++ {
		for _, v := range out.Plane(frames.Green, k, 1) {
			if v != 255 {
				t.Fatalf("bright pixel=%d; want saturated 255", v)
			}
		}
		for _, v := range out.Plane(frames.Blue, k, 0) {
			if v == 0 {
				zeros++
			}
		}
	}
	if zeros == 0 {
		t.Errorf("no pixel clamped at 0; want some for strongly negative noise")
	}
	tcs := []struct {
		in   float64
		want uint8
	}{
		{-3.2, 0}, {0, 0}, {0.99, 0}, {17.7, 17}, {254.999, 254}, {255, 255}, {1e9, 255}, {math.NaN(), 0},
	}
	for _, tc := range tcs {
		if got := saturateUint8(tc.in); got != tc.want {
			t.Errorf("saturateUint8(%f)=%d; want %d", tc.in, got, tc.want)
		}
	}
}

func TestSimulateDeterministicPerSeed(t *testing.T) {
	img, _ := frames.NewUniformPhotonImage(4, 5, []uint32{20, 30, 40})
	p := &Parameters{Gain: []float64{1, 2}, SigmaRead: []float64{0.5, 0.5, 0.5}, SigmaADC: []float64{2, 2, 2}, FullWell: 1000}
	a, err := Simulate(img, p, Options{NumImages: 6, Seed: 99, MaxThreads: 1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Simulate(img, p, Options{NumImages: 6, Seed: 99, MaxThreads: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Errorf("equal seeds gave different output")
	}
	c, err := Simulate(img, p, Options{NumImages: 6, Seed: 100, MaxThreads: 5})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Data, c.Data) {
		t.Errorf("different seeds gave equal output")
	}
}

func TestSimulateChannelGain(t *testing.T) {
	img, _ := frames.NewUniformPhotonImage(1, 1, []uint32{50, 50, 50})
	p := &Parameters{
		ChannelGain: [][]float64{{1, 2}, {2, 3}, {3, 4}},
		SigmaRead:   make([]float64, 3),
		SigmaADC:    make([]float64, 3),
		FullWell:    10,
	}
	out, err := Simulate(img, p, Options{NumImages: 2, Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	if out.Sensitivities != 2 {
		t.Fatalf("sensitivities=%d; want 2", out.Sensitivities)
	}
	for c := 0; c < 3; c++ {
		for s := 0; s < 2; s++ {
			if got, want := out.At(0, 0, c, 1, s), uint8(10*(c+s+1)); got != want {
				t.Errorf("value[c=%d,s=%d]=%d; want %d", c, s, got, want)
			}
		}
	}
}

func TestSimulateShapeMismatch(t *testing.T) {
	img, _ := frames.NewUniformPhotonImage(2, 2, []uint32{1, 2, 3})
	tcs := []*Parameters{
		{Gain: []float64{1}, SigmaRead: []float64{0, 0}, SigmaADC: []float64{0, 0, 0}, FullWell: 1},
		{Gain: []float64{1}, SigmaRead: []float64{0, 0, 0}, SigmaADC: []float64{0}, FullWell: 1},
		{Gain: nil, SigmaRead: []float64{0, 0, 0}, SigmaADC: []float64{0, 0, 0}, FullWell: 1},
		{ChannelGain: [][]float64{{1}, {1, 2}, {1}}, SigmaRead: []float64{0, 0, 0}, SigmaADC: []float64{0, 0, 0}, FullWell: 1},
		{ChannelGain: [][]float64{{1}}, SigmaRead: []float64{0, 0, 0}, SigmaADC: []float64{0, 0, 0}, FullWell: 1},
	}
	for i, p := range tcs {
		_, err := Simulate(img, p, Options{NumImages: 1})
		var sme *frames.ShapeMismatchError
		if !errors.As(err, &sme) {
			t.Errorf("case %d: err=%v; want ShapeMismatchError", i, err)
		}
	}
	bad := &frames.PhotonImage{Height: 2, Width: 2, Channels: 3, Data: make([]uint32, 11)}
	var sme *frames.ShapeMismatchError
	if _, err := Simulate(bad, tcs[0], Options{NumImages: 1}); !errors.As(err, &sme) {
		t.Errorf("err=%v; want ShapeMismatchError", err)
	}
	ok := &Parameters{Gain: []float64{1}, SigmaRead: []float64{0, 0, 0}, SigmaADC: []float64{0, 0, 0}, FullWell: math.NaN()}
	if _, err := Simulate(img, ok, Options{NumImages: 1}); err == nil {
		t.Errorf("err=nil; want error for NaN full well")
	}
}

func TestParametersJSONFullWell(t *testing.T) {
	p := Parameters{Gain: []float64{2}, SigmaRead: []float64{0.5}, SigmaADC: []float64{1}, FullWell: math.Inf(1)}
	m, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(m, []byte(`"fullWell":"inf"`)) {
		t.Errorf("json=%s; want fullWell inf", m)
	}
	var back Parameters
	if err := json.Unmarshal(m, &back); err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(back.FullWell, 1) || back.Gain[0] != 2 || back.SigmaRead[0] != 0.5 || back.SigmaADC[0] != 1 {
		t.Errorf("parameters=%+v; want round trip", back)
	}

	tests := []struct {
		in   string
		want float64
		err  bool
	}{
		{`{"gain":[1],"fullWell":1000}`, 1000, false},
		{`{"gain":[1],"fullWell":"Infinity"}`, math.Inf(1), false},
		{`{"gain":[1],"fullWell":null}`, 0, false},
		{`{"gain":[1]}`, 0, false},
		{`{"gain":[1],"fullWell":"lots"}`, 0, true},
	}
	for _, test := range tests {
		var q Parameters
		err := json.Unmarshal([]byte(test.in), &q)
		if (err != nil) != test.err {
			t.Errorf("%s: err=%v; want error %v", test.in, err, test.err)
			continue
		}
		if !test.err && q.FullWell != test.want {
			t.Errorf("%s: full well=%f; want %f", test.in, q.FullWell, test.want)
		}
	}

	m, _ = json.Marshal(Parameters{Gain: []float64{1}, FullWell: 750})
	if !bytes.Contains(m, []byte(`"fullWell":750`)) {
		t.Errorf("json=%s; want numeric full well", m)
	}
}
