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

package stats

import (
	"errors"
	"math"
	"testing"

	"github.com/mlnoga/sensornoise/internal/frames"
	"github.com/valyala/fastrand"
)

func randomChannelStack(t *testing.T, h, w, c, r, s int) *frames.ChannelStack {
	cs, err := frames.NewChannelStack(h, w, c, r, s)
	if err != nil {
		t.Fatal(err)
	}
	var rng fastrand.RNG
	rng.Seed(42)
	for i := range cs.Data {
		cs.Data[i] = uint8(rng.Uint32n(256))
	}
	return cs
}

func TestMeanVarKnownValues(t *testing.T) {
	cs, _ := frames.NewChannelStack(1, 2, 1, 4, 1)
	// pixel 0 sees 1,2,3,4; pixel 1 sees 7,7,7,7
	for r, v := range []uint8{1, 2, 3, 4} {
		p := cs.Plane(0, r, 0)
		p[0], p[1] = v, 7
	}
	mean, variance, err := MeanVar(cs, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := mean.At(0, 0, 0, 0); got != 2.5 {
		t.Errorf("mean=%f; want 2.5", got)
	}
	if got := variance.At(0, 0, 0, 0); got != 1.25 {
		t.Errorf("variance=%f; want 1.25", got)
	}
	if got := mean.At(0, 1, 0, 0); got != 7 {
		t.Errorf("mean=%f; want 7", got)
	}
	if got := variance.At(0, 1, 0, 0); got != 0 {
		t.Errorf("variance=%f; want 0", got)
	}
}

func TestMeanVarNonNegativeAndMatchesTwoPass(t *testing.T) {
	cs := randomChannelStack(t, 6, 5, 3, 17, 2)
	mean, variance, err := MeanVar(cs, 4)
	if err != nil {
		t.Fatal(err)
	}
	if mean.DimensionsToString() != "6x5x3x2" {
		t.Fatalf("dims=%s; want 6x5x3x2", mean.DimensionsToString())
	}
	for s := 0; s < 2; s++ {
		for c := 0; c < 3; c++ {
			for i := 0; i < 30; i++ {
				sum := 0.0
				for r := 0; r < 17; r++ {
					sum += float64(cs.Plane(c, r, s)[i])
				}
				m := sum / 17
				ss := 0.0
				for r := 0; r < 17; r++ {
					d := float64(cs.Plane(c, r, s)[i]) - m
					ss += d * d
				}
				v := ss / 17
				gotM, gotV := mean.Plane(c, s)[i], variance.Plane(c, s)[i]
				if gotV < 0 {
					t.Errorf("variance[%d,%d,%d]=%f; want >= 0", c, s, i, gotV)
				}
				if math.Abs(gotM-m) > 1e-9 || math.Abs(gotV-v) > 1e-9 {
					t.Errorf("mean,var[%d,%d,%d]=%f,%f; want %f,%f", c, s, i, gotM, gotV, m, v)
				}
			}
		}
	}
}

func TestMeanVarBitIdentical(t *testing.T) {
	cs := randomChannelStack(t, 8, 8, 3, 9, 3)
	m1, v1, err := MeanVar(cs, 1)
	if err != nil {
		t.Fatal(err)
	}
	m2, v2, err := MeanVar(cs, 8)
	if err != nil {
		t.Fatal(err)
	}
	for i := range m1.Data {
		if math.Float64bits(m1.Data[i]) != math.Float64bits(m2.Data[i]) ||
			math.Float64bits(v1.Data[i]) != math.Float64bits(v2.Data[i]) {
			t.Fatalf("run results differ at %d", i)
		}
	}
}

func TestMeanVarShapeErrors(t *testing.T) {
	var sme *frames.ShapeMismatchError
	if _, _, err := MeanVar(nil, 1); !errors.As(err, &sme) {
		t.Errorf("err=%v; want ShapeMismatchError", err)
	}
	cs := &frames.ChannelStack{Height: 2, Width: 2, Channels: 3, Repeats: 0, Sensitivities: 1}
	if _, _, err := MeanVar(cs, 1); !errors.As(err, &sme) {
		t.Errorf("err=%v; want ShapeMismatchError", err)
	}
	cs = &frames.ChannelStack{Height: 2, Width: 2, Channels: 3, Repeats: 2, Sensitivities: 1, Data: make([]uint8, 5)}
	if _, _, err := MeanVar(cs, 1); !errors.As(err, &sme) {
		t.Errorf("err=%v; want ShapeMismatchError", err)
	}
}

func TestRegionHistogram(t *testing.T) {
	cs, _ := frames.NewChannelStack(4, 4, 1, 2, 1)
	for i := range cs.Plane(0, 0, 0) {
		cs.Plane(0, 0, 0)[i] = 10
		cs.Plane(0, 1, 0)[i] = 20
	}
	h := RegionHistogram(cs, 2, 2, 10, 10, 0)
	if len(h) != HistogramBins {
		t.Fatalf("len=%d; want %d", len(h), HistogramBins)
	}
	if h[10] != 0.5 || h[20] != 0.5 {
		t.Errorf("h[10]=%f h[20]=%f; want 0.5 0.5", h[10], h[20])
	}
	if h := RegionHistogram(cs, 4, 0, 2, 2, 0); h != nil {
		t.Errorf("empty region histogram=%v; want nil", h)
	}
	if h := RegionHistogram(cs, 0, 0, 2, 2, 1); h != nil {
		t.Errorf("histogram of missing sensitivity=%v; want nil", h)
	}
}

func TestGaussianFromHistogram(t *testing.T) {
	tcs := []struct {
		mu, sigma float64
	}{
		{30, 2},
		{12.5, 4},
		{100, 1.5},
	}
	for _, tc := range tcs {
		bins := make([]float64, HistogramBins)
		for i := range bins {
			d := (float64(i) - tc.mu) / tc.sigma
			bins[i] = 1000 * math.Exp(-0.5*d*d)
		}
		mode, sigma, err := GaussianFromHistogram(bins)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(mode-tc.mu) > 0.05 {
			t.Errorf("mode=%f; want %f", mode, tc.mu)
		}
		if math.Abs(sigma-tc.sigma) > 0.05 {
			t.Errorf("sigma=%f; want %f", sigma, tc.sigma)
		}
	}
	if _, _, err := GaussianFromHistogram(make([]float64, 10)); err == nil {
		t.Errorf("err=nil; want error for empty histogram")
	}
}

func TestEstimateSpatialNoise(t *testing.T) {
	flat := make([]uint8, 20*20)
	for i := range flat {
		flat[i] = 77
	}
	if got := EstimateSpatialNoise(flat, 20); got != 0 {
		t.Errorf("noise of flat frame=%f; want 0", got)
	}
	// a linear gradient is annihilated by the Laplacian difference kernel
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			flat[y*20+x] = uint8(3*x + 2*y)
		}
	}
	if got := EstimateSpatialNoise(flat, 20); got != 0 {
		t.Errorf("noise of gradient frame=%f; want 0", got)
	}
	checker := make([]uint8, 20*20)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			checker[y*20+x] = uint8(100 + 10*((x+y)&1))
		}
	}
	if got := EstimateSpatialNoise(checker, 20); got <= 0 {
		t.Errorf("noise of checkerboard=%f; want > 0", got)
	}
	if got := EstimateSpatialNoise(checker[:40], 20); got != 0 {
		t.Errorf("noise of two-row frame=%f; want 0", got)
	}
}

func TestPixelGrid(t *testing.T) {
	locs := PixelGrid(100, 100, 4, 3)
	if len(locs) != 12 {
		t.Fatalf("len=%d; want 12", len(locs))
	}
	wantRows := []int{25, 50, 75}
	wantCols := []int{20, 40, 60, 80}
	for i, l := range locs {
		if l.Row != wantRows[i/4] || l.Col != wantCols[i%4] {
			t.Errorf("loc[%d]=%v; want {%d %d}", i, l, wantRows[i/4], wantCols[i%4])
		}
	}
	if locs := PixelGrid(100, 100, 0, 3); locs != nil {
		t.Errorf("locs=%v; want nil", locs)
	}
	one := PixelGrid(600, 800, 1, 1)
	if len(one) != 1 || one[0].Row != 300 || one[0].Col != 400 {
		t.Errorf("single location=%v; want {300 400}", one)
	}
}
