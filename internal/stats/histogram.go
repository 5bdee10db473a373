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

	"github.com/mlnoga/sensornoise/internal/frames"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Number of bins of an 8-bit intensity histogram
const HistogramBins = 256

// Calculates the normalized 256-bin histogram (density) of all pixel intensities
// of a channel stack within the region starting at (row, col) of size (height, width),
// across all channels and repeats of the given sensitivity index. The region is clipped
// to the stack bounds. An empty region yields nil.
func RegionHistogram(cs *frames.ChannelStack, row, col, height, width, sensitivity int) []float64 {
	if cs == nil || sensitivity < 0 || sensitivity >= cs.Sensitivities || row < 0 || col < 0 {
		return nil
	}
	rowEnd, colEnd := min(row+height, cs.Height), min(col+width, cs.Width)
	if rowEnd <= row || colEnd <= col {
		return nil
	}

	bins := make([]float64, HistogramBins)
	for r := 0; r < cs.Repeats; r++ {
		for c := 0; c < cs.Channels; c++ {
			plane := cs.Plane(c, r, sensitivity)
			for y := row; y < rowEnd; y++ {
				for _, v := range plane[y*cs.Width+col : y*cs.Width+colEnd] {
					bins[v]++
				}
			}
		}
	}
	floats.Scale(1/floats.Sum(bins), bins)
	return bins
}

// Returns the index and the value of the histogram peak
func GetPeak(bins []float64) (x int, y float64) {
	x = floats.MaxIdx(bins)
	return x, bins[x]
}

// Calculates the mode and the standard deviation of the given unit-width histogram
// by least squares fit of a scaled normal distribution, e.g. black level and
// noise of a dark frame.
func GaussianFromHistogram(bins []float64) (mode, stdDev float64, err error) {
	if len(bins) < 3 {
		return 0, 0, errors.New("histogram needs at least 3 bins")
	}
	total := floats.Sum(bins)
	if total <= 0 {
		return 0, 0, errors.New("empty histogram")
	}

	// Take an educated initial guess: the maximum of the histogram, and its second moment
	peak, peakVal := GetPeak(bins)
	m2 := 0.0
	for i, y := range bins {
		d := float64(i) - float64(peak)
		m2 += y * d * d
	}
	sigma0 := math.Max(math.Sqrt(m2/total), 0.5)
	alpha0 := peakVal * sigma0 * math.Sqrt(2*math.Pi)

	// Now minimize the distance between the histogram and a normal distribution
	x0 := []float64{alpha0, float64(peak), sigma0}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma := x[0], x[1], math.Abs(x[2])+1e-9
			scaler := alpha / (sigma * math.Sqrt(2*math.Pi))
			sumSqDiff := 0.0
			for i, y := range bins {
				xmusig := (float64(i) - mu) / sigma
				diff := y - scaler*math.Exp(-0.5*xmusig*xmusig)
				sumSqDiff += diff * diff
			}
			return sumSqDiff / float64(len(bins))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return -1, -1, err
	}
	return result.X[1], math.Abs(result.X[2]), nil
}
