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

// Package snr relates signal to noise per mean intensity level, empirically
// from statistic maps and as predicted by fitted noise parameters.
package snr

import (
	"fmt"
	"math"

	"github.com/mlnoga/sensornoise/internal/frames"
)

// Number of unit-width mean intensity bins, covering [0,255)
const NumBins = 255

// Signal to noise ratio per mean intensity bin. Bin b holds pixels with b <= mean < b+1.
// Bins without pixels have SNR 0.
type Curve struct {
	SNR    [NumBins]float64 `json:"snr"    msgpack:"snr"`
	Counts [NumBins]int     `json:"counts" msgpack:"counts"`
}

// Total number of pixels assigned to any bin
func (c *Curve) Pixels() int {
	n := 0
	for _, v := range c.Counts {
		n += v
	}
	return n
}

// Calculates the SNR as bin average mean over square root of bin average variance,
// binning all given pixels by their mean. Pixels with mean outside [0,255) are ignored.
// Bins with zero average variance yield 0.
func ForSpecificGain(mean, variance []float64) (*Curve, error) {
	if len(mean) != len(variance) {
		return nil, &frames.ShapeMismatchError{Op: "snr.ForSpecificGain", Want: "equal lengths", Got: lengths(mean, variance)}
	}
	var sumMean, sumVar [NumBins]float64
	c := &Curve{}
	for i, m := range mean {
		if !(m >= 0 && m < NumBins) {
			continue
		}
		b := int(m)
		sumMean[b] += m
		sumVar[b] += variance[i]
		c.Counts[b]++
	}
	for b, n := range c.Counts {
		if n == 0 {
			continue
		}
		avgVar := sumVar[b] / float64(n)
		if avgVar > 0 {
			c.SNR[b] = (sumMean[b] / float64(n)) / math.Sqrt(avgVar)
		}
	}
	return c, nil
}

// Calculates one curve per sensitivity setting over all channels of the given maps
func Curves(mean, variance *frames.StatisticMap) ([]*Curve, error) {
	if err := frames.SameShape("snr.Curves", mean, variance); err != nil {
		return nil, err
	}
	res := make([]*Curve, mean.Sensitivities)
	for s := range res {
		c, err := ForSpecificGain(mean.SensitivityData(s), variance.SensitivityData(s))
		if err != nil {
			return nil, err
		}
		res[s] = c
	}
	return res, nil
}

// Calculates one curve per channel and sensitivity setting, indexed [channel][sensitivity].
// If cfa is not nil, positions not sampled for the respective channel are skipped
func ChannelCurves(mean, variance *frames.StatisticMap, cfa *frames.CFA) ([][]*Curve, error) {
	if err := frames.SameShape("snr.ChannelCurves", mean, variance); err != nil {
		return nil, err
	}
	res := make([][]*Curve, mean.Channels)
	m, v := make([]float64, 0, mean.PlanePixels()), make([]float64, 0, mean.PlanePixels())
	for c := range res {
		res[c] = make([]*Curve, mean.Sensitivities)
		for s := range res[c] {
			m, v = m[:0], v[:0]
			mp, vp := mean.Plane(c, s), variance.Plane(c, s)
			for i := range mp {
				if cfa == nil || cfa.Samples(i/mean.Width, i%mean.Width, c) {
					m, v = append(m, mp[i]), append(v, vp[i])
				}
			}
			curve, err := ForSpecificGain(m, v)
			if err != nil {
				return nil, err
			}
			res[c][s] = curve
		}
	}
	return res, nil
}

// Returns the SNR predicted by variance = gain*mean + delta at the center of each bin.
// Bins with non-positive predicted variance yield 0.
func ModelCurve(gain, delta float64) [NumBins]float64 {
	var res [NumBins]float64
	for b := range res {
		m := float64(b) + 0.5
		if v := gain*m + delta; v > 0 {
			res[b] = m / math.Sqrt(v)
		}
	}
	return res
}

func lengths(a, b []float64) string {
	return fmt.Sprintf("%d and %d", len(a), len(b))
}
