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

package fit

import (
	"errors"
	"sync"

	"github.com/mlnoga/sensornoise/internal/frames"
)

// Default upper bound on the mean for pixels entering the variance-mean fit.
// Brighter pixels approach full well and have their variance compressed by clipping.
const DefaultThreshold = 200

// Options for the variance-mean fit
type Options struct {
	Threshold       float64     // pixels with mean >= Threshold are excluded
	IgnoreUnsampled bool        // also exclude positions the CFA does not sample for the channel
	CFA             *frames.CFA // required if IgnoreUnsampled is set
	MaxThreads      int         // concurrent fits, at least 1
}

// Returns options with the default threshold and no CFA mask
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, MaxThreads: 1}
}

// Result of the variance-mean fit. All slices are indexed [channel][sensitivity]
type GainFit struct {
	Gain     [][]float64 `json:"gain"     msgpack:"gain"`
	Delta    [][]float64 `json:"delta"    msgpack:"delta"`
	RSquared [][]float64 `json:"rSquared" msgpack:"rSquared"`
	Points   [][]int     `json:"points"   msgpack:"points"`
}

// Number of channels and sensitivities of the fit
func (g *GainFit) Dims() (channels, sensitivities int) {
	if len(g.Gain) == 0 {
		return 0, 0
	}
	return len(g.Gain), len(g.Gain[0])
}

// Returns the fitted line for the given channel and sensitivity
func (g *GainFit) Line(channel, sensitivity int) Line {
	return Line{
		Slope:     g.Gain[channel][sensitivity],
		Intercept: g.Delta[channel][sensitivity],
		RSquared:  g.RSquared[channel][sensitivity],
		N:         g.Points[channel][sensitivity],
	}
}

func newGainFit(channels, sensitivities int) *GainFit {
	g := &GainFit{
		Gain:     make([][]float64, channels),
		Delta:    make([][]float64, channels),
		RSquared: make([][]float64, channels),
		Points:   make([][]int, channels),
	}
	for c := 0; c < channels; c++ {
		g.Gain[c] = make([]float64, sensitivities)
		g.Delta[c] = make([]float64, sensitivities)
		g.RSquared[c] = make([]float64, sensitivities)
		g.Points[c] = make([]int, sensitivities)
	}
	return g
}

// Fits variance = gain*mean + delta independently for every (channel, sensitivity)
// pair of the given maps, over all pixels with mean below the threshold.
// Fails with a FittingError for every pair with fewer than two usable points;
// failures of independent pairs are joined, and no partial result is returned.
func FitVarianceMean(mean, variance *frames.StatisticMap, opts Options) (*GainFit, error) {
	if err := frames.SameShape("FitVarianceMean", mean, variance); err != nil {
		return nil, err
	}
	if opts.IgnoreUnsampled && opts.CFA == nil {
		return nil, errors.New("FitVarianceMean: ignoring unsampled positions requires a CFA")
	}
	if opts.MaxThreads < 1 {
		opts.MaxThreads = 1
	}

	g := newGainFit(mean.Channels, mean.Sensitivities)
	errs := make([]error, mean.Channels*mean.Sensitivities)

	limiter := make(chan bool, opts.MaxThreads)
	var wg sync.WaitGroup
	for c := 0; c < mean.Channels; c++ {
		for s := 0; s < mean.Sensitivities; s++ {
			limiter <- true
			wg.Add(1)
			go func(c, s int) {
				defer func() { <-limiter; wg.Done() }()
				x, y := maskedPoints(mean, variance, c, s, &opts)
				line, ok := FitLine(x, y)
				if !ok {
					errs[c*mean.Sensitivities+s] = &FittingError{Stage: StageVarianceMean, Channel: c, Sensitivity: s, Points: len(x), Need: 2}
					return
				}
				g.Gain[c][s], g.Delta[c][s] = line.Slope, line.Intercept
				g.RSquared[c][s], g.Points[c][s] = line.RSquared, line.N
			}(c, s)
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return g, nil
}

// Returns the flattened (mean, variance) pairs of one plane passing the mask
func maskedPoints(mean, variance *frames.StatisticMap, c, s int, opts *Options) (x, y []float64) {
	mp, vp := mean.Plane(c, s), variance.Plane(c, s)
	x, y = make([]float64, 0, len(mp)), make([]float64, 0, len(mp))
	for i, m := range mp {
		if !(m < opts.Threshold) {
			continue
		}
		if opts.IgnoreUnsampled && !opts.CFA.Samples(i/mean.Width, i%mean.Width, c) {
			continue
		}
		x, y = append(x, m), append(y, vp[i])
	}
	return x, y
}

// Returns every skip-th (mean, variance) pair of one plane, e.g. for scatter plots.
// A skip below 1 returns all pairs
func Decimate(mean, variance *frames.StatisticMap, channel, sensitivity, skip int) (x, y []float64) {
	if skip < 1 {
		skip = 1
	}
	mp, vp := mean.Plane(channel, sensitivity), variance.Plane(channel, sensitivity)
	n := (len(mp) + skip - 1) / skip
	x, y = make([]float64, 0, n), make([]float64, 0, n)
	for i := 0; i < len(mp); i += skip {
		x, y = append(x, mp[i]), append(y, vp[i])
	}
	return x, y
}
