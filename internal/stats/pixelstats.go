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

// Package stats computes per-pixel temporal statistics of capture stacks,
// along with histogram and spatial noise diagnostics for single regions and frames.
package stats

import (
	"fmt"
	"sync"

	"github.com/mlnoga/sensornoise/internal/frames"
)

// Computes the per-pixel arithmetic mean and population variance (divisor N)
// over the repeat axis of a channel stack. Returns new maps shaped
// (row, column, channel, sensitivity). Planes are processed concurrently
// with at most maxThreads workers; results do not depend on scheduling.
func MeanVar(cs *frames.ChannelStack, maxThreads int) (mean, variance *frames.StatisticMap, err error) {
	if cs == nil {
		return nil, nil, &frames.ShapeMismatchError{Op: "MeanVar", Want: "channel stack", Got: "nil"}
	}
	if cs.Repeats <= 0 {
		return nil, nil, &frames.ShapeMismatchError{Op: "MeanVar", Want: "repeat axis of size >= 1", Got: fmt.Sprint(cs.Repeats)}
	}
	if n := cs.Height * cs.Width * cs.Channels * cs.Repeats * cs.Sensitivities; len(cs.Data) != n {
		return nil, nil, &frames.ShapeMismatchError{Op: "MeanVar", Want: fmt.Sprint(n), Got: fmt.Sprint(len(cs.Data))}
	}
	if mean, err = frames.NewStatisticMap(cs.Height, cs.Width, cs.Channels, cs.Sensitivities); err != nil {
		return nil, nil, err
	}
	if variance, err = frames.NewStatisticMap(cs.Height, cs.Width, cs.Channels, cs.Sensitivities); err != nil {
		return nil, nil, err
	}
	if maxThreads < 1 {
		maxThreads = 1
	}

	limiter := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	for s := 0; s < cs.Sensitivities; s++ {
		for c := 0; c < cs.Channels; c++ {
			limiter <- true
			wg.Add(1)
			go func(c, s int) {
				defer func() { <-limiter; wg.Done() }()
				meanVarPlane(cs, c, s, mean.Plane(c, s), variance.Plane(c, s))
			}(c, s)
		}
	}
	wg.Wait()
	return mean, variance, nil
}

// Reduces one (channel, sensitivity) plane over all repeats. Sums of 8-bit values
// and their squares are accumulated exactly in integers, so the variance numerator
// n*sum(x^2)-sum(x)^2 is never negative
func meanVarPlane(cs *frames.ChannelStack, c, s int, mean, variance []float64) {
	p := cs.PlanePixels()
	sum := make([]uint64, p)
	sumSq := make([]uint64, p)
	for r := 0; r < cs.Repeats; r++ {
		for i, v := range cs.Plane(c, r, s) {
			x := uint64(v)
			sum[i] += x
			sumSq[i] += x * x
		}
	}
	n := uint64(cs.Repeats)
	fn, fn2 := float64(n), float64(n*n)
	for i := range mean {
		mean[i] = float64(sum[i]) / fn
		variance[i] = float64(n*sumSq[i]-sum[i]*sum[i]) / fn2
	}
}
