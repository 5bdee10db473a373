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
)

// Result of the read-noise fit, indexed by channel
type ReadNoiseFit struct {
	SigmaRead []float64 `json:"sigmaRead" msgpack:"sigmaRead"`
	SigmaADC  []float64 `json:"sigmaADC"  msgpack:"sigmaADC"`
	RSquared  []float64 `json:"rSquared"  msgpack:"rSquared"`
}

// Returns the fitted line for the given channel
func (r *ReadNoiseFit) Line(channel int) Line {
	return Line{Slope: r.SigmaRead[channel], Intercept: r.SigmaADC[channel], RSquared: r.RSquared[channel]}
}

// Fits delta = sigmaRead*gain + sigmaADC per channel across all sensitivity settings
// of the given variance-mean fit. Requires at least two distinct gains per channel.
func FitReadNoise(g *GainFit) (*ReadNoiseFit, error) {
	if g == nil {
		return nil, errors.New("FitReadNoise: no gain fit")
	}
	channels, _ := g.Dims()
	r := &ReadNoiseFit{
		SigmaRead: make([]float64, channels),
		SigmaADC:  make([]float64, channels),
		RSquared:  make([]float64, channels),
	}
	var errs []error
	for c := 0; c < channels; c++ {
		line, ok := FitLine(g.Gain[c], g.Delta[c])
		if !ok {
			errs = append(errs, &FittingError{Stage: StageReadNoise, Channel: c, Sensitivity: -1, Points: len(g.Gain[c]), Need: 2})
			continue
		}
		r.SigmaRead[c], r.SigmaADC[c], r.RSquared[c] = line.Slope, line.Intercept, line.RSquared
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}
