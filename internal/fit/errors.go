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

// Package fit estimates sensor noise parameters by photon transfer analysis.
//
// Stage A regresses per-pixel temporal variance on mean for every color channel
// and sensitivity setting, yielding the conversion gain (slope) and an intercept
// delta. Stage B regresses delta on gain across sensitivity settings for every
// channel, separating read noise, which scales with gain, from ADC noise, which
// does not.
package fit

import (
	"errors"
	"fmt"

	"github.com/mlnoga/sensornoise/internal/frames"
)

// Raised by fits with fewer usable points than free parameters
var ErrInsufficientData = errors.New("insufficient data")

// Stage names used in errors and logs
const (
	StageVarianceMean = "variance-mean"
	StageReadNoise    = "read-noise"
)

// A failed regression for one (channel, sensitivity) pair in the variance-mean
// stage, or for one channel in the read-noise stage (Sensitivity -1)
type FittingError struct {
	Stage       string
	Channel     int
	Sensitivity int
	Points      int // usable points found
	Need        int // minimum number of distinct points
}

func (e *FittingError) Error() string {
	where := fmt.Sprintf("channel %d", e.Channel)
	if e.Channel >= 0 && e.Channel < frames.NumChannels {
		where = "channel " + frames.ChannelNames[e.Channel]
	}
	if e.Sensitivity >= 0 {
		where += fmt.Sprintf(" sensitivity %d", e.Sensitivity)
	}
	return fmt.Sprintf("%s fit for %s: %v, got %d points, need %d distinct", e.Stage, where, ErrInsufficientData, e.Points, e.Need)
}

func (e *FittingError) Unwrap() error { return ErrInsufficientData }
