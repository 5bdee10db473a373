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

// Package simulate generates synthetic noisy captures from a noise-free photon
// image and fitted sensor noise parameters.
package simulate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/mlnoga/sensornoise/internal/frames"
	"gonum.org/v1/gonum/stat/distuv"
)

// Noise model parameters of the simulated sensor
type Parameters struct {
	Gain        []float64   `json:"gain"                  yaml:"gain"`        // conversion gain per sensitivity setting
	ChannelGain [][]float64 `json:"channelGain,omitempty" yaml:"channelGain"` // optional [channel][sensitivity] gain, overrides Gain
	SigmaRead   []float64   `json:"sigmaRead"             yaml:"sigmaRead"`   // read noise per channel, scaled by gain squared
	SigmaADC    []float64   `json:"sigmaADC"              yaml:"sigmaADC"`    // ADC noise per channel
	FullWell    float64     `json:"fullWell"              yaml:"fullWell"`    // full well capacity in photons, may be +Inf
}

// Number of sensitivity settings described by the parameters
func (p *Parameters) Sensitivities() int {
	if len(p.ChannelGain) > 0 {
		return len(p.ChannelGain[0])
	}
	return len(p.Gain)
}

// Returns the gain for the given channel and sensitivity
func (p *Parameters) GainAt(channel, sensitivity int) float64 {
	if len(p.ChannelGain) > 0 {
		return p.ChannelGain[channel][sensitivity]
	}
	return p.Gain[sensitivity]
}

// JSON has no infinity, so an unbounded full well is written as "inf"
const infiniteFullWell = "inf"

type parametersAlias Parameters

func (p Parameters) MarshalJSON() ([]byte, error) {
	aux := struct {
		*parametersAlias
		FullWell any `json:"fullWell"`
	}{parametersAlias: (*parametersAlias)(&p), FullWell: p.FullWell}
	if math.IsInf(p.FullWell, 1) {
		aux.FullWell = infiniteFullWell
	}
	return json.Marshal(aux)
}

// Accepts the full well as a number, or as "inf" for an unbounded full well
func (p *Parameters) UnmarshalJSON(data []byte) error {
	aux := struct {
		*parametersAlias
		FullWell json.RawMessage `json:"fullWell"`
	}{parametersAlias: (*parametersAlias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.FullWell) == 0 || string(aux.FullWell) == "null" {
		return nil
	}
	var name string
	if err := json.Unmarshal(aux.FullWell, &name); err == nil {
		switch strings.ToLower(name) {
		case infiniteFullWell, "+inf", "infinity":
			p.FullWell = math.Inf(1)
			return nil
		}
		return fmt.Errorf("simulate: invalid full well %q", name)
	}
	return json.Unmarshal(aux.FullWell, &p.FullWell)
}

// Checks the parameters against an image with the given number of channels
func (p *Parameters) Validate(channels int) error {
	if p.Sensitivities() == 0 {
		return &frames.ShapeMismatchError{Op: "simulate", Want: "gain for at least one sensitivity", Got: "none"}
	}
	if len(p.ChannelGain) > 0 {
		if len(p.ChannelGain) != channels {
			return &frames.ShapeMismatchError{Op: "simulate", Want: fmt.Sprintf("channel gain for %d channels", channels), Got: fmt.Sprint(len(p.ChannelGain))}
		}
		for c, g := range p.ChannelGain {
			if len(g) != p.Sensitivities() {
				return &frames.ShapeMismatchError{Op: "simulate", Want: fmt.Sprintf("%d sensitivities", p.Sensitivities()), Got: fmt.Sprintf("%d for channel %d", len(g), c)}
			}
		}
	}
	if len(p.SigmaRead) != channels {
		return &frames.ShapeMismatchError{Op: "simulate", Want: fmt.Sprintf("read noise for %d channels", channels), Got: fmt.Sprint(len(p.SigmaRead))}
	}
	if len(p.SigmaADC) != channels {
		return &frames.ShapeMismatchError{Op: "simulate", Want: fmt.Sprintf("ADC noise for %d channels", channels), Got: fmt.Sprint(len(p.SigmaADC))}
	}
	if math.IsNaN(p.FullWell) || p.FullWell < 0 {
		return errors.New("simulate: full well capacity must be a non-negative number")
	}
	return nil
}

// Options controlling a simulation run
type Options struct {
	NumImages  int    // noisy images per sensitivity setting
	Seed       uint64 // random seed, equal seeds give equal output
	MaxThreads int    // concurrent workers, at least 1
}

// Simulates opts.NumImages noisy captures per sensitivity setting of the given photon image.
// Each pixel draws a Poisson photon count, clips it to full well, multiplies it by the gain,
// and adds read noise with standard deviation gain^2*sigmaRead plus independent ADC noise
// with standard deviation sigmaADC. Results saturate to [0,255] and are truncated to 8 bits.
// Output is shaped (row, column, channel, image, sensitivity).
func Simulate(img *frames.PhotonImage, p *Parameters, opts Options) (*frames.ChannelStack, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("simulate: no parameters")
	}
	if err := p.Validate(img.Channels); err != nil {
		return nil, err
	}
	if opts.NumImages <= 0 {
		return nil, &frames.ShapeMismatchError{Op: "simulate", Want: "at least one image", Got: fmt.Sprint(opts.NumImages)}
	}
	if opts.MaxThreads < 1 {
		opts.MaxThreads = 1
	}

	numSens := p.Sensitivities()
	out, err := frames.NewChannelStack(img.Height, img.Width, img.Channels, opts.NumImages, numSens)
	if err != nil {
		return nil, err
	}

	// one independent random stream per (sensitivity, image), so output does not depend on scheduling
	limiter := make(chan bool, opts.MaxThreads)
	var wg sync.WaitGroup
	for s := 0; s < numSens; s++ {
		for k := 0; k < opts.NumImages; k++ {
			limiter <- true
			wg.Add(1)
			go func(s, k int) {
				defer func() { <-limiter; wg.Done() }()
				src := rand.NewPCG(opts.Seed, uint64(s*opts.NumImages+k))
				for c := 0; c < img.Channels; c++ {
					simulatePlane(out.Plane(c, k, s), img.Plane(c), p.GainAt(c, s), p.SigmaRead[c], p.SigmaADC[c], p.FullWell, src)
				}
			}(s, k)
		}
	}
	wg.Wait()
	return out, nil
}

func simulatePlane(dest []uint8, photons []uint32, gain, sigmaRead, sigmaADC, fullWell float64, src rand.Source) {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	readScale := gain * gain * sigmaRead
	for i, n := range photons {
		shot := distuv.Poisson{Lambda: float64(n), Src: src}.Rand()
		v := gain * math.Min(shot, fullWell)
		v += readScale * norm.Rand()
		v += sigmaADC * norm.Rand()
		dest[i] = saturateUint8(v)
	}
}

// Clamps to [0,255] and truncates towards zero
func saturateUint8(v float64) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
