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

package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mlnoga/sensornoise/internal/config"
	"github.com/mlnoga/sensornoise/internal/fit"
	"github.com/mlnoga/sensornoise/internal/frames"
	"github.com/mlnoga/sensornoise/internal/raw"
	"github.com/mlnoga/sensornoise/internal/report"
	"github.com/mlnoga/sensornoise/internal/simulate"
	"github.com/mlnoga/sensornoise/internal/snr"
	"github.com/mlnoga/sensornoise/internal/stats"
	"github.com/valyala/fastrand"
	"gopkg.in/yaml.v3"
)

// Result of a noise simulation
type Simulation struct {
	Seed          uint64                `json:"seed"`
	Parameters    *simulate.Parameters  `json:"parameters"`
	Sensitivities []int                 `json:"sensitivities"`
	Mean          []frames.PlaneSummary `json:"mean"`     // summaries of the per-pixel mean over all images
	Variance      []frames.PlaneSummary `json:"variance"` // summaries of the per-pixel variance
	SNR           []*snr.Curve          `json:"snr"`
	Files         []string              `json:"files,omitempty"`

	Stack *frames.ChannelStack `json:"-"`
}

// Derives simulator parameters from fitted gains and read noise. Gains are taken
// per channel and sensitivity, with their channel average as the per-sensitivity gain
func ParametersFromFit(g *fit.GainFit, r *fit.ReadNoiseFit, fullWell float64) (*simulate.Parameters, error) {
	if g == nil || r == nil {
		return nil, errors.New("incomplete fit")
	}
	channels, sens := g.Dims()
	if channels == 0 || sens == 0 || len(r.SigmaRead) != channels || len(r.SigmaADC) != channels {
		return nil, &frames.ShapeMismatchError{Op: "ParametersFromFit", Want: fmt.Sprintf("read noise for %d channels", channels), Got: fmt.Sprint(len(r.SigmaRead))}
	}
	p := &simulate.Parameters{
		Gain:        make([]float64, sens),
		ChannelGain: make([][]float64, channels),
		SigmaRead:   append([]float64(nil), r.SigmaRead...),
		SigmaADC:    append([]float64(nil), r.SigmaADC...),
		FullWell:    fullWell,
	}
	for c := 0; c < channels; c++ {
		p.ChannelGain[c] = append([]float64(nil), g.Gain[c]...)
		for s := 0; s < sens; s++ {
			p.Gain[s] += g.Gain[c][s]
		}
	}
	for s := range p.Gain {
		p.Gain[s] /= float64(channels)
	}
	return p, nil
}

// Loads simulator parameters from a YAML file
func LoadParameters(fileName string) (*simulate.Parameters, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("error reading parameters: %w", err)
	}
	p := &simulate.Parameters{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("error parsing parameters file %s: %w", fileName, err)
	}
	return p, nil
}

// Returns a random non-zero seed
func randomSeed() uint64 {
	for {
		if seed := uint64(fastrand.Uint32())<<32 | uint64(fastrand.Uint32()); seed != 0 {
			return seed
		}
	}
}

// Simulates noisy captures of the given photon image with the given parameters, or of
// the configured uniform test image if img is nil. Seed 0 in the configuration picks a
// random seed, which is reported in the result. Parameters without a full well
// capacity take the configured one. Computes per-pixel statistics and SNR
// curves of the result, and optionally writes the captures as a raw dataset and as TIFFs
func Simulate(c *Context, cfg *config.Config, p *simulate.Parameters, img *frames.PhotonImage) (*Simulation, error) {
	if p == nil {
		return nil, errors.New("simulate: no parameters")
	}
	sc := &cfg.Simulate
	if img == nil {
		var err error
		if img, err = frames.NewUniformPhotonImage(sc.Height, sc.Width, sc.Photons); err != nil {
			return nil, err
		}
	}
	if p.FullWell == 0 {
		q := *p
		q.FullWell = sc.FullWell
		p = &q
	}
	numSens := p.Sensitivities()
	outBytes := int64(img.Height) * int64(img.Width) * int64(img.Channels) * int64(sc.NumImages) * int64(numSens)
	if err := c.CheckMemory("simulate", outBytes+outBytes/int64(max(1, sc.NumImages))*8*2); err != nil {
		return nil, err
	}

	res := &Simulation{Seed: sc.Seed, Parameters: p, Sensitivities: sensitivityLabels(cfg.Dataset.Sensitivities, numSens)}
	if res.Seed == 0 {
		res.Seed = randomSeed()
	}
	start := time.Now()
	fmt.Fprintf(c.Log, "Simulating %d images of %dx%dx%d for %d sensitivities with seed %d\n",
		sc.NumImages, img.Height, img.Width, img.Channels, numSens, res.Seed)

	var err error
	res.Stack, err = simulate.Simulate(img, p, simulate.Options{NumImages: sc.NumImages, Seed: res.Seed, MaxThreads: c.MaxThreads})
	if err != nil {
		return nil, err
	}
	mean, variance, err := stats.MeanVar(res.Stack, c.MaxThreads)
	if err != nil {
		return nil, err
	}
	res.Mean, res.Variance = frames.Summarize(mean, nil), frames.Summarize(variance, nil)
	if res.SNR, err = snr.Curves(mean, variance); err != nil {
		return nil, err
	}
	for i := range res.Mean {
		fmt.Fprintf(c.Log, "%s, variance %.4g\n", res.Mean[i].String(), res.Variance[i].Mean)
	}

	if sc.OutputDir != "" {
		if res.Files, err = writeSimulation(c, cfg, res); err != nil {
			return nil, err
		}
	}
	fmt.Fprintf(c.Log, "Simulation done after %v\n", time.Since(start))
	return res, nil
}

// Labels for n simulated sensitivity settings: the configured ones if they match, else 0..n-1
func sensitivityLabels(configured []int, n int) []int {
	if len(configured) == n {
		return append([]int(nil), configured...)
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}
	return labels
}

// Writes the simulated captures below the output directory. Three-channel captures
// are recombined with the configured CFA into a raw dataset that can be characterized
// again. TIFF exports are written if configured
func writeSimulation(c *Context, cfg *config.Config, res *Simulation) ([]string, error) {
	dir := cfg.Simulate.OutputDir
	var files []string
	if res.Stack.Channels == frames.NumChannels {
		cfa, err := frames.ParseCFA(cfg.Dataset.CFA)
		if err != nil {
			return nil, err
		}
		mono, err := frames.MergeChannels(res.Stack, cfa)
		if err != nil {
			return nil, err
		}
		if err := raw.WriteDataset(dir, cfg.Dataset.WhitePrefix, res.Sensitivities, mono); err != nil {
			return nil, err
		}
		for _, sens := range res.Sensitivities {
			files = append(files, filepath.Join(dir, raw.FolderName(cfg.Dataset.WhitePrefix, sens)))
		}
		fmt.Fprintf(c.Log, "Wrote raw dataset with CFA %s to %s\n", cfa.Name, dir)
	} else {
		fmt.Fprintf(c.Log, "Skipping raw dataset for %d channels\n", res.Stack.Channels)
	}
	if cfg.Report.TIFF {
		names, err := report.WriteTIFFs(filepath.Join(dir, "tiff"), res.Stack, res.Sensitivities)
		files = append(files, names...)
		if err != nil {
			return files, err
		}
	}
	return files, nil
}
