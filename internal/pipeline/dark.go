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
	"fmt"

	"github.com/mlnoga/sensornoise/internal/frames"
	"github.com/mlnoga/sensornoise/internal/stats"
)

// Side length of the grid of regions sampled for the black level uniformity check
const darkGridSize = 3

// Diagnostics of the dark captures of one sensitivity setting
type DarkDiagnostics struct {
	Sensitivity  int                   `json:"sensitivity"`
	Cached       bool                  `json:"cached"`       // statistics came from the cache, frame diagnostics are zero
	BlackLevel   float64               `json:"blackLevel"`   // mode of a normal fit to the intensity histogram
	DarkSigma    float64               `json:"darkSigma"`    // standard deviation of that fit
	RegionLevels []int                 `json:"regionLevels"` // histogram peak of regions on a regular grid
	SpatialNoise float64               `json:"spatialNoise"` // average single-frame noise estimate
	Mean         []frames.PlaneSummary `json:"mean"`
	Variance     []frames.PlaneSummary `json:"variance"`
}

// Derives frame-level diagnostics from the dark captures of one sensitivity setting.
// A nil stack marks statistics taken from the cache
func inspectDarkFrames(c *Context, img *frames.ImageStack) DarkDiagnostics {
	if img == nil {
		return DarkDiagnostics{Cached: true}
	}
	var d DarkDiagnostics
	view := &frames.ChannelStack{Height: img.Height, Width: img.Width, Channels: 1, Repeats: img.Repeats, Sensitivities: 1, Data: img.Data}

	var err error
	if d.BlackLevel, d.DarkSigma, err = stats.GaussianFromHistogram(stats.RegionHistogram(view, 0, 0, img.Height, img.Width, 0)); err != nil {
		fmt.Fprintf(c.Log, "Unable to fit dark histogram: %s\n", err.Error())
	}

	size := max(1, min(img.Height, img.Width)/(4*darkGridSize))
	for _, loc := range stats.PixelGrid(img.Height, img.Width, darkGridSize, darkGridSize) {
		bins := stats.RegionHistogram(view, max(0, loc.Row-size/2), max(0, loc.Col-size/2), size, size, 0)
		if bins == nil {
			continue
		}
		peak, _ := stats.GetPeak(bins)
		d.RegionLevels = append(d.RegionLevels, peak)
	}

	sum := 0.0
	for r := 0; r < img.Repeats; r++ {
		sum += stats.EstimateSpatialNoise(img.Frame(r, 0), img.Width)
	}
	d.SpatialNoise = sum / float64(img.Repeats)
	return d
}

// Completes the dark diagnostics with summaries of the dark maps, masked by the CFA
func summarizeDark(ch *Characterization, cfa *frames.CFA) {
	means := frames.Summarize(ch.DarkMean, cfa)
	variances := frames.Summarize(ch.DarkVariance, cfa)
	for s := range ch.Dark {
		d := &ch.Dark[s]
		d.Sensitivity = ch.Sensitivities[s]
		for i := range means {
			if means[i].Sensitivity == s {
				d.Mean = append(d.Mean, means[i])
				d.Variance = append(d.Variance, variances[i])
			}
		}
	}
}
