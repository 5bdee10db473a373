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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/mlnoga/sensornoise/internal/config"
	"github.com/mlnoga/sensornoise/internal/frames"
	"github.com/mlnoga/sensornoise/internal/report"
)

// JPEG quality of heatmap exports
const heatmapQuality = 90

// Writes the configured report outputs of a characterization into the report
// directory. Returns the names of the files written
func writeReports(c *Context, cfg *config.Config, ch *Characterization) ([]string, error) {
	dir := cfg.Report.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating report directory %s: %w", dir, err)
	}
	var files []string

	if cfg.Report.HTML {
		var charts []report.Chart
		for cc := 0; cc < ch.WhiteMean.Channels; cc++ {
			charts = append(charts, report.VarianceMeanChart(cc, ch.WhiteMean, ch.WhiteVariance, ch.Gain, ch.Sensitivities, cfg.Report.SkipPixel))
		}
		charts = append(charts, report.ReadNoiseChart(ch.Gain, ch.ReadNoise))
		charts = append(charts, report.SNRChart(ch.SNR, ch.Gain, ch.Sensitivities))
		name := filepath.Join(dir, "report.html")
		if err := report.WriteHTMLToFile(name, "Sensor noise of "+ch.Dataset, charts); err != nil {
			return files, err
		}
		files = append(files, name)
	}

	if cfg.Report.Heatmaps {
		names, err := writeHeatmaps(c, dir, ch)
		files = append(files, names...)
		if err != nil {
			return files, err
		}
	}

	if cfg.Report.CSV {
		name := filepath.Join(dir, "parameters.csv")
		if err := writeCSVFile(name, ch); err != nil {
			return files, err
		}
		files = append(files, name)
	}

	fmt.Fprintf(c.Log, "Wrote %d report files to %s\n", len(files), dir)
	return files, nil
}

// Writes mean and variance heatmaps of the illuminated captures, and mean heatmaps
// of the dark captures, for every channel and sensitivity. Sensitivities are
// written concurrently
func writeHeatmaps(c *Context, dir string, ch *Characterization) ([]string, error) {
	type heatmap struct {
		prefix   string
		m        *frames.StatisticMap
		min, max float64
	}
	maps := []heatmap{
		{"white_mean", ch.WhiteMean, 0, 255},
		{"white_variance", ch.WhiteVariance, 0, 0},
		{"dark_mean", ch.DarkMean, 0, 0},
	}

	var mutex sync.Mutex
	var files []string
	err := ParallelFor(len(ch.Sensitivities), c.MaxThreads, func(s int) error {
		for _, h := range maps {
			for cc := 0; cc < h.m.Channels; cc++ {
				name := filepath.Join(dir, fmt.Sprintf("%s_%s_%d.jpg", h.prefix, frames.ChannelNames[cc%frames.NumChannels], ch.Sensitivities[s]))
				if err := report.WriteHeatmapJPGToFile(name, h.m, cc, s, h.min, h.max, heatmapQuality); err != nil {
					return err
				}
				mutex.Lock()
				files = append(files, name)
				mutex.Unlock()
			}
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}

func writeCSVFile(fileName string, ch *Characterization) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := report.WriteCSV(w, ch.Sensitivities, ch.Gain, ch.ReadNoise); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
