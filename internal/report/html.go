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

// Package report renders characterization results as HTML charts, heatmap
// images, TIFF frames and CSV parameter tables.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/mlnoga/sensornoise/internal/fit"
	"github.com/mlnoga/sensornoise/internal/frames"
	"github.com/mlnoga/sensornoise/internal/snr"
	"github.com/valyala/fastrand"
)

// Maximum number of scatter points per series, to keep pages responsive
const MaxPointsPerSeries = 2000

// A chart of one or more series over a shared x axis. Rows hold the x value
// followed by one value per series, nil where a series has no point.
type Chart struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	XLabel string   `json:"xLabel"`
	YLabel string   `json:"yLabel"`
	Series []string `json:"series"`
	Lines  []int    `json:"lines"` // indices of series drawn as lines instead of points
	Rows   [][]any  `json:"rows"`
}

func (c *Chart) addRow(x float64, series int, y float64) {
	row := make([]any, len(c.Series)+1)
	row[0] = finite(x)
	row[series+1] = finite(y)
	c.Rows = append(c.Rows, row)
}

// NaN and infinite values cannot be encoded as JSON and are left out
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Charts the variance over mean of one channel for every sensitivity,
// sampling every skip-th pixel, together with the fitted lines
func VarianceMeanChart(channel int, mean, variance *frames.StatisticMap, g *fit.GainFit, sensitivities []int, skip int) Chart {
	c := Chart{
		ID:     fmt.Sprintf("varianceMean%d", channel),
		Title:  fmt.Sprintf("Variance over mean, %s channel", frames.ChannelNames[channel%frames.NumChannels]),
		XLabel: "Mean",
		YLabel: "Variance",
	}
	for s := range sensitivities {
		c.Series = append(c.Series, fmt.Sprintf("Sensitivity %d", sensitivities[s]))
	}
	for s := range sensitivities {
		c.Series = append(c.Series, fmt.Sprintf("Fit %d", sensitivities[s]))
		c.Lines = append(c.Lines, len(sensitivities)+s)
	}
	for s := range sensitivities {
		x, y := fit.Decimate(mean, variance, channel, s, skip)
		x, y = subsample(x, y, MaxPointsPerSeries)
		for i := range x {
			c.addRow(x[i], s, y[i])
		}
		if g != nil {
			l := g.Line(channel, s)
			for _, xv := range []float64{0, fit.DefaultThreshold} {
				c.addRow(xv, len(sensitivities)+s, l.Eval(xv))
			}
		}
	}
	return c
}

// Charts the intercepts over gains of all channels with the fitted read noise lines
func ReadNoiseChart(g *fit.GainFit, r *fit.ReadNoiseFit) Chart {
	c := Chart{ID: "readNoise", Title: "Intercept over gain", XLabel: "Gain", YLabel: "Delta"}
	channels, sens := g.Dims()
	for ch := 0; ch < channels; ch++ {
		c.Series = append(c.Series, frames.ChannelNames[ch%frames.NumChannels])
	}
	for ch := 0; ch < channels; ch++ {
		c.Series = append(c.Series, "Fit "+frames.ChannelNames[ch%frames.NumChannels])
		c.Lines = append(c.Lines, channels+ch)
	}
	for ch := 0; ch < channels; ch++ {
		minGain, maxGain := math.Inf(1), math.Inf(-1)
		for s := 0; s < sens; s++ {
			c.addRow(g.Gain[ch][s], ch, g.Delta[ch][s])
			minGain, maxGain = math.Min(minGain, g.Gain[ch][s]), math.Max(maxGain, g.Gain[ch][s])
		}
		if r != nil && sens > 0 {
			l := r.Line(ch)
			c.addRow(minGain, channels+ch, l.Eval(minGain))
			c.addRow(maxGain, channels+ch, l.Eval(maxGain))
		}
	}
	return c
}

// Charts empirical SNR curves per sensitivity, and the curves predicted from the
// channel-averaged fitted gain and intercept. Empty bins are left out
func SNRChart(curves []*snr.Curve, g *fit.GainFit, sensitivities []int) Chart {
	c := Chart{ID: "snr", Title: "SNR over mean", XLabel: "Mean", YLabel: "SNR"}
	for s := range curves {
		c.Series = append(c.Series, fmt.Sprintf("Sensitivity %d", sensitivities[s]))
	}
	if g != nil {
		for s := range curves {
			c.Series = append(c.Series, fmt.Sprintf("Model %d", sensitivities[s]))
			c.Lines = append(c.Lines, len(curves)+s)
		}
	}
	for s, curve := range curves {
		for b, v := range curve.SNR {
			if curve.Counts[b] > 0 && v > 0 {
				c.addRow(float64(b)+0.5, s, v)
			}
		}
		if g != nil {
			gain, delta := channelAverage(g, s)
			for b, v := range snr.ModelCurve(gain, delta) {
				if v > 0 {
					c.addRow(float64(b)+0.5, len(curves)+s, v)
				}
			}
		}
	}
	return c
}

func channelAverage(g *fit.GainFit, s int) (gain, delta float64) {
	channels, _ := g.Dims()
	for c := 0; c < channels; c++ {
		gain += g.Gain[c][s]
		delta += g.Delta[c][s]
	}
	return gain / float64(channels), delta / float64(channels)
}

// Randomly picks at most max of the given points, keeping their order
func subsample(x, y []float64, max int) ([]float64, []float64) {
	if len(x) <= max {
		return x, y
	}
	keep := make([]bool, len(x))
	for n := 0; n < max; {
		i := fastrand.Uint32n(uint32(len(x)))
		if !keep[i] {
			keep[i] = true
			n++
		}
	}
	rx, ry := make([]float64, 0, max), make([]float64, 0, max)
	for i, k := range keep {
		if k {
			rx, ry = append(rx, x[i]), append(ry, y[i])
		}
	}
	return rx, ry
}

// Writes a self-contained HTML page rendering the given charts with Google Charts
func WriteHTML(w io.Writer, title string, charts []Chart) error {
	data, err := json.Marshal(charts)
	if err != nil {
		return err
	}
	titleJSON, _ := json.Marshal(title)
	bw := bufio.NewWriter(w)
	bw.WriteString(htmlHeader)
	fmt.Fprintf(bw, "var pageTitle = %s;\nvar charts = %s;\n", titleJSON, data)
	bw.WriteString(htmlTrailer)
	return bw.Flush()
}

// Writes the HTML page into the file with the given name
func WriteHTMLToFile(fileName, title string, charts []Chart) error {
	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("error creating file %s: %w", fileName, err)
	}
	defer f.Close()
	if err := WriteHTML(f, title, charts); err != nil {
		return err
	}
	return f.Close()
}

const htmlHeader = `<html>
  <head>
    <meta charset="utf-8">
    <script type="text/javascript" src="https://www.gstatic.com/charts/loader.js"></script>
    <style>
      body { font-family: sans-serif; }
      .chart { width: 100%; height: 500px; }
    </style>
  </head>
  <body>
    <h1 id="title"></h1>
    <div id="charts"></div>
  </body>
  <script type="text/javascript">
google.charts.load('current', {'packages':['corechart']});
google.charts.setOnLoadCallback(drawCharts);

`

const htmlTrailer = `
function drawCharts() {
  document.getElementById('title').textContent = pageTitle;
  var container = document.getElementById('charts');
  for (const c of charts) {
    var div = document.createElement('div');
    div.className = 'chart';
    div.id = c.id;
    container.appendChild(div);

    var data = new google.visualization.DataTable();
    data.addColumn('number', c.xLabel);
    for (const s of c.series) {
      data.addColumn('number', s);
    }
    data.addRows(c.rows || []);

    var series = {};
    for (let i = 0; i < c.series.length; i++) {
      series[i] = { pointSize: 2, lineWidth: 0 };
    }
    for (const i of (c.lines || [])) {
      series[i] = { pointSize: 0, lineWidth: 2 };
    }

    var options = {
      title: c.title,
      hAxis: { title: c.xLabel },
      vAxis: { title: c.yLabel },
      series: series,
      interpolateNulls: true,
      explorer: { actions: ['dragToZoom', 'rightClickToReset'], keepInBounds: true },
      crosshair: { trigger: 'both' },
      legend: { position: 'bottom' }
    };
    var chart = new google.visualization.ScatterChart(div);
    chart.draw(data, options);
  }
}
  </script>
</html>
`
