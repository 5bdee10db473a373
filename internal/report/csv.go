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

package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/mlnoga/sensornoise/internal/fit"
	"github.com/mlnoga/sensornoise/internal/frames"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Writes the fitted parameters as CSV: one row per channel and sensitivity with
// gain, delta, R² and point count, followed by the channel's read noise fit
func WriteCSV(w io.Writer, sensitivities []int, g *fit.GainFit, r *fit.ReadNoiseFit) error {
	channels, sens := g.Dims()
	if len(sensitivities) != sens {
		return &frames.ShapeMismatchError{Op: "report.WriteCSV", Want: strconv.Itoa(sens), Got: strconv.Itoa(len(sensitivities))}
	}
	cw := csv.NewWriter(w)
	cw.Write([]string{"channel", "sensitivity", "gain", "delta", "r2", "points", "sigma_read", "sigma_adc", "r2_read_noise"})
	for c := 0; c < channels; c++ {
		for s := 0; s < sens; s++ {
			row := []string{
				frames.ChannelNames[c%frames.NumChannels],
				strconv.Itoa(sensitivities[s]),
				formatFloat(g.Gain[c][s]),
				formatFloat(g.Delta[c][s]),
				formatFloat(g.RSquared[c][s]),
				strconv.Itoa(g.Points[c][s]),
				"", "", "",
			}
			if r != nil {
				row[6], row[7], row[8] = formatFloat(r.SigmaRead[c]), formatFloat(r.SigmaADC[c]), formatFloat(r.RSquared[c])
			}
			cw.Write(row)
		}
	}
	cw.Flush()
	return cw.Error()
}
