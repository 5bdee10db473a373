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

package frames

import (
	"fmt"

	"github.com/mlnoga/sensornoise/internal/qsort"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistics of one (channel, sensitivity) plane of a statistic map
type PlaneSummary struct {
	Channel     int     `json:"channel"`
	Sensitivity int     `json:"sensitivity"`
	Pixels      int     `json:"pixels"`
	Min         float64 `json:"min"`
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	Max         float64 `json:"max"`
}

// Pretty print summary to string
func (s PlaneSummary) String() string {
	return fmt.Sprintf("%s sens %d: Pixels %d Min %.4g Mean %.4g Median %.4g Max %.4g",
		ChannelNames[s.Channel%NumChannels], s.Sensitivity, s.Pixels, s.Min, s.Mean, s.Median, s.Max)
}

// Summarizes each plane of the given map. If cfa is not nil, only positions
// sampled by the color filter array for the respective channel are considered.
// Planes without any considered pixel are summarized as zeros
func Summarize(m *StatisticMap, cfa *CFA) []PlaneSummary {
	res := make([]PlaneSummary, 0, m.Channels*m.Sensitivities)
	tmp := make([]float64, 0, m.PlanePixels())
	for s := 0; s < m.Sensitivities; s++ {
		for c := 0; c < m.Channels; c++ {
			plane := m.Plane(c, s)
			tmp = tmp[:0]
			if cfa == nil {
				tmp = append(tmp, plane...)
			} else {
				for row := 0; row < m.Height; row++ {
					for col := 0; col < m.Width; col++ {
						if cfa.Samples(row, col, c) {
							tmp = append(tmp, plane[row*m.Width+col])
						}
					}
				}
			}
			ps := PlaneSummary{Channel: c, Sensitivity: s, Pixels: len(tmp)}
			if len(tmp) > 0 {
				ps.Min, ps.Max = floats.Min(tmp), floats.Max(tmp)
				ps.Mean = stat.Mean(tmp, nil)
				ps.Median = qsort.QSelectMedianFloat64(tmp) // reorders tmp, doesn't matter
			}
			res = append(res, ps)
		}
	}
	return res
}
