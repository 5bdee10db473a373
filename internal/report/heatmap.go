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
	"bufio"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/mlnoga/sensornoise/internal/frames"
	"gonum.org/v1/gonum/floats"
)

// Keypoints of the heatmap color scale, from low to high values
var heatmapKeys = []string{"#440154", "#3b528b", "#21918c", "#5ec962", "#fde725"}

// Heatmap color scale with 256 entries, interpolated in Lab space
var heatmapPalette = buildPalette(heatmapKeys, 256)

func buildPalette(keys []string, n int) []color.RGBA {
	colors := make([]colorful.Color, len(keys))
	for i, k := range keys {
		c, err := colorful.Hex(k)
		if err != nil {
			panic(err)
		}
		colors[i] = c
	}
	res := make([]color.RGBA, n)
	for i := range res {
		t := float64(i) / float64(n-1) * float64(len(colors)-1)
		j := int(t)
		if j >= len(colors)-1 {
			j = len(colors) - 2
		}
		r, g, b := colors[j].BlendLab(colors[j+1], t-float64(j)).Clamped().RGB255()
		res[i] = color.RGBA{r, g, b, 255}
	}
	return res
}

// Write one plane of a statistic map to JPG as a heatmap, mapping min to the
// lowest and max to the highest color. If min>=max, the plane range is used.
func WriteHeatmapJPG(writer io.Writer, m *frames.StatisticMap, channel, sensitivity int, min, max float64, quality int) error {
	if channel < 0 || channel >= m.Channels || sensitivity < 0 || sensitivity >= m.Sensitivities {
		return errors.New("heatmap: channel or sensitivity out of range")
	}
	plane := m.Plane(channel, sensitivity)
	if min >= max {
		min, max = floats.Min(plane), floats.Max(plane)
		if min >= max {
			max = min + 1
		}
	}
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{m.Width, m.Height}})
	scale := float64(len(heatmapPalette)-1) / (max - min)
	for y := 0; y < m.Height; y++ {
		yoffset := y * m.Width
		for x := 0; x < m.Width; x++ {
			v := (plane[yoffset+x] - min) * scale
			// replace NaNs with zeros for export
			if math.IsNaN(v) || v < 0 {
				v = 0
			}
			if v > float64(len(heatmapPalette)-1) {
				v = float64(len(heatmapPalette) - 1)
			}
			img.SetRGBA(x, y, heatmapPalette[int(v)])
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write one plane of a statistic map to a JPG heatmap file
func WriteHeatmapJPGToFile(fileName string, m *frames.StatisticMap, channel, sensitivity int, min, max float64, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := WriteHeatmapJPG(writer, m, channel, sensitivity, min, max, quality); err != nil {
		return err
	}
	return writer.Flush()
}
