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
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/mlnoga/sensornoise/internal/frames"
	"golang.org/x/image/tiff"
)

// Write one capture of a channel stack to TIFF. Stacks with three channels
// become RGB images, others a grayscale image of the first channel.
func WriteTIFF(writer io.Writer, cs *frames.ChannelStack, repeat, sensitivity int) error {
	if repeat < 0 || repeat >= cs.Repeats || sensitivity < 0 || sensitivity >= cs.Sensitivities {
		return errors.New("tiff: repeat or sensitivity out of range")
	}
	rect := image.Rectangle{image.Point{0, 0}, image.Point{cs.Width, cs.Height}}
	var img image.Image
	if cs.Channels == frames.NumChannels {
		rgb := image.NewRGBA(rect)
		r := cs.Plane(frames.Red, repeat, sensitivity)
		g := cs.Plane(frames.Green, repeat, sensitivity)
		b := cs.Plane(frames.Blue, repeat, sensitivity)
		for y := 0; y < cs.Height; y++ {
			yoffset := y * cs.Width
			for x := 0; x < cs.Width; x++ {
				i := yoffset + x
				rgb.SetRGBA(x, y, color.RGBA{r[i], g[i], b[i], 255})
			}
		}
		img = rgb
	} else {
		gray := image.NewGray(rect)
		copy(gray.Pix, cs.Plane(0, repeat, sensitivity))
		img = gray
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Writes every capture of a channel stack into dir, named after the sensitivity
// setting and capture index. Returns the names of the files written
func WriteTIFFs(dir string, cs *frames.ChannelStack, sensitivities []int) ([]string, error) {
	if len(sensitivities) != cs.Sensitivities {
		return nil, &frames.ShapeMismatchError{Op: "report.WriteTIFFs", Want: fmt.Sprint(cs.Sensitivities), Got: fmt.Sprint(len(sensitivities))}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var names []string
	for s, sens := range sensitivities {
		for k := 0; k < cs.Repeats; k++ {
			name := filepath.Join(dir, fmt.Sprintf("sim%d_%04d.tif", sens, k))
			if err := writeTIFFFile(name, cs, k, s); err != nil {
				return names, err
			}
			names = append(names, name)
		}
	}
	return names, nil
}

func writeTIFFFile(fileName string, cs *frames.ChannelStack, repeat, sensitivity int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := WriteTIFF(writer, cs, repeat, sensitivity); err != nil {
		return err
	}
	return writer.Flush()
}
