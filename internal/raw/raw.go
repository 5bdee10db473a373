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

// Package raw loads and writes calibration datasets stored as headerless raw
// frames, one folder per capture category and sensitivity setting.
package raw

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mlnoga/sensornoise/internal/frames"
)

// Sample format of raw frames
type Format int

const (
	Uint8  Format = iota // one byte per pixel
	Uint16               // two bytes per pixel, little endian, 14 significant bits
)

// Parses a format name, uint8 or uint16
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "uint8", "":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	default:
		return Uint8, errors.New("Unknown raw format " + name)
	}
}

// Bytes per pixel of the format
func (f Format) BytesPerPixel() int {
	if f == Uint16 {
		return 2
	}
	return 1
}

// Geometry of the frames in a dataset folder
type Layout struct {
	Height    int
	Width     int
	NumImages int // frames loaded per folder
	Format    Format
}

// Bytes of one frame file
func (l Layout) FrameBytes() int {
	return l.Height * l.Width * l.Format.BytesPerPixel()
}

// Name of the folder for the given category prefix and sensitivity, e.g. dark9
func FolderName(prefix string, sensitivity int) string {
	return prefix + strconv.Itoa(sensitivity)
}

// Scales a 16-bit sample by 4/256 down to 8 bits, saturating above 14 significant bits
func ConvertUint16ToUint8(v uint16) uint8 {
	scaled := uint32(v) * 4 / 256
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}

// Lists the raw frames of a folder in lexical order. Gzip compressed frames
// with .raw.gz suffix are included
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		lName := strings.ToLower(e.Name())
		if e.Type().IsRegular() && (strings.HasSuffix(lName, ".raw") || strings.HasSuffix(lName, ".raw.gz")) {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Reads one frame from the file with the given name into dest, which must hold
// Height*Width pixels. Decompresses gzip if .gz suffix is present
func ReadFrame(fileName string, l Layout, dest []uint8) error {
	if len(dest) != l.Height*l.Width {
		return &frames.ShapeMismatchError{Op: "raw.ReadFrame", Want: strconv.Itoa(l.Height * l.Width), Got: strconv.Itoa(len(dest))}
	}
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.ToLower(filepath.Ext(fileName)) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}
		defer gz.Close()
		r = gz
	}
	return readFrame(r, fileName, l, dest)
}

func readFrame(r io.Reader, fileName string, l Layout, dest []uint8) error {
	if l.Format == Uint8 {
		if _, err := io.ReadFull(r, dest); err != nil {
			return fmt.Errorf("%s: want %d bytes: %w", fileName, l.FrameBytes(), err)
		}
	} else {
		buf := getBuffer(l.FrameBytes())
		defer putBuffer(buf)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%s: want %d bytes: %w", fileName, l.FrameBytes(), err)
		}
		for i := range dest {
			dest[i] = ConvertUint16ToUint8(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
		}
	}
	// reject files longer than one frame
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return fmt.Errorf("%s: more than %d bytes", fileName, l.FrameBytes())
	}
	return nil
}

// Loads the first NumImages frames of a folder into a single-sensitivity stack.
// Frames are read concurrently with at most maxThreads workers.
func LoadFolder(dir string, l Layout, maxThreads int) (*frames.ImageStack, error) {
	names, err := ListFrames(dir)
	if err != nil {
		return nil, err
	}
	if len(names) < l.NumImages {
		return nil, fmt.Errorf("%s: found %d raw frames, need %d", dir, len(names), l.NumImages)
	}
	names = names[:l.NumImages]

	s, err := frames.NewImageStack(l.Height, l.Width, l.NumImages, 1, nil)
	if err != nil {
		return nil, err
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	errs := make([]error, len(names))
	limiter := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	for i, name := range names {
		limiter <- true
		wg.Add(1)
		go func(i int, name string) {
			defer func() { <-limiter; wg.Done() }()
			errs[i] = ReadFrame(name, l, s.Frame(i, 0))
		}(i, name)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Loads the folders of one capture category for all given sensitivities,
// e.g. dark0, dark1, ..., into one stack.
func LoadDataset(root, prefix string, sensitivities []int, l Layout, maxThreads int) (*frames.ImageStack, error) {
	stacks := make([]*frames.ImageStack, len(sensitivities))
	for i, sens := range sensitivities {
		s, err := LoadFolder(filepath.Join(root, FolderName(prefix, sens)), l, maxThreads)
		if err != nil {
			return nil, err
		}
		stacks[i] = s
	}
	return frames.JoinImageStacks(stacks)
}

// Writes all frames of one sensitivity of the stack into dir as frame0000.raw,
// frame0001.raw, ... in 8-bit format. Creates dir if needed
func WriteFolder(dir string, s *frames.ImageStack, sensitivity int) error {
	if sensitivity < 0 || sensitivity >= s.Sensitivities {
		return &frames.ShapeMismatchError{Op: "raw.WriteFolder", Want: fmt.Sprintf("sensitivity in [0,%d)", s.Sensitivities), Got: strconv.Itoa(sensitivity)}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	for r := 0; r < s.Repeats; r++ {
		fileName := filepath.Join(dir, fmt.Sprintf("frame%04d.raw", r))
		if err := os.WriteFile(fileName, s.Frame(r, sensitivity), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", fileName, err)
		}
	}
	return nil
}

// Writes a stack as a dataset with one folder per sensitivity, readable by LoadDataset
func WriteDataset(root, prefix string, sensitivities []int, s *frames.ImageStack) error {
	if len(sensitivities) != s.Sensitivities {
		return &frames.ShapeMismatchError{Op: "raw.WriteDataset", Want: strconv.Itoa(s.Sensitivities), Got: strconv.Itoa(len(sensitivities))}
	}
	for i, sens := range sensitivities {
		if err := WriteFolder(filepath.Join(root, FolderName(prefix, sens)), s, i); err != nil {
			return err
		}
	}
	return nil
}
