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

// Package config provides configuration loading and management for sensornoise.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mlnoga/sensornoise/internal/frames"
	"gopkg.in/yaml.v3"
)

// Layout of a calibration dataset on disk
type Dataset struct {
	// Root directory holding one folder per capture category and sensitivity
	Root string `yaml:"root"`

	// Folder name prefixes for dark and illuminated captures, e.g. dark3 and gain3
	DarkPrefix  string `yaml:"darkPrefix"`
	WhitePrefix string `yaml:"whitePrefix"`

	// Sensitivity settings, one folder per category each
	Sensitivities []int `yaml:"sensitivities"`

	// Number of frames loaded per folder
	NumImages int `yaml:"numImages"`

	// Frame dimensions in pixels
	Height int `yaml:"height"`
	Width  int `yaml:"width"`

	// Color filter array pattern, one of RGGB, GRBG, GBRG, BGGR
	CFA string `yaml:"cfa"`

	// Sample format of the raw files, uint8 or uint16 (little endian, scaled by 4/256)
	Format string `yaml:"format"`

	// Optional crop applied after loading, all zero for none
	Crop Crop `yaml:"crop"`
}

// A rectangular crop in pixels, upper bounds exclusive
type Crop struct {
	RowMin int `yaml:"rowMin"`
	RowMax int `yaml:"rowMax"`
	ColMin int `yaml:"colMin"`
	ColMax int `yaml:"colMax"`
}

// True if no crop is configured
func (c Crop) IsZero() bool { return c == Crop{} }

// Parameters of the noise fits
type Fit struct {
	// Pixels with mean at or above this value are excluded from the variance-mean fit
	Threshold float64 `yaml:"threshold"`

	// Exclude positions the CFA does not sample for a channel
	IgnoreUnsampled bool `yaml:"ignoreUnsampled"`
}

// Parameters of the SNR analysis
type SNR struct {
	// Also compute curves per color channel, masked by the CFA
	PerChannel bool `yaml:"perChannel"`
}

// Parameters of the noise simulation
type Simulate struct {
	// Noisy images generated per sensitivity setting
	NumImages int `yaml:"numImages"`

	// Full well capacity in photons
	FullWell float64 `yaml:"fullWell"`

	// Random seed, 0 picks a random one
	Seed uint64 `yaml:"seed"`

	// Dimensions and per-channel photon counts of the uniform test image
	Height  int      `yaml:"height"`
	Width   int      `yaml:"width"`
	Photons []uint32 `yaml:"photons"`

	// Directory to write the simulated dataset to, empty for none
	OutputDir string `yaml:"outputDir"`
}

// Report outputs
type Report struct {
	// Directory for report files, empty for none
	Dir string `yaml:"dir"`

	// Stride when sampling pixels for scatter charts
	SkipPixel int `yaml:"skipPixel"`

	HTML     bool `yaml:"html"`
	Heatmaps bool `yaml:"heatmaps"`
	CSV      bool `yaml:"csv"`
	TIFF     bool `yaml:"tiff"`
}

// Statistic map cache
type Cache struct {
	// Directory for cached mean and variance maps, empty to disable
	Dir string `yaml:"dir"`
}

// Results database
type Store struct {
	// Path of the sqlite database, empty to disable
	Path string `yaml:"path"`
}

// REST server
type Server struct {
	Address string `yaml:"address"`
}

// Execution resources and logging
type Processing struct {
	// Maximum number of concurrent workers, 0 for one per logical CPU
	MaxThreads int `yaml:"maxThreads"`

	// Share of physical memory the pipeline may use, in percent
	MemoryPercent int `yaml:"memoryPercent"`

	// Also log into this file
	LogFile string `yaml:"logFile"`

	// Verbose debug logging
	Debug bool `yaml:"debug"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	Dataset    Dataset    `yaml:"dataset"`
	Fit        Fit        `yaml:"fit"`
	SNR        SNR        `yaml:"snr"`
	Simulate   Simulate   `yaml:"simulate"`
	Report     Report     `yaml:"report"`
	Cache      Cache      `yaml:"cache"`
	Store      Store      `yaml:"store"`
	Server     Server     `yaml:"server"`
	Processing Processing `yaml:"processing"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Dataset.Root = "data"
	cfg.Dataset.DarkPrefix = "dark"
	cfg.Dataset.WhitePrefix = "gain"
	cfg.Dataset.Sensitivities = []int{0, 1, 3, 9, 14, 18}
	cfg.Dataset.NumImages = 200
	cfg.Dataset.Height = 600
	cfg.Dataset.Width = 800
	cfg.Dataset.CFA = "GBRG"
	cfg.Dataset.Format = "uint8"

	cfg.Fit.Threshold = 200
	cfg.Fit.IgnoreUnsampled = false

	cfg.Simulate.NumImages = 20
	cfg.Simulate.FullWell = 1000
	cfg.Simulate.Seed = 0
	cfg.Simulate.Height = 64
	cfg.Simulate.Width = 64
	cfg.Simulate.Photons = []uint32{20, 50, 100}

	cfg.Report.Dir = "report"
	cfg.Report.SkipPixel = 50
	cfg.Report.HTML = true
	cfg.Report.Heatmaps = true
	cfg.Report.CSV = true
	cfg.Report.TIFF = false

	cfg.Store.Path = "sensornoise.db"
	cfg.Server.Address = ":8080"

	cfg.Processing.MaxThreads = 0
	cfg.Processing.MemoryPercent = 70

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Checks the configuration for values the pipeline cannot work with.
// All problems found are reported together.
func (cfg *Config) Validate() error {
	var errs []error
	d := &cfg.Dataset
	if len(d.Sensitivities) == 0 {
		errs = append(errs, errors.New("dataset: no sensitivities"))
	}
	seen := map[int]bool{}
	for _, s := range d.Sensitivities {
		if seen[s] {
			errs = append(errs, fmt.Errorf("dataset: duplicate sensitivity %d", s))
		}
		seen[s] = true
	}
	if d.NumImages < 1 {
		errs = append(errs, fmt.Errorf("dataset: numImages %d below 1", d.NumImages))
	}
	if d.Height < 1 || d.Width < 1 {
		errs = append(errs, fmt.Errorf("dataset: invalid dimensions %dx%d", d.Height, d.Width))
	}
	if _, err := frames.ParseCFA(d.CFA); err != nil {
		errs = append(errs, fmt.Errorf("dataset: %w", err))
	}
	if f := strings.ToLower(d.Format); f != "uint8" && f != "uint16" {
		errs = append(errs, fmt.Errorf("dataset: unknown format %q", d.Format))
	}
	if d.DarkPrefix == "" || d.WhitePrefix == "" || d.DarkPrefix == d.WhitePrefix {
		errs = append(errs, fmt.Errorf("dataset: prefixes %q and %q must be distinct and non-empty", d.DarkPrefix, d.WhitePrefix))
	}
	if c := d.Crop; !c.IsZero() && (c.RowMin < 0 || c.ColMin < 0 || c.RowMax > d.Height || c.ColMax > d.Width || c.RowMin >= c.RowMax || c.ColMin >= c.ColMax) {
		errs = append(errs, fmt.Errorf("dataset: crop %+v outside %dx%d", c, d.Height, d.Width))
	} else if c.RowMin%2 != 0 || c.ColMin%2 != 0 {
		errs = append(errs, fmt.Errorf("dataset: crop offsets %d,%d must be even to keep the CFA phase", c.RowMin, c.ColMin))
	}
	if !(cfg.Fit.Threshold > 0) {
		errs = append(errs, fmt.Errorf("fit: threshold %g must be positive", cfg.Fit.Threshold))
	}
	s := &cfg.Simulate
	if s.NumImages < 1 {
		errs = append(errs, fmt.Errorf("simulate: numImages %d below 1", s.NumImages))
	}
	if math.IsNaN(s.FullWell) || s.FullWell < 0 {
		errs = append(errs, fmt.Errorf("simulate: invalid full well %g", s.FullWell))
	}
	if s.Height < 1 || s.Width < 1 || len(s.Photons) == 0 {
		errs = append(errs, fmt.Errorf("simulate: invalid test image %dx%d with %d channels", s.Height, s.Width, len(s.Photons)))
	}
	if cfg.Report.SkipPixel < 1 {
		errs = append(errs, fmt.Errorf("report: skipPixel %d below 1", cfg.Report.SkipPixel))
	}
	if p := cfg.Processing.MemoryPercent; p < 1 || p > 100 {
		errs = append(errs, fmt.Errorf("processing: memoryPercent %d outside [1,100]", p))
	}
	if cfg.Processing.MaxThreads < 0 {
		errs = append(errs, fmt.Errorf("processing: negative maxThreads %d", cfg.Processing.MaxThreads))
	}
	return errors.Join(errs...)
}
