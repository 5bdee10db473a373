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

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !reflect.DeepEqual(cfg.Dataset.Sensitivities, []int{0, 1, 3, 9, 14, 18}) {
		t.Errorf("sensitivities=%v; want [0 1 3 9 14 18]", cfg.Dataset.Sensitivities)
	}
	if cfg.Fit.Threshold != 200 || cfg.Dataset.NumImages != 200 || cfg.Report.SkipPixel != 50 || cfg.Simulate.NumImages != 20 {
		t.Errorf("defaults=%+v; want threshold 200, 200 images, skip 50, 20 simulated", cfg)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("config=%+v; want defaults", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Dataset.Sensitivities = []int{2, 4}
	cfg.Dataset.Crop = Crop{RowMin: 10, RowMax: 20, ColMin: 0, ColMax: 40}
	cfg.Simulate.Seed = 1234
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("loaded=%+v; want %+v", got, cfg)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "dataset:\n  cfa: RGGB\n  numImages: 50\nfit:\n  ignoreUnsampled: true\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dataset.CFA != "RGGB" || cfg.Dataset.NumImages != 50 || !cfg.Fit.IgnoreUnsampled {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Dataset.Height != 600 || cfg.Fit.Threshold != 200 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("dataset: [unclosed"), 0644)
	if _, err := LoadConfig(path); err == nil {
		t.Errorf("err=nil; want parse error")
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset.Sensitivities = []int{1, 1}
	cfg.Dataset.CFA = "XXXX"
	cfg.Fit.Threshold = 0
	cfg.Processing.MemoryPercent = 150
	cfg.Dataset.Crop = Crop{RowMin: 0, RowMax: 700, ColMin: 0, ColMax: 10}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("err=nil; want errors")
	}
	for _, want := range []string{"duplicate sensitivity 1", "Unknown CFA", "threshold", "memoryPercent", "crop"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err=%q; want it to mention %q", err.Error(), want)
		}
	}
}

func TestValidateOddCropOffset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset.Crop = Crop{RowMin: 1, RowMax: 21, ColMin: 0, ColMax: 40}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "even") {
		t.Errorf("err=%v; want odd offset rejected", err)
	}
}
