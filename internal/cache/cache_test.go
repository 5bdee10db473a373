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

package cache

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mlnoga/sensornoise/internal/frames"
)

func TestSaveLoad(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}
	mean, _ := frames.NewStatisticMap(2, 3, 3, 2)
	variance, _ := frames.NewStatisticMap(2, 3, 3, 2)
	for i := range mean.Data {
		mean.Data[i] = float64(i) / 3
		variance.Data[i] = float64(i*i) / 7
	}
	key := Key("data/dark0", "a.raw:6:1;", "GBRG")

	if _, _, ok, err := c.Load(key); ok || err != nil {
		t.Fatalf("ok=%v err=%v; want miss without error", ok, err)
	}
	if err := c.Save(key, mean, variance); err != nil {
		t.Fatal(err)
	}
	m, v, ok, err := c.Load(key)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v; want hit", ok, err)
	}
	if !reflect.DeepEqual(m, mean) || !reflect.DeepEqual(v, variance) {
		t.Errorf("loaded maps differ from saved ones")
	}
}

func TestLoadCorrupt(t *testing.T) {
	c, _ := New(t.TempDir())
	key := Key("x")
	os.WriteFile(c.fileName(key), []byte{0xc1, 0x00}, 0644)
	if _, _, ok, err := c.Load(key); ok || err == nil {
		t.Errorf("ok=%v err=%v; want decode error", ok, err)
	}
}

func TestKeyAndFingerprint(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Errorf("keys of differently split parts collide")
	}
	if Key("a") != Key("a") {
		t.Errorf("key not deterministic")
	}
	dir := t.TempDir()
	name := filepath.Join(dir, "f.raw")
	os.WriteFile(name, make([]byte, 4), 0644)
	fp1, err := Fingerprint([]string{name})
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(name, make([]byte, 5), 0644)
	fp2, _ := Fingerprint([]string{name})
	if fp1 == fp2 {
		t.Errorf("fingerprint unchanged after file size changed")
	}
	if _, err := Fingerprint([]string{filepath.Join(dir, "missing.raw")}); err == nil {
		t.Errorf("err=nil; want error for missing file")
	}
}
