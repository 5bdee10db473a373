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

// Package cache keeps per-pixel mean and variance maps on disk, so repeated
// characterizations of an unchanged dataset skip loading its frames.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mlnoga/sensornoise/internal/frames"
	"github.com/vmihailenco/msgpack/v5"
)

// Incremented whenever the entry layout changes, invalidating older files
const formatVersion = 1

// A cached pair of statistic maps
type Entry struct {
	Version  int                  `msgpack:"version"`
	Key      string               `msgpack:"key"`
	Mean     *frames.StatisticMap `msgpack:"mean"`
	Variance *frames.StatisticMap `msgpack:"variance"`
}

// A directory of cache entries
type Cache struct {
	Dir string
}

// Opens a cache in the given directory, creating it if needed
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &Cache{Dir: dir}, nil
}

// Derives a cache key from the given identity parts
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Describes the identity of the given files by name, size and modification time
func Fingerprint(fileNames []string) (string, error) {
	var sb strings.Builder
	for _, name := range fileNames {
		fi, err := os.Stat(name)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%s:%d:%d;", filepath.Base(name), fi.Size(), fi.ModTime().UnixNano())
	}
	return sb.String(), nil
}

func (c *Cache) fileName(key string) string {
	return filepath.Join(c.Dir, key+".msgpack")
}

// Loads the maps stored under the given key. Returns ok=false without error
// if there is no entry, or if the entry is from an older format version.
func (c *Cache) Load(key string) (mean, variance *frames.StatisticMap, ok bool, err error) {
	f, err := os.Open(c.fileName(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, false, nil
	} else if err != nil {
		return nil, nil, false, err
	}
	defer f.Close()

	var e Entry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return nil, nil, false, fmt.Errorf("decoding cache entry %s: %w", f.Name(), err)
	}
	if e.Version != formatVersion || e.Key != key {
		return nil, nil, false, nil
	}
	if err := frames.SameShape("cache.Load", e.Mean, e.Variance); err != nil {
		return nil, nil, false, err
	}
	if len(e.Mean.Data) != e.Mean.Height*e.Mean.Width*e.Mean.Channels*e.Mean.Sensitivities {
		return nil, nil, false, fmt.Errorf("cache entry %s is truncated", f.Name())
	}
	return e.Mean, e.Variance, true, nil
}

// Stores the maps under the given key, replacing any previous entry
func (c *Cache) Save(key string, mean, variance *frames.StatisticMap) error {
	if err := frames.SameShape("cache.Save", mean, variance); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.Dir, key+".*.tmp")
	if err != nil {
		return err
	}
	enc := msgpack.NewEncoder(tmp)
	err = enc.Encode(&Entry{Version: formatVersion, Key: key, Mean: mean, Variance: variance})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return os.Rename(tmp.Name(), c.fileName(key))
}
