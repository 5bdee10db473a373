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

package raw

import (
	"sync"
)

// Pool of constant sized byte arrays for frame decoding, to reduce memory allocation overhead
var poolByte = struct {
	sync.RWMutex
	m map[int]*sync.Pool
}{m: make(map[int]*sync.Pool)}

// Clears the buffer pools
func ClearPools() {
	poolByte.Lock()
	poolByte.m = make(map[int]*sync.Pool)
	poolByte.Unlock()
}

// Returns a pool for byte arrays of the given size
func getSizedPoolByte(size int) *sync.Pool {
	poolByte.RLock()
	pool := poolByte.m[size]
	poolByte.RUnlock()
	if pool == nil {
		pool = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
		poolByte.Lock()
		poolByte.m[size] = pool
		poolByte.Unlock()
	}
	return pool
}

func getBuffer(size int) []byte {
	return getSizedPoolByte(size).Get().([]byte)
}

func putBuffer(buf []byte) {
	getSizedPoolByte(len(buf)).Put(buf)
}
