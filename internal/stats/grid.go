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

package stats

import (
	"math"
)

// A pixel position
type Location struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Samples ny x nx equally spaced locations on an image of given size, excluding
// the borders. Rows are spread over [h/(ny+1), h-h/(ny+1)], columns likewise.
// For a 100x100 image with nx=4 and ny=3 the columns are 20 40 60 80 and the rows
// 25 50 75. Locations are returned row by row.
func PixelGrid(height, width, nx, ny int) []Location {
	if height <= 0 || width <= 0 || nx <= 0 || ny <= 0 {
		return nil
	}
	rows := linspaceRounded(height/(ny+1), height-height/(ny+1), ny)
	cols := linspaceRounded(width/(nx+1), width-width/(nx+1), nx)
	res := make([]Location, 0, nx*ny)
	for _, r := range rows {
		for _, c := range cols {
			res = append(res, Location{Row: r, Col: c})
		}
	}
	return res
}

// Returns num evenly spaced values from start to stop inclusive, rounded half to even
func linspaceRounded(start, stop, num int) []int {
	res := make([]int, num)
	if num == 1 {
		res[0] = start
		return res
	}
	step := float64(stop-start) / float64(num-1)
	for i := range res {
		res[i] = int(math.RoundToEven(float64(start) + float64(i)*step))
	}
	return res
}
