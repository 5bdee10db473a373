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

package fit

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// A fitted straight line y = Slope*x + Intercept
type Line struct {
	Slope     float64 `json:"slope"     msgpack:"slope"`
	Intercept float64 `json:"intercept" msgpack:"intercept"`
	RSquared  float64 `json:"rSquared"  msgpack:"rSquared"`
	N         int     `json:"n"         msgpack:"n"`
}

// Evaluates the line at the given x
func (l Line) Eval(x float64) float64 {
	return l.Slope*x + l.Intercept
}

// Fits a line to the given points by ordinary least squares. Returns false
// if there are fewer than two points, or if all x values are identical.
func FitLine(x, y []float64) (Line, bool) {
	if len(x) < 2 || len(x) != len(y) || !hasDistinct(x) {
		return Line{N: len(x)}, false
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	r2 := stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(r2) {
		r2 = 1 // constant y is fitted exactly
	}
	return Line{Slope: beta, Intercept: alpha, RSquared: r2, N: len(x)}, true
}

func hasDistinct(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return true
		}
	}
	return false
}
