// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// householder constructs the m×m transformation 𝐐 = 𝐈ₘ + b⁻¹𝐮𝐮ᵀ (b = s·uₚ) that maps the
// vector v onto (v₀ ··· vₚ₋₁, s, vₚ₊₁ ··· vₗ₋₁, 0 ··· 0), i.e. zeros the elements l ≤ i < m.
//
// On output v[p] holds s and v[l:m] hold the trailing elements of 𝐮.
// The pivot element uₚ is returned separately.
// The transformation is the identity unless 0 ≤ p < l < m.
//
// C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
// Chapters 10.
func householder(p, l, m int, v []float64) (up float64) {
	if p < 0 || p >= l || l >= m {
		return
	}
	tail := v[l:m]

	vmax := math.Abs(v[p])
	for _, vi := range tail {
		vmax = math.Max(vmax, math.Abs(vi))
	}
	if vmax <= zero {
		return
	}

	// (vₚ² + ∑vᵢ²)¹ᐟ² computed on the normalized vector to avoid overflow.
	inv := one / vmax
	sum := (v[p] * inv) * (v[p] * inv)
	for _, vi := range tail {
		sum += (vi * inv) * (vi * inv)
	}

	s := vmax * math.Sqrt(sum)
	if v[p] > zero {
		s = -s
	}
	up = v[p] - s
	v[p] = s
	return
}

// reflect applies the transformation built by householder to c: 𝐐c = c + b⁻¹(𝐮ᵀc)𝐮.
func reflect(p, l, m int, u []float64, up float64, c []float64) {
	if p < 0 || p >= l || l >= m {
		return
	}
	b := u[p] * up
	if b >= zero {
		return
	}
	sm := c[p]*up + floats.Dot(c[l:m], u[l:m])
	if sm == zero {
		return
	}
	sm /= b
	c[p] += sm * up
	floats.AddScaled(c[l:m], sm, u[l:m])
}

// givens computes the 2×2 rotation 𝐆 = [c s; -s c] such that 𝐆[a b]ᵀ = [r 0]ᵀ.
//
// C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
// Chapters 3.
func givens(a, b float64) (c, s, r float64) {
	if xa, xb := math.Abs(a), math.Abs(b); xa > xb {
		t := b / a
		y := math.Sqrt(1 + t*t)
		c = math.Copysign(1/y, a)
		s = c * t
		r = xa * y
	} else if xb > 0 {
		t := a / b
		y := math.Sqrt(1 + t*t)
		s = math.Copysign(1/y, b)
		c = s * t
		r = xb * y
	} else {
		s = 1
	}
	return
}

// rotate applies the rotation computed by givens to the pair (x, y).
func rotate(c, s, x, y float64) (float64, float64) {
	return c*x + s*y, -s*x + c*y
}
