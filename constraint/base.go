// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package constraint projects concentration and spectral profile matrices onto
// the feasible sets used by multivariate curve resolution.
//
// Every operator takes a profile matrix and returns a new one, the input is never modified.
// The profiles of a matrix are laid out either as columns (concentrations, one row per observation)
// or as rows (spectra, one column per feature), which is selected with an Axis.
// Component indices outside the matrix panic in the same way as gonum's accessors.
package constraint

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Axis tells along which dimension the profiles of a matrix are stored.
type Axis int

const (
	// Columns profiles are the columns of the matrix (concentration profiles C).
	Columns Axis = iota
	// Rows profiles are the rows of the matrix (spectral profiles Sᵀ).
	Rows
)

// Mode selects how unimodality violations are corrected.
type Mode int

const (
	// Strict resets an offending point to the value of its already-corrected neighbour.
	Strict Mode = iota
	// Smooth averages an offending point with its neighbour to avoid steps in the profile.
	Smooth
)

var modeNames = [...]string{Strict: "strict", Smooth: "smooth"}

func (m Mode) String() string {
	if m < Strict || m > Smooth {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if m < Strict || m > Smooth {
		return nil, fmt.Errorf("constraint: unknown mode %d", int(m))
	}
	return []byte(modeNames[m]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	for k, name := range modeNames {
		if name == string(text) {
			*m = Mode(k)
			return nil
		}
	}
	return fmt.Errorf("constraint: unknown mode %q (want strict or smooth)", text)
}

// profiles gives uniform access to the profiles of a matrix along an axis.
type profiles struct {
	m    *mat.Dense
	axis Axis
	buf  []float64
}

func newProfiles(p mat.Matrix, axis Axis) *profiles {
	m := mat.DenseCopyOf(p)
	r, c := m.Dims()
	n := r
	if axis == Rows {
		n = c
	}
	return &profiles{m: m, axis: axis, buf: make([]float64, n)}
}

// count is the number of profiles (components).
func (ps *profiles) count() int {
	r, c := ps.m.Dims()
	if ps.axis == Rows {
		return r
	}
	return c
}

// get copies profile j into the shared buffer and returns it.
func (ps *profiles) get(j int) []float64 {
	if j < 0 || j >= ps.count() {
		ps.panicAccess()
	}
	if ps.axis == Rows {
		mat.Row(ps.buf, j, ps.m)
	} else {
		mat.Col(ps.buf, j, ps.m)
	}
	return ps.buf
}

func (ps *profiles) set(j int, v []float64) {
	if ps.axis == Rows {
		ps.m.SetRow(j, v)
	} else {
		ps.m.SetCol(j, v)
	}
}

func (ps *profiles) panicAccess() {
	if ps.axis == Rows {
		panic(mat.ErrRowAccess)
	}
	panic(mat.ErrColAccess)
}

// update applies fn to each selected profile in place.
func (ps *profiles) update(idx []int, fn func(v []float64)) *mat.Dense {
	for _, j := range idx {
		v := ps.get(j)
		fn(v)
		ps.set(j, v)
	}
	return ps.m
}
