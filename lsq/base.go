// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import "fmt"

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
	eps  = float64(7)/3 - float64(4)/3 - 1.
)

// Mode reports how the NNLS kernel terminated.
type Mode int

const (
	// HasSolution problem solved successfully.
	HasSolution Mode = iota
	// BadArgument input dimension unacceptable.
	BadArgument
	// ExceedMaxIter more than max iterations for solving NNLS.
	// The returned iterate is feasible but may not be optimal.
	ExceedMaxIter
)

// Solver selects the least-squares solver used to refit one factor of the decomposition.
type Solver int

const (
	// SolverLstsq uses ordinary least squares (minimum-norm solution).
	SolverLstsq Solver = iota
	// SolverNNLS applies non-negative least squares to every unknown.
	SolverNNLS
	// SolverPNNLS applies non-negativity to the selected unknowns only.
	SolverPNNLS
)

var solverNames = [...]string{
	SolverLstsq: "lstsq",
	SolverNNLS:  "nnls",
	SolverPNNLS: "pnnls",
}

// Valid reports whether s names a known solver.
func (s Solver) Valid() bool {
	return s >= SolverLstsq && s <= SolverPNNLS
}

func (s Solver) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Solver(%d)", int(s))
	}
	return solverNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Solver) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("lsq: unknown solver %d", int(s))
	}
	return []byte(solverNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Solver) UnmarshalText(text []byte) error {
	for k, name := range solverNames {
		if name == string(text) {
			*s = Solver(k)
			return nil
		}
	}
	return fmt.Errorf("lsq: unknown solver %q (want lstsq, nnls or pnnls)", text)
}
