// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package constraint

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// ErrProfileShape is returned when an external provider hands back profiles that do not fit the matrix.
var ErrProfileShape = errors.New("constraint: provided profiles do not match the profile matrix")

// Kind tells which factor a provider is asked to fix.
type Kind int

const (
	Concentration Kind = iota
	Spectra
)

func (k Kind) String() string {
	if k == Spectra {
		return "spectra"
	}
	return "concentration"
}

// Args are the caller-defined arguments forwarded to an external provider on every call.
type Args struct {
	Positional []any          `json:"positional,omitempty"`
	Keyword    map[string]any `json:"keyword,omitempty"`
}

// Clone returns a shallow copy of the argument containers.
func (a Args) Clone() Args {
	return Args{Positional: slices.Clone(a.Positional), Keyword: maps.Clone(a.Keyword)}
}

// Request describes one call to an external provider.
type Request struct {
	// Profiles is a private copy of the current constrained profiles,
	// laid out as columns for Concentration and rows for Spectra.
	Profiles *mat.Dense
	Kind     Kind
	// Block is the row block being constrained in multiblock fits, 0 otherwise.
	Block int
	// Iteration is the 1-based ALS iteration.
	Iteration int
	Args      Args
}

// Response carries the replacement profiles produced by a provider.
type Response struct {
	// Profiles holds the hard profiles laid out like Request.Profiles.
	// Only the profiles named by the index mapping are read.
	Profiles mat.Matrix
	// Args, when non-nil, replaces the arguments passed on the next call.
	Args *Args
	// Extra is an optional diagnostic payload collected across iterations.
	Extra any
}

// ExternalProfileProvider supplies hard profiles computed by an outside model (e.g. a kinetic model).
type ExternalProfileProvider interface {
	Provide(req Request) (Response, error)
}

// ProviderFunc adapts an ordinary function to ExternalProfileProvider.
type ProviderFunc func(req Request) (Response, error)

// Provide calls f(req).
func (f ProviderFunc) Provide(req Request) (Response, error) {
	return f(req)
}

// Hard replaces profile idx[i] of p with profile mapping[i] of provided.
// A nil mapping uses idx itself, i.e. provided shares the component layout of p.
func Hard(p mat.Matrix, axis Axis, idx []int, provided mat.Matrix, mapping []int) (*mat.Dense, error) {
	if mapping == nil {
		mapping = idx
	}
	if len(mapping) != len(idx) {
		return nil, fmt.Errorf("%w: %d hard profiles but %d mapped indices", ErrProfileShape, len(idx), len(mapping))
	}
	if provided == nil {
		return nil, fmt.Errorf("%w: no profiles provided", ErrProfileShape)
	}

	ps := newProfiles(p, axis)
	pr, pc := provided.Dims()
	length, count := pr, pc
	if axis == Rows {
		length, count = pc, pr
	}
	if length != len(ps.buf) {
		return nil, fmt.Errorf("%w: provided profiles have length %d, want %d", ErrProfileShape, length, len(ps.buf))
	}

	src := newProfiles(provided, axis)
	for i, j := range idx {
		k := mapping[i]
		if k < 0 || k >= count {
			return nil, fmt.Errorf("%w: mapped index %d outside the %d provided profiles", ErrProfileShape, k, count)
		}
		if j < 0 || j >= ps.count() {
			ps.panicAccess()
		}
		ps.set(j, src.get(k))
	}
	return ps.m, nil
}
