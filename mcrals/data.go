// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"gonum.org/v1/gonum/mat"
)

type layout int

const (
	layoutSingle layout = iota
	layoutRows
	layoutCols
)

// Data is the matrix to decompose: a single dataset or several datasets
// sharing either their spectral axis (row blocks) or their observations (column blocks).
type Data struct {
	layout layout
	blocks []mat.Matrix
}

// Single wraps one n_observations × n_features data matrix.
func Single(x mat.Matrix) Data {
	return Data{layout: layoutSingle, blocks: []mat.Matrix{x}}
}

// RowBlocks stacks datasets vertically; each block shares the spectra and has its own concentrations.
func RowBlocks(xs ...mat.Matrix) Data {
	return Data{layout: layoutRows, blocks: xs}
}

// ColumnBlocks concatenates datasets horizontally; each block shares the concentrations and has its own spectra.
func ColumnBlocks(xs ...mat.Matrix) Data {
	return Data{layout: layoutCols, blocks: xs}
}

// NumBlocks is the number of datasets.
func (d Data) NumBlocks() int { return len(d.blocks) }

// span is a half-open index range along one axis of the stacked data.
type span struct{ lo, hi int }

// stack validates the blocks and returns the concatenated matrix with the
// spans of each block along the concatenation axis.
func (d Data) stack() (*mat.Dense, []span, error) {
	if len(d.blocks) == 0 {
		return nil, nil, configErr("X", "[]", "no dataset given")
	}
	for i, b := range d.blocks {
		if b == nil {
			return nil, nil, configErr("X", i, "dataset %d is nil", i)
		}
		if r, c := b.Dims(); r == 0 || c == 0 {
			return nil, nil, &ShapeError{Op: "data block", Want: [2]int{-1, -1}, Got: [2]int{r, c}}
		}
	}

	r0, c0 := d.blocks[0].Dims()
	switch d.layout {
	case layoutRows:
		spans := make([]span, len(d.blocks))
		rows := 0
		for i, b := range d.blocks {
			r, c := b.Dims()
			if c != c0 {
				return nil, nil, &ShapeError{Op: "row block", Want: [2]int{-1, c0}, Got: [2]int{r, c}}
			}
			spans[i] = span{rows, rows + r}
			rows += r
		}
		x := mat.NewDense(rows, c0, nil)
		for i, b := range d.blocks {
			x.Slice(spans[i].lo, spans[i].hi, 0, c0).(*mat.Dense).Copy(b)
		}
		return x, spans, nil

	case layoutCols:
		spans := make([]span, len(d.blocks))
		cols := 0
		for i, b := range d.blocks {
			r, c := b.Dims()
			if r != r0 {
				return nil, nil, &ShapeError{Op: "column block", Want: [2]int{r0, -1}, Got: [2]int{r, c}}
			}
			spans[i] = span{cols, cols + c}
			cols += c
		}
		x := mat.NewDense(r0, cols, nil)
		for i, b := range d.blocks {
			x.Slice(0, r0, spans[i].lo, spans[i].hi).(*mat.Dense).Copy(b)
		}
		return x, spans, nil

	default:
		if len(d.blocks) != 1 {
			return nil, nil, configErr("X", len(d.blocks), "a single dataset holds exactly one matrix")
		}
		return mat.DenseCopyOf(d.blocks[0]), []span{{0, r0}}, nil
	}
}

// Seed is the initial guess of either the concentrations or the spectra.
// The zero value is empty and only valid for warm-started fits.
type Seed struct {
	list     bool
	profiles []mat.Matrix
}

// Profile seeds the fit with a single C (n_observations × n_components) or
// Sᵀ (n_components × n_features) matrix.
func Profile(p mat.Matrix) Seed {
	return Seed{profiles: []mat.Matrix{p}}
}

// ProfileBlocks seeds a multiblock fit with one profile per dataset:
// concentration blocks for RowBlocks data, spectra blocks for ColumnBlocks data.
func ProfileBlocks(ps ...mat.Matrix) Seed {
	return Seed{list: true, profiles: ps}
}

// IsZero reports whether no profile was given.
func (s Seed) IsZero() bool { return len(s.profiles) == 0 }
