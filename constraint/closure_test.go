// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package constraint

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestClosureConstantSum(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	c := mat.NewDense(20, 3, nil)
	target := make([]float64, 20)
	for i := 0; i < 20; i++ {
		for j := 0; j < 3; j++ {
			c.Set(i, j, 0.1+rng.Float64())
		}
		target[i] = 1 + rng.Float64()
	}

	idx := []int{0, 2}
	got := ClosureConstantSum(c, idx, target)
	for i := 0; i < 20; i++ {
		assert.InDelta(t, target[i], got.At(i, 0)+got.At(i, 2), 1e-12)
		assert.Equal(t, c.At(i, 1), got.At(i, 1))
	}

	// rows summing to zero stay as they are
	z := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	got = ClosureConstantSum(z, []int{0, 1}, []float64{1, 1})
	assert.Equal(t, []float64{0, 0, 0.5, 0.5}, got.RawMatrix().Data)

	assert.Panics(t, func() { ClosureConstantSum(z, []int{0}, []float64{1}) })
	assert.Panics(t, func() { ClosureConstantSum(z, []int{2}, []float64{1, 1}) })
}

func TestClosureScaling(t *testing.T) {
	// profiles that sum to 2 everywhere are halved to reach a target of ones
	c := mat.NewDense(4, 2, []float64{
		2, 0,
		1.5, 0.5,
		1, 1,
		0, 2,
	})
	ones := []float64{1, 1, 1, 1}
	got := ClosureScaling(c, []int{0, 1}, ones)
	assert.InDeltaSlice(t, []float64{1, 0, 0.75, 0.25, 0.5, 0.5, 0, 1}, got.RawMatrix().Data, 1e-12)

	// a single profile gets the scalar least-squares factor tᵀc/cᵀc
	got = ClosureScaling(c, []int{0}, ones)
	scale := floats.Sum(mat.Col(nil, 0, c)) / floats.Dot(mat.Col(nil, 0, c), mat.Col(nil, 0, c))
	want := mat.Col(nil, 0, c)
	floats.Scale(scale, want)
	assert.InDeltaSlice(t, want, mat.Col(nil, 0, got), 1e-12)
	assert.Equal(t, mat.Col(nil, 1, c), mat.Col(nil, 1, got))

	assert.Equal(t, c.RawMatrix().Data, ClosureScaling(c, nil, ones).RawMatrix().Data)
	assert.Panics(t, func() { ClosureScaling(c, []int{0}, []float64{1}) })
}

func TestHard(t *testing.T) {
	c := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	provided := mat.NewDense(3, 2, []float64{
		-1, -4,
		-2, -5,
		-3, -6,
	})

	got, err := Hard(c, Columns, []int{2, 0}, provided, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{-4, 2, -1, -5, 5, -2, -6, 8, -3}, got.RawMatrix().Data)
	assert.Equal(t, 3.0, c.At(0, 2))

	// rows with the identity mapping
	st := mat.NewDense(2, 3, []float64{1, 1, 1, 2, 2, 2})
	fixed := mat.NewDense(2, 3, []float64{0, 0, 0, 9, 8, 7})
	got, err = Hard(st, Rows, []int{1}, fixed, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 9, 8, 7}, got.RawMatrix().Data)

	_, err = Hard(c, Columns, []int{0}, provided, []int{2})
	assert.True(t, errors.Is(err, ErrProfileShape))
	_, err = Hard(c, Columns, []int{0}, provided, []int{0, 1})
	assert.ErrorIs(t, err, ErrProfileShape)
	_, err = Hard(c, Columns, []int{0}, mat.NewDense(2, 2, nil), nil)
	assert.ErrorIs(t, err, ErrProfileShape)
	_, err = Hard(c, Columns, []int{0}, nil, nil)
	assert.ErrorIs(t, err, ErrProfileShape)
}

func TestProviderFunc(t *testing.T) {
	var seen Request
	p := ProviderFunc(func(req Request) (Response, error) {
		seen = req
		next := req.Args.Clone()
		next.Positional = append(next.Positional, req.Iteration)
		return Response{Profiles: req.Profiles, Args: &next, Extra: "k"}, nil
	})

	args := Args{Positional: []any{1.5}, Keyword: map[string]any{"rate": 2}}
	resp, err := p.Provide(Request{Kind: Spectra, Iteration: 3, Args: args})
	require.NoError(t, err)
	assert.Equal(t, Spectra, seen.Kind)
	assert.Equal(t, []any{1.5, 3}, resp.Args.Positional)
	assert.Equal(t, []any{1.5}, args.Positional)
	assert.Equal(t, "k", resp.Extra)
	assert.Equal(t, "spectra", Spectra.String())
	assert.Equal(t, "concentration", Concentration.String())
}
