// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// mixture is a synthetic two-component reaction: X = C·Sᵀ + noise.
type mixture struct {
	c, st, x *mat.Dense
}

func gauss(t, mu, sigma float64) float64 {
	return math.Exp(-(t - mu) * (t - mu) / (2 * sigma * sigma))
}

// newMixture builds unimodal non-negative concentrations and spectra with Gaussian noise.
func newMixture(rng *rand.Rand, nObs, nFeat int, noise float64) *mixture {
	c := mat.NewDense(nObs, 2, nil)
	for i := 0; i < nObs; i++ {
		t := float64(i) / float64(nObs-1)
		c.Set(i, 0, gauss(t, 0.25, 0.15))
		c.Set(i, 1, gauss(t, 0.7, 0.2))
	}
	st := mat.NewDense(2, nFeat, nil)
	for j := 0; j < nFeat; j++ {
		f := float64(j) / float64(nFeat-1)
		st.Set(0, j, gauss(f, 0.3, 0.08)+0.3*gauss(f, 0.75, 0.05))
		st.Set(1, j, gauss(f, 0.6, 0.1))
	}
	x := mat.NewDense(nObs, nFeat, nil)
	x.Mul(c, st)
	for i := 0; i < nObs; i++ {
		for j := 0; j < nFeat; j++ {
			x.Set(i, j, x.At(i, j)+noise*rng.NormFloat64())
		}
	}
	return &mixture{c: c, st: st, x: x}
}

// perturb returns |m ⊙ (1 + scale·N(0,1))|.
func perturb(rng *rand.Rand, m *mat.Dense, scale float64) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, math.Abs(m.At(i, j)*(1+scale*rng.NormFloat64())))
		}
	}
	return out
}

// explained is the R² of the least-squares fit of target by the columns of basis.
func explained(t *testing.T, basis mat.Matrix, target []float64) float64 {
	t.Helper()
	r, _ := basis.Dims()
	require.Equal(t, r, len(target))
	var coef mat.VecDense
	var qr mat.QR
	qr.Factorize(basis)
	require.NoError(t, qr.SolveVecTo(&coef, false, mat.NewVecDense(r, target)))

	fit := mat.NewVecDense(r, nil)
	fit.MulVec(basis, &coef)
	mean := 0.0
	for _, v := range target {
		mean += v
	}
	mean /= float64(r)
	var ssRes, ssTot float64
	for i, v := range target {
		ssRes += (v - fit.AtVec(i)) * (v - fit.AtVec(i))
		ssTot += (v - mean) * (v - mean)
	}
	return 1 - ssRes/ssTot
}
