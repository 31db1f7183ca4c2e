// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// pcaReconstruct returns the rank-k PCA approximation of x: the column means plus
// the projection of the centred data onto its k leading principal axes.
// It is the best rank-k fit any decomposition could reach and serves as the reference residual.
func pcaReconstruct(x mat.Matrix, k int) *mat.Dense {
	r, c := x.Dims()
	means := make([]float64, c)
	col := make([]float64, r)
	centred := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		means[j] = stat.Mean(col, nil)
		floats.AddConst(-means[j], col)
		centred.SetCol(j, col)
	}

	out := mat.NewDense(r, c, nil)
	var svd mat.SVD
	if !svd.Factorize(centred, mat.SVDThin) {
		fill(out, math.NaN())
		return out
	}
	k = min(k, min(r, c))
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	uk := mat.DenseCopyOf(u.Slice(0, r, 0, k))
	for j := 0; j < k; j++ {
		mat.Col(col, j, uk)
		floats.Scale(s[j], col)
		uk.SetCol(j, col)
	}
	out.Mul(uk, v.Slice(0, c, 0, k).T())
	for i := 0; i < r; i++ {
		floats.Add(out.RawRowView(i), means)
	}
	return out
}

// popStdDev is the population standard deviation of every entry of a - b.
func popStdDev(a, b mat.Matrix) float64 {
	var d mat.Dense
	d.Sub(a, b)
	return stat.PopStdDev(d.RawMatrix().Data, nil)
}

func fill(m *mat.Dense, v float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] = v
		}
	}
}
