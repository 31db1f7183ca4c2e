// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package constraint

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mcrals/lsq"
)

// ClosureScaling rescales the selected concentration profiles (columns of c) by the
// factors 𝐪 minimizing ‖ 𝐂ₛ𝐪 - 𝐭 ‖₂, so that their weighted sum best matches the target t.
// The target must have one entry per observation (row of c).
func ClosureScaling(c mat.Matrix, idx []int, target []float64) *mat.Dense {
	out := mat.DenseCopyOf(c)
	r, _ := out.Dims()
	if len(target) != r {
		panic(mat.ErrShape)
	}
	if len(idx) == 0 {
		return out
	}

	sel := mat.NewDense(r, len(idx), nil)
	col := make([]float64, r)
	for i, j := range idx {
		mat.Col(col, j, out)
		sel.SetCol(i, col)
	}
	q, _ := lsq.Lstsq(sel, mat.NewVecDense(r, target))
	for i, j := range idx {
		mat.Col(col, j, out)
		floats.Scale(q.At(i, 0), col)
		out.SetCol(j, col)
	}
	return out
}

// ClosureConstantSum rescales every observation so that the selected concentrations
// sum exactly to the target value of that observation.
// Observations whose selected total is zero are left unchanged.
func ClosureConstantSum(c mat.Matrix, idx []int, target []float64) *mat.Dense {
	out := mat.DenseCopyOf(c)
	r, cols := out.Dims()
	if len(target) != r {
		panic(mat.ErrShape)
	}
	for _, j := range idx {
		if j < 0 || j >= cols {
			panic(mat.ErrColAccess)
		}
	}
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		total := 0.0
		for _, j := range idx {
			total += row[j]
		}
		if total == 0 {
			continue
		}
		scale := target[i] / total
		for _, j := range idx {
			row[j] *= scale
		}
	}
	return out
}
