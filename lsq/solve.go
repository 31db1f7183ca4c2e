// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Solve dispatches to the solver selected by s. The nonneg indices are only consulted by SolverPNNLS.
// The returned matrix has one row per column of a and one column per column of b.
func Solve(s Solver, a, b mat.Matrix, nonneg []int) (*mat.Dense, float64) {
	switch s {
	case SolverLstsq:
		return Lstsq(a, b)
	case SolverNNLS:
		return NonNegative(a, b)
	case SolverPNNLS:
		return PartialNonNegative(a, b, nonneg)
	default:
		panic("lsq: unknown solver " + s.String())
	}
}

// Lstsq returns the minimum-norm 𝐗 minimizing ‖ 𝐀𝐗 - 𝐁 ‖_F together with the residual norm.
//
// The pseudo-inverse is formed from the thin SVD of 𝐀, discarding singular values
// below eps·max(m,n)·σ₁, so rank-deficient and under-determined systems are accepted.
// When the factorization fails (non-finite input) the solution is filled with NaN.
func Lstsq(a, b mat.Matrix) (*mat.Dense, float64) {
	m, n := a.Dims()
	bm, k := b.Dims()
	if bm != m {
		panic(mat.ErrShape)
	}
	x := mat.NewDense(n, k, nil)

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		fillNaN(x)
		return x, math.NaN()
	}
	s := svd.Values(nil)
	rank := numericalRank(s, m, n)
	if rank == 0 {
		return x, mat.Norm(b, 2)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	ur := u.Slice(0, m, 0, rank)
	vr := v.Slice(0, n, 0, rank)

	// 𝐗 = 𝐕ᵣ 𝚺ᵣ⁻¹ 𝐔ᵣᵀ 𝐁
	var utb mat.Dense
	utb.Mul(ur.T(), b)
	for i := 0; i < rank; i++ {
		row := utb.RawRowView(i)
		inv := one / s[i]
		for j := range row {
			row[j] *= inv
		}
	}
	x.Mul(vr, &utb)
	return x, residual(a, x, b)
}

// NonNegative solves 𝚖𝚒𝚗 ‖ 𝐀𝐗 - 𝐁 ‖_F subject to 𝐗 ≥ 0 one column of 𝐁 at a time with NNLS.
func NonNegative(a, b mat.Matrix) (*mat.Dense, float64) {
	m, n := a.Dims()
	bm, k := b.Dims()
	if bm != m {
		panic(mat.ErrShape)
	}
	x := mat.NewDense(n, k, nil)

	// Column-major copy of 𝐀 that NNLS can overwrite.
	base := make([]float64, m*n)
	for j := 0; j < n; j++ {
		mat.Col(base[j*m:(j+1)*m], j, a)
	}

	ws := newNNLSWorkspace(m, n)
	sol := make([]float64, n)
	for c := 0; c < k; c++ {
		copy(ws.a, base)
		mat.Col(ws.b, c, b)
		ws.solve(m, n, sol)
		x.SetCol(c, sol)
	}
	return x, residual(a, x, b)
}

// PartialNonNegative solves 𝚖𝚒𝚗 ‖ 𝐀𝐗 - 𝐁 ‖_F where only the rows of 𝐗 listed in nonneg are constrained to be non-negative.
//
// Writing 𝐀𝐱 = 𝐀ₙ𝐱ₙ + 𝐀ᶠ𝐱ᶠ, the free unknowns are eliminated by projecting onto the orthogonal
// complement of range(𝐀ᶠ): the constrained part solves NNLS on (𝐏𝐀ₙ, 𝐏𝐛) with 𝐏 = 𝐈 - 𝐔ᶠ𝐔ᶠᵀ,
// after which 𝐱ᶠ = 𝐀ᶠ⁺(𝐛 - 𝐀ₙ𝐱ₙ).
//
// The sign constraint applies to unknowns, not to selected columns of 𝐁 as in per-target pnnls variants.
func PartialNonNegative(a, b mat.Matrix, nonneg []int) (*mat.Dense, float64) {
	m, n := a.Dims()
	bm, k := b.Dims()
	if bm != m {
		panic(mat.ErrShape)
	}

	constrained := make([]bool, n)
	for _, j := range nonneg {
		if j < 0 || j >= n {
			panic(mat.ErrColAccess)
		}
		constrained[j] = true
	}
	var nIdx, fIdx []int
	for j, c := range constrained {
		if c {
			nIdx = append(nIdx, j)
		} else {
			fIdx = append(fIdx, j)
		}
	}
	switch {
	case len(nIdx) == 0:
		return Lstsq(a, b)
	case len(fIdx) == 0:
		return NonNegative(a, b)
	}

	an := selectCols(a, nIdx)
	af := selectCols(a, fIdx)

	// Orthonormal basis of range(𝐀ᶠ).
	var pa, pb mat.Dense
	pa.CloneFrom(an)
	pb.CloneFrom(b)
	var svd mat.SVD
	if !svd.Factorize(af, mat.SVDThin) {
		x := mat.NewDense(n, k, nil)
		fillNaN(x)
		return x, math.NaN()
	}
	if rank := numericalRank(svd.Values(nil), m, len(fIdx)); rank > 0 {
		var u mat.Dense
		svd.UTo(&u)
		uf := u.Slice(0, m, 0, rank)
		project(&pa, uf)
		project(&pb, uf)
	}

	xn, _ := NonNegative(&pa, &pb)

	// 𝐱ᶠ = 𝐀ᶠ⁺(𝐛 - 𝐀ₙ𝐱ₙ)
	var rest mat.Dense
	rest.Mul(an, xn)
	rest.Sub(b, &rest)
	xf, _ := Lstsq(af, &rest)

	x := mat.NewDense(n, k, nil)
	for i, j := range nIdx {
		x.SetRow(j, xn.RawRowView(i))
	}
	for i, j := range fIdx {
		x.SetRow(j, xf.RawRowView(i))
	}
	return x, residual(a, x, b)
}

// nnlsWorkspace holds the scratch buffers reused across the columns of one NNLS solve.
type nnlsWorkspace struct {
	a, b, w, z []float64
	index      []int
}

func newNNLSWorkspace(m, n int) *nnlsWorkspace {
	return &nnlsWorkspace{
		a:     make([]float64, m*n),
		b:     make([]float64, m),
		w:     make([]float64, n),
		z:     make([]float64, m),
		index: make([]int, n),
	}
}

func (ws *nnlsWorkspace) solve(m, n int, x []float64) {
	_, mode := NNLS(m, n, ws.a, m, ws.b, x, ws.w, ws.z, ws.index, 0)
	if mode == BadArgument {
		for i := range x {
			x[i] = math.NaN()
		}
	}
}

// numericalRank counts the singular values above the LAPACK gelsd default cut-off.
func numericalRank(s []float64, m, n int) int {
	if len(s) == 0 || !(s[0] > zero) {
		return 0
	}
	tol := eps * float64(max(m, n)) * s[0]
	rank := 0
	for _, v := range s {
		if v > tol {
			rank++
		}
	}
	return rank
}

// project replaces 𝐌 with (𝐈 - 𝐔𝐔ᵀ)𝐌.
func project(dst *mat.Dense, u mat.Matrix) {
	var utm, uutm mat.Dense
	utm.Mul(u.T(), dst)
	uutm.Mul(u, &utm)
	dst.Sub(dst, &uutm)
}

func selectCols(a mat.Matrix, idx []int) *mat.Dense {
	m, _ := a.Dims()
	out := mat.NewDense(m, len(idx), nil)
	col := make([]float64, m)
	for i, j := range idx {
		mat.Col(col, j, a)
		out.SetCol(i, col)
	}
	return out
}

func residual(a, x, b mat.Matrix) float64 {
	var r mat.Dense
	r.Mul(a, x)
	r.Sub(&r, b)
	return mat.Norm(&r, 2)
}

func fillNaN(x *mat.Dense) {
	r, _ := x.Dims()
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		for j := range row {
			row[j] = math.NaN()
		}
	}
}

