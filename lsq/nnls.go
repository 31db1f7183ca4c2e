// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// NNLS (Non-Negative Least-Squares) solves 𝚖𝚒𝚗 ‖ 𝐀𝐱 - 𝐛 ‖₂ subject to 𝐱 ≥ 0 with the active-set method.
//   - 𝐀 is an m × n column-major matrix stored in a with leading dimension lda
//   - 𝐱 ∈ ℝⁿ
//   - 𝐛 ∈ ℝᵐ
//
// The unknowns are split into two index sets ℤ(zero) and ℙ(pivot):
//   - 𝐱ⱼ = 0, j ∈ ℤ : held at zero by an active constraint
//   - 𝐱ⱼ > 0, j ∈ ℙ : free to take any positive value
//
// Each outer iteration moves the index with the largest dual coefficient 𝐰ⱼ = [𝐀ᵀ(𝐛 - 𝐀𝐱)]ⱼ from ℤ to ℙ
// and solves the unconstrained sub-problem on the columns in ℙ through an incrementally
// updated QR factorization. Whenever the sub-problem solution leaves the feasible region the
// iterate is moved back to the boundary and the offending indices return to ℤ.
//
// The routine stops once 𝐰ⱼ ≤ 0 for every j ∈ ℤ, which are the Kuhn-Tucker conditions of the problem.
//
// On return a and b hold 𝐐𝐀 and 𝐐𝐛, w holds the dual vector and the residual norm is returned.
// z must provide m and index n elements of scratch space.
//
// # References
//
//	C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
//	Chapters 23, Algorithm 23.10.
func NNLS(m, n int, a []float64, lda int, b, x, w, z []float64, index []int, maxIter int) (rnorm float64, mode Mode) {

	const factor = 0.01

	if m <= 0 || n <= 0 || lda < m ||
		len(a) < lda*(n-1)+m || len(b) < m || len(x) < n || len(w) < n || len(z) < m || len(index) < n {
		return math.NaN(), BadArgument
	}

	if maxIter <= 0 {
		maxIter = 3 * n
	}

	col := func(j int) []float64 {
		return a[lda*j : lda*j+m : lda*j+m]
	}

	np := 0 // num of elem in set ℙ
	z1 := 0 // start index of set ℤ

	// ℙ = index[:np], ℤ = index[z1:]
	index = index[:n]
	for i := range index {
		index[i] = i
	}
	clear(x[:n])
	clear(w[:n])

	iter := 0
	term := func() (float64, Mode) {
		if np < m {
			rnorm = floats.Norm(b[np:m], 2) // ‖ 𝐐ᵀ𝐛₂ ‖₂
		} else {
			clear(w[:n])
		}
		mode = HasSolution
		if iter > maxIter {
			mode = ExceedMaxIter
		}
		return rnorm, mode
	}

	for {
		if z1 >= n || np >= m {
			return term()
		}

		// 𝐰 = 𝐀ᵀ(𝐛 - 𝐀𝐱) restricted to ℤ, where the transformed residual is 𝐛[np:].
		for _, j := range index[z1:] {
			w[j] = floats.Dot(col(j)[np:], b[np:m])
		}

		for {
			wmax, izmax := zero, 0
			for i, j := range index[z1:] {
				if w[j] > wmax {
					wmax, izmax = w[j], z1+i
				}
			}

			// Kuhn-Tucker conditions satisfied.
			if wmax <= zero {
				return term()
			}

			iz := izmax
			j := index[iz]
			aj := col(j)

			asave := aj[np]
			up := householder(np, np+1, m, aj)

			// Reject columns that are nearly dependent on those already in ℙ.
			accept := false
			unorm := floats.Norm(aj[:np], 2)
			if math.Abs(aj[np])*factor >= unorm*eps {
				copy(z[:m], b[:m])
				reflect(np, np+1, m, aj, up, z)
				ztest := z[np] / aj[np]
				accept = ztest > zero
			}

			if !accept {
				aj[np] = asave
				w[j] = zero
				continue
			}

			copy(b[:m], z[:m])

			index[iz] = index[z1]
			index[z1] = j
			z1++
			np++

			for _, jj := range index[z1:] {
				reflect(np-1, np, m, aj, up, col(jj))
			}
			if np < m {
				clear(aj[np:m])
			}
			w[j] = zero
			break
		}

		// Inner loop until every coefficient of the sub-problem solution is feasible.
		for {
			// Back substitution on the triangular factor of ℙ.
			for ip, jj := np-1, -1; ip >= 0; ip-- {
				if jj >= 0 {
					floats.AddScaled(z[:ip+1], -z[ip+1], col(jj)[:ip+1])
				}
				jj = index[ip]
				z[ip] /= col(jj)[ip]
			}

			if iter++; iter > maxIter {
				return term()
			}

			// ɑ = 𝚖𝚒𝚗 { 𝐱ⱼ/(𝐱ⱼ-𝐳ⱼ) : 𝐳ⱼ ≤ 0, j ∈ ℙ }
			alpha, jj := two, -1
			for ip, l := range index[:np] {
				if z[ip] <= zero {
					t := -x[l] / (z[ip] - x[l])
					if alpha > t {
						alpha, jj = t, ip
					}
				}
			}

			if jj < 0 {
				for ip, l := range index[:np] {
					x[l] = z[ip]
				}
				break
			}

			for ip, l := range index[:np] {
				x[l] += alpha * (z[ip] - x[l])
			}

			// Move every non-positive coefficient from ℙ to ℤ, restoring the
			// triangular form with Givens rotations.
			i := index[jj]
			for {
				x[i] = zero
				for j := jj + 1; j < np; j++ {
					ii := index[j]
					ci := col(ii)
					index[j-1] = ii
					var cc, ss float64
					cc, ss, ci[j-1] = givens(ci[j-1], ci[j])
					ci[j] = zero
					for l := 0; l < n; l++ {
						if l != ii {
							cl := col(l)
							cl[j-1], cl[j] = rotate(cc, ss, cl[j-1], cl[j])
						}
					}
					b[j-1], b[j] = rotate(cc, ss, b[j-1], b[j])
				}

				np--
				z1--
				index[z1] = i

				// Remaining coefficients should be positive, any exception is round-off.
				jj = -1
				for ip, l := range index[:np] {
					if x[l] <= zero {
						jj = ip
						break
					}
				}
				if jj < 0 {
					break
				}
				i = index[jj]
			}

			copy(z[:m], b[:m])
		}
	}
}
