// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mcrals/constraint"
	"github.com/curioloop/mcrals/lsq"
)

// alsDriver runs the alternating least-squares iterations of one fit.
type alsDriver struct {
	optimizer *Optimizer
	plan      *fitPlan

	x, xt *mat.Dense // data and its transpose
	xpca  *mat.Dense // PCA reconstruction of the same rank

	c, st           *mat.Dense
	cConstrained    *mat.Dense
	stUnconstrained *mat.Dense
	extraConc       []any
	extraSpec       []any

	iter     int
	ndiv     int
	stdev    float64
	stdevPCA float64
	change   float64
	status   Status
}

// solveC solves 𝚖𝚒𝚗 ‖ 𝐂𝐒ᵀ - 𝐗 ‖ for C, i.e. 𝐒𝐂ᵀ ≅ 𝐗ᵀ.
func (d *alsDriver) solveC(st *mat.Dense) *mat.Dense {
	ct, _ := lsq.Solve(d.optimizer.problem.SolverConc, st.T(), d.xt, d.plan.nnConc)
	return mat.DenseCopyOf(ct.T())
}

// solveSt solves 𝚖𝚒𝚗 ‖ 𝐂𝐒ᵀ - 𝐗 ‖ for Sᵀ.
func (d *alsDriver) solveSt(c *mat.Dense) *mat.Dense {
	st, _ := lsq.Solve(d.optimizer.problem.SolverSpec, c, d.x, d.plan.nnSpec)
	return st
}

// mainLoop iterates until convergence, divergence or the iteration limit.
// Only errors of external providers are returned.
func (d *alsDriver) mainLoop() error {
	o := d.optimizer
	p := &o.problem
	log := &o.logger

	d.printInit()

	// a NaN change must not stop the loop before the divergence counter does
	d.change = math.Inf(1)
	for !(d.change < p.Tol) && d.iter < p.MaxIter && d.ndiv < p.MaxDiv {
		d.iter++

		if log.enable(LogTrace) {
			log.log("\nITERATION %5d\n", d.iter)
		}

		// CONCENTRATIONS
		if d.iter > 1 {
			d.c = d.solveC(d.st)
		}
		_, k := d.c.Dims()
		for b, rows := range d.plan.rows {
			block, err := d.constrainConc(b, mat.DenseCopyOf(d.c.Slice(rows.lo, rows.hi, 0, k)))
			if err != nil {
				return err
			}
			d.c.Slice(rows.lo, rows.hi, 0, k).(*mat.Dense).Copy(block)
		}
		d.cConstrained = mat.DenseCopyOf(d.c)

		// SPECTRA
		d.st = d.solveSt(d.c)
		d.stUnconstrained = mat.DenseCopyOf(d.st)
		if err := d.constrainSpec(); err != nil {
			return err
		}

		// recompute C for consistency with the final spectra
		d.c = d.solveC(d.st)
		d.normalize()

		// residuals
		var xhat mat.Dense
		xhat.Mul(d.c, d.st)
		stdev := popStdDev(&xhat, d.x)
		change := percentChange(stdev, d.stdev)
		prev := d.stdev
		d.stdev = stdev
		d.stdevPCA = popStdDev(&xhat, d.xpca)

		if log.enable(LogIter) {
			log.out("%3d      %10f      %10f      %10f\n", d.iter, d.stdevPCA, stdev, change)
		}

		// convergence
		if change > 0 || math.IsNaN(change) {
			d.ndiv++
		} else {
			d.ndiv = 0
		}
		d.change = math.Abs(change)

		switch {
		case d.change < p.Tol:
			d.status = Converged
		case d.ndiv >= p.MaxDiv:
			d.status = DivergenceDetected
		case d.iter >= p.MaxIter:
			d.status = MaxIterationsReached
		}

		if p.Progress != nil {
			p.Progress(Iteration{
				Iter:       d.iter,
				StdDev:     stdev,
				StdDevPrev: prev,
				StdDevPCA:  d.stdevPCA,
				Change:     change,
				NumDiv:     d.ndiv,
				Status:     d.status,
			})
		}
	}

	d.printExit()
	return nil
}

// percentChange is 100·(now - prev)/prev, zero when both are zero (exact fit).
func percentChange(now, prev float64) float64 {
	if now == 0 && prev == 0 {
		return 0
	}
	return 100 * (now - prev) / prev
}

// constrainConc applies the concentration constraints of row block b in their fixed order.
func (d *alsDriver) constrainConc(b int, c *mat.Dense) (*mat.Dense, error) {
	cp := d.plan.conc[b]
	log := &d.optimizer.logger
	trace := log.enable(LogTrace)

	if len(cp.nonneg) > 0 {
		c = constraint.NonNegative(c, constraint.Columns, cp.nonneg, cp.slack)
	}
	if len(cp.unimod) > 0 {
		c = constraint.Unimodal(c, constraint.Columns, cp.unimod, cp.unimodTol, cp.mode)
	}
	if len(cp.monoInc) > 0 {
		c = constraint.MonotonicIncrease(c, constraint.Columns, cp.monoInc, cp.incTol)
	}
	if len(cp.monoDec) > 0 {
		c = constraint.MonotonicDecrease(c, constraint.Columns, cp.monoDec, cp.decTol)
	}
	if len(cp.closure) > 0 {
		if cp.method == ClosureConstantSum {
			c = constraint.ClosureConstantSum(c, cp.closure, cp.target)
		} else {
			c = constraint.ClosureScaling(c, cp.closure, cp.target)
		}
	}
	if trace {
		log.log("block %d: concentration constraints applied (nonneg %v, unimod %v, monoInc %v, monoDec %v, closure %v)\n",
			b, cp.nonneg, cp.unimod, cp.monoInc, cp.monoDec, cp.closure)
	}
	if len(cp.hard) == 0 {
		return c, nil
	}

	resp, err := cp.provider.Provide(constraint.Request{
		Profiles:  mat.DenseCopyOf(c),
		Kind:      constraint.Concentration,
		Block:     b,
		Iteration: d.iter,
		Args:      cp.state.args.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("mcrals: concentration provider (block %d, iteration %d): %w", b, d.iter, err)
	}
	if resp.Args != nil {
		cp.state.args = resp.Args.Clone()
	}
	if resp.Extra != nil {
		d.extraConc = append(d.extraConc, resp.Extra)
	}
	if c, err = constraint.Hard(c, constraint.Columns, cp.hard, resp.Profiles, cp.mapping); err != nil {
		return nil, fmt.Errorf("mcrals: concentration provider (block %d, iteration %d): %w", b, d.iter, err)
	}
	if trace {
		log.log("block %d: hard concentration profiles %v replaced\n", b, cp.hard)
	}
	return c, nil
}

// constrainSpec applies the spectral constraints to d.st in their fixed order.
func (d *alsDriver) constrainSpec() error {
	sp := &d.plan.spec
	log := &d.optimizer.logger
	st := d.st

	if len(sp.nonneg) > 0 {
		st = constraint.NonNegative(st, constraint.Rows, sp.nonneg, sp.slack)
	}
	if len(sp.unimod) > 0 {
		// each spectral block is a profile of its own
		k, _ := st.Dims()
		for _, cols := range d.plan.cols {
			seg := constraint.Unimodal(st.Slice(0, k, cols.lo, cols.hi), constraint.Rows, sp.unimod, sp.unimodTol, sp.mode)
			st.Slice(0, k, cols.lo, cols.hi).(*mat.Dense).Copy(seg)
		}
	}
	if log.enable(LogTrace) {
		log.log("spectra constraints applied (nonneg %v, unimod %v)\n", sp.nonneg, sp.unimod)
	}

	if len(sp.hard) > 0 {
		resp, err := sp.provider.Provide(constraint.Request{
			Profiles:  mat.DenseCopyOf(st),
			Kind:      constraint.Spectra,
			Iteration: d.iter,
			Args:      sp.state.args.Clone(),
		})
		if err != nil {
			return fmt.Errorf("mcrals: spectra provider (iteration %d): %w", d.iter, err)
		}
		if resp.Args != nil {
			sp.state.args = resp.Args.Clone()
		}
		if resp.Extra != nil {
			d.extraSpec = append(d.extraSpec, resp.Extra)
		}
		if st, err = constraint.Hard(st, constraint.Rows, sp.hard, resp.Profiles, sp.mapping); err != nil {
			return fmt.Errorf("mcrals: spectra provider (iteration %d): %w", d.iter, err)
		}
		if log.enable(LogTrace) {
			log.log("hard spectra profiles %v replaced\n", sp.hard)
		}
	}

	d.st = st
	return nil
}

// normalize rescales each spectrum to unit max or Euclidean norm and compensates C,
// keeping C·Sᵀ unchanged. Profiles with a zero or non-finite scale are left as is.
func (d *alsDriver) normalize() {
	norm := d.optimizer.problem.NormSpec
	if norm == NormNone {
		return
	}
	k, _ := d.st.Dims()
	r, _ := d.c.Dims()
	col := make([]float64, r)
	for i := 0; i < k; i++ {
		row := d.st.RawRowView(i)
		var alpha float64
		if norm == NormMax {
			alpha = floats.Max(row)
		} else {
			alpha = floats.Norm(row, 2)
		}
		if alpha == 0 || math.IsNaN(alpha) || math.IsInf(alpha, 0) {
			continue
		}
		floats.Scale(1/alpha, row)
		mat.Col(col, i, d.c)
		floats.Scale(alpha, col)
		d.c.SetCol(i, col)
	}
}

func (d *alsDriver) printInit() {
	log := &d.optimizer.logger
	if log.enable(LogIter) {
		log.out("***           ALS optimisation log            ***\n")
		log.out("#iter     RSE / PCA        RSE / Exp      %%change\n")
		log.out("-------------------------------------------------\n")
	}
}

func (d *alsDriver) printExit() {
	p := &d.optimizer.problem
	log := &d.optimizer.logger
	if !log.enable(LogLast) {
		return
	}
	switch d.status {
	case Converged:
		log.log("converged !\n")
	case DivergenceDetected:
		log.log("Optimization not improved after %d iterations... unconverged or 'tol' set too small ?\n", p.MaxDiv)
		log.log("Stop ALS optimization.\n")
	case MaxIterationsReached:
		log.log("Convergence criterion ('tol') not reached after %d iterations.\n", p.MaxIter)
		log.log("Stop ALS optimization.\n")
	}
	log.log("ALS finished after %d iterations: RSE %.6g, RSE / PCA %.6g, change %.6g%%\n",
		d.iter, d.stdev, d.stdevPCA, d.change)
}
