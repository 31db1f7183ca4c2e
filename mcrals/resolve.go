// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mcrals/constraint"
)

// seedProfile decides whether the seed holds concentrations or spectra and
// returns it concatenated to the full data extent.
//
// A single matrix whose row count matches X is taken as C, otherwise a matrix whose
// column count matches X is taken as Sᵀ. For multiblock data a list of seeds is one
// profile per block (C blocks for row blocks, Sᵀ blocks for column blocks), and a
// single seed must span the axis shared by the blocks.
func seedProfile(data Data, x *mat.Dense, seed Seed) (p *mat.Dense, conc bool, err error) {
	xr, xc := x.Dims()

	if !seed.list {
		if len(seed.profiles) != 1 || seed.profiles[0] == nil {
			return nil, false, configErr("seed", len(seed.profiles), "exactly one profile expected")
		}
		s := seed.profiles[0]
		pr, pc := s.Dims()
		switch data.layout {
		case layoutRows:
			// blocks share the spectra
			if pc != xc {
				return nil, false, &ShapeError{Op: "spectra seed", Want: [2]int{-1, xc}, Got: [2]int{pr, pc}}
			}
			return mat.DenseCopyOf(s), false, nil
		case layoutCols:
			// blocks share the concentrations
			if pr != xr {
				return nil, false, &ShapeError{Op: "concentration seed", Want: [2]int{xr, -1}, Got: [2]int{pr, pc}}
			}
			return mat.DenseCopyOf(s), true, nil
		}
		switch {
		case pr == xr:
			return mat.DenseCopyOf(s), true, nil
		case pc == xc:
			return mat.DenseCopyOf(s), false, nil
		}
		return nil, false, &ShapeError{Op: "initial profile", Want: [2]int{xr, xc}, Got: [2]int{pr, pc}}
	}

	if data.layout == layoutSingle {
		return nil, false, configErr("seed", len(seed.profiles), "profile blocks need multiblock data")
	}
	if len(seed.profiles) != data.NumBlocks() {
		return nil, false, configErr("seed", len(seed.profiles),
			"the number of profiles does not match the %d datasets", data.NumBlocks())
	}
	for i, s := range seed.profiles {
		if s == nil {
			return nil, false, configErr("seed", i, "profile %d is nil", i)
		}
	}

	if data.layout == layoutRows {
		_, k := seed.profiles[0].Dims()
		blocks := make([]mat.Matrix, len(seed.profiles))
		for i, s := range seed.profiles {
			br, _ := data.blocks[i].Dims()
			if pr, pc := s.Dims(); pr != br || pc != k {
				return nil, false, &ShapeError{Op: fmt.Sprintf("concentration seed block %d", i), Want: [2]int{br, k}, Got: [2]int{pr, pc}}
			}
			blocks[i] = s
		}
		c, _, err := RowBlocks(blocks...).stack()
		return c, true, err
	}

	k, _ := seed.profiles[0].Dims()
	blocks := make([]mat.Matrix, len(seed.profiles))
	for i, s := range seed.profiles {
		_, bc := data.blocks[i].Dims()
		if pr, pc := s.Dims(); pr != k || pc != bc {
			return nil, false, &ShapeError{Op: fmt.Sprintf("spectra seed block %d", i), Want: [2]int{k, bc}, Got: [2]int{pr, pc}}
		}
		blocks[i] = s
	}
	st, _, err := ColumnBlocks(blocks...).stack()
	return st, false, err
}

// providerState is the argument state of one external provider, updated by its responses.
type providerState struct {
	args constraint.Args
}

// concPlan is a concentration constraint set resolved against the number of components.
type concPlan struct {
	nonneg, unimod, monoInc, monoDec, closure, hard []int

	slack, unimodTol, incTol, decTol float64
	mode                             constraint.Mode
	method                           ClosureMethod
	target                           []float64

	provider constraint.ExternalProfileProvider
	mapping  []int
	state    *providerState
}

// specPlan is a spectral constraint set resolved against the number of components.
type specPlan struct {
	nonneg, unimod, hard []int

	slack, unimodTol float64
	mode             constraint.Mode

	provider constraint.ExternalProfileProvider
	mapping  []int
	state    *providerState
}

// fitPlan holds everything the driver needs that depends on the data and the number of components.
type fitPlan struct {
	k      int
	rows   []span      // concentration blocks
	cols   []span      // spectral blocks
	conc   []*concPlan // one per row block
	spec   specPlan
	nnConc []int // non-negative unknowns of the pnnls concentration solver
	nnSpec []int // non-negative unknowns of the pnnls spectra solver
}

func (o *Optimizer) plan(k int, data Data, x *mat.Dense, spans []span) (*fitPlan, error) {
	p := &o.problem
	nObs, nFeat := x.Dims()

	plan := &fitPlan{k: k}
	switch data.layout {
	case layoutRows:
		plan.rows, plan.cols = spans, []span{{0, nFeat}}
	case layoutCols:
		plan.rows, plan.cols = []span{{0, nObs}}, spans
	default:
		plan.rows, plan.cols = []span{{0, nObs}}, []span{{0, nFeat}}
	}

	var err error
	if plan.nnConc, err = p.Conc.NonNeg.resolve("Conc.nonneg", k); err != nil {
		return nil, err
	}
	if plan.nnSpec, err = p.Spec.NonNeg.resolve("Spec.nonneg", k); err != nil {
		return nil, err
	}

	if n := len(p.ConcBlocks); n > 0 {
		if data.layout != layoutRows || n != len(plan.rows) {
			return nil, configErr("ConcBlocks", n, "one constraint set per row block expected, got %d row blocks", len(plan.rows))
		}
		for i, b := range plan.rows {
			cp, err := resolveConc(fmt.Sprintf("ConcBlocks[%d]", i), &p.ConcBlocks[i], k, b.hi-b.lo, &providerState{args: p.ConcBlocks[i].Args.Clone()})
			if err != nil {
				return nil, err
			}
			plan.conc = append(plan.conc, cp)
		}
	} else {
		shared, err := resolveConc("Conc", &p.Conc, k, nObs, &providerState{args: p.Conc.Args.Clone()})
		if err != nil {
			return nil, err
		}
		for _, b := range plan.rows {
			cp := *shared
			if cp.target != nil {
				cp.target = shared.target[b.lo:b.hi]
			}
			plan.conc = append(plan.conc, &cp)
		}
	}

	s := &p.Spec
	sp := &plan.spec
	sp.nonneg = plan.nnSpec
	if sp.unimod, err = s.Unimod.resolve("Spec.unimod", k); err != nil {
		return nil, err
	}
	if sp.hard, err = s.Hard.ordered("Spec.hard", k); err != nil {
		return nil, err
	}
	if sp.mapping, err = resolveMapping("Spec.providerIdx", s.ProviderIdx, sp.hard); err != nil {
		return nil, err
	}
	sp.slack, sp.unimodTol, sp.mode = s.NonNegSlack, s.UnimodTol, s.UnimodMode
	sp.provider, sp.state = s.Provider, &providerState{args: s.Args.Clone()}
	return plan, nil
}

func resolveConc(prefix string, c *ConcConstraints, k, rows int, state *providerState) (*concPlan, error) {
	cp := &concPlan{
		slack: c.NonNegSlack, unimodTol: c.UnimodTol, incTol: c.MonoIncTol, decTol: c.MonoDecTol,
		mode: c.UnimodMode, method: c.ClosureMethod,
		provider: c.Provider, state: state,
	}
	var err error
	for _, s := range []struct {
		name string
		sel  Components
		dst  *[]int
	}{
		{"nonneg", c.NonNeg, &cp.nonneg}, {"unimod", c.Unimod, &cp.unimod},
		{"monoInc", c.MonoInc, &cp.monoInc}, {"monoDec", c.MonoDec, &cp.monoDec},
		{"closure", c.Closure, &cp.closure},
	} {
		if *s.dst, err = s.sel.resolve(prefix+"."+s.name, k); err != nil {
			return nil, err
		}
	}
	// hard components pair with the provider mapping by position
	if cp.hard, err = c.Hard.ordered(prefix+".hard", k); err != nil {
		return nil, err
	}

	if c.ClosureTarget != nil && len(c.ClosureTarget) != rows {
		return nil, configErr(prefix+".closureTarget", len(c.ClosureTarget), "%d values expected, one per observation", rows)
	}
	if len(cp.closure) > 0 {
		if c.ClosureTarget == nil {
			cp.target = slices.Repeat([]float64{1}, rows)
		} else {
			cp.target = slices.Clone(c.ClosureTarget)
		}
	}

	if cp.mapping, err = resolveMapping(prefix+".providerIdx", c.ProviderIdx, cp.hard); err != nil {
		return nil, err
	}
	return cp, nil
}

func resolveMapping(param string, mapping, hard []int) ([]int, error) {
	if mapping == nil {
		return nil, nil
	}
	if len(mapping) != len(hard) {
		return nil, configErr(param, mapping, "%d indices expected, one per hard component", len(hard))
	}
	return slices.Clone(mapping), nil
}
