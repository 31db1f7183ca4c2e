// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/mcrals/constraint"
	"github.com/curioloop/mcrals/lsq"
)

// ClosureMethod selects how the closure constraint is enforced.
type ClosureMethod int

const (
	// ClosureScaling scales each closed profile by the least-squares factors that best match the target.
	ClosureScaling ClosureMethod = iota
	// ClosureConstantSum rescales every observation so the closed profiles sum exactly to the target.
	ClosureConstantSum
)

var closureNames = [...]string{ClosureScaling: "scaling", ClosureConstantSum: "constantSum"}

func (m ClosureMethod) String() string {
	if m < ClosureScaling || m > ClosureConstantSum {
		return fmt.Sprintf("ClosureMethod(%d)", int(m))
	}
	return closureNames[m]
}

func (m ClosureMethod) MarshalText() ([]byte, error) {
	if m < ClosureScaling || m > ClosureConstantSum {
		return nil, fmt.Errorf("mcrals: unknown closure method %d", int(m))
	}
	return []byte(closureNames[m]), nil
}

func (m *ClosureMethod) UnmarshalText(text []byte) error {
	for k, name := range closureNames {
		if name == string(text) {
			*m = ClosureMethod(k)
			return nil
		}
	}
	return fmt.Errorf("mcrals: unknown closure method %q (want scaling or constantSum)", text)
}

// Norm selects the normalization of the spectral profiles after each iteration.
type Norm int

const (
	NormNone Norm = iota
	// NormMax scales every spectrum to a unit maximum.
	NormMax
	// NormEuclid scales every spectrum to a unit Euclidean norm.
	NormEuclid
)

var normNames = [...]string{NormNone: "", NormMax: "max", NormEuclid: "euclid"}

func (n Norm) String() string {
	if n < NormNone || n > NormEuclid {
		return fmt.Sprintf("Norm(%d)", int(n))
	}
	if n == NormNone {
		return "none"
	}
	return normNames[n]
}

func (n Norm) MarshalText() ([]byte, error) {
	if n < NormNone || n > NormEuclid {
		return nil, fmt.Errorf("mcrals: unknown spectra norm %d", int(n))
	}
	return []byte(normNames[n]), nil
}

func (n *Norm) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "none":
		*n = NormNone
	case "max":
		*n = NormMax
	case "euclid":
		*n = NormEuclid
	default:
		return fmt.Errorf("mcrals: unknown spectra norm %q (want max, euclid or none)", text)
	}
	return nil
}

// ConcConstraints configures the constraints applied to the concentration profiles (columns of C).
type ConcConstraints struct {
	NonNeg      Components `json:"nonneg"`
	NonNegSlack float64    `json:"nonnegSlack"` // values in [-slack, 0) survive the clipping

	Unimod     Components      `json:"unimod"`
	UnimodMode constraint.Mode `json:"unimodMod"`
	UnimodTol  float64         `json:"unimodTol"`

	MonoInc    Components `json:"monoInc"`
	MonoIncTol float64    `json:"monoIncTol"`
	MonoDec    Components `json:"monoDec"`
	MonoDecTol float64    `json:"monoDecTol"`

	Closure       Components    `json:"closure"`
	ClosureTarget []float64     `json:"closureTarget,omitempty"` // one value per observation, nil means ones
	ClosureMethod ClosureMethod `json:"closureMethod"`

	// Hard components are replaced every iteration by the profiles of Provider.
	// ProviderIdx maps each hard component to the provided profile replacing it, nil means identity.
	Hard        Components                         `json:"hard"`
	Provider    constraint.ExternalProfileProvider `json:"-"`
	Args        constraint.Args                    `json:"args"`
	ProviderIdx []int                              `json:"providerIdx,omitempty"`
}

// SpecConstraints configures the constraints applied to the spectral profiles (rows of Sᵀ).
type SpecConstraints struct {
	NonNeg      Components `json:"nonneg"`
	NonNegSlack float64    `json:"nonnegSlack"`

	Unimod     Components      `json:"unimod"`
	UnimodMode constraint.Mode `json:"unimodMod"`
	UnimodTol  float64         `json:"unimodTol"`

	Hard        Components                         `json:"hard"`
	Provider    constraint.ExternalProfileProvider `json:"-"`
	Args        constraint.Args                    `json:"args"`
	ProviderIdx []int                              `json:"providerIdx,omitempty"`
}

// Problem specifies an MCR-ALS decomposition X ≈ C·Sᵀ.
type Problem struct {
	// The iteration converges when the percent change of the residual standard deviation is below Tol.
	Tol float64 `json:"tol"`
	// The iteration stops after MaxIter iterations.
	MaxIter int `json:"max_iter"`
	// The iteration stops after MaxDiv consecutive iterations without improvement.
	MaxDiv int `json:"maxdiv"`

	SolverConc lsq.Solver `json:"solverConc"`
	SolverSpec lsq.Solver `json:"solverSpec"`

	Conc ConcConstraints `json:"conc"`
	// ConcBlocks optionally gives one constraint set per row block of a multiblock fit.
	// Non-negativity of the pnnls concentration solver always follows Conc.
	ConcBlocks []ConcConstraints `json:"concBlocks,omitempty"`
	Spec       SpecConstraints   `json:"spec"`

	NormSpec Norm `json:"normSpec"`

	// WarmStart restarts from the factors held by a fitted workspace instead of the seed.
	WarmStart bool `json:"warmStart"`

	// Progress is invoked synchronously after every iteration.
	Progress func(Iteration) `json:"-"`
}

// DefaultProblem returns the reference configuration.
func DefaultProblem() Problem {
	return Problem{
		Tol:        0.1,
		MaxIter:    50,
		MaxDiv:     5,
		SolverConc: lsq.SolverLstsq,
		SolverSpec: lsq.SolverLstsq,
		Conc: ConcConstraints{
			NonNeg:        AllComponents(),
			Unimod:        AllComponents(),
			UnimodMode:    constraint.Strict,
			UnimodTol:     1.1,
			MonoIncTol:    1.1,
			MonoDecTol:    1.1,
			ClosureMethod: ClosureScaling,
		},
		Spec: SpecConstraints{
			NonNeg:     AllComponents(),
			UnimodMode: constraint.Strict,
			UnimodTol:  1.1,
		},
	}
}

// New validates the problem and creates an optimizer holding a private copy of it.
// Checks that depend on the number of components are deferred to Fit.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	switch {
	case !(p.Tol > 0) || math.IsInf(p.Tol, 1):
		err = configErr("tol", p.Tol, "must be a positive finite number")
	case p.MaxIter <= 0:
		err = configErr("max_iter", p.MaxIter, "must be at least 1")
	case p.MaxDiv <= 0:
		err = configErr("maxdiv", p.MaxDiv, "must be at least 1")
	case !p.SolverConc.Valid():
		err = configErr("solverConc", p.SolverConc, "unknown solver")
	case !p.SolverSpec.Valid():
		err = configErr("solverSpec", p.SolverSpec, "unknown solver")
	case p.NormSpec < NormNone || p.NormSpec > NormEuclid:
		err = configErr("normSpec", p.NormSpec, "unknown normalization")
	}
	if err != nil {
		return
	}

	if err = p.Conc.check("Conc"); err != nil {
		return
	}
	for i := range p.ConcBlocks {
		if err = p.ConcBlocks[i].check(fmt.Sprintf("ConcBlocks[%d]", i)); err != nil {
			return
		}
	}
	if err = p.Spec.check("Spec"); err != nil {
		return
	}

	cfg := *p
	cfg.Conc = p.Conc.clone()
	cfg.ConcBlocks = make([]ConcConstraints, len(p.ConcBlocks))
	for i := range p.ConcBlocks {
		cfg.ConcBlocks[i] = p.ConcBlocks[i].clone()
	}
	cfg.Spec = p.Spec.clone()

	optimizer = &Optimizer{
		problem: cfg,
		logger:  logger.normalize(),
	}
	return
}

func (c *ConcConstraints) check(prefix string) error {
	for _, s := range []struct {
		name string
		sel  Components
	}{
		{"nonneg", c.NonNeg}, {"unimod", c.Unimod}, {"monoInc", c.MonoInc},
		{"monoDec", c.MonoDec}, {"closure", c.Closure}, {"hard", c.Hard},
	} {
		if err := s.sel.check(prefix + "." + s.name); err != nil {
			return err
		}
	}
	switch {
	case !(c.NonNegSlack >= 0):
		return configErr(prefix+".nonnegSlack", c.NonNegSlack, "must not be negative")
	case !c.Unimod.None() && !(c.UnimodTol > 0):
		return configErr(prefix+".unimodTol", c.UnimodTol, "must be positive")
	case c.UnimodMode != constraint.Strict && c.UnimodMode != constraint.Smooth:
		return configErr(prefix+".unimodMod", c.UnimodMode, "unknown mode")
	case !c.MonoInc.None() && !(c.MonoIncTol > 0):
		return configErr(prefix+".monoIncTol", c.MonoIncTol, "must be positive")
	case !c.MonoDec.None() && !(c.MonoDecTol > 0):
		return configErr(prefix+".monoDecTol", c.MonoDecTol, "must be positive")
	case c.ClosureMethod != ClosureScaling && c.ClosureMethod != ClosureConstantSum:
		return configErr(prefix+".closureMethod", c.ClosureMethod, "unknown method")
	}
	for _, v := range c.ClosureTarget {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return configErr(prefix+".closureTarget", c.ClosureTarget, "values must be finite")
		}
	}
	return checkHard(prefix, c.Hard, c.Provider, c.ProviderIdx)
}

func (c *SpecConstraints) check(prefix string) error {
	for _, s := range []struct {
		name string
		sel  Components
	}{
		{"nonneg", c.NonNeg}, {"unimod", c.Unimod}, {"hard", c.Hard},
	} {
		if err := s.sel.check(prefix + "." + s.name); err != nil {
			return err
		}
	}
	switch {
	case !(c.NonNegSlack >= 0):
		return configErr(prefix+".nonnegSlack", c.NonNegSlack, "must not be negative")
	case !c.Unimod.None() && !(c.UnimodTol > 0):
		return configErr(prefix+".unimodTol", c.UnimodTol, "must be positive")
	case c.UnimodMode != constraint.Strict && c.UnimodMode != constraint.Smooth:
		return configErr(prefix+".unimodMod", c.UnimodMode, "unknown mode")
	}
	return checkHard(prefix, c.Hard, c.Provider, c.ProviderIdx)
}

func checkHard(prefix string, hard Components, provider constraint.ExternalProfileProvider, mapping []int) error {
	if !hard.None() && provider == nil {
		return configErr(prefix+".hard", hard, "hard profiles need a provider")
	}
	for _, k := range mapping {
		if k < 0 {
			return configErr(prefix+".providerIdx", mapping, "index %d is negative", k)
		}
	}
	return nil
}

func (c ConcConstraints) clone() ConcConstraints {
	for _, sel := range []*Components{&c.NonNeg, &c.Unimod, &c.MonoInc, &c.MonoDec, &c.Closure, &c.Hard} {
		sel.idx = slices.Clone(sel.idx)
	}
	c.ClosureTarget = slices.Clone(c.ClosureTarget)
	c.ProviderIdx = slices.Clone(c.ProviderIdx)
	c.Args = c.Args.Clone()
	return c
}

func (c SpecConstraints) clone() SpecConstraints {
	for _, sel := range []*Components{&c.NonNeg, &c.Unimod, &c.Hard} {
		sel.idx = slices.Clone(sel.idx)
	}
	c.ProviderIdx = slices.Clone(c.ProviderIdx)
	c.Args = c.Args.Clone()
	return c
}
