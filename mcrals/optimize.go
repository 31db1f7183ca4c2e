// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Status is the terminal state of a fit.
type Status int

const (
	// Converged the percent change of the residual fell below the tolerance.
	Converged Status = iota + 1
	// DivergenceDetected the residual did not improve for maxdiv consecutive iterations.
	DivergenceDetected
	// MaxIterationsReached the iteration limit was hit before convergence.
	MaxIterationsReached
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case DivergenceDetected:
		return "divergence detected"
	case MaxIterationsReached:
		return "max iterations reached"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Iteration is the bookkeeping of one ALS iteration.
type Iteration struct {
	Iter       int     `json:"iter"`
	StdDev     float64 `json:"stdev"`      // residual standard deviation std(C·Sᵀ - X)
	StdDevPrev float64 `json:"stdevPrev"`  // residual standard deviation of the previous iteration
	StdDevPCA  float64 `json:"stdevPCA"`   // std(C·Sᵀ - Xpca) against the PCA reconstruction of the same rank
	Change     float64 `json:"change"`     // signed percent change of StdDev
	NumDiv     int     `json:"ndiv"`       // consecutive iterations without improvement
	Status     Status  `json:"status"`     // terminal state, zero while iterating
}

// Optimizer runs MCR-ALS for a validated problem.
// It is immutable and may be shared by several goroutines, each with its own Workspace.
type Optimizer struct {
	problem Problem
	logger  Logger
}

// Workspace holds the factors of the last successful fit.
type Workspace struct {
	fitted bool

	c, st           *mat.Dense
	cConstrained    *mat.Dense
	stUnconstrained *mat.Dense
	extraConc       []any
	extraSpec       []any
}

// Result contains the final result of the decomposition.
type Result struct {
	OK bool // Whether the optimization converged.

	C               *mat.Dense // Concentrations, n_observations × n_components.
	St              *mat.Dense // Spectra, n_components × n_features.
	CConstrained    *mat.Dense // C after the constraint pass of the last iteration.
	StUnconstrained *mat.Dense // Sᵀ as solved before the spectral constraints of the last iteration.

	ExtraConc []any // Extra outputs of the concentration provider, one per call.
	ExtraSpec []any // Extra outputs of the spectra provider, one per call.

	Summary // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status    Status  `json:"status"`   // Final status.
	NumIter   int     `json:"numIter"`  // Number of iterations performed.
	StdDev    float64 `json:"stdev"`    // Final residual standard deviation.
	StdDevPCA float64 `json:"stdevPCA"` // Final residual against the PCA reconstruction.
	Change    float64 `json:"change"`   // Last absolute percent change.
}

// Init allocates an empty workspace.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
func (o *Optimizer) Init() *Workspace {
	return new(Workspace)
}

// Fit decomposes x starting from seed, storing the factors in w.
// A nil workspace fits into a fresh one. With WarmStart set and a fitted workspace,
// the previous factors are the starting point and seed may be empty.
//
// Configuration and shape errors are returned before iterating. Errors of an external
// provider abort the loop. Non-convergence is reported through Result.Status, not as an error.
func (o *Optimizer) Fit(x Data, seed Seed, w *Workspace) (*Result, error) {
	if w == nil {
		w = o.Init()
	}

	X, spans, err := x.stack()
	if err != nil {
		return nil, err
	}
	nObs, nFeat := X.Dims()
	log := &o.logger

	var c, st *mat.Dense
	warm := o.problem.WarmStart && w.fitted
	if warm {
		cr, cc := w.c.Dims()
		sr, sc := w.st.Dims()
		if cr != nObs {
			return nil, &ShapeError{Op: "warm start concentrations", Want: [2]int{nObs, -1}, Got: [2]int{cr, cc}}
		}
		if sc != nFeat {
			return nil, &ShapeError{Op: "warm start spectra", Want: [2]int{-1, nFeat}, Got: [2]int{sr, sc}}
		}
		c, st = mat.DenseCopyOf(w.c), mat.DenseCopyOf(w.st)
	} else if seed.IsZero() {
		return nil, configErr("seed", "empty", "an initial profile is required unless warm starting a fitted workspace")
	}

	var (
		profile *mat.Dense
		isConc  bool
		k       int
	)
	if warm {
		_, k = c.Dims()
	} else {
		if profile, isConc, err = seedProfile(x, X, seed); err != nil {
			return nil, err
		}
		if isConc {
			_, k = profile.Dims()
		} else {
			k, _ = profile.Dims()
		}
	}

	plan, err := o.plan(k, x, X, spans)
	if err != nil {
		return nil, err
	}

	d := &alsDriver{
		optimizer: o,
		plan:      plan,
		x:         X,
		xt:        mat.DenseCopyOf(X.T()),
	}

	switch {
	case warm:
		if log.enable(LogTrace) {
			log.log("Warm start from the previous fit with %d components\n", k)
		}
	case isConc:
		c = profile
		st = d.solveSt(c)
		if log.enable(LogTrace) {
			log.log("Concentration profile initialized with %d components\n", k)
			log.log("Initial spectra profile computed\n")
		}
	default:
		st = profile
		c = d.solveC(st)
		if log.enable(LogTrace) {
			log.log("Spectra profile initialized with %d components\n", k)
			log.log("Initial concentration profile computed\n")
		}
	}

	// a new fit discards the previous one
	*w = Workspace{}

	d.c, d.st = c, st
	d.stdev = stat.PopStdDev(X.RawMatrix().Data, nil)
	d.xpca = pcaReconstruct(X, k)

	if err = d.mainLoop(); err != nil {
		return nil, err
	}

	*w = Workspace{
		fitted:          true,
		c:               d.c,
		st:              d.st,
		cConstrained:    d.cConstrained,
		stUnconstrained: d.stUnconstrained,
		extraConc:       d.extraConc,
		extraSpec:       d.extraSpec,
	}

	return &Result{
		OK:              d.status == Converged,
		C:               mat.DenseCopyOf(d.c),
		St:              mat.DenseCopyOf(d.st),
		CConstrained:    mat.DenseCopyOf(d.cConstrained),
		StUnconstrained: mat.DenseCopyOf(d.stUnconstrained),
		ExtraConc:       slices.Clone(d.extraConc),
		ExtraSpec:       slices.Clone(d.extraSpec),
		Summary: Summary{
			Status:    d.status,
			NumIter:   d.iter,
			StdDev:    d.stdev,
			StdDevPCA: d.stdevPCA,
			Change:    d.change,
		},
	}, nil
}

// C returns a copy of the fitted concentrations.
func (w *Workspace) C() (*mat.Dense, error) {
	if !w.fitted {
		return nil, ErrNotFitted
	}
	return mat.DenseCopyOf(w.c), nil
}

// St returns a copy of the fitted spectra.
func (w *Workspace) St() (*mat.Dense, error) {
	if !w.fitted {
		return nil, ErrNotFitted
	}
	return mat.DenseCopyOf(w.st), nil
}

// Components is an alias of St: the pure component spectra.
func (w *Workspace) Components() (*mat.Dense, error) {
	return w.St()
}

func (w *Workspace) CConstrained() (*mat.Dense, error) {
	if !w.fitted {
		return nil, ErrNotFitted
	}
	return mat.DenseCopyOf(w.cConstrained), nil
}

func (w *Workspace) StUnconstrained() (*mat.Dense, error) {
	if !w.fitted {
		return nil, ErrNotFitted
	}
	return mat.DenseCopyOf(w.stUnconstrained), nil
}

func (w *Workspace) ExtraOutputConc() ([]any, error) {
	if !w.fitted {
		return nil, ErrNotFitted
	}
	return slices.Clone(w.extraConc), nil
}

func (w *Workspace) ExtraOutputSpec() ([]any, error) {
	if !w.fitted {
		return nil, ErrNotFitted
	}
	return slices.Clone(w.extraSpec), nil
}

// Reconstruct returns the data approximation C·Sᵀ.
func (w *Workspace) Reconstruct() (*mat.Dense, error) {
	if !w.fitted {
		return nil, ErrNotFitted
	}
	var xhat mat.Dense
	xhat.Mul(w.c, w.st)
	return &xhat, nil
}

// Transform returns the first n concentration profiles, all of them when n ≤ 0.
func (w *Workspace) Transform(n int) (*mat.Dense, error) {
	if !w.fitted {
		return nil, ErrNotFitted
	}
	r, k := w.c.Dims()
	switch {
	case n <= 0:
		n = k
	case n > k:
		return nil, configErr("n_components", n, "the fit has only %d components", k)
	}
	return mat.DenseCopyOf(w.c.Slice(0, r, 0, n)), nil
}
