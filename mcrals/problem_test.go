// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mcrals/constraint"
	"github.com/curioloop/mcrals/lsq"
)

func TestComponentsJSON(t *testing.T) {
	for _, tc := range []struct {
		sel  Components
		text string
	}{
		{AllComponents(), `"all"`},
		{Components{}, `[]`},
		{Select(2, 0), `[2,0]`},
	} {
		b, err := json.Marshal(tc.sel)
		require.NoError(t, err)
		assert.Equal(t, tc.text, string(b))

		var got Components
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, tc.sel.All(), got.All())
		assert.Equal(t, tc.sel.None(), got.None())
	}

	var c Components
	require.NoError(t, json.Unmarshal([]byte("null"), &c))
	assert.True(t, c.None())
	assert.Error(t, json.Unmarshal([]byte(`"some"`), &c))
	assert.Error(t, json.Unmarshal([]byte(`[1.5]`), &c))
}

func TestComponentsResolve(t *testing.T) {
	idx, err := Select(3, 1, 3).resolve("unimod", 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, idx)

	idx, err = AllComponents().resolve("unimod", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, idx)

	idx, err = Components{}.resolve("unimod", 3)
	require.NoError(t, err)
	assert.Empty(t, idx)

	_, err = Select(4).resolve("unimod", 4)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// hard selections keep their order
	idx, err = Select(2, 0).ordered("hard", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, idx)

	idx, err = AllComponents().ordered("hard", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, idx)

	_, err = Select(1, 0, 1).ordered("hard", 3)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "repeated")
	_, err = Select(3).ordered("hard", 3)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEnumText(t *testing.T) {
	for _, n := range []Norm{NormNone, NormMax, NormEuclid} {
		b, err := n.MarshalText()
		require.NoError(t, err)
		var got Norm
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, n, got)
	}
	var n Norm
	require.NoError(t, n.UnmarshalText([]byte("none")))
	assert.Equal(t, NormNone, n)
	assert.Error(t, n.UnmarshalText([]byte("l1")))
	assert.Equal(t, "none", NormNone.String())

	var m ClosureMethod
	require.NoError(t, m.UnmarshalText([]byte("constantSum")))
	assert.Equal(t, ClosureConstantSum, m)
	assert.Error(t, m.UnmarshalText([]byte("sum")))
	_, err := ClosureMethod(5).MarshalText()
	assert.Error(t, err)

	b, err := MaxIterationsReached.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "max iterations reached", string(b))
}

func TestProblemJSON(t *testing.T) {
	cfg := `{
		"tol": 0.01,
		"max_iter": 200,
		"solverConc": "nnls",
		"solverSpec": "pnnls",
		"conc": {"nonneg": [0, 1], "unimod": null, "closure": "all", "closureMethod": "constantSum"},
		"spec": {"unimod": "all", "unimodMod": "smooth", "unimodTol": 1.05},
		"normSpec": "euclid"
	}`
	p := DefaultProblem()
	require.NoError(t, json.Unmarshal([]byte(cfg), &p))

	assert.Equal(t, 0.01, p.Tol)
	assert.Equal(t, 200, p.MaxIter)
	assert.Equal(t, 5, p.MaxDiv)
	assert.Equal(t, lsq.SolverNNLS, p.SolverConc)
	assert.Equal(t, lsq.SolverPNNLS, p.SolverSpec)
	assert.Equal(t, []int{0, 1}, p.Conc.NonNeg.Indices())
	assert.True(t, p.Conc.Unimod.None())
	assert.True(t, p.Conc.Closure.All())
	assert.Equal(t, ClosureConstantSum, p.Conc.ClosureMethod)
	assert.True(t, p.Spec.NonNeg.All())
	assert.True(t, p.Spec.Unimod.All())
	assert.Equal(t, constraint.Smooth, p.Spec.UnimodMode)
	assert.Equal(t, 1.05, p.Spec.UnimodTol)
	assert.Equal(t, NormEuclid, p.NormSpec)

	o, err := p.New(nil)
	require.NoError(t, err)
	assert.Equal(t, LogNoop, o.logger.Level)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	var again Problem
	require.NoError(t, json.Unmarshal(b, &again))
	assert.Equal(t, p.Conc.NonNeg.Indices(), again.Conc.NonNeg.Indices())
	assert.Equal(t, p.NormSpec, again.NormSpec)
}

func TestProblemIsCopied(t *testing.T) {
	p := DefaultProblem()
	p.Conc.NonNeg = Select(0, 1)
	o, err := p.New(nil)
	require.NoError(t, err)

	p.Conc.NonNeg.idx[0] = 7
	p.Tol = -1
	assert.Equal(t, []int{0, 1}, o.problem.Conc.NonNeg.Indices())
	assert.Equal(t, 0.1, o.problem.Tol)
}

func TestPCAReconstruct(t *testing.T) {
	a := []float64{1, 3, -2, 5, 0.5}
	b := []float64{2, -1, 4, 0, 1, 3}
	x := mat.NewDense(len(a), len(b), nil)
	for i := range a {
		for j := range b {
			x.Set(i, j, a[i]*b[j]+float64(j))
		}
	}
	// column offsets are absorbed by the means, the rest is rank one
	assert.InDelta(t, 0, popStdDev(pcaReconstruct(x, 1), x), 1e-12)
	assert.InDelta(t, 0, popStdDev(pcaReconstruct(x, 10), x), 1e-12)

	x.Set(0, 0, x.At(0, 0)+5)
	assert.Greater(t, popStdDev(pcaReconstruct(x, 1), x), 1e-3)
}

func TestLoggerOutput(t *testing.T) {
	rng := rand.New(rand.NewPCG(12, 12))
	m := newMixture(rng, 15, 20, 1e-3)

	var msg, table bytes.Buffer
	p := DefaultProblem()
	p.MaxIter = 3
	p.Tol = 1e-300
	o := newOptimizer(t, p, &Logger{Level: LogTrace, Msg: &msg, Out: &table})
	_, err := o.Fit(Single(m.x), Profile(perturb(rng, m.c, 0.05)), nil)
	require.NoError(t, err)

	assert.Contains(t, table.String(), "#iter     RSE / PCA        RSE / Exp      %change")
	assert.Equal(t, 3+3, bytes.Count(table.Bytes(), []byte("\n")))
	assert.Contains(t, msg.String(), "Concentration profile initialized with 2 components")
	assert.Contains(t, msg.String(), "ITERATION     3")
	assert.Contains(t, msg.String(), "Convergence criterion ('tol') not reached after 3 iterations.")
	assert.Contains(t, msg.String(), "ALS finished after 3 iterations")

	// nothing is written below the termination level
	msg.Reset()
	table.Reset()
	o = newOptimizer(t, p, &Logger{Level: LogNoop, Msg: &msg, Out: &table})
	_, err = o.Fit(Single(m.x), Profile(m.c), nil)
	require.NoError(t, err)
	assert.Zero(t, msg.Len())
	assert.Zero(t, table.Len())
}

func TestRowBlocks(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 5))
	m := newMixture(rng, 30, 40, 1e-3)
	x1 := m.x.Slice(0, 12, 0, 40)
	x2 := m.x.Slice(12, 30, 0, 40)
	c1 := perturb(rng, mat.DenseCopyOf(m.c.Slice(0, 12, 0, 2)), 0.05)
	c2 := perturb(rng, mat.DenseCopyOf(m.c.Slice(12, 30, 0, 2)), 0.05)

	type call struct{ block, rows int }
	var calls []call
	record := constraint.ProviderFunc(func(req constraint.Request) (constraint.Response, error) {
		r, _ := req.Profiles.Dims()
		calls = append(calls, call{req.Block, r})
		return constraint.Response{Profiles: req.Profiles}, nil
	})

	p := DefaultProblem()
	p.MaxIter = 3
	p.Tol = 1e-300
	block := DefaultProblem().Conc
	p.ConcBlocks = []ConcConstraints{block, block}
	p.ConcBlocks[1].Hard = AllComponents()
	p.ConcBlocks[1].Provider = record
	o := newOptimizer(t, p, nil)

	res, err := o.Fit(RowBlocks(x1, x2), ProfileBlocks(c1, c2), nil)
	require.NoError(t, err)
	r, k := res.C.Dims()
	assert.Equal(t, []int{30, 2}, []int{r, k})
	r, k = res.St.Dims()
	assert.Equal(t, []int{2, 40}, []int{r, k})

	// only the second block has a provider, and it sees its own rows
	assert.Equal(t, []call{{1, 18}, {1, 18}, {1, 18}}, calls)

	// a single seed of row blocks is the shared spectra
	res, err = o.Fit(RowBlocks(x1, x2), Profile(perturb(rng, m.st, 0.05)), nil)
	require.NoError(t, err)
	r, _ = res.C.Dims()
	assert.Equal(t, 30, r)

	// blocks must agree on the shared axis
	_, err = o.Fit(RowBlocks(x1, mat.NewDense(3, 7, nil)), ProfileBlocks(c1, c2), nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	// one seed per block
	_, err = o.Fit(RowBlocks(x1, x2), ProfileBlocks(c1), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = o.Fit(RowBlocks(x1, x2), ProfileBlocks(c1, c1), nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestColumnBlocks(t *testing.T) {
	rng := rand.New(rand.NewPCG(17, 2))
	m := newMixture(rng, 30, 40, 1e-3)
	// the first spectrum has two bands, the blocks split at the valley between them
	const split = 24
	x1 := m.x.Slice(0, 30, 0, split)
	x2 := m.x.Slice(0, 30, split, 40)
	s1 := perturb(rng, mat.DenseCopyOf(m.st.Slice(0, 2, 0, split)), 0.05)
	s2 := perturb(rng, mat.DenseCopyOf(m.st.Slice(0, 2, split, 40)), 0.05)

	p := DefaultProblem()
	p.Spec.Unimod = Select(0)
	o := newOptimizer(t, p, nil)
	res, err := o.Fit(ColumnBlocks(x1, x2), ProfileBlocks(s1, s2), nil)
	require.NoError(t, err)

	r, k := res.C.Dims()
	assert.Equal(t, []int{30, 2}, []int{r, k})
	r, k = res.St.Dims()
	assert.Equal(t, []int{2, 40}, []int{r, k})
	assert.Less(t, res.StdDev, 5e-2)

	// each block of the spectrum has its own maximum and both bands survive
	row := res.St.RawRowView(0)
	top := floats.Max(row)
	for _, seg := range [][]float64{row[:split], row[split:]} {
		peak := floats.MaxIdx(seg)
		for i := 0; i < peak; i++ {
			assert.LessOrEqual(t, seg[i], seg[i+1]*p.Spec.UnimodTol+1e-12, "rise before peak at %d", i)
		}
		for i := peak + 1; i < len(seg); i++ {
			assert.LessOrEqual(t, seg[i], seg[i-1]*p.Spec.UnimodTol+1e-12, "rise after peak at %d", i)
		}
		assert.Greater(t, seg[peak], 0.1*top)
	}

	// a single pass over the whole spectrum would flatten the second band
	whole := mat.Row(nil, 0, m.st)
	assert.Greater(t, floats.Max(whole[split:]), 0.25)
	constraint.Unimodal1D(whole, p.Spec.UnimodTol, constraint.Strict)
	assert.Less(t, floats.Max(whole[split:]), 0.01)

	// a single seed of column blocks is the shared concentrations
	_, err = o.Fit(ColumnBlocks(x1, x2), Profile(mat.NewDense(29, 2, nil)), nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	// profile blocks are not accepted for a single dataset
	_, err = o.Fit(Single(m.x), ProfileBlocks(s1, s2), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// per-block concentration constraints need row blocks
	p.ConcBlocks = []ConcConstraints{p.Conc, p.Conc}
	o = newOptimizer(t, p, nil)
	_, err = o.Fit(ColumnBlocks(x1, x2), ProfileBlocks(s1, s2), nil)
	var cfg *ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "ConcBlocks", cfg.Param)
}
