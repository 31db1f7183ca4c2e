// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestReadMatrix(t *testing.T) {
	in := "# absorbance\n1, 2.5, -3\n\n4,5e-1,6\n"
	m, err := readMatrix(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, mat.NewDense(2, 3, []float64{1, 2.5, -3, 4, 0.5, 6}), m)

	_, err = readMatrix(strings.NewReader("1,2\n3\n"))
	assert.Error(t, err)
	_, err = readMatrix(strings.NewReader("1,x\n"))
	assert.ErrorContains(t, err, "row 1, column 2")
	_, err = readMatrix(strings.NewReader(""))
	assert.Error(t, err)
}

func TestWriteMatrix(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 0.1, -2e-9, math.Pi})
	var buf bytes.Buffer
	require.NoError(t, writeMatrix(&buf, m))
	assert.Equal(t, "1,0.1\n-2e-09,3.141592653589793\n", buf.String())

	back, err := readMatrix(&buf)
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, back))
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	opt, err := parseFlags([]string{"-x", "a.csv", "-x", "b.csv", "-seed", "s.csv", "-blocks", "cols", "-v", "-1"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, listFlag{"a.csv", "b.csv"}, opt.xs)
	assert.Equal(t, "cols", opt.blocks)
	assert.Equal(t, -1, opt.level)

	_, err = parseFlags([]string{"-seed", "s.csv"}, &stderr)
	assert.Error(t, err)
	_, err = parseFlags([]string{"-x", "a.csv"}, &stderr)
	assert.Error(t, err)
	_, err = parseFlags([]string{"-x", "a.csv", "-seed", "s.csv", "-blocks", "diag"}, &stderr)
	assert.Error(t, err)
}

func gauss(t, mu, sigma float64) float64 {
	return math.Exp(-(t - mu) * (t - mu) / (2 * sigma * sigma))
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	const nObs, nFeat = 20, 30
	c := mat.NewDense(nObs, 2, nil)
	for i := 0; i < nObs; i++ {
		ti := float64(i) / (nObs - 1)
		c.Set(i, 0, gauss(ti, 0.3, 0.15))
		c.Set(i, 1, gauss(ti, 0.7, 0.15))
	}
	st := mat.NewDense(2, nFeat, nil)
	for j := 0; j < nFeat; j++ {
		f := float64(j) / (nFeat - 1)
		st.Set(0, j, gauss(f, 0.3, 0.1))
		st.Set(1, j, gauss(f, 0.65, 0.1))
	}
	var x mat.Dense
	x.Mul(c, st)

	seed := mat.DenseCopyOf(st)
	seed.Scale(1.1, seed)
	seed.Set(0, 0, seed.At(0, 0)+0.05)

	xPath := filepath.Join(dir, "x.csv")
	seedPath := filepath.Join(dir, "seed.csv")
	cfgPath := filepath.Join(dir, "problem.json")
	require.NoError(t, writeMatrixFile(xPath, &x))
	require.NoError(t, writeMatrixFile(seedPath, seed))
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"max_iter": 20, "normSpec": "max"}`), 0o644))

	out := filepath.Join(dir, "out")
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-x", xPath, "-seed", seedPath, "-config", cfgPath, "-out", out, "-v", "1"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "ALS optimisation log")

	gotC, err := readMatrixFile(filepath.Join(out, "C.csv"))
	require.NoError(t, err)
	r, k := gotC.Dims()
	assert.Equal(t, []int{nObs, 2}, []int{r, k})

	gotSt, err := readMatrixFile(filepath.Join(out, "St.csv"))
	require.NoError(t, err)
	r, k = gotSt.Dims()
	assert.Equal(t, []int{2, nFeat}, []int{r, k})

	for _, name := range []string{"C_constrained.csv", "St_unconstrained.csv"} {
		_, err = os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}

	b, err := os.ReadFile(filepath.Join(out, "summary.json"))
	require.NoError(t, err)
	var sum map[string]any
	require.NoError(t, json.Unmarshal(b, &sum))
	assert.Contains(t, sum, "status")
	assert.LessOrEqual(t, sum["numIter"], 20.0)

	// unknown configuration fields are rejected
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"maxIter": 20}`), 0o644))
	err = run(context.Background(), []string{"-x", xPath, "-seed", seedPath, "-config", cfgPath, "-out", out}, &stdout, &stderr)
	assert.ErrorContains(t, err, "maxIter")

	// invalid values surface as configuration errors
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"tol": -1}`), 0o644))
	err = run(context.Background(), []string{"-x", xPath, "-seed", seedPath, "-config", cfgPath, "-out", out}, &stdout, &stderr)
	assert.ErrorContains(t, err, "tol")
}
