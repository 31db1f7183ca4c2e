// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mcrals decomposes CSV data matrices into concentration and spectral profiles.
//
// Flags:
//
//	-x:      data matrix CSV, repeat for multiblock data
//	-blocks: how several -x files are joined, rows (shared spectra) or cols (shared concentrations)
//	-seed:   initial C or Sᵀ CSV, repeat for one seed per block
//	-config: JSON problem, fields not given keep their defaults
//	-out:    directory receiving C.csv, St.csv, C_constrained.csv, St_unconstrained.csv and summary.json
//	-v:      log level, -1 silent, 0 termination, 1 iteration table, 99 trace
//	-serve:  HTTP address streaming the progress over WebSocket at /ws
//	-hold:   keep serving after the fit until interrupted
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/mcrals/internal/monitor"
	"github.com/curioloop/mcrals/mcrals"
)

// listFlag collects the values of a repeated flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	xs, seeds listFlag
	blocks    string
	config    string
	out       string
	level     int
	serve     string
	hold      bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var opt options
	fs := flag.NewFlagSet("mcrals", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Var(&opt.xs, "x", "data matrix CSV (repeatable)")
	fs.Var(&opt.seeds, "seed", "initial profile CSV (repeatable)")
	fs.StringVar(&opt.blocks, "blocks", "rows", "join several data files by rows or cols")
	fs.StringVar(&opt.config, "config", "", "JSON problem configuration")
	fs.StringVar(&opt.out, "out", ".", "output directory")
	fs.IntVar(&opt.level, "v", int(mcrals.LogIter), "log level")
	fs.StringVar(&opt.serve, "serve", "", "serve progress on this address")
	fs.BoolVar(&opt.hold, "hold", false, "keep serving after the fit until interrupted")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch {
	case len(opt.xs) == 0:
		return nil, errors.New("at least one -x is required")
	case len(opt.seeds) == 0:
		return nil, errors.New("at least one -seed is required")
	case opt.blocks != "rows" && opt.blocks != "cols":
		return nil, fmt.Errorf("-blocks must be rows or cols, got %q", opt.blocks)
	}
	return &opt, nil
}

func loadProblem(path string) (mcrals.Problem, error) {
	p := mcrals.DefaultProblem()
	if path == "" {
		return p, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return p, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err = dec.Decode(&p); err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func loadInputs(opt *options) (mcrals.Data, mcrals.Seed, error) {
	xs := make([]mat.Matrix, len(opt.xs))
	for i, path := range opt.xs {
		m, err := readMatrixFile(path)
		if err != nil {
			return mcrals.Data{}, mcrals.Seed{}, err
		}
		xs[i] = m
	}
	seeds := make([]mat.Matrix, len(opt.seeds))
	for i, path := range opt.seeds {
		m, err := readMatrixFile(path)
		if err != nil {
			return mcrals.Data{}, mcrals.Seed{}, err
		}
		seeds[i] = m
	}

	var data mcrals.Data
	switch {
	case len(xs) == 1:
		data = mcrals.Single(xs[0])
	case opt.blocks == "cols":
		data = mcrals.ColumnBlocks(xs...)
	default:
		data = mcrals.RowBlocks(xs...)
	}
	seed := mcrals.Profile(seeds[0])
	if len(seeds) > 1 {
		seed = mcrals.ProfileBlocks(seeds...)
	}
	return data, seed, nil
}

func writeOutputs(dir string, res *mcrals.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, m := range map[string]*mat.Dense{
		"C.csv":                res.C,
		"St.csv":               res.St,
		"C_constrained.csv":    res.CConstrained,
		"St_unconstrained.csv": res.StUnconstrained,
	} {
		if err := writeMatrixFile(filepath.Join(dir, name), m); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(monitor.NewSummaryEvent(res.Summary), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "summary.json"), append(b, '\n'), 0o644)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opt, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	p, err := loadProblem(opt.config)
	if err != nil {
		return err
	}
	data, seed, err := loadInputs(opt)
	if err != nil {
		return err
	}

	var (
		mon *monitor.Server
		srv *http.Server
	)
	if opt.serve != "" {
		hub := monitor.NewHub()
		mon = monitor.NewServer(hub)
		ln, err := net.Listen("tcp", opt.serve)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", opt.serve, err)
		}
		srv = &http.Server{Handler: mon.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("monitor: %v", err)
			}
		}()
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			hub.Close()
			_ = srv.Shutdown(shutdown)
		}()
		log.Printf("Streaming progress on ws://%s/ws", ln.Addr())
		p.Progress = hub.Iteration
	}

	o, err := p.New(&mcrals.Logger{Level: mcrals.LogLevel(opt.level), Msg: stdout, Out: stdout})
	if err != nil {
		return err
	}
	res, err := o.Fit(data, seed, nil)
	if mon != nil {
		var sum mcrals.Summary
		if res != nil {
			sum = res.Summary
		}
		mon.Finish(sum, err)
	}
	if err != nil {
		return err
	}
	if err = writeOutputs(opt.out, res); err != nil {
		return err
	}

	if srv != nil && opt.hold {
		log.Printf("Fit finished, serving until interrupted")
		<-ctx.Done()
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("mcrals: %v", err)
	}
}
