// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is matched by every *ConfigError.
	ErrInvalidConfig = errors.New("mcrals: invalid configuration")
	// ErrShapeMismatch is matched by every *ShapeError.
	ErrShapeMismatch = errors.New("mcrals: shape mismatch")
	// ErrNotFitted is returned by the Workspace accessors before a fit has completed.
	ErrNotFitted = errors.New("mcrals: workspace is not fitted")
)

// ConfigError reports a parameter whose value cannot be used.
type ConfigError struct {
	Param  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mcrals: invalid %s (value: %v): %s", e.Param, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configErr(param string, value any, format string, a ...any) error {
	return &ConfigError{Param: param, Value: value, Reason: fmt.Sprintf(format, a...)}
}

// ShapeError reports a matrix whose dimensions are incompatible with the data.
// A negative dimension in Want means any size is accepted along that axis.
type ShapeError struct {
	Op   string
	Want [2]int
	Got  [2]int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("mcrals: %s: got %s, want %s", e.Op, shape(e.Got), shape(e.Want))
}

func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }

func shape(d [2]int) string {
	dim := func(v int) string {
		if v < 0 {
			return "*"
		}
		return fmt.Sprint(v)
	}
	return dim(d[0]) + "×" + dim(d[1])
}
