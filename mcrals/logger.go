// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcrals

import (
	"fmt"
	"io"
	"os"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only the termination message and the final residuals
	LogLast LogLevel = 0
	// LogIter print also one row of the optimisation table every iteration
	LogIter LogLevel = 1
	// LogTrace print also the initial profile resolution and every constraint step
	LogTrace LogLevel = 99
)

// Logger handles logging output for the optimizer.
// Note the writers must be thread-safe when several fits share them.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for the iteration table.
}

// normalize fills the defaults of a possibly nil logger and returns a copy.
func (l *Logger) normalize() Logger {
	var out Logger
	if l == nil {
		out.Level = LogNoop
	} else {
		out = *l
	}
	if out.Msg == nil {
		out.Msg = os.Stdout
	}
	if out.Out == nil {
		out.Out = os.Stderr
	}
	return out
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	_, _ = fmt.Fprintf(l.Msg, format, a...)
}

func (l *Logger) out(format string, a ...any) {
	_, _ = fmt.Fprintf(l.Out, format, a...)
}
