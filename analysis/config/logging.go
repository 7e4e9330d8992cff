// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"io"
	"log"
	"os"
)

// LogLevel is the verbosity of a LogGroup, set by the log-level option
type LogLevel int

const (
	// ErrLevel=1 - only errors, e.g. unreadable configuration or program files.
	ErrLevel LogLevel = iota + 1

	// WarnLevel=2 - warnings about the program, such as unknown sandbox names or unresolved calls
	WarnLevel

	// InfoLevel=3 - progress of the analyses and the location of the reports
	InfoLevel

	// DebugLevel=4 - per-function information: the contexts of each function, the targets of each call.
	DebugLevel

	// TraceLevel=5 - every step of the fixed point computations. Only useful on small programs.
	TraceLevel
)

// LogGroup is a group of leveled loggers. Each level has its own logger so that the output of one level can be
// redirected without affecting the others.
type LogGroup struct {
	level    LogLevel
	module   string
	function string
	trace    *log.Logger
	debug    *log.Logger
	info     *log.Logger
	warn     *log.Logger
	err      *log.Logger
}

// NewLogGroup returns a log group that is configured to the logging settings stored inside the config
func NewLogGroup(config *Config) *LogGroup {
	l := &LogGroup{
		level:    LogLevel(config.LogLevel),
		module:   config.DebugModule,
		function: config.DebugFunction,
		trace:    log.New(os.Stderr, "[TRACE] ", log.LstdFlags),
		debug:    log.New(os.Stderr, "[DEBUG] ", log.LstdFlags),
		info:     log.New(os.Stderr, "[INFO] ", log.LstdFlags),
		warn:     log.New(os.Stderr, "[WARN] ", log.LstdFlags),
		err:      log.New(os.Stderr, "[ERROR] ", log.LstdFlags),
	}
	return l
}

// SetAllOutput sets all the output writers to the writer provided
func (l *LogGroup) SetAllOutput(w io.Writer) {
	l.trace.SetOutput(w)
	l.debug.SetOutput(w)
	l.info.SetOutput(w)
	l.warn.SetOutput(w)
	l.err.SetOutput(w)
}

// SetAllFlags sets the flag of all loggers in the log group to the argument provided
func (l *LogGroup) SetAllFlags(x int) {
	l.trace.SetFlags(x)
	l.debug.SetFlags(x)
	l.info.SetFlags(x)
	l.warn.SetFlags(x)
	l.err.SetFlags(x)
}

// Tracef logs at the trace level when the group is at least that verbose. Arguments are handled in the manner of Printf
func (l *LogGroup) Tracef(format string, v ...any) {
	if l.level >= TraceLevel {
		l.trace.Printf(format, v...)
	}
}

// Debugf logs at the debug level when the group is at least that verbose. Arguments are handled in the manner of Printf
func (l *LogGroup) Debugf(format string, v ...any) {
	if l.level >= DebugLevel {
		l.debug.Printf(format, v...)
	}
}

// Infof logs at the info level when the group is at least that verbose. Arguments are handled in the manner of Printf
func (l *LogGroup) Infof(format string, v ...any) {
	if l.level >= InfoLevel {
		l.info.Printf(format, v...)
	}
}

// Warnf logs at the warn level when the group is at least that verbose. Arguments are handled in the manner of Printf
func (l *LogGroup) Warnf(format string, v ...any) {
	if l.level >= WarnLevel {
		l.warn.Printf(format, v...)
	}
}

// Errorf logs at the error level when the group is at least that verbose. Arguments are handled in the manner of Printf
func (l *LogGroup) Errorf(format string, v ...any) {
	if l.level >= ErrLevel {
		l.err.Printf(format, v...)
	}
}

// Level returns the level of the log group
func (l *LogGroup) Level() LogLevel {
	return l.level
}

// DebugFor returns true if debug messages about the component or function named name should be printed.
// When debug-module or debug-function is set, only the matching names are debugged.
func (l *LogGroup) DebugFor(name string) bool {
	if l.level < DebugLevel {
		return false
	}
	if l.module == "" && l.function == "" {
		return true
	}
	return name == l.module || name == l.function
}
