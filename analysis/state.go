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

// Package analysis runs the sandboxing analyses over a program: it prepares the state shared by the checks and
// runs the checks enabled by the configuration in order.
package analysis

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/classhierarchy"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
)

// AnalyzerState holds information that might need to be used during program analysis, and represents the state of
// the analyzer. Different steps of the analysis will populate the fields of this structure.
type AnalyzerState struct {
	*session.Session

	// Hierarchy is the class hierarchy of the program, used to resolve virtual calls
	Hierarchy *classhierarchy.Hierarchy

	// FPTargets are the function pointer target providers of the call graph, annotated targets first
	FPTargets []callgraph.TargetProvider

	// Out receives the listings requested by the configuration
	Out io.Writer

	prepared bool

	// Stored errors
	errors     map[string][]error
	errorMutex sync.Mutex
}

// NewAnalyzerState returns a state for the analysis of m. The shared results are computed by Prepare.
func NewAnalyzerState(m *ir.Module, c *config.Config, l *config.LogGroup) *AnalyzerState {
	return &AnalyzerState{
		Session: &session.Session{
			Module: m,
			Config: c,
			Logger: l,
		},
		Out:    os.Stdout,
		errors: map[string][]error{},
	}
}

// NewDefaultAnalyzer returns a new analyzer state with a default config and a default log group
func NewDefaultAnalyzer(m *ir.Module) *AnalyzerState {
	defaultConfig := config.NewDefault()
	defaultLogGroup := config.NewLogGroup(defaultConfig)
	return NewAnalyzerState(m, defaultConfig, defaultLogGroup)
}

// Prepare computes the results shared by all the checks:
//   - the annotations of the program
//   - the system call table and the sandbox platform model
//   - the class hierarchy and the call graph, with function pointer targets
//   - the sandboxes and the privileged functions
//
// Prepare stops at the first step that fails. Calling it again after a success does nothing.
func (s *AnalyzerState) Prepare() error {
	if s.prepared {
		return nil
	}
	steps := []struct {
		key string
		run func() error
	}{
		{"annotations", s.loadAnnotations},
		{"osmodel", s.loadOSModel},
		{"callgraph", s.buildCallGraph},
		{"sandboxes", s.discoverSandboxes},
	}
	for _, step := range steps {
		s.AddError(step.key, step.run())
		if errs := s.CheckError(); len(errs) > 0 {
			return fmt.Errorf("failed to build analyzer state: %w", errors.Join(errs...))
		}
	}
	s.prepared = true
	return nil
}

// AddError adds an error with key and error e to the state.
func (s *AnalyzerState) AddError(key string, e error) {
	s.errorMutex.Lock()
	defer s.errorMutex.Unlock()
	if e != nil {
		s.errors[key] = append(s.errors[key], e)
	}
}

// CheckError checks whether there is an error in the state, and if there is, returns the first it encounters and
// deletes it. The slice returned contains all the errors associated with one single error key (as used in
// [*AnalyzerState.AddError])
func (s *AnalyzerState) CheckError() []error {
	s.errorMutex.Lock()
	defer s.errorMutex.Unlock()
	for e, errs := range s.errors {
		delete(s.errors, e)
		return errs
	}
	return nil
}

// HasErrors returns true if the state has an error. Unlike [*AnalyzerState.CheckError], this is non-destructive.
func (s *AnalyzerState) HasErrors() bool {
	s.errorMutex.Lock()
	defer s.errorMutex.Unlock()
	for _, errs := range s.errors {
		if len(errs) > 0 {
			return true
		}
	}
	return false
}
