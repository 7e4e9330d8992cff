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

// Package session holds the results shared by the checks of an analysis run: the program, its annotations, call
// graph and sandboxes, the operating system model and the report the checks write to.
package session

import (
	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/osmodel"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/sandbox"
)

// Session is the state of one analysis run. It is built step by step by the pipeline; each check reads the
// fields computed before it.
type Session struct {
	Module      *ir.Module
	Config      *config.Config
	Logger      *config.LogGroup
	Annotations *annotations.ProgramAnnotations
	CallGraph   *callgraph.Graph
	Sandboxes   *sandbox.Model
	Resolver    *contexts.Resolver
	SysCalls    *osmodel.Provider
	// Platform is nil when the sandboxing restrictions come from annotations only
	Platform osmodel.Platform
	Report   *report.Report
}

// Diagnose completes d with the location of site, the enclosing function and the trace of the call stack, then
// adds it to the report. The trace is only kept when traces are enabled for analysis.
func (s *Session) Diagnose(analysis string, site ir.Value, trace []*ir.Instruction, d report.Diagnostic) bool {
	d.Location = s.Report.At(site)
	if d.Function == "" {
		d.Function = d.Location.Function
	}
	d.Trace = s.Report.Trace(analysis, trace)
	added := s.Report.Add(site, d)
	if added {
		s.Logger.Debugf("%s: %s", d.Kind, d.Message)
	}
	return added
}

// SandboxTrace returns the trace of inst in sandbox sb when traces are enabled for analysis
func (s *Session) SandboxTrace(analysis string, inst *ir.Instruction, sb *sandbox.Sandbox) []*ir.Instruction {
	if !s.Config.TracesEnabled(analysis) {
		return nil
	}
	return s.Sandboxes.SandboxedTrace(inst, sb)
}

// PrivilegedTrace returns the trace of inst in privileged code when traces are enabled for analysis
func (s *Session) PrivilegedTrace(analysis string, inst *ir.Instruction) []*ir.Instruction {
	if !s.Config.TracesEnabled(analysis) {
		return nil
	}
	return s.Sandboxes.PrivilegedTrace(inst)
}
