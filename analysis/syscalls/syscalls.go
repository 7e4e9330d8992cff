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

// Package syscalls checks that the system calls made in sandboxes are allowed, either by the sandbox platform or
// by the system call limits annotated in the sandboxed code.
package syscalls

import (
	"fmt"

	"github.com/awslabs/ar-soaap-tools/analysis/cfgflow"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
	"golang.org/x/tools/container/intsets"
)

// Analysis computes the system calls allowed after each instruction. The limit points of every sandbox seed the
// set of system calls they allow, and the sets flow forward along the control flow.
type Analysis struct {
	s      *session.Session
	engine *cfgflow.Engine[*intsets.Sparse]
}

// New returns the analysis of the sandboxes of the session
func New(s *session.Session) *Analysis {
	lattice := infoflow.BitVector{Names: s.SysCalls.SysCall}
	return &Analysis{
		s:      s,
		engine: cfgflow.NewEngine[*intsets.Sparse]("syscalls", lattice, s.CallGraph, s.Logger, s.Sandboxes.IsEntryPoint),
	}
}

// Run computes the allowed system calls and reports the disallowed ones
func (a *Analysis) Run() error {
	return a.engine.Run(a)
}

// Initialise implements cfgflow.Analysis
func (a *Analysis) Initialise(e *cfgflow.Engine[*intsets.Sparse]) error {
	for _, sb := range a.s.Sandboxes.All() {
		for _, limit := range sb.SysCallLimitPoints() {
			allowed, unknown := a.s.SysCalls.Set(sb.AllowedSysCalls(limit))
			for _, name := range unknown {
				a.s.Logger.Warnf("%q does not appear to be a system call", name)
			}
			a.s.Logger.Debugf("system call limit point at %s allows %s", limit.Position(), e.Lattice.String(allowed))
			e.Seed(limit, allowed)
		}
	}
	return nil
}

// PostDataFlow implements cfgflow.Analysis. It reports every call to a system call in a sandbox that is not
// allowed at that point.
func (a *Analysis) PostDataFlow(e *cfgflow.Engine[*intsets.Sparse]) error {
	for _, sb := range a.s.Sandboxes.All() {
		for _, call := range sb.Calls() {
			for _, callee := range a.s.CallGraph.Callees(call, sb.Context()) {
				name := callee.Name()
				if !a.s.SysCalls.IsSysCall(name) || a.AllowedAt(call, name) {
					continue
				}
				a.s.Diagnose(config.AnalysisSysCalls, call, a.s.SandboxTrace(config.AnalysisSysCalls, call, sb),
					report.Diagnostic{
						Kind:     report.KindSysCall,
						Sandbox:  sb.Name,
						Resource: name,
						Message: fmt.Sprintf("Sandbox %q performs system call %q but it is not allowed to, "+
							"based on the current sandboxing restrictions.", sb.Name, name),
					})
			}
		}
	}
	return nil
}

// AllowedAt returns true if the system call name may be performed at inst. The sandbox platform decides when
// there is one; otherwise only the system calls of a limit point reaching inst are allowed.
func (a *Analysis) AllowedAt(inst *ir.Instruction, name string) bool {
	if a.s.Platform != nil {
		return a.s.Platform.IsSysCallPermitted(name)
	}
	allowed, ok := a.engine.Fact(inst)
	if !ok {
		return false
	}
	idx := a.s.SysCalls.Index(name)
	return idx >= 0 && allowed.Has(idx)
}

// Allowed returns the names of the system calls allowed after inst under the annotated limits
func (a *Analysis) Allowed(inst *ir.Instruction) []string {
	allowed, _ := a.engine.Fact(inst)
	return a.s.SysCalls.Names(allowed)
}
