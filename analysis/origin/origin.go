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

// Package origin tracks the values returned by sandboxes to privileged code and reports the privileged calls
// through function pointers that a sandbox may have provided
package origin

import (
	"fmt"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
)

// Analysis is the access origin analysis
type Analysis struct {
	s      *session.Session
	engine *infoflow.Engine[infoflow.OriginKind]
	// sources are the privileged calls to sandbox entry points
	sources []*ir.Instruction
}

// New returns the access origin analysis of the session
func New(s *session.Session) *Analysis {
	return &Analysis{
		s:      s,
		engine: infoflow.NewEngine[infoflow.OriginKind]("access-origin", infoflow.Origin{}, s.Resolver, s.CallGraph, s.Logger),
	}
}

// Run propagates the origins and reports untrusted function pointer calls
func (a *Analysis) Run() error {
	return a.engine.Run(a)
}

// Origin returns the origin of v in privileged code
func (a *Analysis) Origin(v ir.Value) infoflow.OriginKind {
	o, _ := a.engine.Fact(v, contexts.Priv())
	return o
}

// Sources returns the privileged calls into sandboxes
func (a *Analysis) Sources() []*ir.Instruction { return a.sources }

// Initialise implements infoflow.Analysis. The results of privileged calls to sandbox entry points come from
// sandboxes.
func (a *Analysis) Initialise(e *infoflow.Engine[infoflow.OriginKind]) error {
	a.sources = nil
	for _, f := range a.s.Sandboxes.PrivilegedFunctions() {
		for _, inst := range f.Instructions() {
			if inst.Op != ir.OpCall {
				continue
			}
			for _, callee := range a.s.CallGraph.Callees(inst, contexts.Priv()) {
				if a.s.Sandboxes.IsEntryPoint(callee) {
					e.Seed(inst, contexts.Priv(), infoflow.FromSandbox)
					a.sources = append(a.sources, inst)
					break
				}
			}
		}
	}
	return nil
}

// PostDataFlow implements infoflow.Analysis
func (a *Analysis) PostDataFlow(e *infoflow.Engine[infoflow.OriginKind]) error {
	for _, f := range a.s.Sandboxes.PrivilegedFunctions() {
		for _, inst := range f.Instructions() {
			if inst.Op != ir.OpCall || inst.CalledFunction() != nil {
				continue
			}
			if o, _ := e.Fact(inst.Callee(), contexts.Priv()); o != infoflow.FromSandbox {
				continue
			}
			a.s.Diagnose(config.AnalysisVulnerability, inst, a.s.PrivilegedTrace(config.AnalysisVulnerability, inst),
				report.Diagnostic{
					Kind:    report.KindUntrustedFP,
					Message: fmt.Sprintf("Untrusted function pointer call in %s", f.Name()),
					Details: a.causes(f),
				})
		}
	}
	return nil
}

// causes returns the positions of the calls into sandboxes whose results may reach f
func (a *Analysis) causes(f *ir.Function) []string {
	var res []string
	for _, src := range a.sources {
		via := src.Function()
		if via != f {
			if _, ok := a.s.CallGraph.ShortestPathFrom(via, f, a.s.Sandboxes.IsEntryPoint); !ok {
				continue
			}
		}
		res = append(res, fmt.Sprintf("Possible cause: value returned by the sandbox at %s", src.Position()))
	}
	return res
}
