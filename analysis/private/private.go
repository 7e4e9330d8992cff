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

// Package private checks that data annotated as private to a sandbox is neither read outside of it nor leaked
// by it.
//
// A sandbox may leak its private data through stores to global variables, environment variables, arguments of
// external functions, callgates and entry points of other sandboxes, and values returned by its entry points.
// Values loaded from a declassified local variable carry no private data.
package private

import (
	"fmt"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/sandbox"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
)

// Analysis propagates the masks of the sandboxes owning private data
type Analysis struct {
	s            *session.Session
	declassifier *Declassifier
	engine       *infoflow.Engine[uint32]
}

// New returns the sandbox-private data analysis of the session
func New(s *session.Session) *Analysis {
	lattice := infoflow.IntMask{Names: s.Sandboxes.StringifyMask}
	return &Analysis{
		s:            s,
		declassifier: NewDeclassifier(s),
		engine:       infoflow.NewEngine[uint32]("sandbox-private", lattice, s.Resolver, s.CallGraph, s.Logger),
	}
}

// Run runs the declassifier, propagates the owners of private data and reports accesses and leaks
func (a *Analysis) Run() error {
	if err := a.declassifier.Run(); err != nil {
		return err
	}
	return a.engine.Run(a)
}

// Declassifier returns the declassification analysis the propagation depends on
func (a *Analysis) Declassifier() *Declassifier { return a.declassifier }

// Owners returns the mask of the sandboxes owning the data in v in ctx. Declassified values have no owner.
func (a *Analysis) Owners(v ir.Value, ctx contexts.Context) uint32 {
	if a.declassifier.IsDeclassified(v) {
		return 0
	}
	mask, _ := a.engine.Fact(v, ctx)
	return mask
}

// SkipPropagation implements infoflow.PropagationFilter
func (a *Analysis) SkipPropagation(from ir.Value) bool {
	return a.declassifier.IsDeclassified(from)
}

// Initialise implements infoflow.Analysis
func (a *Analysis) Initialise(e *infoflow.Engine[uint32]) error {
	for _, sb := range a.s.Sandboxes.All() {
		mask := sb.Mask()
		for _, v := range sb.PrivateData() {
			switch x := v.(type) {
			case *ir.Global:
				e.Add(x, contexts.NoContext(), mask)
			case *ir.Instruction:
				target := ir.Value(x)
				if callee := x.CalledFunction(); callee != nil && callee.Name() == annotations.VarAnnotation {
					target = ir.StripPointerCasts(x.Arg(0))
				}
				for _, ctx := range a.s.Resolver.ContextsForFunction(x.Function()) {
					e.Add(target, ctx, mask)
				}
			}
		}
	}
	return nil
}

// PostDataFlow implements infoflow.Analysis
func (a *Analysis) PostDataFlow(*infoflow.Engine[uint32]) error {
	a.checkPrivilegedReads()
	for _, sb := range a.s.Sandboxes.All() {
		a.checkSandboxReads(sb)
		a.checkLeaks(sb)
	}
	return nil
}

func (a *Analysis) checkPrivilegedReads() {
	for _, f := range a.s.Sandboxes.PrivilegedFunctions() {
		for _, inst := range f.Instructions() {
			if inst.Op != ir.OpLoad || !a.s.Sandboxes.IsPrivilegedInstruction(inst) {
				continue
			}
			owners := a.Owners(ir.StripPointerCasts(inst.LoadPointer()), contexts.Priv())
			if owners == 0 {
				continue
			}
			a.s.Diagnose(config.AnalysisInfoFlow, inst, a.s.PrivilegedTrace(config.AnalysisInfoFlow, inst),
				report.Diagnostic{
					Kind:     report.KindPrivateAccess,
					Function: f.Name(),
					Resource: a.s.Sandboxes.StringifyMask(owners),
					Message: fmt.Sprintf("Privileged method %q read data value belonging to sandboxes: %s",
						f.Name(), a.s.Sandboxes.StringifyMask(owners)),
					Details: a.names(owners),
				})
		}
	}
}

func (a *Analysis) checkSandboxReads(sb *sandbox.Sandbox) {
	mask := sb.Mask()
	for _, f := range sb.Functions() {
		for _, inst := range f.Instructions() {
			if inst.Op != ir.OpLoad {
				continue
			}
			owners := a.Owners(ir.StripPointerCasts(inst.LoadPointer()), sb.Context())
			if owners == 0 || owners&mask == owners {
				continue
			}
			a.s.Diagnose(config.AnalysisInfoFlow, inst, a.s.SandboxTrace(config.AnalysisInfoFlow, inst, sb),
				report.Diagnostic{
					Kind:     report.KindPrivateAccess,
					Sandbox:  sb.Name,
					Function: f.Name(),
					Resource: a.s.Sandboxes.StringifyMask(owners),
					Message: fmt.Sprintf("Sandboxed method %q read data value belonging to sandboxes: %s but it "+
						"executes in sandboxes: %s", f.Name(), a.s.Sandboxes.StringifyMask(owners),
						a.s.Sandboxes.StringifyMask(mask)),
					Details: a.names(owners),
				})
		}
	}
}

func (a *Analysis) checkLeaks(sb *sandbox.Sandbox) {
	mask := sb.Mask()
	ctx := sb.Context()
	private := func(v ir.Value) bool { return v != nil && a.Owners(v, ctx)&mask != 0 }
	leak := func(inst *ir.Instruction, resource, format string, args ...interface{}) {
		a.s.Diagnose(config.AnalysisInfoFlow, inst, a.s.SandboxTrace(config.AnalysisInfoFlow, inst, sb),
			report.Diagnostic{
				Kind:     report.KindPrivateLeak,
				Sandbox:  sb.Name,
				Resource: resource,
				Message:  fmt.Sprintf(format, args...),
			})
	}

	for _, f := range sb.Functions() {
		where := fmt.Sprintf("Sandboxed method %q executing in sandboxes: %s", f.Name(), a.s.Sandboxes.StringifyMask(mask))
		for _, inst := range f.Instructions() {
			switch inst.Op {
			case ir.OpStore:
				if g, ok := inst.StorePointer().(*ir.Global); ok && private(inst.StoreValue()) {
					leak(inst, g.Name(), "%s may leak private data through global variable %s", where, g.Name())
				}
			case ir.OpCall:
				callee := inst.CalledFunction()
				if callee == nil || callee.IsIntrinsic() || strings.HasPrefix(callee.Name(), annotations.DeclassifyPrefix) {
					continue
				}
				switch {
				case callee.Name() == "setenv":
					if !private(inst.Arg(1)) {
						continue
					}
					name, _ := ir.StringOf(inst.Arg(0))
					leak(inst, "env:"+name, "%s may leak private data through env var %q", where, name)
				case callee.IsDeclaration():
					for _, arg := range inst.Args() {
						if private(arg) {
							leak(inst, callee.Name(), "%s may leak private data through the extern function %q",
								where, callee.Name())
							break
						}
					}
				case sb.IsCallgate(callee):
					for _, arg := range inst.Args() {
						if private(arg) {
							leak(inst, callee.Name(), "%s may leak private data through callgate %q", where,
								callee.Name())
							break
						}
					}
				default:
					other := a.s.Sandboxes.EntryPointSandbox(callee)
					if other == nil || other == sb {
						continue
					}
					for _, arg := range inst.Args() {
						if private(arg) {
							leak(inst, other.Name, "%s may leak private data through a cross-sandbox call into [%s]",
								where, other.Name)
							break
						}
					}
				}
			case ir.OpRet:
				if sb.IsEntryPoint(f) && private(inst.ReturnValue()) {
					leak(inst, f.Name(), "Sandbox %q may leak private data when returning a value from entrypoint %q",
						sb.Name, f.Name())
				}
			}
		}
	}
}

func (a *Analysis) names(mask uint32) []string {
	var res []string
	for _, sb := range a.s.Sandboxes.FromMask(mask) {
		res = append(res, sb.Name)
	}
	return res
}
