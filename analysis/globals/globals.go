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

// Package globals checks the accesses to global variables made by sandboxes and the updates to shared globals that
// sandboxes created earlier will not see.
package globals

import (
	"fmt"

	"github.com/awslabs/ar-soaap-tools/analysis/cfgflow"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/sandbox"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
)

// Analysis computes, for each instruction, the mask of the sandboxes that may have been created before it
// executes. The creation points of the sandboxes seed the masks.
type Analysis struct {
	s      *session.Session
	engine *cfgflow.Engine[uint32]
}

// New returns the analysis of the session
func New(s *session.Session) *Analysis {
	lattice := infoflow.IntMask{Names: s.Sandboxes.StringifyMask}
	return &Analysis{
		s:      s,
		engine: cfgflow.NewEngine[uint32]("globals", lattice, s.CallGraph, s.Logger, s.Sandboxes.IsEntryPoint),
	}
}

// Run runs the analysis and reports the violations
func (a *Analysis) Run() error {
	return a.engine.Run(a)
}

// CreatedBefore returns the mask of the sandboxes that may exist when inst executes
func (a *Analysis) CreatedBefore(inst *ir.Instruction) uint32 {
	mask, _ := a.engine.Fact(inst)
	return mask
}

// Initialise implements cfgflow.Analysis
func (a *Analysis) Initialise(e *cfgflow.Engine[uint32]) error {
	for _, sb := range a.s.Sandboxes.All() {
		for _, create := range sb.CreationPoints() {
			e.Seed(create, sb.Mask())
		}
	}
	return nil
}

// PostDataFlow implements cfgflow.Analysis
func (a *Analysis) PostDataFlow(*cfgflow.Engine[uint32]) error {
	for _, sb := range a.s.Sandboxes.All() {
		a.checkAccesses(sb)
	}
	a.checkLostUpdates()
	return nil
}

// accessedGlobal returns the global variable a load or store pointer refers to, directly or through one
// getelementptr, or nil
func accessedGlobal(ptr ir.Value) *ir.Global {
	ptr = ir.StripPointerCasts(ptr)
	switch x := ptr.(type) {
	case *ir.Instruction:
		if x.Op == ir.OpGEP {
			ptr = x.Operands[0]
		}
	case *ir.ConstExpr:
		if x.Kind == "getelementptr" {
			ptr = x.Operands[0]
		}
	}
	g, _ := ptr.(*ir.Global)
	return g
}

func declaration(g *ir.Global) string {
	if g.Line <= 0 {
		return ""
	}
	return fmt.Sprintf(" (%s:%d)", g.File, g.Line)
}

// sandboxInstructions returns the instructions executing in the sandbox, grouped by function: the instructions
// of its functions and those of its region
func sandboxInstructions(sb *sandbox.Sandbox) map[*ir.Function][]*ir.Instruction {
	res := map[*ir.Function][]*ir.Instruction{}
	for _, f := range sb.Functions() {
		res[f] = f.Instructions()
	}
	for _, inst := range sb.Region {
		f := inst.Function()
		if !sb.ContainsFunction(f) {
			res[f] = append(res[f], inst)
		}
	}
	return res
}

func (a *Analysis) checkAccesses(sb *sandbox.Sandbox) {
	insts := sandboxInstructions(sb)
	for _, f := range orderedFunctions(sb, insts) {
		reportedReads := map[*ir.Global]bool{}
		reportedWrites := map[*ir.Global]bool{}
		for _, inst := range insts[f] {
			switch inst.Op {
			case ir.OpLoad:
				g := accessedGlobal(inst.LoadPointer())
				if g == nil || sb.CanRead(g) || (reportedReads[g] && !a.s.Config.Pedantic) {
					continue
				}
				reportedReads[g] = true
				a.report(inst, sb, g, report.KindGlobalRead, fmt.Sprintf("Sandboxed method %q [%s] read global "+
					"variable %q%s but is not allowed to. If the access is intended, the variable needs to be "+
					"annotated with __soaap_var_read.", f.Name(), sb.Name, g.Name(), declaration(g)))
			case ir.OpStore:
				g := accessedGlobal(inst.StorePointer())
				if g == nil || g.IsDeclaration() || sb.CanWrite(g) || (reportedWrites[g] && !a.s.Config.Pedantic) {
					continue
				}
				reportedWrites[g] = true
				a.report(inst, sb, g, report.KindGlobalWrite, fmt.Sprintf("Sandboxed method %q [%s] wrote to "+
					"global variable %q%s but is not allowed to. If the access is intended, the variable needs "+
					"to be annotated with __soaap_var_write.", f.Name(), sb.Name, g.Name(), declaration(g)))
			}
		}
	}
}

// orderedFunctions returns the keys of insts in the order of the sandbox functions, region function last
func orderedFunctions(sb *sandbox.Sandbox, insts map[*ir.Function][]*ir.Instruction) []*ir.Function {
	res := append([]*ir.Function{}, sb.Functions()...)
	if f := sb.EnclosingFunction(); f != nil && !sb.ContainsFunction(f) && len(insts[f]) > 0 {
		res = append(res, f)
	}
	return res
}

func (a *Analysis) report(inst *ir.Instruction, sb *sandbox.Sandbox, g *ir.Global, kind report.Kind, msg string) {
	a.s.Diagnose(config.AnalysisGlobals, inst, a.s.SandboxTrace(config.AnalysisGlobals, inst, sb),
		report.Diagnostic{
			Kind:     kind,
			Sandbox:  sb.Name,
			Function: inst.Function().Name(),
			Resource: g.Name(),
			Message:  msg,
		})
}

// checkLostUpdates reports the stores to shared globals in privileged code that may execute after the creation of
// sandboxes that can read them
func (a *Analysis) checkLostUpdates() {
	readers := map[*ir.Global]uint32{}
	for _, sb := range a.s.Sandboxes.All() {
		for g := range sb.SharedGlobals() {
			if sb.CanRead(g) {
				readers[g] |= sb.Mask()
			}
		}
	}
	for _, f := range a.s.Sandboxes.PrivilegedFunctions() {
		reported := map[*ir.Global]bool{}
		for _, inst := range f.Instructions() {
			if inst.Op != ir.OpStore {
				continue
			}
			g, ok := inst.StorePointer().(*ir.Global)
			if !ok || reported[g] {
				continue
			}
			stale := readers[g] & a.CreatedBefore(inst)
			if stale == 0 {
				continue
			}
			reported[g] = true
			sandboxes := a.s.Sandboxes.StringifyMask(stale)
			a.s.Diagnose(config.AnalysisGlobals, inst, a.s.PrivilegedTrace(config.AnalysisGlobals, inst),
				report.Diagnostic{
					Kind:     report.KindLostUpdate,
					Resource: g.Name(),
					Message: fmt.Sprintf("Write to shared variable %q%s outside sandbox in method %q will not be "+
						"seen by the sandboxes: %s. Synchronisation is needed to propagate this update to the "+
						"sandboxes.", g.Name(), declaration(g), f.Name(), sandboxes),
					Details: sandboxNames(a.s.Sandboxes.FromMask(stale)),
				})
		}
	}
}

func sandboxNames(sandboxes []*sandbox.Sandbox) []string {
	res := make([]string, len(sandboxes))
	for i, sb := range sandboxes {
		res[i] = "Sandbox " + sb.Name
	}
	return res
}
