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

package callgraph

import (
	"fmt"
	"io"

	"github.com/awslabs/ar-soaap-tools/analysis/classhierarchy"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"golang.org/x/exp/slices"
)

const (
	indent1 = "  "
	indent2 = "    "
	indent3 = "      "
	indent4 = "        "
)

// fpCalls returns the indirect calls of defined functions, grouped by function in module order
func (g *Graph) fpCalls() ([]*ir.Function, map[*ir.Function][]*ir.Instruction) {
	var fns []*ir.Function
	calls := map[*ir.Function][]*ir.Instruction{}
	for _, f := range g.module.Functions {
		if f.IsDeclaration() {
			continue
		}
		for _, inst := range f.Instructions() {
			if inst.Op == ir.OpCall && !IsIntrinsicCall(inst) && IsIndirectCall(inst) {
				if len(calls[f]) == 0 {
					fns = append(fns, f)
				}
				calls[f] = append(calls[f], inst)
			}
		}
	}
	return fns, calls
}

// ListFPCalls writes the function pointer calls of each function. Functions that execute in a sandbox are
// marked. Calls without debug location are counted but not listed.
func (g *Graph) ListFPCalls(w io.Writer, sandboxes contexts.SandboxIndex) {
	fns, calls := g.fpCalls()
	total := 0
	for _, f := range fns {
		displayed := false
		for _, call := range calls[f] {
			total++
			if call.Loc == nil {
				continue
			}
			if !displayed {
				sandboxed := ""
				if sandboxes != nil && len(sandboxes.FunctionSandboxes(f)) > 0 {
					sandboxed = " (sandboxed) "
				}
				fmt.Fprintf(w, "%s%s%s:\n", indent1, f.Name(), sandboxed)
				displayed = true
			}
			fmt.Fprintf(w, "%sCall: %s\n", indent2, call.Position())
		}
	}
	fmt.Fprintf(w, "%d function-pointer calls in total\n", total)
}

// ListFPTargets writes the targets of each function pointer call, with the provider that found them
func (g *Graph) ListFPTargets(w io.Writer) {
	fns, calls := g.fpCalls()
	total := 0
	for _, f := range fns {
		for _, call := range calls[f] {
			total++
			if call.Loc == nil {
				continue
			}
			fmt.Fprintf(w, "%sFunction \"%s\"\n", indent1, f.Name())
			fmt.Fprintf(w, "%sCall at %s\n", indent2, call.Position())
			fmt.Fprintf(w, "%sTargets:\n", indent3)
			fp := call.Callee()
			for _, p := range providersByKind(g.providers) {
				for _, t := range p.Targets(fp) {
					fmt.Fprintf(w, "%s%s (%s)\n", indent4, t.Name(), p.Kind())
				}
			}
			if g.hierarchy != nil && classhierarchy.IsVirtualCall(call) {
				for _, t := range g.hierarchy.CalleesForVirtualCall(call) {
					fmt.Fprintf(w, "%s%s (inferred virtual)\n", indent4, t.Name())
				}
			}
			fmt.Fprintf(w, "\n")
		}
	}
	fmt.Fprintf(w, "%d function-pointer calls in total\n", total)
}

// ListAllFuncs writes the names of the defined functions, then the groups of recursive functions
func (g *Graph) ListAllFuncs(w io.Writer) {
	for _, f := range g.module.Functions {
		if !f.IsDeclaration() {
			fmt.Fprintf(w, "%s\n", f.Name())
		}
	}
	for _, group := range g.RecursiveFunctions() {
		fmt.Fprintf(w, "recursive:")
		for _, f := range group {
			fmt.Fprintf(w, " %s", f.Name())
		}
		fmt.Fprintf(w, "\n")
	}
}

func providersByKind(providers []TargetProvider) []TargetProvider {
	res := slices.Clone(providers)
	slices.SortStableFunc(res, func(a, b TargetProvider) bool { return a.Kind() < b.Kind() })
	return res
}
