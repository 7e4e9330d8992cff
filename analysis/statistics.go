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

package analysis

import (
	"fmt"
	"io"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/classhierarchy"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
)

// Result holds general statistics about a program and its sandboxes
type Result struct {
	NumberOfFunctions         uint
	NumberOfNonemptyFunctions uint
	NumberOfBlocks            uint
	NumberOfInstructions      uint
	// NumberOfGlobals counts the global variables, constants and llvm metadata excluded
	NumberOfGlobals           uint
	NumberOfCalls             uint
	NumberOfIndirectCalls     uint
	NumberOfVirtualCalls      uint
	NumberOfUnresolvedCalls   uint
	NumberOfSandboxes         uint
	NumberOfSandboxedFuncs    uint
	NumberOfPrivilegedFuncs   uint
}

// ProgramStatistics returns a Result for the prepared state s
func ProgramStatistics(s *AnalyzerState) Result {
	result := Result{}
	for _, f := range s.Module.Functions {
		result.NumberOfFunctions++
		if f.IsDeclaration() {
			continue
		}
		result.NumberOfNonemptyFunctions++
		for _, b := range f.Blocks {
			result.NumberOfBlocks++
			result.NumberOfInstructions += uint(len(b.Insts))
			for _, inst := range b.Insts {
				countCall(&result, inst)
			}
		}
	}
	for _, g := range s.Module.Globals {
		if !g.IsConst && !strings.HasPrefix(g.Name(), "llvm.") {
			result.NumberOfGlobals++
		}
	}
	result.NumberOfUnresolvedCalls = uint(len(s.CallGraph.Unresolved()))
	result.NumberOfSandboxes = uint(len(s.Sandboxes.All()))
	sandboxed := map[*ir.Function]bool{}
	for _, sb := range s.Sandboxes.All() {
		for _, f := range sb.Functions() {
			sandboxed[f] = true
		}
	}
	result.NumberOfSandboxedFuncs = uint(len(sandboxed))
	result.NumberOfPrivilegedFuncs = uint(len(s.Sandboxes.PrivilegedFunctions()))
	return result
}

func countCall(result *Result, inst *ir.Instruction) {
	if inst.Op != ir.OpCall || callgraph.IsIntrinsicCall(inst) {
		return
	}
	result.NumberOfCalls++
	if callgraph.IsIndirectCall(inst) {
		result.NumberOfIndirectCalls++
	}
	if classhierarchy.IsVirtualCall(inst) {
		result.NumberOfVirtualCalls++
	}
}

// Print writes the statistics, one per line
func (r Result) Print(w io.Writer) {
	fmt.Fprintf(w, "Functions:             %d (%d defined)\n", r.NumberOfFunctions, r.NumberOfNonemptyFunctions)
	fmt.Fprintf(w, "Blocks:                %d\n", r.NumberOfBlocks)
	fmt.Fprintf(w, "Instructions:          %d\n", r.NumberOfInstructions)
	fmt.Fprintf(w, "Globals:               %d\n", r.NumberOfGlobals)
	fmt.Fprintf(w, "Calls:                 %d (%d indirect, %d virtual, %d unresolved)\n", r.NumberOfCalls,
		r.NumberOfIndirectCalls, r.NumberOfVirtualCalls, r.NumberOfUnresolvedCalls)
	fmt.Fprintf(w, "Sandboxes:             %d\n", r.NumberOfSandboxes)
	fmt.Fprintf(w, "Sandboxed functions:   %d\n", r.NumberOfSandboxedFuncs)
	fmt.Fprintf(w, "Privileged functions:  %d\n", r.NumberOfPrivilegedFuncs)
}
