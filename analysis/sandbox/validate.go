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

package sandbox

import (
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"golang.org/x/exp/slices"
)

// CreationViolation is a call to a sandbox entry point that is reachable from main without going through a
// creation point of the sandbox
type CreationViolation struct {
	Sandbox    *Sandbox
	EntryPoint *ir.Function
	// Trace is the sequence of calls leading to the entry point call, the entry point call first
	Trace []*ir.Instruction
}

// ValidateCreationPoints checks, for every sandbox with creation points, that the calls to its entry points are
// preceded by a creation point on every path from main. Creation points are treated as leaves of the traversal:
// an entry point call that is still reached has a path without sandbox creation.
func (m *Model) ValidateCreationPoints() []CreationViolation {
	var violations []CreationViolation
	mainFn := m.module.Function("main")
	if mainFn == nil || mainFn.IsDeclaration() {
		return nil
	}
	for _, s := range m.sandboxes {
		if len(s.EntryPoints) == 0 || len(s.creationPoints) == 0 {
			continue
		}
		v := &creationValidator{model: m, sandbox: s, visited: map[*ir.Block]bool{}}
		v.visit(mainFn.Entry())
		violations = append(violations, v.violations...)
	}
	for _, v := range violations {
		m.logger.Warnf("Found call to sandbox entry point %q that is not preceded by sandbox creation at %s",
			v.EntryPoint.Name(), v.Trace[0].Position())
	}
	return violations
}

type creationValidator struct {
	model      *Model
	sandbox    *Sandbox
	visited    map[*ir.Block]bool
	trace      []*ir.Instruction
	violations []CreationViolation
}

// visit returns true when every path from the start of b goes through a creation point
func (v *creationValidator) visit(b *ir.Block) bool {
	if v.visited[b] {
		return false
	}
	v.visited[b] = true
	for _, inst := range b.Insts {
		if slices.Contains(v.sandbox.creationPoints, inst) {
			return true
		}
		if inst.Op != ir.OpCall {
			continue
		}
		v.trace = append(v.trace, inst)
		for _, callee := range v.model.callgraph.Callees(inst, contexts.Priv()) {
			if callee.IsDeclaration() {
				continue
			}
			if v.sandbox.IsEntryPoint(callee) {
				v.violations = append(v.violations, CreationViolation{
					Sandbox:    v.sandbox,
					EntryPoint: callee,
					Trace:      reversed(v.trace),
				})
				v.trace = v.trace[:len(v.trace)-1]
				return false
			}
			if v.visit(callee.Entry()) {
				v.trace = v.trace[:len(v.trace)-1]
				return true
			}
		}
		v.trace = v.trace[:len(v.trace)-1]
	}
	succs := b.Succs()
	all := len(succs) > 0
	for _, succ := range succs {
		all = v.visit(succ) && all
	}
	return all
}

func reversed(trace []*ir.Instruction) []*ir.Instruction {
	res := make([]*ir.Instruction, len(trace))
	for i, inst := range trace {
		res[len(trace)-1-i] = inst
	}
	return res
}
