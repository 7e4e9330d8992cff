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
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
)

// SandboxedTrace returns the call stack reaching inst inside sandbox s, innermost first: inst, then the calls from
// an entry point of s to the function of inst, then the privileged calls from main to that entry point. For a
// region sandbox, the privileged path to the function enclosing the region is used.
func (m *Model) SandboxedTrace(inst *ir.Instruction, s *Sandbox) []*ir.Instruction {
	trace := []*ir.Instruction{inst}
	f := inst.Function()
	if len(s.EntryPoints) > 0 {
		if path, ok := m.callgraph.SandboxedPathTo(f, s.EntryPoints, m); ok {
			trace = append(trace, path...)
		}
		return trace
	}
	if enclosing := s.EnclosingFunction(); enclosing != nil && enclosing != f {
		if path, ok := m.callgraph.ShortestPathFrom(enclosing, f, m.IsEntryPoint); ok {
			trace = append(trace, path...)
			f = enclosing
		}
	}
	if path, ok := m.callgraph.PrivilegedPathTo(f, m); ok {
		trace = append(trace, path...)
	}
	return trace
}

// PrivilegedTrace returns the call stack reaching inst in privileged code, innermost first
func (m *Model) PrivilegedTrace(inst *ir.Instruction) []*ir.Instruction {
	trace := []*ir.Instruction{inst}
	if path, ok := m.callgraph.PrivilegedPathTo(inst.Function(), m); ok {
		trace = append(trace, path...)
	}
	return trace
}
