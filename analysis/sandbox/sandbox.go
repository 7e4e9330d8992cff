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

// Package sandbox discovers the sandboxes declared by annotations and computes, for each of them, the functions,
// calls and resources they are granted.
package sandbox

import (
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"golang.org/x/exp/slices"
)

// Access is a set of permissions on a shared global variable
type Access uint8

const (
	// Read allows a sandbox to read a global
	Read Access = 1 << iota
	// Write allows a sandbox to write a global
	Write
)

func (a Access) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	case Read | Write:
		return "read,write"
	}
	return "none"
}

// Sandbox is a sandbox of the program. A sandbox is either entered by calling one of its entry points, or is a
// region of code delimited by region start and end annotations. Sandboxes that are only named by other
// annotations have neither.
type Sandbox struct {
	Name string
	// Index is the bit of the sandbox in sandbox masks
	Index int
	// EntryPoints are the annotated functions entering the sandbox, in module order
	EntryPoints []*ir.Function
	// Region is the list of instructions of a sandboxed region, in discovery order. Empty for sandboxes with
	// entry points.
	Region     []*ir.Instruction
	Persistent bool
	// Overhead is the accepted performance overhead, in percent
	Overhead int
	// Clearances is the mask of the classification labels the sandbox may read
	Clearances uint32

	model     *Model
	regionSet map[*ir.Instruction]bool

	functions      []*ir.Function
	functionSet    map[*ir.Function]bool
	calls          []*ir.Instruction
	topLevelCalls  []*ir.Instruction
	callgates      []*ir.Function
	sharedGlobals  map[*ir.Global]Access
	capabilities   map[ir.Value][]string
	creationPoints []*ir.Instruction
	limitPoints    []*ir.Instruction
	allowed        map[*ir.Instruction][]string
	privateData    []ir.Value
}

func newSandbox(m *Model, name string, index int) *Sandbox {
	return &Sandbox{model: m, Name: name, Index: index, regionSet: map[*ir.Instruction]bool{}}
}

func (s *Sandbox) setRegion(region []*ir.Instruction) {
	s.Region = region
	s.regionSet = make(map[*ir.Instruction]bool, len(region))
	for _, inst := range region {
		s.regionSet[inst] = true
	}
}

// Context returns the context of code running in the sandbox
func (s *Sandbox) Context() contexts.Context {
	return contexts.ForSandbox(s.Index, s.Name)
}

// Mask returns the sandbox mask with only the bit of the sandbox set
func (s *Sandbox) Mask() uint32 {
	return 1 << uint(s.Index)
}

func (s *Sandbox) String() string { return s.Name }

// IsEntryPoint returns true if f is one of the entry points of the sandbox
func (s *Sandbox) IsEntryPoint(f *ir.Function) bool {
	return slices.Contains(s.EntryPoints, f)
}

// IsRegion returns true for sandboxes delimited by region annotations
func (s *Sandbox) IsRegion() bool {
	return len(s.EntryPoints) == 0 && len(s.Region) > 0
}

// EnclosingFunction returns the function containing the region of a region sandbox, and nil otherwise
func (s *Sandbox) EnclosingFunction() *ir.Function {
	if len(s.EntryPoints) > 0 || len(s.Region) == 0 {
		return nil
	}
	return s.Region[0].Function()
}

// IsRegionWithin returns true if the sandbox is a region of f
func (s *Sandbox) IsRegionWithin(f *ir.Function) bool {
	return f != nil && s.EnclosingFunction() == f
}

// Functions returns the functions executing in the sandbox, in discovery order
func (s *Sandbox) Functions() []*ir.Function { return s.functions }

// ContainsFunction returns true if f executes in the sandbox
func (s *Sandbox) ContainsFunction(f *ir.Function) bool { return s.functionSet[f] }

// ContainsInstruction returns true if i is in the region of the sandbox or in one of its functions
func (s *Sandbox) ContainsInstruction(i *ir.Instruction) bool {
	if len(s.EntryPoints) == 0 && s.regionSet[i] {
		return true
	}
	return s.functionSet[i.Function()]
}

// Calls returns every call executing in the sandbox
func (s *Sandbox) Calls() []*ir.Instruction { return s.calls }

// TopLevelCalls returns the calls of the entry points, or of the region
func (s *Sandbox) TopLevelCalls() []*ir.Instruction { return s.topLevelCalls }

// Callgates returns the functions the sandbox may call to execute with privileges
func (s *Sandbox) Callgates() []*ir.Function { return s.callgates }

// IsCallgate returns true if f is a callgate of the sandbox
func (s *Sandbox) IsCallgate(f *ir.Function) bool { return slices.Contains(s.callgates, f) }

// SharedGlobals returns the globals shared with the sandbox and the accesses permitted on them
func (s *Sandbox) SharedGlobals() map[*ir.Global]Access { return s.sharedGlobals }

// CanRead returns true if the sandbox is allowed to read g
func (s *Sandbox) CanRead(g *ir.Global) bool { return s.sharedGlobals[g]&Read != 0 }

// CanWrite returns true if the sandbox is allowed to write g
func (s *Sandbox) CanWrite(g *ir.Global) bool { return s.sharedGlobals[g]&Write != 0 }

// Capabilities returns the file descriptors passed to the sandbox with the system calls allowed on each. Keys
// are parameters of entry points, or the llvm.ptr.annotation calls annotating struct fields.
func (s *Sandbox) Capabilities() map[ir.Value][]string { return s.capabilities }

// CapabilityValues returns the keys of Capabilities, sorted by value ID
func (s *Sandbox) CapabilityValues() []ir.Value {
	keys := make([]ir.Value, 0, len(s.capabilities))
	for v := range s.capabilities {
		keys = append(keys, v)
	}
	return ir.SortValues(keys)
}

// CreationPoints returns the annotated calls creating the sandbox
func (s *Sandbox) CreationPoints() []*ir.Instruction { return s.creationPoints }

// SysCallLimitPoints returns the annotations limiting the system calls within the sandbox
func (s *Sandbox) SysCallLimitPoints() []*ir.Instruction { return s.limitPoints }

// AllowedSysCalls returns the system calls allowed after the limit point
func (s *Sandbox) AllowedSysCalls(limitPoint *ir.Instruction) []string { return s.allowed[limitPoint] }

// PrivateData returns the values private to the sandbox: annotated locals, annotated struct field pointers and
// annotated globals
func (s *Sandbox) PrivateData() []ir.Value { return s.privateData }

// Init computes the functions, calls and resources of the sandbox. It is called again by Reinit when the call
// graph changes.
func (s *Sandbox) Init() {
	s.functions = nil
	s.functionSet = map[*ir.Function]bool{}
	s.calls = nil
	s.topLevelCalls = nil
	s.callgates = nil
	s.sharedGlobals = map[*ir.Global]Access{}
	s.capabilities = map[ir.Value][]string{}
	s.creationPoints = nil
	s.limitPoints = nil
	s.allowed = map[*ir.Instruction][]string{}
	s.privateData = nil

	logger := s.model.logger
	logger.Tracef("Initializing sandbox %s", s.Name)
	s.findFunctions()
	s.findCalls()
	s.findSharedGlobals()
	s.findCallgates()
	if len(s.EntryPoints) > 0 {
		s.findCapabilities()
	}
	s.findCreationPoints()
	s.findAllowedSysCalls()
	s.findPrivateData()
	logger.Debugf("Sandbox %s: %d functions, %d calls, %d callgates, %d shared globals", s.Name,
		len(s.functions), len(s.calls), len(s.callgates), len(s.sharedGlobals))
}

func (s *Sandbox) findFunctions() {
	var initial []*ir.Function
	if len(s.EntryPoints) == 0 {
		for _, inst := range s.Region {
			if inst.Op != ir.OpCall {
				continue
			}
			for _, f := range s.model.callgraph.Callees(inst, s.Context()) {
				if !f.IsDeclaration() && !slices.Contains(initial, f) {
					initial = append(initial, f)
				}
			}
		}
	} else {
		initial = s.EntryPoints
	}
	for _, f := range initial {
		s.visit(f)
	}
}

func (s *Sandbox) visit(f *ir.Function) {
	if s.functionSet[f] {
		return
	}
	// other sandboxes are not entered
	if s.model.entryPoints[f] != nil && !s.IsEntryPoint(f) {
		return
	}
	s.functions = append(s.functions, f)
	s.functionSet[f] = true
	for _, callee := range functionCallees(s.model, f, s.Context()) {
		s.visit(callee)
	}
}

func (s *Sandbox) findCalls() {
	for _, f := range s.functions {
		for _, inst := range f.Instructions() {
			if inst.Op == ir.OpCall {
				s.calls = append(s.calls, inst)
			}
		}
	}
	if len(s.EntryPoints) == 0 {
		for _, inst := range s.Region {
			if inst.Op == ir.OpCall {
				s.calls = append(s.calls, inst)
				s.topLevelCalls = append(s.topLevelCalls, inst)
			}
		}
		return
	}
	for _, ep := range s.EntryPoints {
		for _, inst := range ep.Instructions() {
			if inst.Op == ir.OpCall {
				s.topLevelCalls = append(s.topLevelCalls, inst)
			}
		}
	}
}

func (s *Sandbox) findSharedGlobals() {
	for _, g := range s.model.module.Globals {
		for _, a := range s.model.annotations.ForGlobal(g) {
			switch {
			case a.Kind == annotations.VarRead && a.Payload == s.Name:
				s.sharedGlobals[g] |= Read
			case a.Kind == annotations.VarWrite && a.Payload == s.Name:
				s.sharedGlobals[g] |= Write
			}
		}
	}
}

// findCallgates reads the arguments of the calls to __soaap_declare_callgates_helper_<name>. The first argument
// is a placeholder.
func (s *Sandbox) findCallgates() {
	helper := s.model.module.Function(annotations.CallgatesHelperPrefix + s.Name)
	if helper == nil {
		return
	}
	for _, user := range helper.Users() {
		call, ok := user.(*ir.Instruction)
		if !ok || call.Op != ir.OpCall || call.CalledFunction() != helper {
			continue
		}
		args := call.Args()
		if len(args) > 0 {
			args = args[1:]
		}
		for _, arg := range args {
			gate := ir.FunctionOf(arg)
			if gate == nil {
				s.model.logger.Warnf("Callgate argument %s of %s is not a function", arg, call)
				continue
			}
			if !slices.Contains(s.callgates, gate) {
				s.callgates = append(s.callgates, gate)
			}
		}
	}
}

func (s *Sandbox) findCapabilities() {
	for _, a := range s.model.annotations.VarAnnotations() {
		if a.Kind != annotations.FD || !s.IsEntryPoint(a.Function()) {
			continue
		}
		param := annotatedParam(a.Target, a.Function())
		if param == nil {
			s.model.logger.Warnf("fd annotation %q in %s does not apply to a parameter", a.Raw, a.Function().Name())
			continue
		}
		s.capabilities[param] = s.model.sysCallList(a.List())
	}
	for _, a := range s.model.annotations.PtrAnnotations() {
		if a.Kind != annotations.FD || !s.IsEntryPoint(a.Function()) {
			continue
		}
		name, list, ok := splitQuotedName(a.Payload)
		if !ok || name != s.Name {
			continue
		}
		s.capabilities[a.Site] = s.model.sysCallList(annotations.ParseList(list))
	}
}

// annotatedParam returns the parameter whose stack slot is local: the parameter stored into it, or the parameter
// whose name is the slot name without its ".addr" suffix.
func annotatedParam(local ir.Value, f *ir.Function) *ir.Param {
	if p, ok := local.(*ir.Param); ok {
		return p
	}
	for _, user := range local.Users() {
		if st, ok := user.(*ir.Instruction); ok && st.Op == ir.OpStore && st.StorePointer() == local {
			if p, ok := st.StoreValue().(*ir.Param); ok {
				return p
			}
		}
	}
	name := local.Name()
	if i := strings.Index(name, ".addr"); i > 0 {
		name = name[:i]
	}
	for _, p := range f.Params {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// splitQuotedName splits `"name"rest` into name and rest
func splitQuotedName(payload string) (string, string, bool) {
	start := strings.Index(payload, "\"")
	if start < 0 {
		return "", "", false
	}
	end := strings.Index(payload[start+1:], "\"")
	if end < 0 {
		return "", "", false
	}
	end += start + 1
	return payload[start+1 : end], payload[end+1:], true
}

func (s *Sandbox) findCreationPoints() {
	for _, a := range s.model.annotations.ValueAnnotations() {
		if a.Payload != s.Name {
			continue
		}
		switch a.Kind {
		case annotations.PersistentSandboxCreate:
			s.creationPoints = append(s.creationPoints, a.Site)
			s.Persistent = true
		case annotations.EphemeralSandboxCreate:
			s.creationPoints = append(s.creationPoints, a.Site)
			s.Persistent = false
		}
	}
}

func (s *Sandbox) findAllowedSysCalls() {
	for _, a := range s.model.annotations.ValueAnnotations() {
		if a.Kind != annotations.SysCalls || !s.ContainsInstruction(a.Site) {
			continue
		}
		s.limitPoints = append(s.limitPoints, a.Site)
		s.allowed[a.Site] = s.model.sysCallList(a.List())
	}
}

func (s *Sandbox) findPrivateData() {
	for _, a := range s.model.annotations.PtrAnnotations() {
		if a.Kind == annotations.SandboxPrivate && a.Payload == s.Name {
			s.privateData = append(s.privateData, a.Site)
		}
	}
	for _, a := range s.model.annotations.VarAnnotations() {
		if a.Kind == annotations.SandboxPrivate && a.Payload == s.Name {
			s.privateData = append(s.privateData, a.Site)
		}
	}
	for _, g := range s.model.module.Globals {
		for _, a := range s.model.annotations.ForGlobal(g) {
			if a.Kind == annotations.SandboxPrivate && a.Payload == s.Name {
				s.privateData = append(s.privateData, g)
			}
		}
	}
}

// functionCallees returns the callees of the calls of f in context ctx, deduplicated, in order of first call
func functionCallees(m *Model, f *ir.Function, ctx contexts.Context) []*ir.Function {
	var res []*ir.Function
	seen := map[*ir.Function]bool{}
	for _, inst := range f.Instructions() {
		if inst.Op != ir.OpCall {
			continue
		}
		for _, callee := range m.callgraph.Callees(inst, ctx) {
			if !seen[callee] {
				seen[callee] = true
				res = append(res, callee)
			}
		}
	}
	return res
}
