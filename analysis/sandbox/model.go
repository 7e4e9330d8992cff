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
	"fmt"
	"io"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/internal/funcutil"
	"golang.org/x/exp/slices"
)

// MaxSandboxes is the number of sandboxes sandbox masks can represent
const MaxSandboxes = 32

// Inputs are the results of the earlier steps of an analysis session that sandbox discovery needs
type Inputs struct {
	Module      *ir.Module
	Annotations *annotations.ProgramAnnotations
	CallGraph   *callgraph.Graph
	Logger      *config.LogGroup
	// IsSysCall filters the system call names of fd capabilities and system call limits. When nil, a name is
	// kept when the module declares a function with that name.
	IsSysCall func(name string) bool
}

// Model is the set of sandboxes of a program together with the privileged functions. It implements
// contexts.SandboxIndex.
type Model struct {
	module      *ir.Module
	annotations *annotations.ProgramAnnotations
	callgraph   *callgraph.Graph
	logger      *config.LogGroup
	isSysCall   func(string) bool

	sandboxes   []*Sandbox
	names       *annotations.ClassIndex
	entryPoints map[*ir.Function]*Sandbox

	privileged     map[*ir.Function]bool
	privilegedList []*ir.Function
}

// Discover finds the sandboxes of the program and initializes them.
//
// Sandboxes with entry points come first, by name, then sandboxed regions in module order, then the sandboxes
// that are only referenced by private data, shared global, sandboxed function or callgate annotations. Each name
// gets the next bit index.
func Discover(in Inputs) (*Model, error) {
	m := &Model{
		module:      in.Module,
		annotations: in.Annotations,
		callgraph:   in.CallGraph,
		logger:      in.Logger,
		isSysCall:   in.IsSysCall,
		names:       annotations.NewClassIndex(),
		entryPoints: map[*ir.Function]*Sandbox{},
	}
	if m.isSysCall == nil {
		m.isSysCall = func(name string) bool { return in.Module.Function(name) != nil }
	}
	if err := m.findEntryPointSandboxes(); err != nil {
		return m, err
	}
	if err := m.findRegionSandboxes(); err != nil {
		return m, err
	}
	if err := m.findReferencedSandboxes(); err != nil {
		return m, err
	}
	for _, s := range m.sandboxes {
		s.Init()
	}
	m.computePrivileged()
	m.logger.Infof("Found %d sandboxes", len(m.sandboxes))
	return m, nil
}

func (m *Model) assignIndex(name string) (int, error) {
	if _, exists := m.names.Index(name); exists {
		return -1, fmt.Errorf("sandbox with name %s already exists", name)
	}
	idx, ok := m.names.Assign(name)
	if !ok {
		return -1, fmt.Errorf("sandbox %s: more than %d sandboxes", name, MaxSandboxes)
	}
	return idx, nil
}

func (m *Model) findEntryPointSandboxes() error {
	sandboxOf := map[*ir.Function]string{}
	entries := map[string][]*ir.Function{}
	ephemeral := map[string]bool{}
	overhead := map[*ir.Function]int{}
	clearances := map[*ir.Function]uint32{}
	classes := m.annotations.Classes()

	for _, f := range m.module.Functions {
		for _, a := range m.annotations.ForFunction(f) {
			switch a.Kind {
			case annotations.SandboxPersistent, annotations.SandboxEphemeral:
				m.logger.Debugf("Found sandbox entry point %s (%s)", f.Name(), a.Raw)
				if a.Kind == annotations.SandboxEphemeral {
					ephemeral[a.Payload] = true
				}
				if other, ok := sandboxOf[f]; ok {
					m.logger.Errorf("Function %s is already an entry point for sandbox %s", f.Name(), other)
					continue
				}
				sandboxOf[f] = a.Payload
				entries[a.Payload] = append(entries[a.Payload], f)
			case annotations.PerfOverhead:
				if n, ok := a.Overhead(); ok {
					overhead[f] = n
				}
			case annotations.Clearance:
				clearances[f] |= classes.Mask(a.Payload)
			}
		}
	}

	for _, name := range funcutil.SortedKeys(entries) {
		idx, err := m.assignIndex(name)
		if err != nil {
			return err
		}
		s := newSandbox(m, name, idx)
		s.EntryPoints = entries[name]
		s.Persistent = !ephemeral[name]
		// any entry point may carry the overhead and the clearances
		for _, ep := range s.EntryPoints {
			if n, ok := overhead[ep]; ok {
				s.Overhead = n
			}
			if c, ok := clearances[ep]; ok {
				s.Clearances = c
			}
			m.entryPoints[ep] = s
		}
		m.sandboxes = append(m.sandboxes, s)
	}
	return nil
}

func (m *Model) findRegionSandboxes() error {
	for _, a := range m.annotations.ValueAnnotations() {
		if a.Kind != annotations.RegionStart {
			continue
		}
		region, found := regionFrom(a.Site, a.Payload)
		if !found {
			m.logger.Warnf("Could not find the end of sandboxed region %s started at %s, assuming the sandbox "+
				"ends at the end of function %s", a.Payload, a.Site.Position(), a.Site.Function().Name())
		}
		idx, err := m.assignIndex(a.Payload)
		if err != nil {
			return err
		}
		s := newSandbox(m, a.Payload, idx)
		s.setRegion(region)
		m.sandboxes = append(m.sandboxes, s)
	}
	return nil
}

// regionFrom collects the instructions from start until the region end annotation of name, following block
// successors. The end annotation is part of the region. It returns false when no end was found.
func regionFrom(start *ir.Instruction, name string) ([]*ir.Instruction, bool) {
	var insts []*ir.Instruction
	visited := map[*ir.Block]bool{}
	var visit func(b *ir.Block, from int) bool
	visit = func(b *ir.Block, from int) bool {
		visited[b] = true
		for _, inst := range b.Insts[from:] {
			insts = append(insts, inst)
			if isRegionEnd(inst, name) {
				return true
			}
		}
		for _, succ := range b.Succs() {
			if !visited[succ] && visit(succ, 0) {
				return true
			}
		}
		return false
	}
	found := visit(start.Parent, start.Index)
	return insts, found
}

func isRegionEnd(inst *ir.Instruction, name string) bool {
	callee := inst.CalledFunction()
	if callee == nil || !strings.HasPrefix(callee.Name(), "llvm.annotation.") {
		return false
	}
	s, ok := ir.StringOf(inst.Arg(1))
	if !ok {
		return false
	}
	kind, payload := annotations.Parse(s)
	return kind == annotations.RegionEnd && payload == name
}

func (m *Model) findReferencedSandboxes() error {
	var referenced []string
	for _, a := range m.annotations.PtrAnnotations() {
		if a.Kind == annotations.SandboxPrivate {
			referenced = append(referenced, a.Payload)
		}
	}
	for _, a := range m.annotations.VarAnnotations() {
		if a.Kind == annotations.SandboxPrivate {
			referenced = append(referenced, a.Payload)
		}
	}
	for _, a := range m.annotations.All {
		if a.Source != annotations.FromGlobal {
			continue
		}
		switch a.Kind {
		case annotations.SandboxPrivate, annotations.VarRead, annotations.VarWrite:
			referenced = append(referenced, a.Payload)
		case annotations.Sandboxed:
			referenced = append(referenced, a.List()...)
		}
	}
	for _, f := range m.module.Functions {
		if name, ok := strings.CutPrefix(f.Name(), annotations.CallgatesHelperPrefix); ok {
			referenced = append(referenced, name)
		}
	}
	for _, name := range referenced {
		if m.SandboxWithName(name) != nil {
			continue
		}
		m.logger.Infof("No scope exists for referenced sandbox %q, creating empty sandbox", name)
		idx, err := m.assignIndex(name)
		if err != nil {
			return err
		}
		s := newSandbox(m, name, idx)
		s.Persistent = true
		m.sandboxes = append(m.sandboxes, s)
	}
	return nil
}

// computePrivileged finds the functions reachable from main in the privileged context without entering a
// sandbox
func (m *Model) computePrivileged() {
	m.privileged = map[*ir.Function]bool{}
	m.privilegedList = nil
	mainFn := m.module.Function("main")
	if mainFn == nil {
		m.logger.Warnf("No main function, no function is privileged")
		return
	}
	var visit func(f *ir.Function)
	visit = func(f *ir.Function) {
		if m.entryPoints[f] != nil || m.privileged[f] {
			return
		}
		m.privileged[f] = true
		m.privilegedList = append(m.privilegedList, f)
		for _, callee := range functionCallees(m, f, contexts.Priv()) {
			visit(callee)
		}
	}
	visit(mainFn)
}

// Reinit recomputes the sandboxes and the privileged functions, after call graph edges were added
func (m *Model) Reinit() {
	for _, s := range m.sandboxes {
		s.Init()
	}
	m.computePrivileged()
}

// Sandboxes returns the contexts of all the sandboxes, in index order
func (m *Model) Sandboxes() []contexts.Context {
	res := make([]contexts.Context, len(m.sandboxes))
	for i, s := range m.sandboxes {
		res[i] = s.Context()
	}
	return res
}

// All returns all the sandboxes, in index order
func (m *Model) All() []*Sandbox { return m.sandboxes }

// Names returns the index of sandbox names
func (m *Model) Names() *annotations.ClassIndex { return m.names }

// PrivilegedFunctions returns the functions reachable from main outside any sandbox, in discovery order
func (m *Model) PrivilegedFunctions() []*ir.Function { return m.privilegedList }

// IsPrivileged returns true if f may execute with privileges
func (m *Model) IsPrivileged(f *ir.Function) bool { return m.privileged[f] }

// IsPrivilegedInstruction returns true if i is in a privileged function and not in a sandboxed region of it
func (m *Model) IsPrivilegedInstruction(i *ir.Instruction) bool {
	f := i.Function()
	if !m.privileged[f] {
		return false
	}
	for _, s := range m.sandboxes {
		if s.IsRegionWithin(f) && s.ContainsInstruction(i) {
			return false
		}
	}
	return true
}

// EntryPointSandbox returns the sandbox f is an entry point of, or nil
func (m *Model) EntryPointSandbox(f *ir.Function) *Sandbox { return m.entryPoints[f] }

// IsEntryPoint returns true if f is the entry point of some sandbox
func (m *Model) IsEntryPoint(f *ir.Function) bool { return m.entryPoints[f] != nil }

// EntryPointOf implements contexts.SandboxIndex
func (m *Model) EntryPointOf(f *ir.Function) (contexts.Context, bool) {
	if s := m.entryPoints[f]; s != nil {
		return s.Context(), true
	}
	return contexts.Context{}, false
}

// SandboxesContainingFunction returns the sandboxes f executes in, in index order
func (m *Model) SandboxesContainingFunction(f *ir.Function) []*Sandbox {
	var res []*Sandbox
	for _, s := range m.sandboxes {
		if s.ContainsFunction(f) {
			res = append(res, s)
		}
	}
	return res
}

// SandboxesContainingInstruction returns the sandboxes i executes in, in index order
func (m *Model) SandboxesContainingInstruction(i *ir.Instruction) []*Sandbox {
	var res []*Sandbox
	for _, s := range m.sandboxes {
		if s.ContainsInstruction(i) {
			res = append(res, s)
		}
	}
	return res
}

// FunctionSandboxes implements contexts.SandboxIndex
func (m *Model) FunctionSandboxes(f *ir.Function) []contexts.Context {
	return toContexts(m.SandboxesContainingFunction(f))
}

// InstructionSandboxes implements contexts.SandboxIndex
func (m *Model) InstructionSandboxes(i *ir.Instruction) []contexts.Context {
	return toContexts(m.SandboxesContainingInstruction(i))
}

func toContexts(sandboxes []*Sandbox) []contexts.Context {
	res := make([]contexts.Context, len(sandboxes))
	for i, s := range sandboxes {
		res[i] = s.Context()
	}
	return res
}

// SandboxWithName returns the sandbox named name, or nil
func (m *Model) SandboxWithName(name string) *Sandbox {
	for _, s := range m.sandboxes {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SandboxOf returns the sandbox of a sandbox context, or nil
func (m *Model) SandboxOf(c contexts.Context) *Sandbox {
	if !c.IsSandbox() || c.Index < 0 || c.Index >= len(m.sandboxes) {
		return nil
	}
	return m.sandboxes[c.Index]
}

// IsCallgate returns true if f is a callgate of some sandbox
func (m *Model) IsCallgate(f *ir.Function) bool {
	for _, s := range m.sandboxes {
		if s.IsCallgate(f) {
			return true
		}
	}
	return false
}

// IsCallgateOf implements contexts.SandboxIndex
func (m *Model) IsCallgateOf(c contexts.Context, f *ir.Function) bool {
	s := m.SandboxOf(c)
	return s != nil && s.IsCallgate(f)
}

// IsWithinSandboxedRegion returns true if i is in the region of a region sandbox
func (m *Model) IsWithinSandboxedRegion(i *ir.Instruction) bool {
	for _, s := range m.sandboxes {
		if len(s.EntryPoints) == 0 && s.regionSet[i] {
			return true
		}
	}
	return false
}

// Mask returns the mask of the sandboxes
func Mask(sandboxes []*Sandbox) uint32 {
	var mask uint32
	for _, s := range sandboxes {
		mask |= s.Mask()
	}
	return mask
}

// FromMask returns the sandboxes whose bits are set in mask, in index order
func (m *Model) FromMask(mask uint32) []*Sandbox {
	var res []*Sandbox
	for _, s := range m.sandboxes {
		if mask&s.Mask() != 0 {
			res = append(res, s)
		}
	}
	return res
}

// StringifyMask returns the names of the sandboxes of mask formatted as "[a,b]"
func (m *Model) StringifyMask(mask uint32) string {
	return m.names.Stringify(mask)
}

// sysCallList keeps the known system calls of names, sorted. A list containing SOAAP_NO_SYSCALLS_ALLOWED is
// empty.
func (m *Model) sysCallList(names []string) []string {
	res := []string{}
	for _, name := range names {
		if name == annotations.NoSysCallsAllowed.String() {
			return []string{}
		}
		if m.isSysCall(name) && !slices.Contains(res, name) {
			res = append(res, name)
		}
	}
	slices.Sort(res)
	return res
}

// ListSandboxedFunctions writes the defined functions of every sandbox
func (m *Model) ListSandboxedFunctions(w io.Writer) {
	for _, s := range m.sandboxes {
		kind := "ephemeral"
		if s.Persistent {
			kind = "persistent"
		}
		fmt.Fprintf(w, "  Sandbox: %s (%s)\n", s.Name, kind)
		for _, f := range s.functions {
			if !f.IsDeclaration() {
				fmt.Fprintf(w, "    %s (%s)\n", f.Name(), f.File)
			}
		}
		fmt.Fprintln(w)
	}
}

// ListPrivilegedFunctions writes the defined privileged functions
func (m *Model) ListPrivilegedFunctions(w io.Writer) {
	fmt.Fprintln(w, "  Privileged methods:")
	for _, f := range m.privilegedList {
		if !f.IsDeclaration() {
			fmt.Fprintf(w, "    %s (%s)\n", f.Name(), f.File)
		}
	}
	fmt.Fprintln(w)
}
