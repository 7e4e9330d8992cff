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

// Package callgraph builds the call graph of a module from direct calls, resolved virtual calls and the targets
// of function pointers, and answers callee, caller and call path queries on it.
package callgraph

import (
	"fmt"
	"io"

	"github.com/awslabs/ar-soaap-tools/analysis/classhierarchy"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/internal/graphutil"
	"golang.org/x/exp/slices"
)

// TargetProvider computes the possible targets of function pointers
type TargetProvider interface {
	// Kind describes the provider in listings, e.g. "annotated" or "inferred"
	Kind() string
	// Compute runs the analysis computing the targets
	Compute() error
	// HasTargets returns true if some function pointer has targets
	HasTargets() bool
	// Targets returns the functions the callee operand fp of an indirect call may point to, in deterministic order
	Targets(fp ir.Value) []*ir.Function
}

// Graph is the call graph of a module. It is owned by an analysis session.
type Graph struct {
	module    *ir.Module
	hierarchy *classhierarchy.Hierarchy
	logger    *config.LogGroup
	providers []TargetProvider

	callees map[*ir.Instruction][]*ir.Function
	callers map[*ir.Function][]*ir.Instruction
	// contextCallees are edges that only exist in a given context
	contextCallees map[contexts.Context]map[*ir.Instruction][]*ir.Function
	contextCallers map[contexts.Context]map[*ir.Function][]*ir.Instruction

	unresolved []*ir.Instruction
	warned     map[*ir.Instruction]bool
	populated  bool
	// loading is set while function pointer targets are computed: calls are not reported as unresolved yet
	loading bool

	// functionGraph and paths are derived from the edges, and reset when the edges change
	functionGraph *graphutil.CGraph[*ir.Function]
	paths         map[pathKey]*shortestPaths
}

// New returns an empty call graph of m. The hierarchy is used to resolve virtual calls; it may be nil.
func New(m *ir.Module, hierarchy *classhierarchy.Hierarchy, logger *config.LogGroup) *Graph {
	return &Graph{
		module:         m,
		hierarchy:      hierarchy,
		logger:         logger,
		callees:        map[*ir.Instruction][]*ir.Function{},
		callers:        map[*ir.Function][]*ir.Instruction{},
		contextCallees: map[contexts.Context]map[*ir.Instruction][]*ir.Function{},
		contextCallers: map[contexts.Context]map[*ir.Function][]*ir.Instruction{},
		warned:         map[*ir.Instruction]bool{},
		paths:          map[pathKey]*shortestPaths{},
	}
}

// Module returns the module of the call graph
func (g *Graph) Module() *ir.Module { return g.module }

// Populated returns true if the edges have been computed and not invalidated since
func (g *Graph) Populated() bool { return g.populated }

// AddProvider registers a source of function pointer targets, used on the next Populate
func (g *Graph) AddProvider(p TargetProvider) {
	g.providers = append(g.providers, p)
	g.populated = false
}

// Providers returns the registered function pointer target providers
func (g *Graph) Providers() []TargetProvider { return g.providers }

// Populate recomputes the callees of every call of every defined function: the direct callee when there is one
// (intrinsics have none), and otherwise the virtual callees and the function pointer targets of the called value.
func (g *Graph) Populate() {
	g.callees = map[*ir.Instruction][]*ir.Function{}
	g.callers = map[*ir.Function][]*ir.Instruction{}
	g.unresolved = nil
	g.invalidate()
	numDirect, numIndirect := 0, 0
	for _, f := range g.module.Functions {
		if f.IsDeclaration() {
			continue
		}
		for _, inst := range f.Instructions() {
			if inst.Op != ir.OpCall {
				continue
			}
			callees := g.resolve(inst)
			if DirectCallee(inst) != nil {
				numDirect += len(callees)
			} else {
				numIndirect++
			}
			g.callees[inst] = callees
			for _, callee := range callees {
				g.callers[callee] = append(g.callers[callee], inst)
			}
		}
	}
	for _, calls := range g.callers {
		ir.SortValues(calls)
	}
	g.populated = true
	g.logger.Debugf("Call graph: %d direct callees, %d indirect calls, %d unresolved", numDirect, numIndirect,
		len(g.unresolved))
}

func (g *Graph) resolve(call *ir.Instruction) []*ir.Function {
	if callee := DirectCallee(call); callee != nil {
		if callee.IsIntrinsic() {
			return nil
		}
		return []*ir.Function{callee}
	}
	fp := call.Callee()
	set := map[*ir.Function]bool{}
	if g.hierarchy != nil && classhierarchy.IsVirtualCall(call) {
		for _, callee := range g.hierarchy.CalleesForVirtualCall(call) {
			set[callee] = true
		}
	}
	for _, p := range g.providers {
		if !p.HasTargets() {
			continue
		}
		for _, callee := range p.Targets(fp) {
			set[callee] = true
		}
	}
	if len(set) == 0 {
		g.unresolved = append(g.unresolved, call)
		if !g.loading && !g.warned[call] {
			g.warned[call] = true
			g.logger.Warnf("Unresolved indirect call in %s (%s): no direct, virtual or function pointer callee",
				call.Function().Name(), call.Position())
		}
		return nil
	}
	return sortedFunctions(set)
}

func (g *Graph) ensurePopulated() {
	if !g.populated {
		g.Populate()
	}
}

func (g *Graph) invalidate() {
	g.functionGraph = nil
	g.paths = map[pathKey]*shortestPaths{}
}

// Callees returns the callees of call in context ctx: the edges shared by all contexts, and the ones added for ctx
func (g *Graph) Callees(call *ir.Instruction, ctx contexts.Context) []*ir.Function {
	g.ensurePopulated()
	shared := g.callees[call]
	extra := g.contextCallees[ctx][call]
	if len(extra) == 0 {
		return shared
	}
	return mergeFunctions(shared, extra)
}

// Callers returns the calls that may call fn in context ctx, ordered by ID
func (g *Graph) Callers(fn *ir.Function, ctx contexts.Context) []*ir.Instruction {
	g.ensurePopulated()
	shared := g.callers[fn]
	extra := g.contextCallers[ctx][fn]
	if len(extra) == 0 {
		return shared
	}
	return mergeCalls(shared, extra)
}

// AllCallees returns the callees of call shared by all contexts
func (g *Graph) AllCallees(call *ir.Instruction) []*ir.Function {
	g.ensurePopulated()
	return g.callees[call]
}

// AddCallees adds fns to the callees of call, in every context
func (g *Graph) AddCallees(call *ir.Instruction, fns []*ir.Function) {
	g.ensurePopulated()
	changed := false
	for _, fn := range fns {
		if slices.Contains(g.callees[call], fn) {
			continue
		}
		g.logger.Tracef("Adding callee %s to %s", fn.Name(), call)
		g.callees[call] = mergeFunctions(g.callees[call], []*ir.Function{fn})
		g.callers[fn] = mergeCalls(g.callers[fn], []*ir.Instruction{call})
		changed = true
	}
	if changed {
		g.invalidate()
	}
}

// AddContextCallees adds fns to the callees of call in context ctx only
func (g *Graph) AddContextCallees(call *ir.Instruction, ctx contexts.Context, fns []*ir.Function) {
	if g.contextCallees[ctx] == nil {
		g.contextCallees[ctx] = map[*ir.Instruction][]*ir.Function{}
		g.contextCallers[ctx] = map[*ir.Function][]*ir.Instruction{}
	}
	g.contextCallees[ctx][call] = mergeFunctions(g.contextCallees[ctx][call], fns)
	for _, fn := range fns {
		g.contextCallers[ctx][fn] = mergeCalls(g.contextCallers[ctx][fn], []*ir.Instruction{call})
	}
}

// LoadAnnotatedInferredCallGraphEdges computes the function pointer targets of each provider in order, registers
// the providers and repopulates the call graph so that later queries see their edges.
func (g *Graph) LoadAnnotatedInferredCallGraphEdges(providers ...TargetProvider) error {
	g.loading = true
	defer func() { g.loading = false }()
	for _, p := range providers {
		g.logger.Debugf("Computing %s function pointer targets", p.Kind())
		if err := p.Compute(); err != nil {
			return fmt.Errorf("%s function pointer targets: %w", p.Kind(), err)
		}
		g.AddProvider(p)
	}
	g.loading = false
	g.Populate()
	return nil
}

// Unresolved returns the indirect calls for which no callee was found, ordered by ID
func (g *Graph) Unresolved() []*ir.Instruction {
	g.ensurePopulated()
	return ir.SortValues(slices.Clone(g.unresolved))
}

// Calls returns all the calls of defined functions in module order
func (g *Graph) Calls() []*ir.Instruction {
	var calls []*ir.Instruction
	for _, f := range g.module.Functions {
		for _, inst := range f.Instructions() {
			if inst.Op == ir.OpCall {
				calls = append(calls, inst)
			}
		}
	}
	return calls
}

// IsIndirectCall returns true if the called value of call is neither a function nor an alias, once casts are
// stripped
func IsIndirectCall(call *ir.Instruction) bool {
	callee := call.Callee()
	if callee == nil {
		return false
	}
	switch ir.StripPointerCasts(callee).(type) {
	case *ir.Function, *ir.Alias:
		return false
	}
	return true
}

// DirectCallee returns the function called by call, resolving casts and aliases, or nil for indirect calls
func DirectCallee(call *ir.Instruction) *ir.Function {
	return call.CalledFunction()
}

// IsExternCall returns true if call calls a function declared but not defined in the module
func IsExternCall(call *ir.Instruction) bool {
	f := DirectCallee(call)
	return f != nil && f.IsDeclaration()
}

// IsIntrinsicCall returns true if call calls an llvm intrinsic
func IsIntrinsicCall(call *ir.Instruction) bool {
	f := DirectCallee(call)
	return f != nil && f.IsIntrinsic()
}

// Print writes each caller followed by its callees with the number of calls to each
func (g *Graph) Print(w io.Writer) {
	g.ensurePopulated()
	for _, f := range g.module.Functions {
		counts := map[*ir.Function]int{}
		var order []*ir.Function
		for _, inst := range f.Instructions() {
			for _, callee := range g.callees[inst] {
				if counts[callee] == 0 {
					order = append(order, callee)
				}
				counts[callee]++
			}
		}
		if len(order) == 0 {
			continue
		}
		ir.SortValues(order)
		fmt.Fprintf(w, "%s\n", f.Name())
		for _, callee := range order {
			fmt.Fprintf(w, "  -> %s, %d\n", callee.Name(), counts[callee])
		}
		fmt.Fprintf(w, "\n")
	}
}

// Edges returns, for each defined function, the functions it calls, in module order
func (g *Graph) Edges() map[*ir.Function][]*ir.Function {
	g.ensurePopulated()
	res := map[*ir.Function][]*ir.Function{}
	for _, f := range g.module.Functions {
		set := map[*ir.Function]bool{}
		for _, inst := range f.Instructions() {
			for _, callee := range g.callees[inst] {
				set[callee] = true
			}
		}
		if len(set) > 0 {
			res[f] = sortedFunctions(set)
		}
	}
	return res
}

// FunctionGraph returns the function-level call graph over all the functions of the module
func (g *Graph) FunctionGraph() *graphutil.CGraph[*ir.Function] {
	g.ensurePopulated()
	if g.functionGraph == nil {
		edges := g.Edges()
		g.functionGraph = graphutil.NewGraph(g.module.Functions, func(f *ir.Function) []*ir.Function {
			return edges[f]
		})
	}
	return g.functionGraph
}

// RecursiveFunctions returns the groups of mutually recursive functions, callees first
func (g *Graph) RecursiveFunctions() [][]*ir.Function {
	fg := g.FunctionGraph()
	var res [][]*ir.Function
	for _, scc := range fg.Recursive() {
		group := make([]*ir.Function, len(scc))
		for i, id := range scc {
			group[i] = fg.Values[id]
		}
		res = append(res, group)
	}
	return res
}

// Cycles returns the elementary cycles of the call graph, each starting and ending at the same function
func (g *Graph) Cycles() [][]*ir.Function {
	fg := g.FunctionGraph()
	var res [][]*ir.Function
	for _, cycle := range graphutil.FindAllElementaryCycles(fg) {
		fns := make([]*ir.Function, len(cycle))
		for i, id := range cycle {
			fns[i] = fg.Values[id]
		}
		res = append(res, fns)
	}
	return res
}

func sortedFunctions(set map[*ir.Function]bool) []*ir.Function {
	res := make([]*ir.Function, 0, len(set))
	for f := range set {
		res = append(res, f)
	}
	return ir.SortValues(res)
}

func mergeFunctions(a, b []*ir.Function) []*ir.Function {
	set := make(map[*ir.Function]bool, len(a)+len(b))
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		set[f] = true
	}
	return sortedFunctions(set)
}

func mergeCalls(a, b []*ir.Instruction) []*ir.Instruction {
	res := slices.Clone(a)
	for _, c := range b {
		if !slices.Contains(res, c) {
			res = append(res, c)
		}
	}
	return ir.SortValues(res)
}
