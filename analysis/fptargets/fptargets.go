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

// Package fptargets computes the functions that function pointers may point to. Targets are either given by
// SOAAP_FP annotations (Annotated) or inferred from the assignments of functions to variables, parameters and
// global initializers (Inferred). Both analyses are context-insensitive bit-vector unions over the functions of
// the module, and add the call edges they discover to the call graph as they go.
package fptargets

import (
	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"golang.org/x/tools/container/intsets"
)

const (
	// KindAnnotated is the kind of the annotated targets provider
	KindAnnotated = "annotated"
	// KindInferred is the kind of the inferred targets provider
	KindInferred = "inferred"
)

type engine = infoflow.Engine[*intsets.Sparse]

// targets holds what the annotated and inferred analyses share: the index of the candidate functions and the
// engine
type targets struct {
	kind      string
	module    *ir.Module
	callgraph *callgraph.Graph
	logger    *config.LogGroup
	engine    *engine
	computed  bool

	funcs []*ir.Function
	index map[*ir.Function]int
}

func newTargets(kind string, cg *callgraph.Graph, logger *config.LogGroup) *targets {
	t := &targets{
		kind:      kind,
		module:    cg.Module(),
		callgraph: cg,
		logger:    logger,
		index:     map[*ir.Function]int{},
	}
	// function pointers can only point to functions whose address is taken
	for _, f := range t.module.Functions {
		if !f.IsDeclaration() && f.AddressTaken() {
			t.indexOf(f)
		}
	}
	lattice := infoflow.BitVector{Names: func(i int) string { return t.funcs[i].Name() }}
	resolver := contexts.NewResolver(nil, true)
	t.engine = infoflow.NewEngine[*intsets.Sparse](kind+" function pointer targets", lattice, resolver, cg, logger)
	return t
}

// indexOf returns the bit of f, assigning the next one when f has none yet
func (t *targets) indexOf(f *ir.Function) int {
	if i, ok := t.index[f]; ok {
		return i
	}
	i := len(t.funcs)
	t.funcs = append(t.funcs, f)
	t.index[f] = i
	return i
}

func (t *targets) set(fns ...*ir.Function) *intsets.Sparse {
	s := &intsets.Sparse{}
	for _, f := range fns {
		s.Insert(t.indexOf(f))
	}
	return s
}

func (t *targets) functions(s *intsets.Sparse) []*ir.Function {
	if s == nil {
		return nil
	}
	var fns []*ir.Function
	for _, i := range s.AppendTo(nil) {
		fns = append(fns, t.funcs[i])
	}
	return ir.SortValues(fns)
}

// Kind implements callgraph.TargetProvider
func (t *targets) Kind() string { return t.kind }

// HasTargets implements callgraph.TargetProvider
func (t *targets) HasTargets() bool { return t.computed }

// Targets returns the functions fp may point to, ordered by ID. The targets of a called pointer are the ones kept
// by OnFunctionPointer, falling back to the pointer with its casts stripped when the call was never reached.
func (t *targets) Targets(fp ir.Value) []*ir.Function {
	if !t.computed {
		return nil
	}
	fact, ok := t.engine.Fact(fp, contexts.SingleContext())
	if !ok {
		fact, ok = t.engine.Fact(ir.StripPointerCasts(fp), contexts.SingleContext())
	}
	if !ok {
		return nil
	}
	return t.functions(fact)
}

// Engine returns the engine of the analysis, for inspecting its facts
func (t *targets) Engine() *infoflow.Engine[*intsets.Sparse] { return t.engine }

// OnFunctionPointer keeps the targets whose type matches the type of the call and adds them as callees of call.
func (t *targets) OnFunctionPointer(_ *engine, call *ir.Instruction, _ ir.Value, _ contexts.Context,
	fact *intsets.Sparse) *intsets.Sparse {
	if fact == nil {
		return fact
	}
	kept := &intsets.Sparse{}
	for _, i := range fact.AppendTo(nil) {
		f := t.funcs[i]
		if f.IsDeclaration() || (call.CalleeType != "" && f.Sig.String() != call.CalleeType) {
			continue
		}
		kept.Insert(i)
	}
	if callees := t.functions(kept); len(callees) > 0 && callgraph.DirectCallee(call) == nil {
		t.callgraph.AddCallees(call, callees)
	}
	return kept
}

// PostDataFlow logs the number of function pointers with targets
func (t *targets) PostDataFlow(e *engine) error {
	n := 0
	for _, v := range e.Values(contexts.SingleContext()) {
		if f, _ := e.Fact(v, contexts.SingleContext()); f != nil && !f.IsEmpty() {
			n++
		}
	}
	t.computed = true
	t.logger.Debugf("%s function pointer targets: %d values with targets", t.kind, n)
	return nil
}

// Annotated reads the targets of function pointers from SOAAP_FP annotations on local variables and struct
// fields.
type Annotated struct {
	*targets
	annotations *annotations.ProgramAnnotations
}

// NewAnnotated returns the annotated targets provider of the module of cg
func NewAnnotated(pa *annotations.ProgramAnnotations, cg *callgraph.Graph, logger *config.LogGroup) *Annotated {
	return &Annotated{targets: newTargets(KindAnnotated, cg, logger), annotations: pa}
}

// Compute implements callgraph.TargetProvider
func (a *Annotated) Compute() error {
	a.computed = false
	return a.engine.Run(a)
}

// Initialise seeds each annotated variable with the functions listed by its annotation
func (a *Annotated) Initialise(e *engine) error {
	seed := func(ann annotations.Annotation, target ir.Value) {
		var fns []*ir.Function
		for _, name := range ann.List() {
			if f := a.module.Function(name); f != nil {
				fns = append(fns, f)
			} else {
				a.logger.Warnf("Function pointer annotation at %s:%d names unknown function %s", ann.File, ann.Line,
					name)
			}
		}
		a.logger.Debugf("Annotated function pointer %s: %s", target, ann.Payload)
		e.Add(target, contexts.SingleContext(), a.set(fns...))
	}
	for _, ann := range a.annotations.VarAnnotations() {
		if ann.Kind == annotations.FP {
			seed(ann, ann.Target)
		}
	}
	for _, ann := range a.annotations.PtrAnnotations() {
		if ann.Kind == annotations.FP {
			seed(ann, ann.Site)
		}
	}
	return nil
}

// Inferred infers the targets of function pointers from the functions stored in variables, selected, passed as
// arguments to direct calls or placed in global initializers.
type Inferred struct {
	*targets
}

// NewInferred returns the inferred targets provider of the module of cg
func NewInferred(cg *callgraph.Graph, logger *config.LogGroup) *Inferred {
	return &Inferred{targets: newTargets(KindInferred, cg, logger)}
}

// Compute implements callgraph.TargetProvider
func (inf *Inferred) Compute() error {
	inf.computed = false
	return inf.engine.Run(inf)
}

// definedFunction returns the function v refers to when it is defined in the module
func definedFunction(v ir.Value) *ir.Function {
	f, ok := v.(*ir.Function)
	if !ok || f.IsDeclaration() {
		return nil
	}
	return f
}

// Initialise seeds the assignments of defined functions
func (inf *Inferred) Initialise(e *engine) error {
	for _, f := range inf.module.Functions {
		if f.IsDeclaration() {
			continue
		}
		for _, inst := range f.Instructions() {
			ctxs := e.Resolver.ContextsForInstruction(inst)
			switch inst.Op {
			case ir.OpStore:
				target := definedFunction(ir.StripInBoundsOffsets(inst.StoreValue()))
				if target == nil {
					continue
				}
				lvar := ir.StripInBoundsOffsets(inst.StorePointer())
				for _, c := range ctxs {
					e.Add(lvar, c, inf.set(target))
					if l, ok := lvar.(*ir.Instruction); ok && l.Op == ir.OpGEP {
						e.PropagateToAggregate(lvar, c)
					}
				}
			case ir.OpSelect:
				for _, op := range inst.Operands[1:] {
					if target := definedFunction(ir.StripPointerCasts(op)); target != nil {
						for _, c := range ctxs {
							e.Add(inst, c, inf.set(target))
						}
					}
				}
			case ir.OpCall:
				callee := callgraph.DirectCallee(inst)
				if callee == nil {
					continue
				}
				for i, param := range callee.Params {
					target := definedFunction(ir.StripPointerCasts(inst.Arg(i)))
					if target == nil {
						continue
					}
					for _, c := range ctxs {
						e.Add(param, c, inf.set(target))
					}
				}
			}
		}
	}
	visited := map[ir.Value]bool{}
	for _, g := range inf.module.Globals {
		inf.findFunctionsIn(e, g, visited)
	}
	return nil
}

// findFunctionsIn seeds the functions found in the initializer of a global, looking into arrays and structs
func (inf *Inferred) findFunctionsIn(e *engine, v ir.Value, visited map[ir.Value]bool) {
	if v == nil || visited[v] {
		return
	}
	visited[v] = true
	switch x := v.(type) {
	case *ir.Global:
		if x.Name() != annotations.GlobalAnnotations && x.Init != nil {
			inf.findFunctionsIn(e, x.Init, visited)
		}
	case *ir.ConstArray:
		for _, elt := range x.Elems {
			inf.findFunctionsIn(e, ir.StripInBoundsOffsets(elt), visited)
		}
	case *ir.ConstStruct:
		for _, field := range x.Fields {
			inf.findFunctionsIn(e, ir.StripInBoundsOffsets(field), visited)
		}
	case *ir.Function:
		if !x.IsDeclaration() {
			e.Add(x, contexts.NoContext(), inf.set(x))
		}
	}
}
