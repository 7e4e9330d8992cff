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

package infoflow

import (
	"fmt"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"golang.org/x/exp/slices"
)

// Analysis is a concrete information-flow analysis run by an Engine.
//
// Run calls Initialise to seed the state, propagates the facts to a fixed point and then calls PostDataFlow, which
// inspects the final state and reports.
type Analysis[L any] interface {
	Initialise(e *Engine[L]) error
	PostDataFlow(e *Engine[L]) error
}

// MustAnalysis is implemented by analyses whose facts must hold on every path. The parameters of a callee then
// receive the meet of the arguments of all its calls.
type MustAnalysis interface {
	MustAnalysis() bool
}

// FunctionPointerObserver is implemented by analyses that need to know when the fact of a called value changes.
// The fact returned replaces the fact of the called value.
type FunctionPointerObserver[L any] interface {
	OnFunctionPointer(e *Engine[L], call *ir.Instruction, fp ir.Value, ctx contexts.Context, fact L) L
}

// PropagationFilter is implemented by analyses that stop facts from flowing out of some values
type PropagationFilter interface {
	SkipPropagation(from ir.Value) bool
}

// ExternCallPropagator is implemented by analyses that model the effect of external functions on facts. It returns
// the value the fact of v flows to through call, and false to use the default model.
type ExternCallPropagator interface {
	PropagateExternCall(call *ir.Instruction, v ir.Value) (ir.Value, bool)
}

type item struct {
	v   ir.Value
	ctx contexts.Context
}

// Engine computes the fixed point of facts of type L, attached to values per context, by propagating facts from
// values to their users and across calls and returns.
type Engine[L any] struct {
	// Name identifies the analysis in log messages
	Name      string
	Lattice   Lattice[L]
	Resolver  *contexts.Resolver
	CallGraph *callgraph.Graph
	Logger    *config.LogGroup
	// Must is set for analyses whose facts must hold on every path
	Must bool

	state    map[contexts.Context]map[ir.Value]L
	worklist *QueueSet[item]
	steps    int

	onFunctionPointer FunctionPointerObserver[L]
	filter            PropagationFilter
	extern            ExternCallPropagator
}

// NewEngine returns an engine with an empty state
func NewEngine[L any](name string, lattice Lattice[L], resolver *contexts.Resolver, cg *callgraph.Graph,
	logger *config.LogGroup) *Engine[L] {
	e := &Engine[L]{
		Name:      name,
		Lattice:   lattice,
		Resolver:  resolver,
		CallGraph: cg,
		Logger:    logger,
	}
	e.reset()
	return e
}

func (e *Engine[L]) reset() {
	e.state = map[contexts.Context]map[ir.Value]L{}
	e.worklist = NewQueueSet[item]()
	e.steps = 0
}

// Run runs the analysis a: initialisation, propagation to a fixed point and post-processing. The state of a
// previous run is discarded.
func (e *Engine[L]) Run(a Analysis[L]) error {
	e.reset()
	e.onFunctionPointer, _ = a.(FunctionPointerObserver[L])
	e.filter, _ = a.(PropagationFilter)
	e.extern, _ = a.(ExternCallPropagator)
	if m, ok := a.(MustAnalysis); ok {
		e.Must = m.MustAnalysis()
	}
	e.Logger.Debugf("Running %s analysis", e.Name)
	if err := a.Initialise(e); err != nil {
		return fmt.Errorf("%s analysis initialisation: %w", e.Name, err)
	}
	e.propagate()
	e.Logger.Debugf("%s analysis reached a fixed point in %d steps", e.Name, e.steps)
	if err := a.PostDataFlow(e); err != nil {
		return fmt.Errorf("%s analysis: %w", e.Name, err)
	}
	return nil
}

// Steps returns the number of worklist items processed by the last run
func (e *Engine[L]) Steps() int { return e.steps }

// Facts returns the state of the engine. The map must not be modified.
func (e *Engine[L]) Facts() map[contexts.Context]map[ir.Value]L { return e.state }

// Fact returns the fact of v in ctx and true, or bottom and false if v has no fact in ctx
func (e *Engine[L]) Fact(v ir.Value, ctx contexts.Context) (L, bool) {
	f, ok := e.state[ctx][v]
	if !ok {
		return e.Lattice.Bottom(), false
	}
	return f, true
}

// Values returns the values that have a fact in ctx, ordered by ID
func (e *Engine[L]) Values(ctx contexts.Context) []ir.Value {
	facts := e.state[ctx]
	values := make([]ir.Value, 0, len(facts))
	for v := range facts {
		values = append(values, v)
	}
	return ir.SortValues(values)
}

// Contexts returns the contexts that have facts, in context order
func (e *Engine[L]) Contexts() []contexts.Context {
	cs := make([]contexts.Context, 0, len(e.state))
	for c := range e.state {
		cs = append(cs, c)
	}
	slices.SortFunc(cs, contexts.Less)
	return cs
}

// Set sets the fact of v in ctx without scheduling its propagation
func (e *Engine[L]) Set(v ir.Value, ctx contexts.Context, fact L) {
	e.facts(ctx)[v] = fact
}

// Seed sets the fact of v in ctx and schedules its propagation
func (e *Engine[L]) Seed(v ir.Value, ctx contexts.Context, fact L) {
	e.Set(v, ctx, fact)
	e.Enqueue(v, ctx)
}

// Add meets fact into the fact of v in ctx and schedules the propagation of v
func (e *Engine[L]) Add(v ir.Value, ctx contexts.Context, fact L) {
	facts := e.facts(ctx)
	if old, ok := facts[v]; ok {
		fact = e.Lattice.Meet(fact, old)
	}
	facts[v] = fact
	e.Enqueue(v, ctx)
}

// Enqueue schedules the propagation of the fact of v in ctx
func (e *Engine[L]) Enqueue(v ir.Value, ctx contexts.Context) {
	e.worklist.Enqueue(item{v, ctx})
}

// PropagateToAggregate propagates the fact of v in ctx to the local or global aggregate v points into
func (e *Engine[L]) PropagateToAggregate(v ir.Value, ctx contexts.Context) {
	e.propagateToAggregate(v, ctx, v, map[ir.Value]bool{})
}

// Describe returns the facts of v in every context, for debugging
func (e *Engine[L]) Describe(v ir.Value) string {
	var parts []string
	for _, c := range e.Contexts() {
		if f, ok := e.state[c][v]; ok {
			parts = append(parts, c.String()+": "+e.Lattice.String(f))
		}
	}
	return v.String() + " {" + strings.Join(parts, ", ") + "}"
}

func (e *Engine[L]) facts(ctx contexts.Context) map[ir.Value]L {
	m, ok := e.state[ctx]
	if !ok {
		m = map[ir.Value]L{}
		e.state[ctx] = m
	}
	return m
}

func (e *Engine[L]) propagate() {
	if e.Resolver.Insensitive {
		e.merge()
	}
	for !e.worklist.Empty() {
		it := e.worklist.Dequeue()
		e.steps++
		if e.Logger.Level() >= config.TraceLevel {
			f, _ := e.Fact(it.v, it.ctx)
			e.Logger.Tracef("%s: popped %s in %s: %s", e.Name, it.v, it.ctx, e.Lattice.String(f))
		}
		for _, u := range it.v.Users() {
			e.propagateToUser(it.v, it.ctx, u)
		}
	}
	if e.Resolver.Insensitive {
		e.unmerge()
	}
}

// merge moves every seeded fact to the single context
func (e *Engine[L]) merge() {
	e.worklist.Clear()
	single := contexts.SingleContext()
	for _, c := range e.Contexts() {
		for _, v := range e.Values(c) {
			if c != single {
				e.Add(v, single, e.state[c][v])
			} else {
				e.Enqueue(v, single)
			}
		}
	}
}

// unmerge copies the facts of the single context to every context
func (e *Engine[L]) unmerge() {
	single := contexts.SingleContext()
	values := e.Values(single)
	for _, c := range e.Resolver.AllContexts() {
		facts := e.facts(c)
		for _, v := range values {
			facts[v] = e.state[single][v]
		}
	}
}

func (e *Engine[L]) propagateToUser(v ir.Value, ctx contexts.Context, u ir.Value) {
	inst, ok := u.(*ir.Instruction)
	if !ok {
		if ir.IsConstant(u) && e.propagateToValue(v, u, ctx, ctx) {
			e.Enqueue(u, ctx)
		}
		return
	}
	if ctx == contexts.NoContext() {
		for _, c2 := range e.Resolver.ContextsForFunction(inst.Function()) {
			e.propagateToValue(v, v, ctx, c2)
			e.Enqueue(v, c2)
		}
		return
	}
	if !e.Resolver.InContext(inst, ctx) {
		return
	}

	var target ir.Value
	switch inst.Op {
	case ir.OpStore:
		if inst.StorePointer() == v {
			return
		}
		target = inst.StorePointer()
	case ir.OpCall:
		switch {
		case callgraph.IsIntrinsicCall(inst):
			if isPtrAnnotation(inst) {
				target = inst
			}
		case callgraph.IsExternCall(inst):
			target = e.propagateForExternCall(inst, v)
		default:
			allArgs := false
			if inst.Callee() == v {
				e.functionPointerChanged(inst, v, ctx)
				allArgs = true
			}
			e.propagateToCallees(inst, v, ctx, allArgs)
			return
		}
	case ir.OpRet:
		if rv := inst.ReturnValue(); rv != nil {
			e.propagateToCallers(inst, rv, ctx)
		}
		return
	case ir.OpBinOp:
		// the result combines its operands: it gets no fact from either, only bottom met into its own
		facts := e.facts(ctx)
		old, ok := facts[inst]
		if !ok {
			facts[inst] = e.Lattice.Bottom()
			e.Enqueue(inst, ctx)
			return
		}
		if met := e.Lattice.Meet(e.Lattice.Bottom(), old); !e.Lattice.Equal(met, old) {
			facts[inst] = met
			e.Enqueue(inst, ctx)
		}
		return
	case ir.OpPhi:
		changed := false
		for _, in := range inst.Operands {
			if e.propagateToValue(in, inst, ctx, ctx) {
				changed = true
			}
		}
		if changed {
			e.Enqueue(inst, ctx)
		}
		return
	default:
		target = inst
	}

	if target == nil || !e.propagateToValue(v, target, ctx, ctx) {
		return
	}
	e.Enqueue(target, ctx)
	if t, ok := target.(*ir.Instruction); ok && inst.Op == ir.OpStore && t.Op == ir.OpGEP {
		e.propagateToAggregate(target, ctx, target, map[ir.Value]bool{})
	}
}

// propagateToValue meets the fact of from in cFrom into the fact of to in cTo. It returns true if to had no fact
// yet, or if its fact changed.
func (e *Engine[L]) propagateToValue(from, to ir.Value, cFrom, cTo contexts.Context) bool {
	if e.filter != nil && e.filter.SkipPropagation(from) {
		return false
	}
	f, _ := e.Fact(from, cFrom)
	facts := e.facts(cTo)
	old, ok := facts[to]
	if !ok {
		facts[to] = f
		return true
	}
	met := e.Lattice.Meet(f, old)
	if e.Lattice.Equal(met, old) {
		return false
	}
	facts[to] = met
	return true
}

func (e *Engine[L]) propagateToAggregate(v ir.Value, ctx contexts.Context, agg ir.Value, visited map[ir.Value]bool) {
	agg = ir.StripInBoundsOffsets(agg)
	if agg == nil || visited[agg] {
		return
	}
	visited[agg] = true
	if inst, ok := agg.(*ir.Instruction); ok {
		switch inst.Op {
		case ir.OpGEP, ir.OpLoad:
			e.propagateToAggregate(v, ctx, inst.Operands[0], visited)
		case ir.OpCall:
			if isPtrAnnotation(inst) {
				e.propagateToAggregate(v, ctx, inst.Arg(0), visited)
			} else if f := inst.CalledFunction(); f != nil && f.Name() == "buffer_ptr" {
				e.propagateToAggregate(v, ctx, inst.Arg(0), visited)
			}
		case ir.OpSelect:
			e.propagateToAggregate(v, ctx, inst.Operands[1], visited)
			e.propagateToAggregate(v, ctx, inst.Operands[2], visited)
		case ir.OpPhi:
			for _, in := range inst.Operands {
				e.propagateToAggregate(v, ctx, in, visited)
			}
		}
	}
	if e.propagateToValue(v, agg, ctx, ctx) {
		e.Enqueue(agg, ctx)
	}
}

func (e *Engine[L]) functionPointerChanged(call *ir.Instruction, fp ir.Value, ctx contexts.Context) {
	if e.onFunctionPointer == nil {
		return
	}
	f, _ := e.Fact(fp, ctx)
	e.Set(fp, ctx, e.onFunctionPointer.OnFunctionPointer(e, call, fp, ctx, f))
}

// propagateToCallees propagates the fact of v, when it is an argument of call, to the corresponding parameter of
// each callee. When allArgs is set, every argument with a fact is propagated.
func (e *Engine[L]) propagateToCallees(call *ir.Instruction, v ir.Value, ctx contexts.Context, allArgs bool) {
	callees := e.CallGraph.Callees(call, ctx)
	for argIdx, arg := range call.Args() {
		if arg != v {
			if !allArgs {
				continue
			}
			if _, ok := e.Fact(arg, ctx); !ok {
				continue
			}
		}
		for _, callee := range callees {
			c2 := e.Resolver.CalleeContext(ctx, callee)
			param := parameter(callee, argIdx)
			if param == nil {
				continue
			}
			changed := false
			if e.Must {
				for _, caller := range e.CallGraph.Callers(callee, ctx) {
					if !e.Resolver.InContext(caller, ctx) {
						continue
					}
					if a := caller.Arg(argIdx); a != nil && e.propagateToValue(a, param, ctx, c2) {
						changed = true
					}
				}
			} else {
				changed = e.propagateToValue(arg, param, ctx, c2)
			}
			if changed {
				e.Enqueue(param, c2)
			}
		}
	}
}

// propagateToCallers propagates the returned value of ret to the result of every call of its function
func (e *Engine[L]) propagateToCallers(ret *ir.Instruction, rv ir.Value, ctx contexts.Context) {
	f := ret.Function()
	for _, call := range e.CallGraph.Callers(f, ctx) {
		for _, c2 := range e.Resolver.CallerContexts(ctx, f, call) {
			if e.propagateToValue(rv, call, ctx, c2) {
				e.Enqueue(call, c2)
			}
		}
	}
}

func (e *Engine[L]) propagateForExternCall(call *ir.Instruction, v ir.Value) ir.Value {
	if e.extern != nil {
		if target, ok := e.extern.PropagateExternCall(call, v); ok {
			return target
		}
	}
	return ExternTarget(call, v)
}

// ExternTarget returns the value the information of v flows to through a call to a known external function, or nil
func ExternTarget(call *ir.Instruction, v ir.Value) ir.Value {
	callee := call.CalledFunction()
	if callee == nil {
		return nil
	}
	switch callee.Name() {
	case "strdup":
		return call
	case "asprintf", "vasprintf":
		// v is neither the output parameter nor the format
		if call.Arg(0) != v && call.Arg(1) != v {
			return call.Arg(0)
		}
	case "strcpy":
		if call.Arg(0) != v {
			return call.Arg(0)
		}
	}
	return nil
}

// parameter returns the value receiving argument argIdx of calls to f: the parameter, or the va_list of the
// entry block for variadic arguments
func parameter(f *ir.Function, argIdx int) ir.Value {
	if argIdx < len(f.Sig.Params) {
		if argIdx < len(f.Params) {
			return f.Params[argIdx]
		}
		return nil
	}
	entry := f.Entry()
	if entry == nil {
		return nil
	}
	for _, inst := range entry.Insts {
		if inst.Op == ir.OpAlloca && IsVAList(inst.AllocType) {
			return inst
		}
	}
	return nil
}

// IsVAList returns true if t is the type of a va_list variable
func IsVAList(t string) bool {
	return t == "[1 x %struct.__va_list_tag]"
}

func isPtrAnnotation(call *ir.Instruction) bool {
	f := call.CalledFunction()
	return f != nil && strings.HasPrefix(f.Name(), annotations.PtrAnnotationPrefix)
}
