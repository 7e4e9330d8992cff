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

// Package cfgflow implements a flow-sensitive forward analysis over the control flow graphs of the program. Facts
// are attached to instructions and flow along the control flow edges, from calls into the entry of their callees
// and from returns back to the calls.
package cfgflow

import (
	"fmt"

	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
)

// Analysis is a concrete control-flow analysis run by an Engine
type Analysis[L any] interface {
	Initialise(e *Engine[L]) error
	PostDataFlow(e *Engine[L]) error
}

// Engine propagates facts of type L along the control flow of the program until a fixed point is reached
type Engine[L any] struct {
	Name      string
	Lattice   infoflow.Lattice[L]
	CallGraph *callgraph.Graph
	Logger    *config.LogGroup
	// Stop returns true for the functions that facts do not flow into, e.g. sandbox entry points. Nil means every
	// defined function is entered.
	Stop func(*ir.Function) bool

	state    map[*ir.Instruction]L
	worklist *infoflow.QueueSet[*ir.Block]
	steps    int
}

// NewEngine returns an engine with an empty state
func NewEngine[L any](name string, lattice infoflow.Lattice[L], cg *callgraph.Graph, logger *config.LogGroup,
	stop func(*ir.Function) bool) *Engine[L] {
	return &Engine[L]{
		Name:      name,
		Lattice:   lattice,
		CallGraph: cg,
		Logger:    logger,
		Stop:      stop,
		state:     map[*ir.Instruction]L{},
		worklist:  infoflow.NewQueueSet[*ir.Block](),
	}
}

// Run seeds the state with the analysis, propagates it and lets the analysis inspect the result
func (e *Engine[L]) Run(a Analysis[L]) error {
	e.state = map[*ir.Instruction]L{}
	e.worklist.Clear()
	e.steps = 0
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

// Seed meets fact into the fact of inst and schedules its block
func (e *Engine[L]) Seed(inst *ir.Instruction, fact L) {
	e.update(inst, fact)
	e.worklist.Enqueue(inst.Parent)
}

// Fact returns the fact holding after inst, and false when no fact reached it
func (e *Engine[L]) Fact(inst *ir.Instruction) (L, bool) {
	f, ok := e.state[inst]
	if !ok {
		return e.Lattice.Bottom(), false
	}
	return f, true
}

// Steps returns the number of blocks processed by the last run
func (e *Engine[L]) Steps() int { return e.steps }

// update meets fact into the fact of inst and returns true when it changed
func (e *Engine[L]) update(inst *ir.Instruction, fact L) bool {
	old, ok := e.state[inst]
	if !ok {
		e.state[inst] = fact
		return !e.Lattice.Equal(fact, e.Lattice.Bottom())
	}
	met := e.Lattice.Meet(fact, old)
	if e.Lattice.Equal(met, old) {
		return false
	}
	e.state[inst] = met
	return true
}

func (e *Engine[L]) propagate() {
	for !e.worklist.Empty() {
		b := e.worklist.Dequeue()
		e.steps++
		e.visit(b)
	}
}

func (e *Engine[L]) visit(b *ir.Block) {
	term := b.Terminator()
	before, _ := e.Fact(term)

	prev := e.Lattice.Bottom()
	for _, pred := range b.Preds() {
		if f, ok := e.Fact(pred.Terminator()); ok {
			prev = e.Lattice.Meet(f, prev)
		}
	}
	for _, inst := range b.Insts {
		e.update(inst, prev)
		cur, _ := e.Fact(inst)
		switch inst.Op {
		case ir.OpCall:
			if !callgraph.IsIntrinsicCall(inst) {
				e.propagateToCallees(inst, cur)
			}
		case ir.OpRet:
			e.propagateToCallers(inst.Function(), cur)
		}
		prev = cur
	}

	if after, ok := e.Fact(term); ok && !e.Lattice.Equal(before, after) {
		for _, succ := range b.Succs() {
			e.worklist.Enqueue(succ)
		}
	}
}

func (e *Engine[L]) propagateToCallees(call *ir.Instruction, fact L) {
	for _, callee := range e.CallGraph.Callees(call, contexts.NoContext()) {
		if callee.IsDeclaration() || (e.Stop != nil && e.Stop(callee)) {
			continue
		}
		first := callee.Entry().Insts[0]
		if e.update(first, fact) {
			e.worklist.Enqueue(first.Parent)
		}
	}
}

func (e *Engine[L]) propagateToCallers(f *ir.Function, fact L) {
	for _, call := range e.CallGraph.Callers(f, contexts.NoContext()) {
		if e.update(call, fact) {
			e.worklist.Enqueue(call.Parent)
		}
	}
}
