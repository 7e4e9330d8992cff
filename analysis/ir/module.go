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

package ir

import (
	"fmt"
)

type intKey struct {
	typ string
	val int64
}

// Module is a program: its functions, globals and aliases in definition order.
type Module struct {
	Name      string
	Functions []*Function
	Globals   []*Global
	Aliases   []*Alias

	funcs   map[string]*Function
	globals map[string]*Global
	aliases map[string]*Alias
	ints    map[intKey]*ConstInt
	nulls   map[string]*ConstNull
	values  []Value

	finalized bool
}

// NewModule returns an empty module
func NewModule(name string) *Module {
	return &Module{
		Name:    name,
		funcs:   map[string]*Function{},
		globals: map[string]*Global{},
		aliases: map[string]*Alias{},
		ints:    map[intKey]*ConstInt{},
		nulls:   map[string]*ConstNull{},
	}
}

// Function returns the function named name, or nil
func (m *Module) Function(name string) *Function { return m.funcs[name] }

// Global returns the global named name, or nil
func (m *Module) Global(name string) *Global { return m.globals[name] }

// Alias returns the alias named name, or nil
func (m *Module) Alias(name string) *Alias { return m.aliases[name] }

// Lookup returns the function, global or alias named name, or nil
func (m *Module) Lookup(name string) Value {
	if f, ok := m.funcs[name]; ok {
		return f
	}
	if g, ok := m.globals[name]; ok {
		return g
	}
	if a, ok := m.aliases[name]; ok {
		return a
	}
	return nil
}

// AddFunction adds a function to the module. It returns an error if the name is already defined.
func (m *Module) AddFunction(f *Function) error {
	if m.Lookup(f.name) != nil {
		return fmt.Errorf("duplicate definition of @%s", f.name)
	}
	f.module = m
	f.typ = f.Sig.String() + "*"
	m.funcs[f.name] = f
	m.Functions = append(m.Functions, f)
	return nil
}

// AddGlobal adds a global to the module. It returns an error if the name is already defined.
func (m *Module) AddGlobal(g *Global) error {
	if m.Lookup(g.name) != nil {
		return fmt.Errorf("duplicate definition of @%s", g.name)
	}
	g.typ = g.ValueType + "*"
	m.globals[g.name] = g
	m.Globals = append(m.Globals, g)
	return nil
}

// AddAlias adds an alias to the module. It returns an error if the name is already defined.
func (m *Module) AddAlias(a *Alias) error {
	if m.Lookup(a.name) != nil {
		return fmt.Errorf("duplicate definition of @%s", a.name)
	}
	if a.Aliasee != nil {
		a.typ = a.Aliasee.Type()
	}
	m.aliases[a.name] = a
	m.Aliases = append(m.Aliases, a)
	return nil
}

// Int returns the integer constant of type typ with value v
func (m *Module) Int(typ string, v int64) *ConstInt {
	k := intKey{typ, v}
	if c, ok := m.ints[k]; ok {
		return c
	}
	c := &ConstInt{valueNode: valueNode{typ: typ}, Value: v}
	m.ints[k] = c
	return c
}

// Null returns the null constant of type typ
func (m *Module) Null(typ string) *ConstNull {
	if c, ok := m.nulls[typ]; ok {
		return c
	}
	c := &ConstNull{valueNode: valueNode{typ: typ}}
	m.nulls[typ] = c
	return c
}

// Values returns every value of the module ordered by ID. The module must be finalized.
func (m *Module) Values() []Value { return m.values }

// NumValues returns the number of values of the finalized module
func (m *Module) NumValues() int { return len(m.values) }

// Instructions returns all the instructions of the defined functions, in module order
func (m *Module) Instructions() []*Instruction {
	var insts []*Instruction
	for _, f := range m.Functions {
		insts = append(insts, f.Instructions()...)
	}
	return insts
}

// Finalize computes the IDs of all values, the use lists, the predecessors and successors of blocks and the
// address-taken flag of functions. It must be called once, after the module is complete.
func (m *Module) Finalize() {
	if m.finalized {
		return
	}
	m.finalized = true
	seen := map[Value]bool{}
	number := func(v Value) bool {
		if v == nil || seen[v] {
			return false
		}
		seen[v] = true
		v.node().id = len(m.values)
		m.values = append(m.values, v)
		return true
	}
	var numberConst func(v Value)
	numberConst = func(v Value) {
		if !IsConstant(v) {
			return
		}
		if number(v) {
			for _, op := range constOperands(v) {
				numberConst(op)
			}
		}
	}

	for _, g := range m.Globals {
		number(g)
	}
	for _, a := range m.Aliases {
		number(a)
	}
	for _, f := range m.Functions {
		number(f)
		for i, p := range f.Params {
			p.Index = i
			p.Parent = f
			number(p)
		}
	}
	for _, g := range m.Globals {
		numberConst(g.Init)
	}
	for _, a := range m.Aliases {
		numberConst(a.Aliasee)
	}
	for _, f := range m.Functions {
		for bi, b := range f.Blocks {
			b.Index = bi
			b.Parent = f
			for ii, inst := range b.Insts {
				inst.Index = ii
				inst.Parent = b
				number(inst)
			}
		}
		for _, inst := range f.Instructions() {
			for _, op := range inst.Operands {
				numberConst(op)
			}
		}
	}

	// use lists, filled in ID order of the users
	for _, v := range m.values {
		for _, op := range operandsOf(v) {
			if op != nil {
				op.node().addUser(v)
			}
		}
	}

	for _, f := range m.Functions {
		for _, b := range f.Blocks {
			if t := b.Terminator(); t != nil {
				for _, s := range t.Targets {
					if !containsBlock(b.succs, s) {
						b.succs = append(b.succs, s)
					}
				}
			}
		}
		for _, b := range f.Blocks {
			for _, s := range b.succs {
				s.preds = append(s.preds, b)
			}
		}
		f.addressTaken = computeAddressTaken(f)
	}
}

func operandsOf(v Value) []Value {
	switch x := v.(type) {
	case *Instruction:
		return x.Operands
	case *Global:
		if x.Init != nil {
			return []Value{x.Init}
		}
	case *Alias:
		return []Value{x.Aliasee}
	default:
		return constOperands(v)
	}
	return nil
}

func computeAddressTaken(f *Function) bool {
	for _, u := range f.users {
		inst, ok := u.(*Instruction)
		if !ok || inst.Op != OpCall {
			return true
		}
		for _, arg := range inst.Args() {
			if arg == Value(f) {
				return true
			}
		}
	}
	return false
}

func containsBlock(blocks []*Block, b *Block) bool {
	for _, x := range blocks {
		if x == b {
			return true
		}
	}
	return false
}
