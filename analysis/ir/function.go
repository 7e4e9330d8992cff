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
	"strings"
)

// Function is a function of the module. A function without blocks is a declaration.
type Function struct {
	valueNode
	Sig    Signature
	Params []*Param
	Blocks []*Block

	// File, Dir and Line locate the definition of the function in the source, when debug information is present.
	File string
	Dir  string
	Line int

	module       *Module
	addressTaken bool
}

// String returns the function name with its sigil
func (f *Function) String() string { return "@" + f.name }

// Module returns the module of the function
func (f *Function) Module() *Module { return f.module }

// IsDeclaration returns true if the function has no body
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// IsIntrinsic returns true if the function is an llvm intrinsic
func (f *Function) IsIntrinsic() bool { return strings.HasPrefix(f.name, "llvm.") }

// AddressTaken returns true if the function is used other than as the callee of a call instruction
func (f *Function) AddressTaken() bool { return f.addressTaken }

// Entry returns the entry block of the function, or nil for declarations
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Instructions returns all the instructions of the function in block order
func (f *Function) Instructions() []*Instruction {
	var insts []*Instruction
	for _, b := range f.Blocks {
		insts = append(insts, b.Insts...)
	}
	return insts
}

// Position returns "file:line" of the function definition, or the function name if there is no debug information
func (f *Function) Position() string {
	if f.File == "" {
		return f.name
	}
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}

// Param is a formal parameter of a function
type Param struct {
	valueNode
	Index  int
	Parent *Function
}

func (p *Param) String() string { return "%" + p.name }

// Block is a basic block. The last instruction of a block is its terminator.
type Block struct {
	Label  string
	Index  int
	Insts  []*Instruction
	Parent *Function

	succs []*Block
	preds []*Block
}

func (b *Block) String() string { return fmt.Sprintf("%s:%s", b.Parent.name, b.Label) }

// Succs returns the successors of the block, in terminator order
func (b *Block) Succs() []*Block { return b.succs }

// Preds returns the predecessors of the block, in block order
func (b *Block) Preds() []*Block { return b.preds }

// Terminator returns the last instruction of the block, or nil if the block is empty or not terminated
func (b *Block) Terminator() *Instruction {
	if len(b.Insts) == 0 {
		return nil
	}
	last := b.Insts[len(b.Insts)-1]
	if !last.IsTerminator() {
		return nil
	}
	return last
}

// NewFunction returns a function without body. Params and Blocks are filled by the caller.
func NewFunction(name string, sig Signature) *Function {
	return &Function{valueNode: valueNode{name: name}, Sig: sig}
}

// NewParam returns the parameter at index of a function
func NewParam(name, typ string, index int) *Param {
	return &Param{valueNode: valueNode{name: name, typ: typ}, Index: index}
}

// NewBlock returns an empty block
func NewBlock(label string) *Block {
	return &Block{Label: label}
}
