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
	"path/filepath"
)

// Opcode is the kind of an instruction
type Opcode int

const (
	OpOther Opcode = iota
	OpAlloca
	OpLoad
	OpStore
	OpGEP
	OpCall
	OpRet
	OpBr
	OpCondBr
	OpSwitch
	OpUnreachable
	OpPhi
	OpSelect
	OpCast
	OpBinOp
	OpCmp
)

var opcodeNames = [...]string{
	OpOther:       "other",
	OpAlloca:      "alloca",
	OpLoad:        "load",
	OpStore:       "store",
	OpGEP:         "getelementptr",
	OpCall:        "call",
	OpRet:         "ret",
	OpBr:          "br",
	OpCondBr:      "condbr",
	OpSwitch:      "switch",
	OpUnreachable: "unreachable",
	OpPhi:         "phi",
	OpSelect:      "select",
	OpCast:        "cast",
	OpBinOp:       "binop",
	OpCmp:         "cmp",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("opcode(%d)", int(op))
}

// DebugLoc is the source location of an instruction
type DebugLoc struct {
	File   string
	Dir    string
	Line   int
	Column int
}

// MDOperand is an operand of a metadata attachment: either a value or a string
type MDOperand struct {
	Value  Value
	String string
}

// Instruction is an instruction of a block.
//
// Operand layout per opcode:
//   - call: Operands[0] is the callee, Operands[1:] are the arguments
//   - store: Operands[0] is the stored value, Operands[1] the pointer
//   - load: Operands[0] is the pointer
//   - getelementptr: Operands[0] is the pointer, Operands[1:] the indices
//   - phi: Operands[i] is the incoming value from Incoming[i]
//   - select: Operands are the condition, the true value and the false value
//   - ret: Operands is empty or holds the returned value
//   - condbr: Operands[0] is the condition; switch: Operands[0] is the tested value
type Instruction struct {
	valueNode
	Op Opcode
	// Kind is the precise LLVM opcode name for casts, binops and compares (e.g. "bitcast", "add", "icmp")
	Kind     string
	Operands []Value
	// Targets are the successor blocks of a terminator
	Targets []*Block
	// Incoming are the predecessor blocks of the values of a phi
	Incoming []*Block
	// InBounds is set on inbounds getelementptr instructions
	InBounds bool
	// AllocType is the allocated type of an alloca
	AllocType string
	// CalleeType is the function type of the callee of a call
	CalleeType string
	Loc        *DebugLoc
	Metadata   map[string][]MDOperand
	Parent     *Block
	// Index is the position of the instruction in its block
	Index int
}

// String returns the instruction name when it is named, and otherwise a description of the instruction with its
// enclosing function.
func (i *Instruction) String() string {
	if i.name != "" {
		return "%" + i.name
	}
	fn := ""
	if i.Parent != nil && i.Parent.Parent != nil {
		fn = i.Parent.Parent.name
	}
	if i.Op == OpCall {
		if callee := i.CalledFunction(); callee != nil {
			return fmt.Sprintf("call @%s in %s", callee.name, fn)
		}
	}
	return fmt.Sprintf("%s #%d in %s", i.Op, i.id, fn)
}

// Function returns the function containing the instruction
func (i *Instruction) Function() *Function {
	if i.Parent == nil {
		return nil
	}
	return i.Parent.Parent
}

// IsTerminator returns true if the instruction ends a block
func (i *Instruction) IsTerminator() bool {
	switch i.Op {
	case OpRet, OpBr, OpCondBr, OpSwitch, OpUnreachable:
		return true
	}
	return len(i.Targets) > 0
}

// Callee returns the called value of a call instruction
func (i *Instruction) Callee() Value {
	if i.Op != OpCall || len(i.Operands) == 0 {
		return nil
	}
	return i.Operands[0]
}

// Args returns the arguments of a call instruction
func (i *Instruction) Args() []Value {
	if i.Op != OpCall || len(i.Operands) == 0 {
		return nil
	}
	return i.Operands[1:]
}

// Arg returns the argument at index n of a call, or nil if there is no such argument
func (i *Instruction) Arg(n int) Value {
	args := i.Args()
	if n < 0 || n >= len(args) {
		return nil
	}
	return args[n]
}

// CalledFunction returns the function called by the call instruction when the callee is a function, possibly
// behind pointer casts or aliases. It returns nil for indirect calls.
func (i *Instruction) CalledFunction() *Function {
	callee := i.Callee()
	if callee == nil {
		return nil
	}
	f, _ := StripPointerCasts(callee).(*Function)
	return f
}

// StoreValue returns the value stored by a store
func (i *Instruction) StoreValue() Value {
	if i.Op != OpStore || len(i.Operands) < 2 {
		return nil
	}
	return i.Operands[0]
}

// StorePointer returns the pointer a store writes to
func (i *Instruction) StorePointer() Value {
	if i.Op != OpStore || len(i.Operands) < 2 {
		return nil
	}
	return i.Operands[1]
}

// LoadPointer returns the pointer a load reads from
func (i *Instruction) LoadPointer() Value {
	if i.Op != OpLoad || len(i.Operands) < 1 {
		return nil
	}
	return i.Operands[0]
}

// ReturnValue returns the value returned by a ret instruction, or nil
func (i *Instruction) ReturnValue() Value {
	if i.Op != OpRet || len(i.Operands) == 0 {
		return nil
	}
	return i.Operands[0]
}

// MetadataValue returns the value of the first operand of the metadata attachment named name
func (i *Instruction) MetadataValue(name string) Value {
	for _, op := range i.Metadata[name] {
		if op.Value != nil {
			return op.Value
		}
	}
	return nil
}

// MetadataString returns the string of the first string operand of the metadata attachment named name
func (i *Instruction) MetadataString(name string) string {
	for _, op := range i.Metadata[name] {
		if op.String != "" {
			return op.String
		}
	}
	return ""
}

// Position returns "file:line" for instructions with a debug location, and "" otherwise
func (i *Instruction) Position() string {
	if i.Loc == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", i.Loc.File, i.Loc.Line)
}

// SourcePath returns the full path of the source file of the instruction, or "" without debug location
func (i *Instruction) SourcePath() string {
	if i.Loc == nil || i.Loc.File == "" {
		return ""
	}
	if i.Loc.Dir == "" || filepath.IsAbs(i.Loc.File) {
		return i.Loc.File
	}
	return filepath.Join(i.Loc.Dir, i.Loc.File)
}

// NewInstruction returns an instruction without operands
func NewInstruction(op Opcode, name, typ string) *Instruction {
	return &Instruction{valueNode: valueNode{name: name, typ: typ}, Op: op}
}

// SetMetadata attaches the metadata operands ops under key
func (i *Instruction) SetMetadata(key string, ops []MDOperand) {
	if i.Metadata == nil {
		i.Metadata = map[string][]MDOperand{}
	}
	i.Metadata[key] = ops
}
