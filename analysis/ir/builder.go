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

// Builder constructs a module programmatically. Errors in construction (duplicate names) panic: the builder
// is meant for programs written in code, where such an error is a bug of the caller.
type Builder struct {
	m           *Module
	file        string
	dir         string
	annotations []Value
	nstrings    int
}

// NewBuilder returns a builder for a module named name. Debug locations refer to the file name+".c".
func NewBuilder(name string) *Builder {
	return &Builder{m: NewModule(name), file: name + ".c"}
}

// SetFile sets the source file and directory used in the debug locations of the following functions
func (b *Builder) SetFile(dir, file string) {
	b.dir = dir
	b.file = file
}

// Module adds the global annotations to the module, finalizes it and returns it.
func (b *Builder) Module() *Module {
	if len(b.annotations) > 0 && b.m.Global("llvm.global.annotations") == nil {
		entries := &ConstArray{valueNode: valueNode{typ: fmt.Sprintf("[%d x { i8*, i8*, i8*, i32 }]",
			len(b.annotations))}, Elems: b.annotations}
		b.mustAdd(b.m.AddGlobal(&Global{valueNode: valueNode{name: "llvm.global.annotations"},
			ValueType: entries.typ, Init: entries}))
	}
	b.m.Finalize()
	return b.m
}

func (b *Builder) mustAdd(err error) {
	if err != nil {
		panic(err)
	}
}

// Int returns an i32 constant
func (b *Builder) Int(v int64) *ConstInt { return b.m.Int("i32", v) }

// IntOfType returns an integer constant of the given type
func (b *Builder) IntOfType(typ string, v int64) *ConstInt { return b.m.Int(typ, v) }

// Null returns the null constant of type typ
func (b *Builder) Null(typ string) *ConstNull { return b.m.Null(typ) }

// Global adds a global variable
func (b *Builder) Global(name string, valueType string, init Value) *Global {
	g := &Global{valueNode: valueNode{name: name}, ValueType: valueType, Init: init, File: b.file}
	b.mustAdd(b.m.AddGlobal(g))
	return g
}

// Alias adds an alias of aliasee
func (b *Builder) Alias(name string, aliasee Value) *Alias {
	a := &Alias{valueNode: valueNode{name: name}, Aliasee: aliasee}
	b.mustAdd(b.m.AddAlias(a))
	return a
}

// CString adds a private global holding s and returns a getelementptr to its first character
func (b *Builder) CString(s string) Value {
	data := append([]byte(s), 0)
	typ := fmt.Sprintf("[%d x i8]", len(data))
	name := ".str"
	if b.nstrings > 0 {
		name = fmt.Sprintf(".str.%d", b.nstrings)
	}
	b.nstrings++
	g := &Global{valueNode: valueNode{name: name}, ValueType: typ, IsConst: true,
		Init: &ConstString{valueNode: valueNode{typ: typ}, Bytes: data}}
	b.mustAdd(b.m.AddGlobal(g))
	return b.ConstGEP(g, 0, 0)
}

// Bitcast returns a constant bitcast of v to typ
func (b *Builder) Bitcast(v Value, typ string) *ConstExpr {
	return &ConstExpr{valueNode: valueNode{typ: typ}, Kind: "bitcast", Operands: []Value{v}}
}

// ConstGEP returns an inbounds constant getelementptr of v with i32 indices
func (b *Builder) ConstGEP(v Value, indices ...int64) *ConstExpr {
	ops := []Value{v}
	for _, idx := range indices {
		ops = append(ops, b.Int(idx))
	}
	return &ConstExpr{valueNode: valueNode{typ: "i8*"}, Kind: "getelementptr", Operands: ops, InBounds: true}
}

// Array returns an array constant of type typ
func (b *Builder) Array(typ string, elems ...Value) *ConstArray {
	return &ConstArray{valueNode: valueNode{typ: typ}, Elems: elems}
}

// Struct returns a struct constant of type typ
func (b *Builder) Struct(typ string, fields ...Value) *ConstStruct {
	return &ConstStruct{valueNode: valueNode{typ: typ}, Fields: fields}
}

// Declare adds a function declaration, or returns the existing function of that name
func (b *Builder) Declare(name string, sig Signature) *Function {
	if f := b.m.Function(name); f != nil {
		return f
	}
	f := &Function{valueNode: valueNode{name: name}, Sig: sig}
	for i, t := range sig.Params {
		f.Params = append(f.Params, &Param{valueNode: valueNode{name: fmt.Sprintf("arg%d", i), typ: t}, Index: i})
	}
	b.mustAdd(b.m.AddFunction(f))
	return f
}

// Annotate adds an entry for v in llvm.global.annotations, as __attribute__((annotate(annotation))) does
func (b *Builder) Annotate(v Value, annotation string) {
	entry := b.Struct("{ i8*, i8*, i8*, i32 }", b.Bitcast(v, "i8*"), b.CString(annotation), b.CString(b.file),
		b.Int(0))
	b.annotations = append(b.annotations, entry)
}

// Func adds a function definition with the given parameter names and returns a builder for its body.
// The entry block is created.
func (b *Builder) Func(name string, sig Signature, params ...string) *FuncBuilder {
	f := &Function{valueNode: valueNode{name: name}, Sig: sig, File: b.file, Dir: b.dir}
	for i, t := range sig.Params {
		pname := fmt.Sprintf("arg%d", i)
		if i < len(params) {
			pname = params[i]
		}
		f.Params = append(f.Params, &Param{valueNode: valueNode{name: pname, typ: t}, Index: i, Parent: f})
	}
	b.mustAdd(b.m.AddFunction(f))
	fb := &FuncBuilder{b: b, F: f}
	fb.Block("entry")
	return fb
}

// FuncBuilder builds the body of a function. Instructions are appended to the current block.
type FuncBuilder struct {
	b    *Builder
	F    *Function
	cur  *Block
	line int
}

// Param returns the parameter at index i
func (fb *FuncBuilder) Param(i int) *Param { return fb.F.Params[i] }

// Block adds a new block to the function and makes it the current block
func (fb *FuncBuilder) Block(label string) *Block {
	blk := &Block{Label: label, Parent: fb.F, Index: len(fb.F.Blocks)}
	fb.F.Blocks = append(fb.F.Blocks, blk)
	fb.cur = blk
	return blk
}

// NewBlock adds a new block without changing the current block
func (fb *FuncBuilder) NewBlock(label string) *Block {
	cur := fb.cur
	blk := fb.Block(label)
	fb.cur = cur
	return blk
}

// SetBlock makes blk the current block
func (fb *FuncBuilder) SetBlock(blk *Block) { fb.cur = blk }

// At sets the source line of the following instructions. Line 0 removes debug locations.
func (fb *FuncBuilder) At(line int) *FuncBuilder {
	fb.line = line
	if fb.F.Line == 0 {
		fb.F.Line = line
	}
	return fb
}

func (fb *FuncBuilder) add(inst *Instruction) *Instruction {
	if fb.line > 0 {
		inst.Loc = &DebugLoc{File: fb.b.file, Dir: fb.b.dir, Line: fb.line}
	}
	inst.Parent = fb.cur
	inst.Index = len(fb.cur.Insts)
	fb.cur.Insts = append(fb.cur.Insts, inst)
	return inst
}

func newInst(op Opcode, name, typ string, operands ...Value) *Instruction {
	return &Instruction{valueNode: valueNode{name: name, typ: typ}, Op: op, Operands: operands}
}

// Alloca allocates a local of type typ
func (fb *FuncBuilder) Alloca(name, typ string) *Instruction {
	inst := newInst(OpAlloca, name, typ+"*")
	inst.AllocType = typ
	return fb.add(inst)
}

// Load reads from ptr
func (fb *FuncBuilder) Load(name string, ptr Value) *Instruction {
	return fb.add(newInst(OpLoad, name, strings.TrimSuffix(ptr.Type(), "*"), ptr))
}

// Store writes v to ptr
func (fb *FuncBuilder) Store(v, ptr Value) *Instruction {
	return fb.add(newInst(OpStore, "", "void", v, ptr))
}

// GEP computes an inbounds address from ptr and the indices
func (fb *FuncBuilder) GEP(name string, ptr Value, indices ...Value) *Instruction {
	inst := newInst(OpGEP, name, ptr.Type(), append([]Value{ptr}, indices...)...)
	inst.InBounds = true
	return fb.add(inst)
}

// Call calls callee with args. The callee can be a function or a function pointer value.
func (fb *FuncBuilder) Call(name string, callee Value, args ...Value) *Instruction {
	ftype, _ := PointeeFuncType(callee.Type())
	ret := "void"
	if i := strings.Index(ftype, " ("); i > 0 {
		ret = ftype[:i]
	}
	if f, ok := callee.(*Function); ok {
		ftype = f.Sig.String()
		ret = f.Sig.Ret
		if ret == "" {
			ret = "void"
		}
	}
	inst := newInst(OpCall, name, ret, append([]Value{callee}, args...)...)
	inst.CalleeType = ftype
	return fb.add(inst)
}

// CallNamed calls the function named name, declaring it with sig if it does not exist
func (fb *FuncBuilder) CallNamed(name string, fn string, sig Signature, args ...Value) *Instruction {
	return fb.Call(name, fb.b.Declare(fn, sig), args...)
}

// Ret returns v, or nothing if v is nil
func (fb *FuncBuilder) Ret(v Value) *Instruction {
	if v == nil {
		return fb.add(newInst(OpRet, "", "void"))
	}
	return fb.add(newInst(OpRet, "", "void", v))
}

// Br branches to target
func (fb *FuncBuilder) Br(target *Block) *Instruction {
	inst := fb.add(newInst(OpBr, "", "void"))
	inst.Targets = []*Block{target}
	return inst
}

// CondBr branches to t if cond holds and to f otherwise
func (fb *FuncBuilder) CondBr(cond Value, t, f *Block) *Instruction {
	inst := fb.add(newInst(OpCondBr, "", "void", cond))
	inst.Targets = []*Block{t, f}
	return inst
}

// Unreachable terminates the current block
func (fb *FuncBuilder) Unreachable() *Instruction {
	return fb.add(newInst(OpUnreachable, "", "void"))
}

// PhiEdge is an incoming value of a phi
type PhiEdge struct {
	Value Value
	Block *Block
}

// Phi merges the incoming values
func (fb *FuncBuilder) Phi(name, typ string, edges ...PhiEdge) *Instruction {
	inst := newInst(OpPhi, name, typ)
	for _, e := range edges {
		inst.Operands = append(inst.Operands, e.Value)
		inst.Incoming = append(inst.Incoming, e.Block)
	}
	return fb.add(inst)
}

// Select chooses t or f depending on cond
func (fb *FuncBuilder) Select(name string, cond, t, f Value) *Instruction {
	return fb.add(newInst(OpSelect, name, t.Type(), cond, t, f))
}

// Cast converts v to typ with the cast kind (e.g. "bitcast", "ptrtoint", "zext")
func (fb *FuncBuilder) Cast(kind, name string, v Value, typ string) *Instruction {
	inst := newInst(OpCast, name, typ, v)
	inst.Kind = kind
	return fb.add(inst)
}

// BinOp combines x and y with the binary operator kind (e.g. "add")
func (fb *FuncBuilder) BinOp(kind, name string, x, y Value) *Instruction {
	inst := newInst(OpBinOp, name, x.Type(), x, y)
	inst.Kind = kind
	return fb.add(inst)
}

// Cmp compares x and y
func (fb *FuncBuilder) Cmp(name string, x, y Value) *Instruction {
	inst := newInst(OpCmp, name, "i1", x, y)
	inst.Kind = "icmp"
	return fb.add(inst)
}

// SetMetadata attaches metadata named key to inst
func (fb *FuncBuilder) SetMetadata(inst *Instruction, key string, ops ...MDOperand) {
	inst.SetMetadata(key, ops)
}

var annotationSig = Signature{Ret: "void", Params: []string{"i8*", "i8*", "i8*", "i32"}}

// VarAnnotation annotates the local v, as __attribute__((annotate(annotation))) on a local variable does
func (fb *FuncBuilder) VarAnnotation(v Value, annotation string) *Instruction {
	cast := fb.Cast("bitcast", "", v, "i8*")
	return fb.CallNamed("", "llvm.var.annotation", annotationSig, cast, fb.b.CString(annotation),
		fb.b.CString(fb.b.file), fb.b.Int(int64(fb.line)))
}

// PtrAnnotation annotates the pointer v and returns the annotated pointer, as annotations on struct fields do
func (fb *FuncBuilder) PtrAnnotation(name string, v Value, annotation string) *Instruction {
	sig := Signature{Ret: "i8*", Params: []string{"i8*", "i8*", "i8*", "i32"}}
	cast := fb.Cast("bitcast", "", v, "i8*")
	return fb.CallNamed(name, "llvm.ptr.annotation.p0i8", sig, cast, fb.b.CString(annotation),
		fb.b.CString(fb.b.file), fb.b.Int(int64(fb.line)))
}

// IntAnnotation annotates the integer value v, as __builtin_annotation does, and returns the annotated value
func (fb *FuncBuilder) IntAnnotation(name string, v Value, annotation string) *Instruction {
	sig := Signature{Ret: "i32", Params: []string{"i32", "i8*", "i8*", "i32"}}
	return fb.CallNamed(name, "llvm.annotation.i32", sig, v, fb.b.CString(annotation),
		fb.b.CString(fb.b.file), fb.b.Int(int64(fb.line)))
}
