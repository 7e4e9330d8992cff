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

// Package loader reads textual LLVM IR files into the program graph of package ir.
package loader

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/internal/formatutil"
	"github.com/llir/llvm/asm"
	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/metadata"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// LoadFile parses the textual LLVM IR file at path and returns its program graph
func LoadFile(path string, logger *config.LogGroup) (*ir.Module, error) {
	start := time.Now()
	m, err := asm.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	logger.Infof("Parsed %s in %3.4f s\n", formatutil.Sanitize(path), time.Since(start).Seconds())
	return Convert(filepath.Base(path), m, logger), nil
}

// LoadString parses LLVM IR text; name is used as the module name
func LoadString(name string, text string, logger *config.LogGroup) (*ir.Module, error) {
	m, err := asm.ParseString(name, text)
	if err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", name, err)
	}
	return Convert(name, m, logger), nil
}

// Convert builds the program graph of an llir module. Instructions that have no counterpart in the program
// graph become ir.OpOther instructions that keep their operands.
func Convert(name string, m *llir.Module, logger *config.LogGroup) *ir.Module {
	c := &converter{
		logger:  logger,
		m:       ir.NewModule(name),
		funcs:   map[*llir.Func]*ir.Function{},
		globals: map[*llir.Global]*ir.Global{},
		aliases: map[*llir.Alias]*ir.Alias{},
		consts:  map[constant.Constant]ir.Value{},
	}
	c.declare(m)
	for _, g := range m.Globals {
		if g.Init != nil {
			c.globals[g].Init = c.constant(g.Init)
		}
	}
	for _, a := range m.Aliases {
		c.aliases[a].Aliasee = c.constant(a.Aliasee)
	}
	for _, f := range m.Funcs {
		c.function(f)
	}
	c.m.Finalize()
	return c.m
}

type converter struct {
	logger  *config.LogGroup
	m       *ir.Module
	funcs   map[*llir.Func]*ir.Function
	globals map[*llir.Global]*ir.Global
	aliases map[*llir.Alias]*ir.Alias
	consts  map[constant.Constant]ir.Value

	// per function
	locals map[value.Value]ir.Value
	blocks map[*llir.Block]*ir.Block
}

type mdAttached interface {
	MDAttachments() []*metadata.Attachment
}

type operander interface {
	Operands() []*value.Value
}

func (c *converter) declare(m *llir.Module) {
	for _, g := range m.Globals {
		x := ir.NewGlobal(g.Name(), g.ContentType.String(), g.Immutable)
		if err := c.m.AddGlobal(x); err != nil {
			c.logger.Warnf("%v", err)
		}
		c.globals[g] = x
	}
	for _, f := range m.Funcs {
		sig := ir.Signature{Ret: f.Sig.RetType.String(), Variadic: f.Sig.Variadic}
		for _, p := range f.Sig.Params {
			sig.Params = append(sig.Params, p.String())
		}
		fn := ir.NewFunction(f.Name(), sig)
		for i, p := range f.Params {
			fn.Params = append(fn.Params, ir.NewParam(p.Name(), p.Type().String(), i))
		}
		if att, ok := interface{}(f).(mdAttached); ok {
			for _, md := range att.MDAttachments() {
				if sp, ok := md.Node.(*metadata.DISubprogram); ok && md.Name == "dbg" {
					fn.Line = int(sp.Line)
					if sp.File != nil {
						fn.File = sp.File.Filename
						fn.Dir = sp.File.Directory
					}
				}
			}
		}
		if err := c.m.AddFunction(fn); err != nil {
			c.logger.Warnf("%v", err)
		}
		c.funcs[f] = fn
	}
	for _, a := range m.Aliases {
		x := ir.NewAlias(a.Name())
		if err := c.m.AddAlias(x); err != nil {
			c.logger.Warnf("%v", err)
		}
		c.aliases[a] = x
	}
}

func (c *converter) constant(k constant.Constant) ir.Value {
	if k == nil {
		return nil
	}
	if v, ok := c.consts[k]; ok {
		return v
	}
	var v ir.Value
	typ := k.Type().String()
	switch k := k.(type) {
	case *llir.Func:
		return c.funcs[k]
	case *llir.Global:
		return c.globals[k]
	case *llir.Alias:
		return c.aliases[k]
	case *constant.Int:
		return c.m.Int(typ, k.X.Int64())
	case *constant.Null, *constant.ZeroInitializer, *constant.Undef:
		return c.m.Null(typ)
	case *constant.CharArray:
		v = ir.NewConstString(typ, k.X)
	case *constant.Array:
		v = ir.NewConstArray(typ, c.constants(k.Elems))
	case *constant.Struct:
		v = ir.NewConstStruct(typ, c.constants(k.Fields))
	case *constant.ExprBitCast:
		v = ir.NewConstExpr("bitcast", typ, c.constant(k.From))
	case *constant.ExprAddrSpaceCast:
		v = ir.NewConstExpr("addrspacecast", typ, c.constant(k.From))
	case *constant.ExprIntToPtr:
		v = ir.NewConstExpr("inttoptr", typ, c.constant(k.From))
	case *constant.ExprPtrToInt:
		v = ir.NewConstExpr("ptrtoint", typ, c.constant(k.From))
	case *constant.ExprGetElementPtr:
		ops := append([]ir.Value{c.constant(k.Src)}, c.constants(k.Indices)...)
		e := ir.NewConstExpr("getelementptr", typ, ops...)
		e.InBounds = k.InBounds
		v = e
	default:
		c.logger.Debugf("unsupported constant %s\n", k.Ident())
		return c.m.Null(typ)
	}
	c.consts[k] = v
	return v
}

func (c *converter) constants(ks []constant.Constant) []ir.Value {
	vs := make([]ir.Value, 0, len(ks))
	for _, k := range ks {
		if v := c.constant(k); v != nil {
			vs = append(vs, v)
		}
	}
	return vs
}

func (c *converter) value(v value.Value) ir.Value {
	if v == nil {
		return nil
	}
	if x, ok := c.locals[v]; ok {
		return x
	}
	if k, ok := v.(constant.Constant); ok {
		return c.constant(k)
	}
	// metadata arguments of debug intrinsics, inline asm and other values without a counterpart
	return c.m.Null(v.Type().String())
}

func (c *converter) values(vs []value.Value) []ir.Value {
	out := make([]ir.Value, 0, len(vs))
	for _, v := range vs {
		if x := c.value(v); x != nil {
			out = append(out, x)
		}
	}
	return out
}

func (c *converter) function(f *llir.Func) {
	fn := c.funcs[f]
	c.locals = map[value.Value]ir.Value{}
	c.blocks = map[*llir.Block]*ir.Block{}
	for i, p := range f.Params {
		c.locals[p] = fn.Params[i]
	}
	type pending struct {
		src  interface{}
		inst *ir.Instruction
	}
	var todo []pending
	for _, b := range f.Blocks {
		blk := ir.NewBlock(b.Name())
		fn.Blocks = append(fn.Blocks, blk)
		c.blocks[b] = blk
		for _, inst := range b.Insts {
			x := c.newInstruction(inst)
			blk.Insts = append(blk.Insts, x)
			if v, ok := inst.(value.Value); ok {
				c.locals[v] = x
			}
			todo = append(todo, pending{inst, x})
		}
		if b.Term != nil {
			x := c.newInstruction(b.Term)
			blk.Insts = append(blk.Insts, x)
			if v, ok := b.Term.(value.Value); ok {
				c.locals[v] = x
			}
			todo = append(todo, pending{b.Term, x})
		}
	}
	for _, p := range todo {
		c.fill(p.src, p.inst)
	}
}

func (c *converter) newInstruction(inst interface{}) *ir.Instruction {
	name, typ := "", "void"
	if v, ok := inst.(value.Value); ok {
		typ = v.Type().String()
		if n, ok := inst.(value.Named); ok && typ != "void" {
			name = n.Name()
		}
	}
	x := ir.NewInstruction(ir.OpOther, name, typ)
	if att, ok := inst.(mdAttached); ok {
		for _, md := range att.MDAttachments() {
			if md.Name == "dbg" {
				x.Loc = debugLoc(md.Node)
				continue
			}
			x.SetMetadata(md.Name, c.mdOperands(md.Node))
		}
	}
	return x
}

func (c *converter) mdOperands(node interface{}) []ir.MDOperand {
	var ops []ir.MDOperand
	switch n := node.(type) {
	case *metadata.Tuple:
		for _, field := range n.Fields {
			ops = append(ops, c.mdOperands(field)...)
		}
	case *metadata.Value:
		ops = append(ops, c.mdOperands(n.Value)...)
	case *metadata.String:
		ops = append(ops, ir.MDOperand{String: n.Value})
	case value.Value:
		// tuple fields such as !{i8* @g} are plain constants
		ops = append(ops, ir.MDOperand{Value: c.value(n)})
	}
	return ops
}

func debugLoc(node interface{}) *ir.DebugLoc {
	loc, ok := node.(*metadata.DILocation)
	if !ok {
		return nil
	}
	d := &ir.DebugLoc{Line: int(loc.Line), Column: int(loc.Column)}
	var file *metadata.DIFile
	switch s := loc.Scope.(type) {
	case *metadata.DISubprogram:
		file = s.File
	case *metadata.DILexicalBlock:
		file = s.File
	case *metadata.DILexicalBlockFile:
		file = s.File
	}
	if file != nil {
		d.File = file.Filename
		d.Dir = file.Directory
	}
	return d
}

func typeString(t types.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func (c *converter) fill(src interface{}, x *ir.Instruction) {
	switch inst := src.(type) {
	case *llir.InstAlloca:
		x.Op = ir.OpAlloca
		x.AllocType = typeString(inst.ElemType)
	case *llir.InstLoad:
		x.Op = ir.OpLoad
		x.Operands = []ir.Value{c.value(inst.Src)}
	case *llir.InstStore:
		x.Op = ir.OpStore
		x.Operands = []ir.Value{c.value(inst.Src), c.value(inst.Dst)}
	case *llir.InstGetElementPtr:
		x.Op = ir.OpGEP
		x.Operands = append([]ir.Value{c.value(inst.Src)}, c.values(inst.Indices)...)
		x.InBounds = inst.InBounds
	case *llir.InstCall:
		x.Op = ir.OpCall
		x.Operands = append([]ir.Value{c.value(inst.Callee)}, c.values(inst.Args)...)
		x.CalleeType, _ = ir.PointeeFuncType(inst.Callee.Type().String())
	case *llir.InstPhi:
		x.Op = ir.OpPhi
		for _, inc := range inst.Incs {
			x.Operands = append(x.Operands, c.value(inc.X))
			var pred interface{} = inc.Pred
			if b, ok := pred.(*llir.Block); ok {
				x.Incoming = append(x.Incoming, c.blocks[b])
			} else {
				x.Incoming = append(x.Incoming, nil)
			}
		}
	case *llir.InstSelect:
		x.Op = ir.OpSelect
		c.genericOperands(inst, x)
	case *llir.InstBitCast:
		c.cast(x, "bitcast", inst.From)
	case *llir.InstAddrSpaceCast:
		c.cast(x, "addrspacecast", inst.From)
	case *llir.InstIntToPtr:
		c.cast(x, "inttoptr", inst.From)
	case *llir.InstPtrToInt:
		c.cast(x, "ptrtoint", inst.From)
	case *llir.InstTrunc:
		c.cast(x, "trunc", inst.From)
	case *llir.InstZExt:
		c.cast(x, "zext", inst.From)
	case *llir.InstSExt:
		c.cast(x, "sext", inst.From)
	case *llir.InstAdd:
		c.binop(x, "add", inst.X, inst.Y)
	case *llir.InstSub:
		c.binop(x, "sub", inst.X, inst.Y)
	case *llir.InstMul:
		c.binop(x, "mul", inst.X, inst.Y)
	case *llir.InstUDiv:
		c.binop(x, "udiv", inst.X, inst.Y)
	case *llir.InstSDiv:
		c.binop(x, "sdiv", inst.X, inst.Y)
	case *llir.InstURem:
		c.binop(x, "urem", inst.X, inst.Y)
	case *llir.InstSRem:
		c.binop(x, "srem", inst.X, inst.Y)
	case *llir.InstShl:
		c.binop(x, "shl", inst.X, inst.Y)
	case *llir.InstLShr:
		c.binop(x, "lshr", inst.X, inst.Y)
	case *llir.InstAShr:
		c.binop(x, "ashr", inst.X, inst.Y)
	case *llir.InstAnd:
		c.binop(x, "and", inst.X, inst.Y)
	case *llir.InstOr:
		c.binop(x, "or", inst.X, inst.Y)
	case *llir.InstXor:
		c.binop(x, "xor", inst.X, inst.Y)
	case *llir.InstICmp:
		x.Op, x.Kind = ir.OpCmp, "icmp"
		x.Operands = []ir.Value{c.value(inst.X), c.value(inst.Y)}
	case *llir.InstFCmp:
		x.Op, x.Kind = ir.OpCmp, "fcmp"
		x.Operands = []ir.Value{c.value(inst.X), c.value(inst.Y)}
	case *llir.TermRet:
		x.Op = ir.OpRet
		if inst.X != nil {
			x.Operands = []ir.Value{c.value(inst.X)}
		}
	case *llir.TermBr:
		x.Op = ir.OpBr
		x.Targets = c.succs(inst)
	case *llir.TermCondBr:
		x.Op = ir.OpCondBr
		x.Operands = []ir.Value{c.value(inst.Cond)}
		x.Targets = c.succs(inst)
	case *llir.TermSwitch:
		x.Op = ir.OpSwitch
		x.Operands = []ir.Value{c.value(inst.X)}
		x.Targets = c.succs(inst)
	case *llir.TermUnreachable:
		x.Op = ir.OpUnreachable
	case llir.Terminator:
		// invoke, resume and the other terminators keep their operands and successors
		c.genericOperands(inst, x)
		x.Targets = c.succs(inst)
	default:
		c.genericOperands(inst, x)
	}
}

func (c *converter) cast(x *ir.Instruction, kind string, from value.Value) {
	x.Op, x.Kind = ir.OpCast, kind
	x.Operands = []ir.Value{c.value(from)}
}

func (c *converter) binop(x *ir.Instruction, kind string, a, b value.Value) {
	x.Op, x.Kind = ir.OpBinOp, kind
	x.Operands = []ir.Value{c.value(a), c.value(b)}
}

func (c *converter) genericOperands(inst interface{}, x *ir.Instruction) {
	o, ok := inst.(operander)
	if !ok {
		return
	}
	for _, op := range o.Operands() {
		if op == nil || *op == nil {
			continue
		}
		if _, isBlock := (*op).(*llir.Block); isBlock {
			continue
		}
		x.Operands = append(x.Operands, c.value(*op))
	}
}

func (c *converter) succs(term llir.Terminator) []*ir.Block {
	var out []*ir.Block
	for _, s := range term.Succs() {
		if b, ok := c.blocks[s]; ok {
			out = append(out, b)
		}
	}
	return out
}
