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

package fptargets_test

import (
	"io"
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/fptargets"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/google/go-cmp/cmp"
)

var handlerSig = ir.Signature{Ret: "void", Params: []string{"i8*"}}

// program has one indirect call per way of assigning a function pointer
type program struct {
	m *ir.Module
	// calls are the indirect calls, by the way their callee is obtained
	stored, selected, param, table, annotated, cast *ir.Instruction
}

func newProgram() program {
	var p program
	b := ir.NewBuilder("fp.c")

	hello := b.Func("hello", handlerSig, "msg")
	hello.Ret(nil)
	bye := b.Func("bye", handlerSig, "msg")
	bye.Ret(nil)
	other := b.Func("other", ir.Signature{Ret: "void", Params: []string{"i32"}}, "n")
	other.Ret(nil)

	table := b.Global("table", "[2 x void (i8*)*]", b.Array("[2 x void (i8*)*]", hello.F, other.F))

	dispatch := b.Func("dispatch", ir.Signature{Ret: "void", Params: []string{"void (i8*)*"}}, "fp")
	p.param = dispatch.At(10).Call("", dispatch.Param(0), b.Null("i8*"))
	dispatch.Ret(nil)

	main := b.Func("main", ir.Signature{Ret: "i32", Params: []string{"i1"}}, "c")
	main.At(20)
	slot := main.Alloca("slot", "void (i8*)*")
	main.Store(hello.F, slot)
	loaded := main.Load("loaded", slot)
	p.stored = main.At(21).Call("", loaded, b.Null("i8*"))

	sel := main.Select("sel", main.Param(0), bye.F, hello.F)
	p.selected = main.At(22).Call("", sel, b.Null("i8*"))

	main.At(23).Call("", dispatch.F, bye.F)

	elt := main.GEP("elt", table, b.Int(0), b.Int(1))
	eltp := main.Cast("bitcast", "eltp", elt, "void (i8*)**")
	fromTable := main.Load("fromtable", eltp)
	p.table = main.At(24).Call("", fromTable, b.Null("i8*"))

	cb := main.Alloca("cb", "void (i8*)*")
	main.At(25).VarAnnotation(cb, "SOAAP_FP_hello, bye")
	cbv := main.Load("cbv", cb)
	p.annotated = main.At(26).Call("", cbv, b.Null("i8*"))

	anyp := main.Alloca("anyp", "i8*")
	main.Store(hello.F, anyp)
	main.Store(other.F, anyp)
	raw := main.Load("raw", anyp)
	castfp := main.Cast("bitcast", "castfp", raw, "void (i8*)*")
	p.cast = main.At(27).Call("", castfp, b.Null("i8*"))
	main.Ret(b.Int(0))

	p.m = b.Module()
	return p
}

func newLogger() *config.LogGroup {
	logger := config.NewLogGroup(config.NewDefault())
	logger.SetAllOutput(io.Discard)
	return logger
}

func names(fns []*ir.Function) []string {
	res := []string{}
	for _, f := range fns {
		res = append(res, f.Name())
	}
	return res
}

func TestInferred(t *testing.T) {
	p := newProgram()
	logger := newLogger()
	cg := callgraph.New(p.m, nil, logger)
	inferred := fptargets.NewInferred(cg, logger)
	if inferred.HasTargets() {
		t.Fatalf("targets available before Compute")
	}
	if err := inferred.Compute(); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	tests := []struct {
		name string
		call *ir.Instruction
		want []string
	}{
		{"stored", p.stored, []string{"hello"}},
		{"selected", p.selected, []string{"hello", "bye"}},
		{"param", p.param, []string{"bye"}},
		// other has the wrong type
		{"table", p.table, []string{"hello"}},
		{"annotated", p.annotated, []string{}},
		{"cast", p.cast, []string{"hello"}},
	}
	for _, test := range tests {
		got := names(cg.Callees(test.call, contexts.Priv()))
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("%s: callees mismatch (-want +got):\n%s", test.name, diff)
		}
	}
	if got := names(inferred.Targets(ir.StripPointerCasts(p.param.Callee()))); !cmp.Equal(got, []string{"bye"}) {
		t.Errorf("expected the parameter of dispatch to point to bye, got %v", got)
	}
	if inferred.Kind() != fptargets.KindInferred {
		t.Errorf("unexpected kind %s", inferred.Kind())
	}
}

func TestAnnotated(t *testing.T) {
	p := newProgram()
	logger := newLogger()
	pa, err := annotations.Load(p.m, logger)
	if err != nil {
		t.Fatalf("annotations: %v", err)
	}
	cg := callgraph.New(p.m, nil, logger)
	annotated := fptargets.NewAnnotated(pa, cg, logger)
	if err := annotated.Compute(); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if diff := cmp.Diff([]string{"hello", "bye"}, names(annotated.Targets(p.annotated.Callee()))); diff != "" {
		t.Errorf("annotated targets mismatch (-want +got):\n%s", diff)
	}
	if got := annotated.Targets(p.stored.Callee()); len(got) != 0 {
		t.Errorf("expected no annotated targets for the stored pointer, got %v", names(got))
	}
}

func TestLoadEdges(t *testing.T) {
	p := newProgram()
	logger := newLogger()
	pa, err := annotations.Load(p.m, logger)
	if err != nil {
		t.Fatalf("annotations: %v", err)
	}
	cg := callgraph.New(p.m, nil, logger)
	err = cg.LoadAnnotatedInferredCallGraphEdges(fptargets.NewInferred(cg, logger),
		fptargets.NewAnnotated(pa, cg, logger))
	if err != nil {
		t.Fatalf("LoadAnnotatedInferredCallGraphEdges: %v", err)
	}
	if !cg.Populated() {
		t.Errorf("call graph not populated")
	}
	for _, call := range []*ir.Instruction{p.stored, p.selected, p.param, p.table, p.annotated, p.cast} {
		if len(cg.Callees(call, contexts.Priv())) == 0 {
			t.Errorf("call %s has no callees", call)
		}
	}
	// the targets of the cast pointer are filtered by the type of the call after the graph is repopulated
	if got := names(cg.Callees(p.cast, contexts.Priv())); !cmp.Equal(got, []string{"hello"}) {
		t.Errorf("expected the cast pointer call to only reach hello, got %v", got)
	}
	if u := cg.Unresolved(); len(u) != 0 {
		t.Errorf("expected no unresolved calls, got %d", len(u))
	}
	bye := p.m.Function("bye")
	callers := cg.Callers(bye, contexts.Priv())
	if len(callers) != 3 {
		t.Errorf("expected bye to be called from 3 calls, got %d", len(callers))
	}
}
