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

package callgraph_test

import (
	"bytes"
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/google/go-cmp/cmp"
)

var net = contexts.ForSandbox(0, "net")

// program is main -> setup -> log, main -> worker -> helper -> log, helper -> helper, and a call from main through
// the function pointer stored in @handler. worker is the entry point of sandbox net.
type program struct {
	m                                    *ir.Module
	log, onEvent, helper, worker, setup  *ir.Function
	mainFn                               *ir.Function
	callSetup, callWorker, fpCall        *ir.Instruction
	logInSetup, helperInWorker, selfCall *ir.Instruction
}

func newProgram() program {
	b := ir.NewBuilder("cg")
	void := ir.Signature{Ret: "void"}
	var p program
	p.log = b.Declare("log", void)
	onEvent := b.Func("onEvent", void)
	onEvent.Ret(nil)
	p.onEvent = onEvent.F
	handler := b.Global("handler", "void ()*", onEvent.F)

	helper := b.Func("helper", void)
	helper.Call("", p.log)
	p.selfCall = helper.Call("", helper.F)
	helper.Ret(nil)
	p.helper = helper.F

	worker := b.Func("worker", void)
	p.helperInWorker = worker.Call("", helper.F)
	worker.Call("", p.log)
	worker.Ret(nil)
	p.worker = worker.F

	setup := b.Func("setup", void)
	p.logInSetup = setup.Call("", p.log)
	setup.Ret(nil)
	p.setup = setup.F

	mainFn := b.Func("main", ir.Signature{Ret: "i32"})
	mainFn.At(10)
	p.callSetup = mainFn.Call("", setup.F)
	p.callWorker = mainFn.Call("", worker.F)
	fp := mainFn.Load("fp", handler)
	p.fpCall = mainFn.Call("", fp)
	mainFn.CallNamed("", "llvm.donothing", void)
	mainFn.Ret(b.Int(0))
	p.mainFn = mainFn.F
	p.m = b.Module()
	return p
}

// fakeProvider resolves the function pointer loaded from @handler to onEvent
type fakeProvider struct {
	p        program
	computed bool
}

func (f *fakeProvider) Kind() string     { return "annotated" }
func (f *fakeProvider) Compute() error   { f.computed = true; return nil }
func (f *fakeProvider) HasTargets() bool { return f.computed }
func (f *fakeProvider) Targets(fp ir.Value) []*ir.Function {
	if load, ok := fp.(*ir.Instruction); ok && load.Op == ir.OpLoad {
		return []*ir.Function{f.p.onEvent}
	}
	return nil
}

// fakeSandboxes has the sandbox net with entry point worker, containing worker and helper
type fakeSandboxes struct{ p program }

func (s fakeSandboxes) IsPrivileged(f *ir.Function) bool {
	return len(s.FunctionSandboxes(f)) == 0
}
func (s fakeSandboxes) IsPrivilegedInstruction(i *ir.Instruction) bool { return s.IsPrivileged(i.Function()) }
func (s fakeSandboxes) FunctionSandboxes(f *ir.Function) []contexts.Context {
	if f == s.p.worker || f == s.p.helper {
		return []contexts.Context{net}
	}
	return nil
}
func (s fakeSandboxes) InstructionSandboxes(i *ir.Instruction) []contexts.Context {
	return s.FunctionSandboxes(i.Function())
}
func (s fakeSandboxes) EntryPointOf(f *ir.Function) (contexts.Context, bool) { return net, f == s.p.worker }
func (s fakeSandboxes) IsCallgateOf(contexts.Context, *ir.Function) bool     { return false }
func (s fakeSandboxes) Sandboxes() []contexts.Context                       { return []contexts.Context{net} }

func names(fns ...*ir.Function) []string {
	res := []string{}
	for _, f := range fns {
		res = append(res, f.Name())
	}
	return res
}

func ids(calls ...*ir.Instruction) []int {
	res := []int{}
	for _, c := range calls {
		res = append(res, c.ID())
	}
	return res
}

func newGraph(p program) *callgraph.Graph {
	return callgraph.New(p.m, nil, config.NewLogGroup(config.NewDefault()))
}

func TestPopulate(t *testing.T) {
	p := newProgram()
	g := newGraph(p)
	priv := contexts.Priv()
	if diff := cmp.Diff(names(p.setup), names(g.Callees(p.callSetup, priv)...)); diff != "" {
		t.Errorf("callees of direct call mismatch (-want +got):\n%s", diff)
	}
	if !g.Populated() {
		t.Errorf("expected the graph to be populated by the first query")
	}
	if callees := g.Callees(p.fpCall, priv); len(callees) != 0 {
		t.Errorf("expected no callee for the function pointer call, got %v", callees)
	}
	if diff := cmp.Diff(ids(p.fpCall), ids(g.Unresolved()...)); diff != "" {
		t.Errorf("unresolved calls mismatch (-want +got):\n%s", diff)
	}
	callers := g.Callers(p.log, priv)
	if len(callers) != 3 || callers[len(callers)-1] != p.logInSetup {
		t.Errorf("expected the three calls to log, got %v", callers)
	}
	if !callgraph.IsIndirectCall(p.fpCall) || callgraph.IsIndirectCall(p.callSetup) {
		t.Errorf("IsIndirectCall does not distinguish direct and indirect calls")
	}
	if !callgraph.IsExternCall(p.logInSetup) || callgraph.IsExternCall(p.callSetup) {
		t.Errorf("IsExternCall does not distinguish declarations")
	}
}

func TestLoadAnnotatedInferredCallGraphEdges(t *testing.T) {
	p := newProgram()
	g := newGraph(p)
	provider := &fakeProvider{p: p}
	if err := g.LoadAnnotatedInferredCallGraphEdges(provider); err != nil {
		t.Fatalf("loading edges failed: %v", err)
	}
	if !provider.computed {
		t.Errorf("expected the provider to be computed")
	}
	if diff := cmp.Diff(names(p.onEvent), names(g.Callees(p.fpCall, contexts.Priv())...)); diff != "" {
		t.Errorf("callees of function pointer call mismatch (-want +got):\n%s", diff)
	}
	if len(g.Unresolved()) != 0 {
		t.Errorf("expected no unresolved call, got %v", g.Unresolved())
	}

	var buf bytes.Buffer
	g.Print(&buf)
	want := "helper\n  -> log, 1\n  -> helper, 1\n\n" +
		"worker\n  -> log, 1\n  -> helper, 1\n\n" +
		"setup\n  -> log, 1\n\n" +
		"main\n  -> onEvent, 1\n  -> worker, 1\n  -> setup, 1\n\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("Print mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	g.ListFPTargets(&buf)
	want = "  Function \"main\"\n    Call at cg.c:10\n      Targets:\n        onEvent (annotated)\n\n" +
		"1 function-pointer calls in total\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("ListFPTargets mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	g.ListFPCalls(&buf, fakeSandboxes{p})
	want = "  main:\n    Call: cg.c:10\n1 function-pointer calls in total\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("ListFPCalls mismatch (-want +got):\n%s", diff)
	}
}

func TestContextEdges(t *testing.T) {
	p := newProgram()
	g := newGraph(p)
	g.AddContextCallees(p.fpCall, net, []*ir.Function{p.onEvent})
	if callees := g.Callees(p.fpCall, contexts.Priv()); len(callees) != 0 {
		t.Errorf("edge added for net is visible in the privileged context: %v", callees)
	}
	if diff := cmp.Diff(names(p.onEvent), names(g.Callees(p.fpCall, net)...)); diff != "" {
		t.Errorf("callees in net mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ids(p.fpCall), ids(g.Callers(p.onEvent, net)...)); diff != "" {
		t.Errorf("callers in net mismatch (-want +got):\n%s", diff)
	}
	g.AddCallees(p.fpCall, []*ir.Function{p.setup})
	if diff := cmp.Diff(ids(p.callSetup, p.fpCall), ids(g.Callers(p.setup, contexts.Priv())...)); diff != "" {
		t.Errorf("callers after AddCallees mismatch (-want +got):\n%s", diff)
	}
}

func TestPaths(t *testing.T) {
	p := newProgram()
	g := newGraph(p)
	sandboxes := fakeSandboxes{p}

	trace, ok := g.PrivilegedPathTo(p.log, sandboxes)
	if !ok {
		t.Fatalf("expected a privileged path to log")
	}
	if diff := cmp.Diff(ids(p.logInSetup, p.callSetup), ids(trace...)); diff != "" {
		t.Errorf("privileged path mismatch (-want +got):\n%s", diff)
	}
	if _, ok := g.PrivilegedPathTo(p.helper, sandboxes); ok {
		t.Errorf("helper is only reachable through the sandbox entry point")
	}
	trace, ok = g.SandboxedPathTo(p.helper, []*ir.Function{p.worker}, sandboxes)
	if !ok {
		t.Fatalf("expected a sandboxed path to helper")
	}
	if diff := cmp.Diff(ids(p.helperInWorker, p.callWorker), ids(trace...)); diff != "" {
		t.Errorf("sandboxed path mismatch (-want +got):\n%s", diff)
	}
	trace, ok = g.ShortestPathFrom(p.mainFn, p.helper, func(*ir.Function) bool { return false })
	if !ok || len(trace) != 2 {
		t.Errorf("expected a path of length 2 from main to helper, got %v", trace)
	}
}

func TestRecursiveFunctions(t *testing.T) {
	p := newProgram()
	g := newGraph(p)
	groups := g.RecursiveFunctions()
	if len(groups) != 1 {
		t.Fatalf("expected one group of recursive functions, got %d", len(groups))
	}
	if diff := cmp.Diff(names(p.helper), names(groups[0]...)); diff != "" {
		t.Errorf("recursive functions mismatch (-want +got):\n%s", diff)
	}
	cycles := g.Cycles()
	if len(cycles) != 1 || cycles[0][0] != p.helper {
		t.Errorf("expected the self-loop of helper as the only cycle, got %v", cycles)
	}
	var buf bytes.Buffer
	g.ListAllFuncs(&buf)
	want := "onEvent\nhelper\nworker\nsetup\nmain\nrecursive: helper\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("ListAllFuncs mismatch (-want +got):\n%s", diff)
	}
}
