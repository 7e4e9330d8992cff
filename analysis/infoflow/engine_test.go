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

package infoflow_test

import (
	"io"
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/container/intsets"
)

var (
	priv = contexts.Priv()
	net  = contexts.ForSandbox(0, "net")
)

// sandboxes has one sandbox net, entered by calling worker. Every other function is privileged.
type sandboxes struct {
	worker *ir.Function
}

func (s sandboxes) IsPrivileged(f *ir.Function) bool { return f != s.worker }

func (s sandboxes) IsPrivilegedInstruction(i *ir.Instruction) bool { return s.IsPrivileged(i.Function()) }

func (s sandboxes) FunctionSandboxes(f *ir.Function) []contexts.Context {
	if f == s.worker {
		return []contexts.Context{net}
	}
	return nil
}

func (s sandboxes) InstructionSandboxes(i *ir.Instruction) []contexts.Context {
	return s.FunctionSandboxes(i.Function())
}

func (s sandboxes) EntryPointOf(f *ir.Function) (contexts.Context, bool) { return net, f == s.worker }

func (s sandboxes) IsCallgateOf(contexts.Context, *ir.Function) bool { return false }

func (s sandboxes) Sandboxes() []contexts.Context { return []contexts.Context{net} }

type program struct {
	m                       *ir.Module
	secret, handler         *ir.Global
	helper, worker, handle  *ir.Function
	v, r, a, w, sum, dup    *ir.Instruction
	rec, fld, res, fp, fres *ir.Instruction
	phi                     *ir.Instruction
}

// newProgram returns a main function reading @secret and passing it through memory, calls, an entry point, an
// extern function, an aggregate, a function pointer and a phi
func newProgram() program {
	b := ir.NewBuilder("flow")
	intToInt := ir.Signature{Ret: "i32", Params: []string{"i32"}}
	var p program
	p.secret = b.Global("secret", "i32", b.Int(42))
	strdup := b.Declare("strdup", ir.Signature{Ret: "i8*", Params: []string{"i8*"}})

	helper := b.Func("helper", intToInt, "q")
	helper.Ret(helper.Param(0))
	p.helper = helper.F
	worker := b.Func("worker", intToInt, "n")
	worker.Ret(worker.Param(0))
	p.worker = worker.F
	handle := b.Func("handle", intToInt, "c")
	handle.Ret(handle.Param(0))
	p.handle = handle.F
	p.handler = b.Global("handler", "i32 (i32)*", handle.F)

	mainFn := b.Func("main", ir.Signature{Ret: "i32"})
	entry := mainFn.F.Entry()
	p.v = mainFn.Load("v", p.secret)
	p.r = mainFn.Call("r", helper.F, p.v)
	p.a = mainFn.Alloca("a", "i32")
	mainFn.Store(p.r, p.a)
	p.w = mainFn.Load("w", p.a)
	p.sum = mainFn.BinOp("add", "sum", p.v, b.Int(1))
	p.dup = mainFn.Call("dup", strdup, p.v)
	p.rec = mainFn.Alloca("rec", "%struct.rec")
	p.fld = mainFn.GEP("fld", p.rec, b.Int(0), b.Int(1))
	mainFn.Store(p.v, p.fld)
	p.res = mainFn.Call("res", worker.F, p.v)
	p.fp = mainFn.Load("fp", p.handler)
	p.fres = mainFn.Call("fres", p.fp, p.v)
	then := mainFn.NewBlock("then")
	join := mainFn.NewBlock("join")
	mainFn.CondBr(mainFn.Cmp("c", p.v, b.Int(0)), then, join)
	mainFn.SetBlock(then)
	mainFn.Br(join)
	mainFn.SetBlock(join)
	p.phi = mainFn.Phi("ph", "i32", ir.PhiEdge{Value: p.v, Block: entry}, ir.PhiEdge{Value: b.Int(0), Block: then})
	mainFn.Ret(p.phi)
	p.m = b.Module()
	return p
}

func newLogger() *config.LogGroup {
	logger := config.NewLogGroup(config.NewDefault())
	logger.SetAllOutput(io.Discard)
	return logger
}

func newMaskEngine(p program, insensitive bool) *infoflow.Engine[uint32] {
	logger := newLogger()
	resolver := contexts.NewResolver(sandboxes{worker: p.worker}, insensitive)
	return infoflow.NewEngine[uint32]("mask", infoflow.IntMask{}, resolver, callgraph.New(p.m, nil, logger), logger)
}

// seeds is an analysis seeding fixed facts
type seeds[L any] struct {
	init func(e *infoflow.Engine[L])
	skip ir.Value
	must bool
}

func (s *seeds[L]) Initialise(e *infoflow.Engine[L]) error {
	s.init(e)
	return nil
}

func (s *seeds[L]) PostDataFlow(*infoflow.Engine[L]) error { return nil }

func (s *seeds[L]) SkipPropagation(from ir.Value) bool { return from == s.skip }

func (s *seeds[L]) MustAnalysis() bool { return s.must }

func checkFacts(t *testing.T, e *infoflow.Engine[uint32], ctx contexts.Context, want map[ir.Value]uint32) {
	t.Helper()
	for v, fact := range want {
		got, ok := e.Fact(v, ctx)
		if !ok {
			t.Errorf("%s has no fact in %s", v, ctx)
		} else if got != fact {
			t.Errorf("fact of %s in %s = %#x, want %#x", v, ctx, got, fact)
		}
	}
}

func TestPropagation(t *testing.T) {
	p := newProgram()
	e := newMaskEngine(p, false)
	err := e.Run(&seeds[uint32]{init: func(e *infoflow.Engine[uint32]) {
		e.Seed(p.secret, priv, 1)
	}})
	if err != nil {
		t.Fatal(err)
	}
	checkFacts(t, e, priv, map[ir.Value]uint32{
		p.v:                1,
		p.helper.Params[0]: 1, // argument to parameter
		p.r:                1, // returned value to the call
		p.a:                1, // stored value to the pointer
		p.w:                1, // pointer to the loaded value
		p.sum:              0, // binary operators get bottom
		p.dup:              1, // strdup copies its argument
		p.fld:              1,
		p.rec:              1, // store through a getelementptr reaches the aggregate
		p.res:              1, // the entry point returns to the privileged caller
		p.phi:              1,
	})
	checkFacts(t, e, net, map[ir.Value]uint32{p.worker.Params[0]: 1})
	if _, ok := e.Fact(p.worker.Params[0], priv); ok {
		t.Errorf("entry point parameter has a privileged fact")
	}
	if _, ok := e.Fact(p.fres, priv); ok {
		t.Errorf("unresolved function pointer call has a fact")
	}
	if e.Steps() == 0 {
		t.Errorf("no steps recorded")
	}
}

func TestBinOpKeepsSeededFact(t *testing.T) {
	p := newProgram()
	e := newMaskEngine(p, false)
	err := e.Run(&seeds[uint32]{init: func(e *infoflow.Engine[uint32]) {
		e.Seed(p.secret, priv, 1)
		e.Seed(p.sum, priv, 4)
	}})
	if err != nil {
		t.Fatal(err)
	}
	checkFacts(t, e, priv, map[ir.Value]uint32{p.v: 1, p.sum: 4})
}

func TestNoContextSeed(t *testing.T) {
	p := newProgram()
	e := newMaskEngine(p, false)
	err := e.Run(&seeds[uint32]{init: func(e *infoflow.Engine[uint32]) {
		e.Seed(p.secret, contexts.NoContext(), 2)
	}})
	if err != nil {
		t.Fatal(err)
	}
	checkFacts(t, e, priv, map[ir.Value]uint32{p.secret: 2, p.v: 2, p.w: 2})
	checkFacts(t, e, net, map[ir.Value]uint32{p.worker.Params[0]: 2})
}

func TestContextInsensitive(t *testing.T) {
	p := newProgram()
	e := newMaskEngine(p, true)
	err := e.Run(&seeds[uint32]{init: func(e *infoflow.Engine[uint32]) {
		e.Seed(p.secret, priv, 1)
		e.Seed(p.handler, net, 4)
	}})
	if err != nil {
		t.Fatal(err)
	}
	// every context over-approximates the context sensitive facts
	for _, ctx := range []contexts.Context{priv, net, contexts.NoContext(), contexts.SingleContext()} {
		checkFacts(t, e, ctx, map[ir.Value]uint32{
			p.v:                1,
			p.w:                1,
			p.worker.Params[0]: 1,
			p.res:              1,
			p.fp:               4,
			p.helper.Params[0]: 1,
			p.secret:           1,
			p.handler:          4,
		})
	}
}

func TestPropagationFilter(t *testing.T) {
	p := newProgram()
	e := newMaskEngine(p, false)
	err := e.Run(&seeds[uint32]{skip: p.v, init: func(e *infoflow.Engine[uint32]) {
		e.Seed(p.secret, priv, 1)
	}})
	if err != nil {
		t.Fatal(err)
	}
	checkFacts(t, e, priv, map[ir.Value]uint32{p.v: 1})
	for _, v := range []ir.Value{p.r, p.w, p.dup, p.rec} {
		if f, ok := e.Fact(v, priv); ok {
			t.Errorf("%s got fact %#x from a filtered value", v, f)
		}
	}
}

// fpObserver resolves the function pointer call to handle when the state of the function pointer changes
type fpObserver struct {
	seeds[uint32]
	observed []ir.Value
}

func (o *fpObserver) OnFunctionPointer(e *infoflow.Engine[uint32], call *ir.Instruction, fp ir.Value,
	_ contexts.Context, fact uint32) uint32 {
	o.observed = append(o.observed, fp)
	e.CallGraph.AddCallees(call, []*ir.Function{e.CallGraph.Module().Function("handle")})
	return fact
}

func TestFunctionPointerObserver(t *testing.T) {
	p := newProgram()
	e := newMaskEngine(p, false)
	o := &fpObserver{seeds: seeds[uint32]{init: func(e *infoflow.Engine[uint32]) {
		e.Seed(p.secret, priv, 1)
		e.Seed(p.handler, priv, 4)
	}}}
	if err := e.Run(o); err != nil {
		t.Fatal(err)
	}
	if len(o.observed) == 0 || o.observed[0] != ir.Value(p.fp) {
		t.Fatalf("observed function pointers %v, want %s", o.observed, p.fp)
	}
	// every argument is propagated to the new callee, and back through its return
	checkFacts(t, e, priv, map[ir.Value]uint32{p.handle.Params[0]: 1, p.fres: 1})
}

func TestMustAnalysis(t *testing.T) {
	b := ir.NewBuilder("must")
	take := b.Func("take", ir.Signature{Ret: "void", Params: []string{"i32"}}, "fd")
	take.Ret(nil)
	g1 := b.Global("g1", "i32", b.Int(1))
	g2 := b.Global("g2", "i32", b.Int(2))
	mainFn := b.Func("main", ir.Signature{Ret: "i32"})
	a1 := mainFn.Load("a1", g1)
	a2 := mainFn.Load("a2", g2)
	mainFn.Call("", take.F, a1)
	mainFn.Call("", take.F, a2)
	mainFn.Ret(b.Int(0))
	m := b.Module()

	for _, test := range []struct {
		must bool
		want []int
	}{
		{must: true, want: []int{2}},
		{must: false, want: []int{1, 2}},
	} {
		logger := newLogger()
		resolver := contexts.NewResolver(sandboxes{}, false)
		e := infoflow.NewEngine[*intsets.Sparse]("syscalls", infoflow.BitVector{Intersect: test.must}, resolver,
			callgraph.New(m, nil, logger), logger)
		err := e.Run(&seeds[*intsets.Sparse]{must: test.must, init: func(e *infoflow.Engine[*intsets.Sparse]) {
			e.Seed(a1, priv, infoflow.Set(1, 2))
			e.Seed(a2, priv, infoflow.Set(2))
		}})
		if err != nil {
			t.Fatal(err)
		}
		got, ok := e.Fact(take.F.Params[0], priv)
		if !ok {
			t.Fatalf("must=%v: parameter has no fact", test.must)
		}
		if diff := cmp.Diff(test.want, got.AppendTo(nil)); diff != "" {
			t.Errorf("must=%v: parameter fact mismatch (-want +got):\n%s", test.must, diff)
		}
	}
}

func TestDeterministic(t *testing.T) {
	describe := func() []string {
		p := newProgram()
		e := newMaskEngine(p, false)
		err := e.Run(&seeds[uint32]{init: func(e *infoflow.Engine[uint32]) {
			e.Seed(p.secret, priv, 1)
			e.Seed(p.handler, contexts.NoContext(), 2)
		}})
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, v := range p.m.Values() {
			out = append(out, e.Describe(v))
		}
		return out
	}
	if diff := cmp.Diff(describe(), describe()); diff != "" {
		t.Errorf("two runs differ (-first +second):\n%s", diff)
	}
}

func TestQueueSet(t *testing.T) {
	q := infoflow.NewQueueSet[string]()
	for _, s := range []string{"a", "b", "a", "c", "b"} {
		q.Enqueue(s)
	}
	if q.Len() != 3 {
		t.Fatalf("queue has %d elements, want 3", q.Len())
	}
	var got []string
	for !q.Empty() {
		got = append(got, q.Dequeue())
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("dequeue order mismatch (-want +got):\n%s", diff)
	}
	if !q.Enqueue("a") || q.Enqueue("a") || !q.Contains("a") {
		t.Errorf("element removed by Dequeue should be enqueued again exactly once")
	}
}

func TestLattices(t *testing.T) {
	bv := infoflow.BitVector{Names: func(i int) string { return []string{"read", "write", "fstat"}[i] }}
	if got := bv.String(bv.Meet(infoflow.Set(0), infoflow.Set(2))); got != "[read,fstat]" {
		t.Errorf("union = %s", got)
	}
	inter := infoflow.BitVector{Intersect: true}
	from, to := infoflow.Set(0, 1), infoflow.Set(1, 2)
	if got := inter.Meet(from, to); !got.Equals(infoflow.Set(1)) {
		t.Errorf("intersection = %s", got)
	}
	if from.Len() != 2 || to.Len() != 2 {
		t.Errorf("meet modified its arguments")
	}
	if got := (infoflow.Origin{}).Meet(infoflow.FromSandbox, infoflow.FromPrivileged); got != infoflow.FromSandbox {
		t.Errorf("origin meet = %s", infoflow.Origin{}.String(got))
	}
	if got := (infoflow.IntMask{}).String(0x5); got != "0x5" {
		t.Errorf("mask string = %s", got)
	}
	if !(infoflow.Bool{}).Meet(true, false) {
		t.Errorf("bool meet is not or")
	}
}
