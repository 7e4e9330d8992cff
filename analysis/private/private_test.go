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

package private_test

import (
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/private"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/internal/analysistest"
	"github.com/google/go-cmp/cmp"
)

type program struct {
	m           *ir.Module
	key, shared      *ir.Global
	declassified     *ir.Instruction
	beforeDeclassify *ir.Instruction
}

// newProgram builds the sandboxes net, owning the global key, and zip. net leaks key in several ways, zip and
// main read it. The declassified copy of key stored by store_declassified leaks nothing.
func newProgram() program {
	var p program
	b := ir.NewBuilder("private")
	p.key = b.Global("key", "i32", b.Int(7))
	b.Annotate(p.key, "SANDBOX_PRIVATE_net")
	p.shared = b.Global("shared", "i32", b.Int(0))
	send := b.Declare("send", ir.Signature{Ret: "void", Params: []string{"i32"}})
	declassify := b.Declare("__soaap_declassify", ir.Signature{Ret: "void", Params: []string{"i32"}})

	store := b.Func("store_declassified", ir.Signature{Ret: "void"})
	store.At(30)
	x := store.Alloca("x", "i32")
	store.Store(store.Load("k", p.key), x)
	store.At(31)
	p.beforeDeclassify = store.Load("x1", x)
	store.Call("", declassify, p.beforeDeclassify)
	store.At(32)
	p.declassified = store.Load("x2", x)
	store.Store(p.declassified, p.shared)
	store.Ret(nil)

	worker := b.Func("worker", ir.Signature{Ret: "i32"})
	worker.At(3)
	worker.Call("", store.F)
	worker.At(4)
	k := worker.Load("k", p.key)
	worker.At(5)
	worker.Store(k, p.shared)
	worker.At(6)
	worker.Call("", send, k)
	worker.At(7)
	worker.Ret(k)
	b.Annotate(worker.F, "SANDBOX_EPHEMERAL_net")

	zip := b.Func("zip_worker", ir.Signature{Ret: "void"})
	zip.At(12)
	zip.Load("stolen", p.key)
	zip.Ret(nil)
	b.Annotate(zip.F, "SANDBOX_EPHEMERAL_zip")

	main := b.Func("main", ir.Signature{Ret: "i32"})
	main.At(20)
	main.Load("peek", p.key)
	main.At(21)
	main.Call("", worker.F)
	main.Call("", zip.F)
	main.Ret(b.Int(0))
	p.m = b.Module()
	return p
}

func run(t *testing.T) (*private.Analysis, []report.Diagnostic, program) {
	p := newProgram()
	state := analysistest.NewState(t, p.m, config.NewDefault())
	a := private.New(state.Session)
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	var diags []report.Diagnostic
	diags = append(diags, state.Report.OfKind(report.KindPrivateAccess)...)
	diags = append(diags, state.Report.OfKind(report.KindPrivateLeak)...)
	return a, diags, p
}

func TestPrivateData(t *testing.T) {
	_, diags, _ := run(t)
	got := []string{}
	for _, d := range diags {
		got = append(got, string(d.Kind)+":"+d.Resource+"@"+d.Location.String())
	}
	want := []string{
		"private_access:[net]@zip_worker(private.c:12)",
		"private_access:[net]@main(private.c:20)",
		"private_leak:shared@worker(private.c:5)",
		"private_leak:send@worker(private.c:6)",
		"private_leak:worker@worker(private.c:7)",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	messages := map[string]bool{}
	for _, d := range diags {
		messages[d.Message] = true
	}
	for _, m := range []string{
		`Privileged method "main" read data value belonging to sandboxes: [net]`,
		`Sandboxed method "zip_worker" read data value belonging to sandboxes: [net] but it executes in sandboxes: [zip]`,
		`Sandboxed method "worker" executing in sandboxes: [net] may leak private data through global variable shared`,
		`Sandbox "net" may leak private data when returning a value from entrypoint "worker"`,
	} {
		if !messages[m] {
			t.Errorf("missing diagnostic %q", m)
		}
	}
}

func TestDeclassification(t *testing.T) {
	a, _, p := run(t)
	if !a.Declassifier().IsDeclassified(p.declassified) {
		t.Errorf("the load following the declassification should be declassified")
	}
	if a.Declassifier().IsDeclassified(p.beforeDeclassify) {
		t.Errorf("the load preceding the declassification should not be declassified")
	}
}

func TestRegion(t *testing.T) {
	b := ir.NewBuilder("region")
	f := b.Func("f", ir.Signature{Ret: "void", Params: []string{"i1"}}, "c")
	then := f.NewBlock("then")
	els := f.NewBlock("else")
	end := f.NewBlock("end")
	f.CondBr(f.Param(0), then, els)
	f.SetBlock(then)
	mark := f.Call("", b.Declare("mark", ir.Signature{Ret: "void"}))
	f.Br(end)
	f.SetBlock(els)
	f.Br(end)
	f.SetBlock(end)
	f.Ret(nil)
	b.Module()

	region := private.Region(mark)
	if len(region) != 2 || region[0] != mark || region[1] != then.Terminator() {
		t.Errorf("the region of a call in a block dominating nothing is the rest of its block, got %v", region)
	}
	entry := f.F.Entry()
	if got := private.Region(entry.Terminator()); len(got) != 1+len(then.Insts)+len(els.Insts)+len(end.Insts) {
		t.Errorf("the region of the entry terminator should cover every block, got %d instructions", len(got))
	}
}
