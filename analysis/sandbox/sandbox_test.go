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

package sandbox_test

import (
	"bytes"
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/sandbox"
	"github.com/google/go-cmp/cmp"
)

var (
	void     = ir.Signature{Ret: "void"}
	sysCall  = ir.Signature{Ret: "i64", Params: []string{"i32", "i8*", "i64"}}
	fdWorker = ir.Signature{Ret: "void", Params: []string{"i32"}}
	gateDecl = ir.Signature{Ret: "void", Params: []string{"i32"}, Variadic: true}
)

// program has a persistent sandbox "net" entered by worker and created in main, a sandboxed region "zip" in main
// around the call to compress, and a sandbox "vault" only named by the private global @key.
type program struct {
	m                              *ir.Module
	worker, helper, gate, compress *ir.Function
	log, read                      *ir.Function
	setup, mainFn                  *ir.Function
	key, counter                   *ir.Global
	fdParam                        *ir.Param
	fieldAnnotation, limit, create *ir.Instruction
	regionStart, callCompress      *ir.Instruction
	regionEnd, afterRegion         *ir.Instruction
}

func newProgram() program {
	b := ir.NewBuilder("sb")
	var p program
	p.log = b.Declare("log", void)
	p.read = b.Declare("read", sysCall)
	b.Declare("write", sysCall)
	p.key = b.Global("key", "i32", b.Int(42))
	p.counter = b.Global("counter", "i32", b.Int(0))
	b.Annotate(p.key, "SANDBOX_PRIVATE_vault")
	b.Annotate(p.counter, "VAR_READ_net")

	gate := b.Func("gate", void)
	gate.Ret(nil)
	p.gate = gate.F

	helper := b.Func("helper", void)
	helper.At(20)
	p.limit = helper.IntAnnotation("", b.Int(0), "SOAAP_SYSCALLS_read, write, unknown")
	helper.Call("", p.log)
	helper.Call("", gate.F)
	helper.Ret(nil)
	p.helper = helper.F

	worker := b.Func("worker", fdWorker, "fd")
	worker.At(30)
	slot := worker.Alloca("fd.addr", "i32")
	worker.Store(worker.Param(0), slot)
	worker.VarAnnotation(slot, "SOAAP_FD_read")
	field := worker.Alloca("conn", "i32")
	p.fieldAnnotation = worker.PtrAnnotation("", field, `SOAAP_FD_"net"write`)
	worker.Call("", helper.F)
	worker.Call("", p.read, worker.Param(0), b.Null("i8*"), b.IntOfType("i64", 0))
	worker.Ret(nil)
	p.worker = worker.F
	p.fdParam = worker.Param(0)
	b.Annotate(worker.F, "SANDBOX_PERSISTENT_net")
	b.Annotate(worker.F, "perf_overhead_(20)")
	b.Annotate(worker.F, "CLEARANCE_secret")
	b.Annotate(worker.F, "SANDBOX_EPHEMERAL_other")

	declare := b.Func("__soaap_declare_callgates_net", void)
	declare.CallNamed("", "__soaap_declare_callgates_helper_net", gateDecl, b.Int(0), gate.F)
	declare.Ret(nil)

	compress := b.Func("compress", void)
	compress.Call("", p.log)
	compress.Ret(nil)
	p.compress = compress.F

	setup := b.Func("setup", void)
	setup.Ret(nil)
	p.setup = setup.F

	mainFn := b.Func("main", ir.Signature{Ret: "i32"})
	mainFn.At(10)
	mainFn.Call("", setup.F)
	p.create = mainFn.IntAnnotation("", b.Int(0), "SOAAP_PERSISTENT_SANDBOX_CREATE_net")
	mainFn.Call("", worker.F, b.Int(3))
	p.regionStart = mainFn.IntAnnotation("", b.Int(0), "SOAAP_SANDBOX_REGION_START_zip")
	p.callCompress = mainFn.Call("", compress.F)
	p.regionEnd = mainFn.IntAnnotation("", b.Int(0), "SOAAP_SANDBOX_REGION_END_zip")
	p.afterRegion = mainFn.Call("", setup.F)
	mainFn.Ret(b.Int(0))
	p.mainFn = mainFn.F
	p.m = b.Module()
	return p
}

func discover(t *testing.T, m *ir.Module) *sandbox.Model {
	t.Helper()
	logger := config.NewLogGroup(config.NewDefault())
	pa, err := annotations.Load(m, logger)
	if err != nil {
		t.Fatalf("could not load annotations: %v", err)
	}
	model, err := sandbox.Discover(sandbox.Inputs{
		Module:      m,
		Annotations: pa,
		CallGraph:   callgraph.New(m, nil, logger),
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("sandbox discovery failed: %v", err)
	}
	return model
}

func names(fns []*ir.Function) []string {
	res := []string{}
	for _, f := range fns {
		res = append(res, f.Name())
	}
	return res
}

func sandboxNames(sandboxes []*sandbox.Sandbox) []string {
	res := []string{}
	for _, s := range sandboxes {
		res = append(res, s.Name)
	}
	return res
}

func TestDiscoverSandboxes(t *testing.T) {
	p := newProgram()
	model := discover(t, p.m)

	if diff := cmp.Diff([]string{"net", "zip", "vault"}, sandboxNames(model.All())); diff != "" {
		t.Fatalf("sandboxes mismatch (-want +got):\n%s", diff)
	}
	net := model.SandboxWithName("net")
	if net.Index != 0 || !net.Persistent || net.Overhead != 20 {
		t.Errorf("net: index %d, persistent %v, overhead %d", net.Index, net.Persistent, net.Overhead)
	}
	if net.Clearances != 1 {
		t.Errorf("net clearances = %b, want 1", net.Clearances)
	}
	if diff := cmp.Diff([]string{"worker"}, names(net.EntryPoints)); diff != "" {
		t.Errorf("entry points mismatch (-want +got):\n%s", diff)
	}
	if model.SandboxWithName("other") != nil {
		t.Errorf("a function can be the entry point of one sandbox only")
	}
	zip := model.SandboxWithName("zip")
	if zip.Index != 1 || zip.Persistent || !zip.IsRegion() || zip.EnclosingFunction() != p.mainFn {
		t.Errorf("zip: index %d, persistent %v, region %v", zip.Index, zip.Persistent, zip.IsRegion())
	}
	if len(zip.Region) != 3 || zip.Region[0] != p.regionStart || zip.Region[2] != p.regionEnd {
		t.Errorf("zip region is %v", zip.Region)
	}
	vault := model.SandboxWithName("vault")
	if vault.Index != 2 || !vault.Persistent || len(vault.EntryPoints) != 0 || len(vault.Region) != 0 {
		t.Errorf("vault should be an empty persistent sandbox")
	}
	if data := vault.PrivateData(); len(data) != 1 || data[0] != p.key {
		t.Errorf("vault private data = %v, want [@key]", data)
	}
	if got := model.StringifyMask(0b101); got != "[net,vault]" {
		t.Errorf("StringifyMask(0b101) = %q", got)
	}
	if got := sandboxNames(model.FromMask(0b110)); !cmp.Equal(got, []string{"zip", "vault"}) {
		t.Errorf("FromMask(0b110) = %v", got)
	}
}

func TestSandboxInit(t *testing.T) {
	p := newProgram()
	model := discover(t, p.m)
	net := model.SandboxWithName("net")

	if diff := cmp.Diff([]string{"worker", "helper", "log", "gate", "read"}, names(net.Functions())); diff != "" {
		t.Errorf("functions mismatch (-want +got):\n%s", diff)
	}
	if !net.IsCallgate(p.gate) || !model.IsCallgate(p.gate) || model.IsCallgate(p.helper) {
		t.Errorf("gate should be the only callgate")
	}
	if got := net.SharedGlobals()[p.counter]; got != sandbox.Read || !net.CanRead(p.counter) ||
		net.CanWrite(p.counter) {
		t.Errorf("counter access = %s, want read", got)
	}
	if got := net.Capabilities()[p.fdParam]; !cmp.Equal(got, []string{"read"}) {
		t.Errorf("fd capability = %v, want [read]", got)
	}
	if got := net.Capabilities()[p.fieldAnnotation]; !cmp.Equal(got, []string{"write"}) {
		t.Errorf("field capability = %v, want [write]", got)
	}
	if len(net.SysCallLimitPoints()) != 1 || net.SysCallLimitPoints()[0] != p.limit {
		t.Fatalf("limit points = %v", net.SysCallLimitPoints())
	}
	if got := net.AllowedSysCalls(p.limit); !cmp.Equal(got, []string{"read", "write"}) {
		t.Errorf("allowed system calls = %v, want [read write]", got)
	}
	if len(net.CreationPoints()) != 1 || net.CreationPoints()[0] != p.create {
		t.Errorf("creation points = %v", net.CreationPoints())
	}
	// 4 calls in worker, 3 in helper, none in log, gate and read
	if len(net.Calls()) != 7 || len(net.TopLevelCalls()) != 4 {
		t.Errorf("%d calls and %d top-level calls", len(net.Calls()), len(net.TopLevelCalls()))
	}

	zip := model.SandboxWithName("zip")
	if diff := cmp.Diff([]string{"compress", "log"}, names(zip.Functions())); diff != "" {
		t.Errorf("zip functions mismatch (-want +got):\n%s", diff)
	}
	if len(zip.TopLevelCalls()) != 3 {
		t.Errorf("zip has %d top-level calls, want the two annotations and the call to compress",
			len(zip.TopLevelCalls()))
	}
}

func TestPrivilegedCode(t *testing.T) {
	p := newProgram()
	model := discover(t, p.m)

	if diff := cmp.Diff([]string{"main", "setup", "compress", "log"}, names(model.PrivilegedFunctions())); diff != "" {
		t.Errorf("privileged functions mismatch (-want +got):\n%s", diff)
	}
	if model.IsPrivileged(p.worker) || model.IsPrivileged(p.helper) {
		t.Errorf("sandboxed functions are not privileged")
	}
	if model.IsPrivilegedInstruction(p.callCompress) || !model.IsPrivilegedInstruction(p.afterRegion) {
		t.Errorf("only instructions outside the region of main are privileged")
	}
	if !model.IsWithinSandboxedRegion(p.callCompress) || model.IsWithinSandboxedRegion(p.afterRegion) {
		t.Errorf("region membership is wrong")
	}

	zip := model.SandboxWithName("zip").Context()
	r := contexts.NewResolver(model, false)
	if got := r.ContextsForInstruction(p.callCompress); !cmp.Equal(got, []contexts.Context{zip}) {
		t.Errorf("contexts of the call in the region = %v", got)
	}
	if got := r.ContextsForFunction(p.compress); !cmp.Equal(got, []contexts.Context{zip, contexts.Priv()}) {
		t.Errorf("contexts of compress = %v", got)
	}
	net := model.SandboxWithName("net").Context()
	if got := r.CalleeContext(contexts.Priv(), p.worker); got != net {
		t.Errorf("calling worker enters %v", got)
	}
	if got := r.CalleeContext(net, p.gate); got != contexts.Priv() {
		t.Errorf("calling a callgate from net executes in %v", got)
	}
}

func TestListings(t *testing.T) {
	p := newProgram()
	model := discover(t, p.m)
	var buf bytes.Buffer
	model.ListSandboxedFunctions(&buf)
	want := "  Sandbox: net (persistent)\n    worker (sb.c)\n    helper (sb.c)\n    gate (sb.c)\n\n" +
		"  Sandbox: zip (ephemeral)\n    compress (sb.c)\n\n" +
		"  Sandbox: vault (persistent)\n\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("sandboxed functions mismatch (-want +got):\n%s", diff)
	}
	buf.Reset()
	model.ListPrivilegedFunctions(&buf)
	want = "  Privileged methods:\n    main (sb.c)\n    setup (sb.c)\n    compress (sb.c)\n\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("privileged functions mismatch (-want +got):\n%s", diff)
	}
}

func TestRegionWithoutEnd(t *testing.T) {
	b := ir.NewBuilder("region")
	mainFn := b.Func("main", ir.Signature{Ret: "i32"})
	start := mainFn.IntAnnotation("", b.Int(0), "SOAAP_SANDBOX_REGION_START_tail")
	next := mainFn.NewBlock("next")
	mainFn.Br(next)
	mainFn.SetBlock(next)
	ret := mainFn.Ret(b.Int(0))
	model := discover(t, b.Module())

	tail := model.SandboxWithName("tail")
	if tail == nil {
		t.Fatalf("no sandbox for the region")
	}
	if len(tail.Region) != 3 || tail.Region[0] != start || tail.Region[2] != ret {
		t.Errorf("region should run to the end of the function, got %v", tail.Region)
	}
}

func TestValidateCreationPoints(t *testing.T) {
	p := newProgram()
	if v := discover(t, p.m).ValidateCreationPoints(); len(v) != 0 {
		t.Errorf("creation precedes the entry point call, got %d violations", len(v))
	}

	b := ir.NewBuilder("early")
	worker := b.Func("worker", void)
	worker.Ret(nil)
	b.Annotate(worker.F, "SANDBOX_EPHEMERAL_early")
	run := b.Func("run", void)
	callWorker := run.Call("", worker.F)
	run.Ret(nil)
	mainFn := b.Func("main", ir.Signature{Ret: "i32"})
	callRun := mainFn.Call("", run.F)
	mainFn.IntAnnotation("", b.Int(0), "SOAAP_EPHEMERAL_SANDBOX_CREATE_early")
	mainFn.Call("", worker.F)
	mainFn.Ret(b.Int(0))

	violations := discover(t, b.Module()).ValidateCreationPoints()
	if len(violations) != 1 {
		t.Fatalf("got %d violations, want 1", len(violations))
	}
	v := violations[0]
	if v.Sandbox.Name != "early" || v.EntryPoint != worker.F {
		t.Errorf("violation for %s on %s", v.Sandbox.Name, v.EntryPoint.Name())
	}
	if len(v.Trace) != 2 || v.Trace[0] != callWorker || v.Trace[1] != callRun {
		t.Errorf("trace = %v", v.Trace)
	}
}

func TestDuplicateRegionName(t *testing.T) {
	b := ir.NewBuilder("dup")
	worker := b.Func("worker", void)
	worker.Ret(nil)
	b.Annotate(worker.F, "SANDBOX_PERSISTENT_box")
	mainFn := b.Func("main", ir.Signature{Ret: "i32"})
	mainFn.IntAnnotation("", b.Int(0), "SOAAP_SANDBOX_REGION_START_box")
	mainFn.IntAnnotation("", b.Int(0), "SOAAP_SANDBOX_REGION_END_box")
	mainFn.Ret(b.Int(0))
	m := b.Module()

	logger := config.NewLogGroup(config.NewDefault())
	pa, _ := annotations.Load(m, logger)
	_, err := sandbox.Discover(sandbox.Inputs{Module: m, Annotations: pa, CallGraph: callgraph.New(m, nil, logger),
		Logger: logger})
	if err == nil {
		t.Errorf("a region cannot reuse the name of a sandbox")
	}
}
