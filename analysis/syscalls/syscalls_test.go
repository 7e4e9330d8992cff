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

package syscalls_test

import (
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/syscalls"
	"github.com/awslabs/ar-soaap-tools/internal/analysistest"
	"github.com/google/go-cmp/cmp"
)

type program struct {
	m                     *ir.Module
	open, read, write     *ir.Instruction
	beforeLimit, afterEnd *ir.Instruction
}

// newProgram builds a sandbox "net" entered by worker, which opens a file, limits its system calls to read and
// then reads and writes
func newProgram() program {
	var p program
	b := ir.NewBuilder("syscalls")
	sig := ir.Signature{Ret: "i64", Params: []string{"i32", "i8*", "i64"}}
	read := b.Declare("read", sig)
	write := b.Declare("write", sig)
	open := b.Declare("open", ir.Signature{Ret: "i32", Params: []string{"i8*", "i32"}})

	worker := b.Func("worker", ir.Signature{Ret: "void"})
	worker.At(4)
	p.open = worker.Call("fd", open, b.Null("i8*"), b.Int(0))
	worker.At(5)
	p.beforeLimit = worker.IntAnnotation("", b.Int(0), "SOAAP_SYSCALLS_read")
	worker.At(6)
	p.read = worker.Call("", read, p.open, b.Null("i8*"), b.IntOfType("i64", 1))
	worker.At(7)
	p.write = worker.Call("", write, p.open, b.Null("i8*"), b.IntOfType("i64", 1))
	worker.Ret(nil)
	b.Annotate(worker.F, "SANDBOX_EPHEMERAL_net")

	main := b.Func("main", ir.Signature{Ret: "i32"})
	main.At(20)
	main.Call("", worker.F)
	p.afterEnd = main.Call("", write, b.Int(1), b.Null("i8*"), b.IntOfType("i64", 1))
	main.Ret(b.Int(0))
	p.m = b.Module()
	return p
}

func run(t *testing.T, platform string) (*syscalls.Analysis, []report.Diagnostic, program) {
	p := newProgram()
	cfg := config.NewDefault()
	cfg.SandboxPlatform = platform
	state := analysistest.NewState(t, p.m, cfg)
	a := syscalls.New(state.Session)
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	return a, state.Report.OfKind(report.KindSysCall), p
}

func resources(diags []report.Diagnostic) []string {
	res := []string{}
	for _, d := range diags {
		res = append(res, d.Resource+"@"+d.Location.String())
	}
	return res
}

func TestAnnotatedLimits(t *testing.T) {
	a, diags, p := run(t, config.PlatformAnnotated)
	want := []string{"open@worker(syscalls.c:4)", "write@worker(syscalls.c:7)"}
	if diff := cmp.Diff(want, resources(diags)); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	if len(diags) > 0 && diags[0].Message != `Sandbox "net" performs system call "open" but it is not allowed to, `+
		`based on the current sandboxing restrictions.` {
		t.Errorf("unexpected message %q", diags[0].Message)
	}
	if !a.AllowedAt(p.read, "read") || a.AllowedAt(p.read, "write") {
		t.Errorf("only read should be allowed after the limit point")
	}
	if a.AllowedAt(p.open, "open") {
		t.Errorf("no system call should be allowed before the limit point")
	}
	if diff := cmp.Diff([]string{"read"}, a.Allowed(p.write)); diff != "" {
		t.Errorf("allowed system calls mismatch (-want +got):\n%s", diff)
	}
}

func TestPlatformLimits(t *testing.T) {
	_, diags, _ := run(t, config.PlatformCapsicum)
	if diff := cmp.Diff([]string{"open@worker(syscalls.c:4)"}, resources(diags)); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestNoSandboxPlatform(t *testing.T) {
	_, diags, _ := run(t, config.PlatformNone)
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics without sandbox platform, got %v", resources(diags))
	}
}
