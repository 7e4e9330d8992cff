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

package contexts_test

import (
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/google/go-cmp/cmp"
)

// fakeSandboxes has one sandbox "net" with entry point worker, containing worker and helper, with callgate gate.
type fakeSandboxes struct {
	worker, helper, gate, main *ir.Function
}

var net = contexts.ForSandbox(0, "net")

func (s fakeSandboxes) IsPrivileged(f *ir.Function) bool {
	return f == s.main || f == s.helper || f == s.gate
}

func (s fakeSandboxes) IsPrivilegedInstruction(i *ir.Instruction) bool { return s.IsPrivileged(i.Function()) }

func (s fakeSandboxes) FunctionSandboxes(f *ir.Function) []contexts.Context {
	if f == s.worker || f == s.helper {
		return []contexts.Context{net}
	}
	return nil
}

func (s fakeSandboxes) InstructionSandboxes(i *ir.Instruction) []contexts.Context {
	return s.FunctionSandboxes(i.Function())
}

func (s fakeSandboxes) EntryPointOf(f *ir.Function) (contexts.Context, bool) {
	return net, f == s.worker
}

func (s fakeSandboxes) IsCallgateOf(c contexts.Context, f *ir.Function) bool { return c == net && f == s.gate }

func (s fakeSandboxes) Sandboxes() []contexts.Context { return []contexts.Context{net} }

func newFake() (fakeSandboxes, *ir.Instruction) {
	b := ir.NewBuilder("ctx")
	void := ir.Signature{Ret: "void"}
	worker := b.Func("worker", void)
	worker.Ret(nil)
	helper := b.Func("helper", void)
	helper.Ret(nil)
	gate := b.Func("gate", void)
	gate.Ret(nil)
	mainFn := b.Func("main", void)
	call := mainFn.Call("", worker.F)
	mainFn.Call("", helper.F)
	mainFn.Ret(nil)
	b.Module()
	return fakeSandboxes{worker: worker.F, helper: helper.F, gate: gate.F, main: mainFn.F}, call
}

func TestContextString(t *testing.T) {
	for c, want := range map[contexts.Context]string{
		contexts.Priv():          "[<priv>]",
		contexts.NoContext():     "[<none>]",
		contexts.SingleContext(): "[<single>]",
		net:                      "[net]",
	} {
		if c.String() != want {
			t.Errorf("expected %s, got %s", want, c)
		}
	}
	if contexts.ForSandbox(0, "net") != net {
		t.Errorf("sandbox contexts should compare by value")
	}
}

func TestResolverSensitive(t *testing.T) {
	s, call := newFake()
	r := contexts.NewResolver(s, false)

	if diff := cmp.Diff([]contexts.Context{net, contexts.Priv()}, r.ContextsForFunction(s.helper)); diff != "" {
		t.Errorf("helper contexts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]contexts.Context{net}, r.ContextsForFunction(s.worker)); diff != "" {
		t.Errorf("worker contexts mismatch (-want +got):\n%s", diff)
	}
	if got := r.CalleeContext(contexts.Priv(), s.worker); got != net {
		t.Errorf("calling an entry point should enter its sandbox, got %s", got)
	}
	if got := r.CalleeContext(net, s.gate); got != contexts.Priv() {
		t.Errorf("calling a callgate from a sandbox should be privileged, got %s", got)
	}
	if got := r.CalleeContext(contexts.Priv(), s.gate); got != contexts.Priv() {
		t.Errorf("calling a callgate from privileged code stays privileged, got %s", got)
	}
	if got := r.CalleeContext(net, s.helper); got != net {
		t.Errorf("regular calls keep the caller context, got %s", got)
	}
	if diff := cmp.Diff([]contexts.Context{contexts.Priv()}, r.CallerContexts(net, s.worker, call)); diff != "" {
		t.Errorf("entry point returns mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]contexts.Context{net}, r.CallerContexts(net, s.helper, call)); diff != "" {
		t.Errorf("regular returns mismatch (-want +got):\n%s", diff)
	}
	want := []contexts.Context{contexts.Priv(), contexts.NoContext(), net}
	if diff := cmp.Diff(want, r.AllContexts()); diff != "" {
		t.Errorf("all contexts mismatch (-want +got):\n%s", diff)
	}
	if !r.InContext(call, contexts.Priv()) || r.InContext(call, net) {
		t.Errorf("call in main should only be privileged")
	}
}

func TestResolverInsensitive(t *testing.T) {
	s, call := newFake()
	r := contexts.NewResolver(s, true)
	single := []contexts.Context{contexts.SingleContext()}
	if diff := cmp.Diff(single, r.ContextsForFunction(s.helper)); diff != "" {
		t.Errorf("insensitive contexts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(single, r.ContextsForInstruction(call)); diff != "" {
		t.Errorf("insensitive contexts mismatch (-want +got):\n%s", diff)
	}
	if got := r.CalleeContext(net, s.worker); got != contexts.SingleContext() {
		t.Errorf("insensitive callee context should be single, got %s", got)
	}
	if diff := cmp.Diff(single, r.CallerContexts(net, s.worker, call)); diff != "" {
		t.Errorf("insensitive caller contexts mismatch (-want +got):\n%s", diff)
	}
}
