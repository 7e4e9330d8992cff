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

package annotations_test

import (
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/internal/funcutil"
	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		kind    annotations.Kind
		payload string
	}{
		{"SANDBOX_PERSISTENT_net", annotations.SandboxPersistent, "net"},
		{"SOAAP_FD_read, write", annotations.FD, "read, write"},
		{"SOAAP_FD_SYSCALLS_read", annotations.FDSysCalls, "read"},
		{"SOAAP_FD_KEY_SYSCALLS_write", annotations.FDKeySysCalls, "write"},
		{"SOAAP_FD_GETTER", annotations.FDGetter, ""},
		{"SOAAP_PRIVILEGED", annotations.Privileged, ""},
		{"SOAAP_SYSCALLS_read,write", annotations.SysCalls, "read,write"},
		{"perf_overhead_(25)", annotations.PerfOverhead, "25"},
		{"SOAAP_SANDBOX_REGION_START_box", annotations.RegionStart, "box"},
		{"nonnull", annotations.Unknown, "nonnull"},
	}
	for _, test := range tests {
		kind, payload := annotations.Parse(test.in)
		if kind != test.kind || payload != test.payload {
			t.Errorf("Parse(%q) = %s, %q; want %s, %q", test.in, kind, payload, test.kind, test.payload)
		}
	}
}

func TestParseList(t *testing.T) {
	got := annotations.ParseList(` "a", b ,,c `)
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("ParseList mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadAnnotations(t *testing.T) {
	b := ir.NewBuilder("prog")
	secret := b.Global("secret", "i32", b.Int(0))
	b.Annotate(secret, "CLASSIFY_sensitive")
	counter := b.Global("counter", "i32", b.Int(0))
	b.Annotate(counter, "VAR_READ_net")

	worker := b.Func("worker", ir.Signature{Ret: "void", Params: []string{"i32"}}, "fd")
	worker.At(3)
	slot := worker.Alloca("fd.addr", "i32")
	worker.Store(worker.Param(0), slot)
	worker.VarAnnotation(slot, "SOAAP_FD_read")
	worker.Ret(nil)
	b.Annotate(worker.F, "SANDBOX_PERSISTENT_net")
	b.Annotate(worker.F, "perf_overhead_(10)")
	b.Annotate(worker.F, "CLEARANCE_public")

	mainFn := b.Func("main", ir.Signature{Ret: "i32"})
	mainFn.At(10)
	mainFn.IntAnnotation("", b.Int(0), "SOAAP_PERSISTENT_SANDBOX_CREATE_net")
	mainFn.Call("", worker.F, b.Int(1))
	mainFn.Ret(b.Int(0))
	m := b.Module()

	pa, err := annotations.Load(m, config.NewLogGroup(config.NewDefault()))
	if err != nil {
		t.Fatalf("error loading annotations: %s", err)
	}
	if pa.Count() != 7 {
		t.Errorf("expected 7 annotations, got %d: %v", pa.Count(), pa.All)
	}
	if !testHasAnnotation(pa.ForFunction(worker.F), annotations.SandboxPersistent, "net") {
		t.Errorf("worker should be annotated with SANDBOX_PERSISTENT_net")
	}
	if !pa.FunctionHas(worker.F, annotations.PerfOverhead) {
		t.Errorf("worker should have a perf_overhead annotation")
	}
	for _, a := range pa.ForFunction(worker.F) {
		if n, ok := a.Overhead(); ok && n != 10 {
			t.Errorf("expected overhead 10, got %d", n)
		}
	}
	if !testHasAnnotation(pa.ForGlobal(secret), annotations.Classify, "sensitive") {
		t.Errorf("secret should be classified sensitive")
	}
	vars := pa.VarAnnotations()
	if len(vars) != 1 || vars[0].Target != slot || vars[0].Function() != worker.F {
		t.Errorf("expected one var annotation on fd.addr, got %v", vars)
	}
	values := pa.ValueAnnotations()
	if len(values) != 1 || values[0].Kind != annotations.PersistentSandboxCreate || values[0].Line != 10 {
		t.Errorf("expected one creation point annotation at line 10, got %v", values)
	}
	if idx, ok := pa.Classes().Index("sensitive"); !ok || idx != 0 {
		t.Errorf("expected sensitive to have index 0, got %d", idx)
	}
	if got := pa.Classes().Stringify(3); got != "[sensitive,public]" {
		t.Errorf("unexpected stringified mask %q", got)
	}
	if fns := pa.FunctionsWith(annotations.SandboxPersistent); len(fns) != 1 || fns[0] != worker.F {
		t.Errorf("expected worker as only persistent entry point, got %v", fns)
	}
}

func TestClassIndexOverflow(t *testing.T) {
	c := annotations.NewClassIndex()
	for i := 0; i < annotations.MaxLabels; i++ {
		if _, ok := c.Assign(string(rune('a' + i))); !ok {
			t.Fatalf("label %d should fit", i)
		}
	}
	if _, ok := c.Assign("overflow"); ok {
		t.Errorf("label beyond %d should be rejected", annotations.MaxLabels)
	}
	if idx, _ := c.Assign("a"); idx != 0 {
		t.Errorf("existing label should keep its index")
	}
}

func testHasAnnotation(l []annotations.Annotation, kind annotations.Kind, name string) bool {
	return funcutil.Exists(l, func(a annotations.Annotation) bool { return a.IsMatchingAnnotation(kind, name) })
}
