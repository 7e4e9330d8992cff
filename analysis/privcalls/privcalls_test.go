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

package privcalls_test

import (
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/privcalls"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/internal/analysistest"
)

func TestPrivilegedCalls(t *testing.T) {
	b := ir.NewBuilder("privcalls")
	sig := ir.Signature{Ret: "void"}
	grant := b.Func("grant_access", sig)
	grant.At(2)
	grant.Ret(nil)
	b.Annotate(grant.F, "SOAAP_PRIVILEGED")
	audit := b.Func("audit", sig)
	audit.At(3)
	audit.Ret(nil)
	b.Annotate(audit.F, "SOAAP_PRIVILEGED")

	worker := b.Func("worker", sig)
	worker.At(6)
	worker.Call("", grant.F)
	worker.At(7)
	worker.Call("", audit.F)
	worker.Ret(nil)
	b.Annotate(worker.F, "SANDBOX_EPHEMERAL_net")

	main := b.Func("main", ir.Signature{Ret: "i32"})
	main.At(20)
	main.Call("", grant.F)
	main.Call("", worker.F)
	gates := ir.Signature{Ret: "void", Params: []string{"i32"}, Variadic: true}
	main.CallNamed("", "__soaap_declare_callgates_helper_net", gates, b.Int(0), audit.F)
	main.Ret(b.Int(0))
	m := b.Module()

	state := analysistest.NewState(t, m, config.NewDefault())
	if n := privcalls.Check(state.Session); n != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", n)
	}
	d := state.Report.OfKind(report.KindPrivilegedCall)[0]
	if d.Resource != "grant_access" || d.Location.Line != 6 || d.Sandbox != "net" {
		t.Errorf("unexpected diagnostic %+v", d)
	}
	want := `Sandbox "net" calls privileged function "grant_access" that they are not allowed to. If intended, ` +
		`annotate this permission using the __soaap_callgates annotation.`
	if d.Message != want {
		t.Errorf("unexpected message %q", d.Message)
	}
}
