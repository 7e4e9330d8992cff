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

package rpc_test

import (
	"strings"
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/rpc"
	"github.com/awslabs/ar-soaap-tools/internal/analysistest"
	"github.com/google/go-cmp/cmp"
)

var (
	sendSig = ir.Signature{Ret: "void", Params: []string{"i8*", "i8*"}, Variadic: true}
	recvSig = ir.Signature{Ret: "void", Params: []string{"i8*", "i8*", "void ()*"}}
	syncSig = ir.Signature{Ret: "void", Params: []string{"i8*", "i8*"}}
)

// newProgram builds main sending ping and quit to the sandbox net, which answers pong to the privileged context
func newProgram() *ir.Module {
	b := ir.NewBuilder("rpc")
	sig := ir.Signature{Ret: "void"}
	handle := b.Func("handle_ping", sig)
	handle.At(2)
	handle.Ret(nil)

	worker := b.Func("worker", sig)
	worker.At(5)
	worker.CallNamed("", "__soaap_rpc_recv_helper", recvSig, b.CString("<privileged>"), b.CString("ping"), handle.F)
	worker.At(6)
	worker.Call("", handle.F)
	worker.At(7)
	worker.CallNamed("", "__soaap_rpc_send_helper", sendSig, b.CString("<privileged>"), b.CString("pong"))
	worker.Ret(nil)
	b.Annotate(worker.F, "SANDBOX_PERSISTENT_net")

	main := b.Func("main", ir.Signature{Ret: "i32"})
	main.At(20)
	main.Call("", worker.F)
	main.At(21)
	main.CallNamed("", "__soaap_rpc_send_helper", sendSig, b.CString("net"), b.CString("ping"))
	main.At(22)
	main.CallNamed("", "__soaap_rpc_send_helper", sendSig, b.CString("net"), b.CString("quit"))
	main.At(23)
	main.CallNamed("", "__soaap_rpc_recv_sync_helper", syncSig, b.CString("net"), b.CString("pong"))
	main.Ret(b.Int(0))
	return b.Module()
}

func TestBuild(t *testing.T) {
	state := analysistest.NewState(t, newProgram(), config.NewDefault())
	g := rpc.Build(state.Session)
	var buf strings.Builder
	g.Dump(&buf)
	want := "main (<privileged>) -- ping --> net (handled by handle_ping)\n" +
		"main (<privileged>) -- quit --> net (handler missing)\n" +
		"worker (net) -- pong --> <privileged> (handled by main)\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("unexpected links (-want +got):\n%s", diff)
	}
	if g.Links[0].Call.Loc.Line != 21 || g.Links[0].Recipient == nil || g.Links[0].Sender != nil {
		t.Errorf("unexpected first link %v", g.Links[0])
	}
}

func TestWriteDOT(t *testing.T) {
	state := analysistest.NewState(t, newProgram(), config.NewDefault())
	var buf strings.Builder
	if err := rpc.Build(state.Session).WriteDOT(&buf); err != nil {
		t.Fatal(err)
	}
	want := `digraph G {
	subgraph cluster_0 {
		rankdir=TB
		label = "<privileged>"
		n0 [label="main"];
	}
	subgraph cluster_1 {
		rankdir=TB
		label = "net"
		n1 [label="handle_ping"];
		n2 [label="worker",style="bold"];
		n1 -> n2 [style=invis];
	}
	n2 -> n1 [constraint=false];

	n0 -> n1 [label="ping",style="dashed"];
	n2 -> n0 [label="pong",style="dashed"];
}
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("unexpected dot output (-want +got):\n%s", diff)
	}
}
