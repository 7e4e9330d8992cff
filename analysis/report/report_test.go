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

package report_test

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/google/go-cmp/cmp"
)

type program struct {
	read, write *ir.Instruction
	fn          *ir.Function
}

func newProgram() program {
	b := ir.NewBuilder("report")
	b.SetFile("/src/libz", "inflate.c")
	counter := b.Global("counter", "i32", b.Int(0))
	f := b.Func("inflate", ir.Signature{Ret: "void"})
	f.At(12)
	read := f.Load("v", counter)
	f.At(14)
	write := f.Store(b.Int(1), counter)
	f.Ret(nil)
	b.Module()
	return program{read: read, write: write, fn: f.F}
}

func newReport() *report.Report {
	cfg := config.NewDefault()
	cfg.Libraries = map[string][]string{"zlib": {"/src/libz"}}
	return report.New(cfg)
}

func diagnostic(r *report.Report, kind report.Kind, site *ir.Instruction, resource string) report.Diagnostic {
	return report.Diagnostic{
		Kind:     kind,
		Sandbox:  "decompress",
		Function: site.Function().Name(),
		Resource: resource,
		Message:  "violation on " + resource,
		Location: r.At(site),
	}
}

func TestLocation(t *testing.T) {
	p := newProgram()
	r := newReport()
	want := report.Location{Function: "inflate", File: "inflate.c", Line: 14, Library: "zlib"}
	if diff := cmp.Diff(want, r.At(p.write)); diff != "" {
		t.Errorf("location mismatch (-want +got):\n%s", diff)
	}
	if got := r.At(p.write).String(); got != "inflate(inflate.c:14)" {
		t.Errorf("String() = %q", got)
	}
	if got := r.At(p.fn); got.Line != 12 || got.Library != "zlib" {
		t.Errorf("function location = %+v", got)
	}
}

func TestDedupAndOrder(t *testing.T) {
	p := newProgram()
	r := newReport()
	if !r.Add(p.write, diagnostic(r, report.KindGlobalWrite, p.write, "counter")) {
		t.Fatalf("first diagnostic not added")
	}
	if r.Add(p.write, diagnostic(r, report.KindGlobalWrite, p.write, "counter")) {
		t.Errorf("duplicate diagnostic added")
	}
	r.Add(p.read, diagnostic(r, report.KindGlobalRead, p.read, "counter"))
	r.Add(p.read, diagnostic(r, report.KindGlobalWrite, p.read, "counter"))
	if r.Len() != 3 {
		t.Fatalf("expected 3 diagnostics, got %d", r.Len())
	}
	var got []string
	for _, d := range r.Diagnostics() {
		got = append(got, string(d.Kind)+"@"+d.Location.String())
	}
	want := []string{
		"global_read_warning@inflate(inflate.c:12)",
		"global_write_warning@inflate(inflate.c:12)",
		"global_write_warning@inflate(inflate.c:14)",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLibraryFilter(t *testing.T) {
	p := newProgram()
	r := newReport()
	r.Config.NoWarnLibs = []string{"zlib"}
	if r.Add(p.read, diagnostic(r, report.KindGlobalRead, p.read, "counter")) {
		t.Errorf("diagnostic in a nowarn library was added")
	}
}

func TestSummarise(t *testing.T) {
	var trace []report.Location
	for i := 1; i <= 7; i++ {
		trace = append(trace, report.Location{Function: "f", File: "a.c", Line: i})
	}
	got, summarised := report.Summarise(trace, 2)
	if !summarised || len(got) != 4 || got[1].Line != 2 || got[2].Line != 6 {
		t.Errorf("Summarise(7, 2) = %v, %v", got, summarised)
	}
	if _, summarised := report.Summarise(trace, 4); summarised {
		t.Errorf("a trace shorter than twice the limit was summarised")
	}
	if _, summarised := report.Summarise(trace, 0); summarised {
		t.Errorf("a zero limit summarised the trace")
	}
}

func TestRenderers(t *testing.T) {
	p := newProgram()
	r := newReport()
	r.Add(p.read, diagnostic(r, report.KindGlobalRead, p.read, "counter"))
	r.AddNote(r.At(p.fn), "unresolved call in %s", p.fn.Name())

	var text bytes.Buffer
	if err := r.Write(&text, config.FormatText); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"violation on counter", "Line 12 of file inflate.c (zlib library)", "unresolved call"} {
		if !strings.Contains(text.String(), s) {
			t.Errorf("text report does not contain %q:\n%s", s, text.String())
		}
	}

	var js bytes.Buffer
	if err := r.Write(&js, config.FormatJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Diagnostics []report.Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(decoded.Diagnostics) != 1 || decoded.Diagnostics[0].Sandbox != "decompress" {
		t.Errorf("unexpected json report %s", js.String())
	}

	var x bytes.Buffer
	if err := r.Write(&x, config.FormatXML); err != nil {
		t.Fatal(err)
	}
	if err := xml.Unmarshal(x.Bytes(), new(struct{})); err != nil {
		t.Errorf("invalid xml: %v", err)
	}

	var h bytes.Buffer
	if err := r.Write(&h, config.FormatHTML); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.String(), "<td>global_read_warning</td>") {
		t.Errorf("html report does not list the diagnostic:\n%s", h.String())
	}

	if err := r.Write(&h, "pdf"); err == nil {
		t.Errorf("expected an error for an unknown format")
	}
}

func TestWriteAll(t *testing.T) {
	p := newProgram()
	r := newReport()
	r.Config.ReportsDir = filepath.Join(t.TempDir(), "out")
	r.Config.ReportOutputFormats = []string{config.FormatText, config.FormatJSON}
	r.Add(p.read, diagnostic(r, report.KindGlobalRead, p.read, "counter"))
	logger := config.NewLogGroup(r.Config)
	logger.SetAllOutput(&bytes.Buffer{})

	var stdout bytes.Buffer
	written := r.WriteAll(&stdout, logger)
	if len(written) != 2 {
		t.Fatalf("expected 2 report files, got %v", written)
	}
	if filepath.Base(written[1]) != "soaap.json" {
		t.Errorf("unexpected report file name %s", written[1])
	}
	if _, err := os.Stat(written[0]); err != nil {
		t.Errorf("text report not written: %v", err)
	}
	if stdout.Len() == 0 {
		t.Errorf("text report not written to stdout")
	}
}
