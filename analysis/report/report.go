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

// Package report collects the policy violations found by the analyses and renders them as text, JSON, XML or
// HTML.
package report

import (
	"fmt"
	"path/filepath"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"golang.org/x/exp/slices"
)

// Kind classifies diagnostics. The kinds are the element names of the structured reports.
type Kind string

const (
	KindVulnerability   Kind = "vulnerability_warning"
	KindGlobalRead      Kind = "global_read_warning"
	KindGlobalWrite     Kind = "global_write_warning"
	KindLostUpdate      Kind = "global_lost_update"
	KindSysCall         Kind = "syscall_warning"
	KindCapRights       Kind = "cap_rights_warning"
	KindClassified      Kind = "classified_warning"
	KindPrivateAccess   Kind = "private_access"
	KindPrivateLeak     Kind = "private_leak"
	KindUntrustedFP     Kind = "access_origin_warning"
	KindPrivilegedCall  Kind = "privileged_call"
	KindSandboxedFunc   Kind = "sandboxed_func"
	KindCreationMissing Kind = "sandbox_creation_warning"
)

// Location is a point of the analyzed program
type Location struct {
	Function string `json:"function" xml:"function"`
	File     string `json:"file,omitempty" xml:"file,omitempty"`
	Line     int    `json:"line,omitempty" xml:"line,omitempty"`
	Library  string `json:"library,omitempty" xml:"library,omitempty"`
}

// String returns "function(file:line)" with the base name of the file, or the function name alone
func (l Location) String() string {
	if l.File == "" {
		return l.Function
	}
	return fmt.Sprintf("%s(%s:%d)", l.Function, filepath.Base(l.File), l.Line)
}

// Position returns "Line N of file F"
func (l Location) Position() string {
	if l.File == "" {
		return "unknown location in " + l.Function
	}
	s := fmt.Sprintf("Line %d of file %s", l.Line, l.File)
	if l.Library != "" {
		s += " (" + l.Library + " library)"
	}
	return s
}

// Diagnostic is one policy violation
type Diagnostic struct {
	Kind     Kind   `json:"kind" xml:"kind,attr"`
	Sandbox  string `json:"sandbox,omitempty" xml:"sandbox,omitempty"`
	Function string `json:"function" xml:"function"`
	// Resource is the global, system call, class, callee or environment variable involved
	Resource string   `json:"resource,omitempty" xml:"resource,omitempty"`
	Message  string   `json:"message" xml:"message"`
	Location Location `json:"location" xml:"location"`
	// Trace is the call stack leading to the violation, innermost call first
	Trace   []Location `json:"trace,omitempty" xml:"trace>frame,omitempty"`
	Details []string   `json:"details,omitempty" xml:"details>detail,omitempty"`

	site ir.Value
}

// Note is a tool-level remark about the analysis itself, e.g. an unresolved call
type Note struct {
	Message  string   `json:"message" xml:"message"`
	Location Location `json:"location" xml:"location"`
}

type key struct {
	kind     Kind
	site     int
	sandbox  string
	resource string
}

// Report accumulates the diagnostics of an analysis session. Diagnostics are deduplicated by kind, program point,
// sandbox and resource, and dropped when their library is filtered out by the configuration.
type Report struct {
	Config      *config.Config
	diagnostics []Diagnostic
	notes       []Note
	seen        map[key]bool
}

// New returns an empty report
func New(cfg *config.Config) *Report {
	return &Report{Config: cfg, seen: map[key]bool{}}
}

// Add records d at the program point site and returns false if it was filtered or duplicated
func (r *Report) Add(site ir.Value, d Diagnostic) bool {
	if !r.Config.ShouldOutputWarningFor(d.Location.Library) {
		return false
	}
	k := key{kind: d.Kind, site: -1, sandbox: d.Sandbox, resource: d.Resource}
	if site != nil {
		k.site = site.ID()
	}
	if r.seen[k] {
		return false
	}
	r.seen[k] = true
	d.site = site
	r.diagnostics = append(r.diagnostics, d)
	return true
}

// AddNote records a note about the analysis
func (r *Report) AddNote(loc Location, format string, args ...any) {
	r.notes = append(r.notes, Note{Message: fmt.Sprintf(format, args...), Location: loc})
}

// Diagnostics returns the diagnostics sorted by kind, then file, line, sandbox and resource
func (r *Report) Diagnostics() []Diagnostic {
	res := slices.Clone(r.diagnostics)
	slices.SortStableFunc(res, func(a, b Diagnostic) bool {
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Location.File != b.Location.File {
			return a.Location.File < b.Location.File
		}
		if a.Location.Line != b.Location.Line {
			return a.Location.Line < b.Location.Line
		}
		if a.Sandbox != b.Sandbox {
			return a.Sandbox < b.Sandbox
		}
		return a.Resource < b.Resource
	})
	return res
}

// OfKind returns the sorted diagnostics of kind k
func (r *Report) OfKind(k Kind) []Diagnostic {
	var res []Diagnostic
	for _, d := range r.Diagnostics() {
		if d.Kind == k {
			res = append(res, d)
		}
	}
	return res
}

// Notes returns the notes in the order they were added
func (r *Report) Notes() []Note { return r.notes }

// Len returns the number of diagnostics
func (r *Report) Len() int { return len(r.diagnostics) }

// At returns the location of v: the debug location of an instruction, or the definition of a function or global.
// The library is found from the configured library source paths.
func (r *Report) At(v ir.Value) Location {
	var loc Location
	switch x := v.(type) {
	case *ir.Instruction:
		loc.Function = x.Function().Name()
		if x.Loc != nil {
			loc.File = x.Loc.File
			loc.Line = x.Loc.Line
		}
		loc.Library = r.Config.LibraryOf(x.SourcePath())
	case *ir.Function:
		loc.Function = x.Name()
		loc.File = x.File
		loc.Line = x.Line
		loc.Library = r.Config.LibraryOf(joinDir(x.Dir, x.File))
	case *ir.Global:
		loc.Function = x.Name()
		loc.File = x.File
		loc.Line = x.Line
		loc.Library = r.Config.LibraryOf(x.File)
	default:
		if f := ir.EnclosingFunction(v); f != nil {
			return r.At(f)
		}
		loc.Function = v.Name()
	}
	return loc
}

func joinDir(dir, file string) string {
	if file == "" || dir == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}

// Trace converts a call stack to locations when traces are enabled for the analysis, and returns nil otherwise.
// Calls without debug location are skipped.
func (r *Report) Trace(analysis string, calls []*ir.Instruction) []Location {
	if !r.Config.TracesEnabled(analysis) {
		return nil
	}
	var res []Location
	for _, c := range calls {
		if c.Loc == nil {
			continue
		}
		res = append(res, r.At(c))
	}
	return res
}

// Summarise shortens trace to its first and last n frames when it is more than twice as long as n. The second
// result is true when frames were removed.
func Summarise(trace []Location, n int) ([]Location, bool) {
	if n <= 0 || 2*n >= len(trace) {
		return trace, false
	}
	res := make([]Location, 0, 2*n)
	res = append(res, trace[:n]...)
	res = append(res, trace[len(trace)-n:]...)
	return res, true
}
