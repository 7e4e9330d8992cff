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

package annotations

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/internal/funcutil"
)

// Kind characterizes the kind of annotations that can be used in the program.
type Kind int

const (
	// Unknown is the kind of annotation strings that are not sandboxing annotations
	Unknown Kind = iota
	// SandboxPersistent marks the entry point of a persistent sandbox: SANDBOX_PERSISTENT_<name>
	SandboxPersistent
	// SandboxEphemeral marks the entry point of an ephemeral sandbox: SANDBOX_EPHEMERAL_<name>
	SandboxEphemeral
	// VarRead allows a sandbox to read a global: VAR_READ_<sandbox>
	VarRead
	// VarWrite allows a sandbox to write a global: VAR_WRITE_<sandbox>
	VarWrite
	// Classify classifies data: CLASSIFY_<label>
	Classify
	// Clearance clears a sandbox for a label: CLEARANCE_<label>
	Clearance
	// SandboxPrivate marks data private to a sandbox: SANDBOX_PRIVATE_<sandbox>
	SandboxPrivate
	// FD declares the system calls allowed on a file descriptor parameter: SOAAP_FD_<syscalls>
	FD
	// FP lists the targets of a function pointer: SOAAP_FP_<functions>
	FP
	// Sandboxed lists the sandboxes a function must run in: SOAAP_SANDBOXED_<sandboxes>
	Sandboxed
	// Privileged marks a function that must only run privileged
	Privileged
	// SysCalls limits the system calls from this point on: SOAAP_SYSCALLS_<syscalls>
	SysCalls
	// NoSysCallsAllowed forbids all system calls
	NoSysCallsAllowed
	// FDSysCalls limits the system calls on an fd: SOAAP_FD_SYSCALLS_<syscalls>
	FDSysCalls
	// FDKeySysCalls limits the system calls on the fd stored under a key: SOAAP_FD_KEY_SYSCALLS_<syscalls>
	FDKeySysCalls
	// FDGetter marks a function returning the fd stored under a key
	FDGetter
	// FDSetter marks a function storing an fd under a key
	FDSetter
	// PersistentSandboxCreate marks the creation point of a persistent sandbox
	PersistentSandboxCreate
	// EphemeralSandboxCreate marks the creation point of an ephemeral sandbox
	EphemeralSandboxCreate
	// PersistentSandboxKill marks the point where a persistent sandbox is killed
	PersistentSandboxKill
	// EphemeralSandboxKill marks the point where an ephemeral sandbox is killed
	EphemeralSandboxKill
	// RegionStart starts a sandboxed region
	RegionStart
	// RegionEnd ends a sandboxed region
	RegionEnd
	// PerfOverhead gives the expected overhead of a sandbox: perf_overhead_(N)
	PerfOverhead
	// PastVulnerability marks a function with a past vulnerability: PAST_VULNERABILITY_<cve>
	PastVulnerability
)

var kindNames = map[Kind]string{
	Unknown:                 "unknown",
	SandboxPersistent:       "SANDBOX_PERSISTENT",
	SandboxEphemeral:        "SANDBOX_EPHEMERAL",
	VarRead:                 "VAR_READ",
	VarWrite:                "VAR_WRITE",
	Classify:                "CLASSIFY",
	Clearance:               "CLEARANCE",
	SandboxPrivate:          "SANDBOX_PRIVATE",
	FD:                      "SOAAP_FD",
	FP:                      "SOAAP_FP",
	Sandboxed:               "SOAAP_SANDBOXED",
	Privileged:              "SOAAP_PRIVILEGED",
	SysCalls:                "SOAAP_SYSCALLS",
	NoSysCallsAllowed:       "SOAAP_NO_SYSCALLS_ALLOWED",
	FDSysCalls:              "SOAAP_FD_SYSCALLS",
	FDKeySysCalls:           "SOAAP_FD_KEY_SYSCALLS",
	FDGetter:                "SOAAP_FD_GETTER",
	FDSetter:                "SOAAP_FD_SETTER",
	PersistentSandboxCreate: "SOAAP_PERSISTENT_SANDBOX_CREATE",
	EphemeralSandboxCreate:  "SOAAP_EPHEMERAL_SANDBOX_CREATE",
	PersistentSandboxKill:   "SOAAP_PERSISTENT_SANDBOX_KILL",
	EphemeralSandboxKill:    "SOAAP_EPHEMERAL_SANDBOX_KILL",
	RegionStart:             "SOAAP_SANDBOX_REGION_START",
	RegionEnd:               "SOAAP_SANDBOX_REGION_END",
	PerfOverhead:            "perf_overhead",
	PastVulnerability:       "PAST_VULNERABILITY",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Special function names used by the annotation macros
const (
	CallgatesHelperPrefix = "__soaap_declare_callgates_helper_"
	DeclassifyPrefix      = "__soaap_declassify"
	RPCSendHelper         = "__soaap_rpc_send_helper"
	RPCRecvHelper         = "__soaap_rpc_recv_helper"
	RPCRecvSyncHelper     = "__soaap_rpc_recv_sync_helper"
)

// Intrinsics carrying local annotations
const (
	GlobalAnnotations   = "llvm.global.annotations"
	VarAnnotation       = "llvm.var.annotation"
	PtrAnnotationPrefix = "llvm.ptr.annotation"
	IntAnnotation       = "llvm.annotation.i32"
)

// MaxLabels is the maximum number of classification labels
const MaxLabels = 32

// kindParsers is ordered: a kind whose prefix extends the prefix of another kind comes first.
var kindParsers = []struct {
	kind Kind
	re   *regexp.Regexp
}{
	{SandboxPersistent, regexp.MustCompile(`^SANDBOX_PERSISTENT_(.*)$`)},
	{SandboxEphemeral, regexp.MustCompile(`^SANDBOX_EPHEMERAL_(.*)$`)},
	{SandboxPrivate, regexp.MustCompile(`^SANDBOX_PRIVATE_(.*)$`)},
	{VarRead, regexp.MustCompile(`^VAR_READ_(.*)$`)},
	{VarWrite, regexp.MustCompile(`^VAR_WRITE_(.*)$`)},
	{Classify, regexp.MustCompile(`^CLASSIFY_(.*)$`)},
	{Clearance, regexp.MustCompile(`^CLEARANCE_(.*)$`)},
	{FDSysCalls, regexp.MustCompile(`^SOAAP_FD_SYSCALLS_(.*)$`)},
	{FDKeySysCalls, regexp.MustCompile(`^SOAAP_FD_KEY_SYSCALLS_(.*)$`)},
	{FDGetter, regexp.MustCompile(`^SOAAP_FD_GETTER$`)},
	{FDSetter, regexp.MustCompile(`^SOAAP_FD_SETTER$`)},
	{FD, regexp.MustCompile(`^SOAAP_FD_(.*)$`)},
	{FP, regexp.MustCompile(`^SOAAP_FP_(.*)$`)},
	{Sandboxed, regexp.MustCompile(`^SOAAP_SANDBOXED_(.*)$`)},
	{Privileged, regexp.MustCompile(`^SOAAP_PRIVILEGED$`)},
	{NoSysCallsAllowed, regexp.MustCompile(`^SOAAP_NO_SYSCALLS_ALLOWED$`)},
	{SysCalls, regexp.MustCompile(`^SOAAP_SYSCALLS_(.*)$`)},
	{PersistentSandboxCreate, regexp.MustCompile(`^SOAAP_PERSISTENT_SANDBOX_CREATE_(.*)$`)},
	{EphemeralSandboxCreate, regexp.MustCompile(`^SOAAP_EPHEMERAL_SANDBOX_CREATE_(.*)$`)},
	{PersistentSandboxKill, regexp.MustCompile(`^SOAAP_PERSISTENT_SANDBOX_KILL_(.*)$`)},
	{EphemeralSandboxKill, regexp.MustCompile(`^SOAAP_EPHEMERAL_SANDBOX_KILL_(.*)$`)},
	{RegionStart, regexp.MustCompile(`^SOAAP_SANDBOX_REGION_START_(.*)$`)},
	{RegionEnd, regexp.MustCompile(`^SOAAP_SANDBOX_REGION_END_(.*)$`)},
	{PerfOverhead, regexp.MustCompile(`^perf_overhead_\(([0-9]{1,2})\)`)},
	{PastVulnerability, regexp.MustCompile(`^PAST_VULNERABILITY_(.*)$`)},
}

// Parse returns the kind of the annotation string s and its payload, the text following the kind's prefix.
// Strings that are not sandboxing annotations have kind Unknown.
func Parse(s string) (Kind, string) {
	for _, p := range kindParsers {
		if m := p.re.FindStringSubmatch(s); m != nil {
			if len(m) > 1 {
				return p.kind, m[1]
			}
			return p.kind, ""
		}
	}
	return Unknown, s
}

// ParseList splits a comma separated payload and trims spaces and double quotes of each element. Empty elements
// are dropped.
func ParseList(payload string) []string {
	var res []string
	for _, elt := range strings.Split(payload, ",") {
		elt = strings.Trim(strings.TrimSpace(elt), "\"")
		elt = strings.TrimSpace(elt)
		if elt != "" {
			res = append(res, elt)
		}
	}
	return res
}

// Source is where an annotation was found
type Source int

const (
	// FromGlobal annotations are entries of llvm.global.annotations (functions and global variables)
	FromGlobal Source = iota
	// FromVar annotations are llvm.var.annotation calls (local variables and parameters)
	FromVar
	// FromPtr annotations are llvm.ptr.annotation calls (struct fields)
	FromPtr
	// FromValue annotations are llvm.annotation calls (__builtin_annotation)
	FromValue
)

// Annotation contains the parsed content of an annotation string together with the annotated value.
type Annotation struct {
	// Kind of the annotation
	Kind Kind
	// Payload is the text after the prefix of the kind, e.g. the sandbox name or a list of system calls
	Payload string
	// Raw is the full annotation string
	Raw    string
	Source Source
	// Target is the annotated value: the function or global for global annotations, the local (stripped of
	// casts) for var annotations, the annotation call itself for ptr annotations and the annotated operand for
	// value annotations.
	Target ir.Value
	// Site is the intrinsic call for local annotations, nil for global annotations
	Site *ir.Instruction
	// File and Line are the position recorded in the annotation
	File string
	Line int
}

// List returns the payload parsed as a comma separated list
func (a Annotation) List() []string {
	return ParseList(a.Payload)
}

// Overhead returns the overhead percentage of a perf_overhead annotation
func (a Annotation) Overhead() (int, bool) {
	if a.Kind != PerfOverhead {
		return 0, false
	}
	n, err := strconv.Atoi(a.Payload)
	return n, err == nil
}

// Function returns the function the annotation applies to: the annotated function for global annotations,
// and the function containing the annotation site otherwise.
func (a Annotation) Function() *ir.Function {
	if a.Site != nil {
		return a.Site.Function()
	}
	f, _ := a.Target.(*ir.Function)
	return f
}

func (a Annotation) String() string {
	return fmt.Sprintf("%s(%s) on %s", a.Kind, a.Payload, a.Target)
}

// IsMatchingAnnotation returns true when the annotation has the kind provided and its payload is name, or, for
// list payloads, contains name.
func (a Annotation) IsMatchingAnnotation(kind Kind, name string) bool {
	return a.Kind == kind && (a.Payload == name || funcutil.Contains(a.List(), name))
}

// ProgramAnnotations groups all the annotations of a module
type ProgramAnnotations struct {
	// All is every annotation in module order
	All []Annotation

	functions map[*ir.Function][]Annotation
	globals   map[*ir.Global][]Annotation
	vars      []Annotation
	ptrs      []Annotation
	values    []Annotation
	classes   *ClassIndex
}

// Count returns the number of annotations loaded
func (pa *ProgramAnnotations) Count() int {
	return len(pa.All)
}

// ForFunction returns the global annotations of the function f
func (pa *ProgramAnnotations) ForFunction(f *ir.Function) []Annotation {
	return pa.functions[f]
}

// ForGlobal returns the global annotations of the global g
func (pa *ProgramAnnotations) ForGlobal(g *ir.Global) []Annotation {
	return pa.globals[g]
}

// VarAnnotations returns the llvm.var.annotation annotations
func (pa *ProgramAnnotations) VarAnnotations() []Annotation { return pa.vars }

// PtrAnnotations returns the llvm.ptr.annotation annotations
func (pa *ProgramAnnotations) PtrAnnotations() []Annotation { return pa.ptrs }

// ValueAnnotations returns the llvm.annotation annotations
func (pa *ProgramAnnotations) ValueAnnotations() []Annotation { return pa.values }

// Classes returns the index of classification labels
func (pa *ProgramAnnotations) Classes() *ClassIndex { return pa.classes }

// OfKind returns the annotations of kind k, in module order
func (pa *ProgramAnnotations) OfKind(k Kind) []Annotation {
	var res []Annotation
	for _, a := range pa.All {
		if a.Kind == k {
			res = append(res, a)
		}
	}
	return res
}

// FunctionHas returns true if the function f carries a global annotation of kind k
func (pa *ProgramAnnotations) FunctionHas(f *ir.Function, k Kind) bool {
	return funcutil.Exists(pa.functions[f], func(a Annotation) bool { return a.Kind == k })
}

// FunctionsWith returns the functions carrying an annotation of kind k, in module order
func (pa *ProgramAnnotations) FunctionsWith(k Kind) []*ir.Function {
	var res []*ir.Function
	seen := map[*ir.Function]bool{}
	for _, a := range pa.All {
		if f, ok := a.Target.(*ir.Function); ok && a.Source == FromGlobal && a.Kind == k && !seen[f] {
			seen[f] = true
			res = append(res, f)
		}
	}
	return res
}

// Load collects the annotations of the module m. Each annotation is collected once, in module order: global
// annotations first, then the local annotations of each function.
func Load(m *ir.Module, logger *config.LogGroup) (*ProgramAnnotations, error) {
	pa := &ProgramAnnotations{
		functions: map[*ir.Function][]Annotation{},
		globals:   map[*ir.Global][]Annotation{},
		classes:   NewClassIndex(),
	}
	if err := pa.loadGlobalAnnotations(m, logger); err != nil {
		return pa, err
	}
	for _, f := range m.Functions {
		for _, inst := range f.Instructions() {
			callee := inst.CalledFunction()
			if callee == nil || !callee.IsIntrinsic() {
				continue
			}
			switch name := callee.Name(); {
			case name == VarAnnotation:
				pa.addLocal(inst, FromVar, ir.StripPointerCasts(inst.Arg(0)), logger)
			case strings.HasPrefix(name, PtrAnnotationPrefix):
				pa.addLocal(inst, FromPtr, inst, logger)
			case strings.HasPrefix(name, "llvm.annotation."):
				pa.addLocal(inst, FromValue, inst.Arg(0), logger)
			}
		}
	}
	for _, a := range pa.All {
		if a.Kind == Classify || a.Kind == Clearance {
			if _, ok := pa.classes.Assign(a.Payload); !ok {
				logger.Warnf("Too many classification labels, ignoring %q", a.Payload)
			}
		}
	}
	logger.Debugf("Loaded %d annotations", len(pa.All))
	return pa, nil
}

func (pa *ProgramAnnotations) loadGlobalAnnotations(m *ir.Module, logger *config.LogGroup) error {
	lga := m.Global(GlobalAnnotations)
	if lga == nil || lga.Init == nil {
		return nil
	}
	entries, ok := ir.StripPointerCasts(lga.Init).(*ir.ConstArray)
	if !ok {
		if _, isNull := lga.Init.(*ir.ConstNull); isNull {
			return nil
		}
		return fmt.Errorf("%s has an unexpected initializer %s", GlobalAnnotations, lga.Init)
	}
	for i, elt := range entries.Elems {
		entry, ok := elt.(*ir.ConstStruct)
		if !ok || len(entry.Fields) < 2 {
			logger.Warnf("Skipping malformed entry %d of %s", i, GlobalAnnotations)
			continue
		}
		raw, ok := ir.StringOf(entry.Fields[1])
		if !ok {
			logger.Warnf("Skipping entry %d of %s: annotation is not a string", i, GlobalAnnotations)
			continue
		}
		target := ir.StripPointerCasts(entry.Fields[0])
		a := newAnnotation(raw, FromGlobal, target, nil)
		if len(entry.Fields) > 3 {
			a.File, _ = ir.StringOf(entry.Fields[2])
			line, _ := ir.IntOf(entry.Fields[3])
			a.Line = int(line)
		}
		if a.Kind == Unknown {
			logger.Tracef("Ignoring annotation %q on %s", raw, target)
			continue
		}
		switch t := target.(type) {
		case *ir.Function:
			pa.functions[t] = append(pa.functions[t], a)
		case *ir.Global:
			pa.globals[t] = append(pa.globals[t], a)
		default:
			logger.Warnf("Annotation %q applies to %s, which is neither a function nor a global", raw, target)
			continue
		}
		pa.All = append(pa.All, a)
	}
	return nil
}

func (pa *ProgramAnnotations) addLocal(call *ir.Instruction, src Source, target ir.Value, logger *config.LogGroup) {
	raw, ok := ir.StringOf(call.Arg(1))
	if !ok {
		logger.Warnf("Annotation call %s has no annotation string", call)
		return
	}
	a := newAnnotation(raw, src, target, call)
	if s, ok := ir.StringOf(call.Arg(2)); ok {
		a.File = s
	}
	if line, ok := ir.IntOf(call.Arg(3)); ok {
		a.Line = int(line)
	}
	if a.Kind == Unknown {
		logger.Tracef("Ignoring annotation %q at %s", raw, call)
		return
	}
	switch src {
	case FromVar:
		pa.vars = append(pa.vars, a)
	case FromPtr:
		pa.ptrs = append(pa.ptrs, a)
	case FromValue:
		pa.values = append(pa.values, a)
	}
	pa.All = append(pa.All, a)
}

func newAnnotation(raw string, src Source, target ir.Value, site *ir.Instruction) Annotation {
	kind, payload := Parse(raw)
	return Annotation{Kind: kind, Payload: payload, Raw: raw, Source: src, Target: target, Site: site}
}
