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

// Package sandboxed reports the functions annotated as only executing in sandboxes that may execute with
// privileges or in sandboxes not listed in their annotation
package sandboxed

import (
	"fmt"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/sandbox"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
	"golang.org/x/exp/slices"
)

// Restriction is the set of sandboxes a function may execute in. An empty Sandboxes means any sandbox.
type Restriction struct {
	Function  *ir.Function
	Sandboxes []*sandbox.Sandbox
}

// Restrictions returns the SOAAP_SANDBOXED restrictions of the module, in module order. Unknown sandbox names
// are ignored.
func Restrictions(s *session.Session) []Restriction {
	var res []Restriction
	for _, f := range s.Annotations.FunctionsWith(annotations.Sandboxed) {
		r := Restriction{Function: f}
		for _, a := range s.Annotations.ForFunction(f) {
			if a.Kind != annotations.Sandboxed {
				continue
			}
			for _, name := range a.List() {
				sb := s.Sandboxes.SandboxWithName(name)
				if sb == nil {
					s.Logger.Warnf("%s of %s names unknown sandbox %q", a.Kind, f.Name(), name)
					continue
				}
				if !slices.Contains(r.Sandboxes, sb) {
					r.Sandboxes = append(r.Sandboxes, sb)
				}
			}
		}
		res = append(res, r)
	}
	return res
}

// Check reports the violations of the SOAAP_SANDBOXED restrictions and returns the number of diagnostics added
func Check(s *session.Session) int {
	n := 0
	for _, r := range Restrictions(s) {
		f := r.Function
		var disallowed []*sandbox.Sandbox
		containing := s.Sandboxes.SandboxesContainingFunction(f)
		if len(r.Sandboxes) > 0 {
			for _, sb := range containing {
				if !slices.Contains(r.Sandboxes, sb) {
					disallowed = append(disallowed, sb)
				}
			}
		}
		privileged := s.Sandboxes.IsPrivileged(f)
		if !privileged && len(disallowed) == 0 {
			continue
		}

		var msg strings.Builder
		if len(r.Sandboxes) == 0 {
			fmt.Fprintf(&msg, "Function %q has been annotated as only being allowed to execute in a sandbox but ", f.Name())
		} else {
			fmt.Fprintf(&msg, "Function %q has been annotated as only being allowed to execute in the sandboxes: %s but ",
				f.Name(), stringify(r.Sandboxes))
		}
		var details []string
		var trace []*ir.Instruction
		first := firstInstruction(f)
		if privileged {
			msg.WriteString("it may execute in a privileged context")
			details = append(details, "privileged")
			if first != nil {
				trace = s.PrivilegedTrace(config.AnalysisSandboxed, first)
			}
		}
		if len(disallowed) > 0 {
			if privileged {
				msg.WriteString(". Additionally, ")
			}
			fmt.Fprintf(&msg, "it executes in the sandboxes: %s of which %s are disallowed", stringify(containing),
				stringify(disallowed))
			for _, sb := range disallowed {
				details = append(details, "sandbox "+sb.Name)
			}
			if trace == nil && first != nil {
				trace = s.SandboxTrace(config.AnalysisSandboxed, first, disallowed[0])
			}
		}
		if s.Diagnose(config.AnalysisSandboxed, f, trace, report.Diagnostic{
			Kind:     report.KindSandboxedFunc,
			Resource: f.Name(),
			Message:  msg.String(),
			Details:  details,
		}) {
			n++
		}
	}
	return n
}

func stringify(sandboxes []*sandbox.Sandbox) string {
	names := make([]string, len(sandboxes))
	for i, sb := range sandboxes {
		names[i] = sb.Name
	}
	return "[" + strings.Join(names, ",") + "]"
}

func firstInstruction(f *ir.Function) *ir.Instruction {
	if entry := f.Entry(); entry != nil && len(entry.Insts) > 0 {
		return entry.Insts[0]
	}
	return nil
}
