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

// Package vulnerability reports the rights an attacker would gain by exploiting code with past vulnerabilities
// or code from vulnerable vendors. Privileged code leaks ambient authority; sandboxed code only leaks the rights
// of its sandbox when the sandbox platform confines it.
package vulnerability

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

const ambientAuthority = "would leak ambient authority to the attacker including full network and file system access."

// Vulnerable is a function that is known to have been vulnerable, or that comes from a vulnerable vendor
type Vulnerable struct {
	Function *ir.Function
	// CVEs lists the past vulnerabilities annotated on the function
	CVEs []string
	// Vendor is set when the function belongs to a vulnerable library or vendor
	Vendor bool
}

// Find returns the vulnerable functions of the module, in module order
func Find(s *session.Session) []Vulnerable {
	var res []Vulnerable
	for _, f := range s.Module.Functions {
		if f.IsDeclaration() {
			continue
		}
		v := Vulnerable{Function: f}
		for _, a := range s.Annotations.ForFunction(f) {
			if a.Kind == annotations.PastVulnerability {
				v.CVEs = append(v.CVEs, a.List()...)
			}
		}
		if lib := s.Report.At(f).Library; lib != "" {
			v.Vendor = s.Config.IsVulnerableLibrary(lib)
		}
		if v.Vendor || len(v.CVEs) > 0 {
			res = append(res, v)
		}
	}
	return res
}

// Check reports the rights leaked by every vulnerable function in each context it executes in and returns the
// number of diagnostics added
func Check(s *session.Session) int {
	n := 0
	for _, v := range Find(s) {
		f := v.Function
		first := f.Entry().Insts[0]
		resource := "vendor"
		if !v.Vendor {
			resource = strings.Join(v.CVEs, ", ")
		}
		if s.Sandboxes.IsPrivileged(f) {
			var msg string
			if v.Vendor {
				msg = fmt.Sprintf("Function %q is from a vulnerable vendor. A vulnerability here %s", f.Name(),
					ambientAuthority)
			} else {
				msg = fmt.Sprintf("Function %q has past-vulnerability annotations for %q. Another vulnerability here %s",
					f.Name(), resource, ambientAuthority)
			}
			if s.Diagnose(config.AnalysisVulnerability, f, s.PrivilegedTrace(config.AnalysisVulnerability, first),
				report.Diagnostic{Kind: report.KindVulnerability, Resource: resource, Message: msg}) {
				n++
			}
		}
		for _, sb := range s.Sandboxes.SandboxesContainingFunction(f) {
			var msg string
			if v.Vendor {
				msg = fmt.Sprintf("Sandboxed function %q [%s] is from a vulnerable vendor. A vulnerability here ",
					f.Name(), sb.Name)
			} else {
				msg = fmt.Sprintf("Sandboxed function %q [%s] has past-vulnerability annotations for %q. Another "+
					"vulnerability here ", f.Name(), sb.Name, resource)
			}
			var details []string
			if s.Platform == nil || s.Platform.ProvidesProtection() {
				msg += "would not grant ambient authority to the attacker but would leak the following restricted rights:"
				details = leakedRights(s, sb)
			} else {
				msg += ambientAuthority
			}
			if s.Diagnose(config.AnalysisVulnerability, f, s.SandboxTrace(config.AnalysisVulnerability, first, sb),
				report.Diagnostic{
					Kind:     report.KindVulnerability,
					Sandbox:  sb.Name,
					Resource: resource,
					Message:  msg,
					Details:  details,
				}) {
				n++
			}
		}
	}
	return n
}

// leakedRights describes the shared globals, file descriptors, callgates and private data of sb
func leakedRights(s *session.Session, sb *sandbox.Sandbox) []string {
	var res []string

	globals := make([]*ir.Global, 0, len(sb.SharedGlobals()))
	for g := range sb.SharedGlobals() {
		globals = append(globals, g)
	}
	slices.SortFunc(globals, func(a, b *ir.Global) bool { return a.Name() < b.Name() })
	for _, g := range globals {
		if sb.CanRead(g) {
			res = append(res, fmt.Sprintf("Read access to global variable %q", g.Name()))
		}
		if sb.CanWrite(g) {
			res = append(res, fmt.Sprintf("Write access to global variable %q", g.Name()))
		}
	}

	for _, v := range sb.CapabilityValues() {
		rights := sb.Capabilities()[v]
		if len(rights) == 0 {
			continue
		}
		if p, ok := v.(*ir.Param); ok {
			res = append(res, fmt.Sprintf("Call %s on file descriptor %q passed into sandbox entrypoint %q",
				strings.Join(rights, ","), p.Name(), p.Parent.Name()))
		} else {
			res = append(res, fmt.Sprintf("Call %s on file descriptor %q", strings.Join(rights, ","), v.Name()))
		}
	}

	for _, gate := range sb.Callgates() {
		res = append(res, fmt.Sprintf("Call gate %q", gate.Name()))
	}

	for _, v := range sb.PrivateData() {
		switch x := v.(type) {
		case *ir.Global:
			res = append(res, fmt.Sprintf("Global variable %q", x.Name()))
		case *ir.Instruction:
			if callee := x.CalledFunction(); callee != nil && callee.Name() == annotations.VarAnnotation {
				res = append(res, fmt.Sprintf("Local variable %q", ir.StripPointerCasts(x.Arg(0)).Name()))
			} else {
				res = append(res, fmt.Sprintf("Struct member %q", ir.StripPointerCasts(x.Arg(0)).Name()))
			}
		}
	}
	return res
}
