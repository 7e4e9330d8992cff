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

// Package privcalls reports the calls from sandboxes to functions annotated as privileged that are not declared
// as callgates of the sandbox
package privcalls

import (
	"fmt"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
	"golang.org/x/exp/slices"
)

// Check reports every call from a sandbox to a SOAAP_PRIVILEGED function that is not one of its callgates. It
// returns the number of diagnostics added.
func Check(s *session.Session) int {
	privileged := s.Annotations.FunctionsWith(annotations.Privileged)
	for _, f := range privileged {
		s.Logger.Debugf("Found privileged function %s", f.Name())
	}
	n := 0
	for _, sb := range s.Sandboxes.All() {
		for _, call := range sb.Calls() {
			for _, callee := range s.CallGraph.Callees(call, sb.Context()) {
				if !slices.Contains(privileged, callee) || sb.IsCallgate(callee) {
					continue
				}
				added := s.Diagnose(config.AnalysisPrivCalls, call, s.SandboxTrace(config.AnalysisPrivCalls, call, sb),
					report.Diagnostic{
						Kind:     report.KindPrivilegedCall,
						Sandbox:  sb.Name,
						Resource: callee.Name(),
						Message: fmt.Sprintf("Sandbox %q calls privileged function %q that they are not allowed to. "+
							"If intended, annotate this permission using the __soaap_callgates annotation.",
							sb.Name, callee.Name()),
					})
				if added {
					n++
				}
			}
		}
	}
	return n
}
