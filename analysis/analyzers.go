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

package analysis

import (
	"fmt"
	"time"

	"github.com/awslabs/ar-soaap-tools/analysis/capability"
	"github.com/awslabs/ar-soaap-tools/analysis/classified"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/globals"
	"github.com/awslabs/ar-soaap-tools/analysis/origin"
	"github.com/awslabs/ar-soaap-tools/analysis/private"
	"github.com/awslabs/ar-soaap-tools/analysis/privcalls"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/rendering"
	"github.com/awslabs/ar-soaap-tools/analysis/rpc"
	"github.com/awslabs/ar-soaap-tools/analysis/sandboxed"
	"github.com/awslabs/ar-soaap-tools/analysis/syscalls"
	"github.com/awslabs/ar-soaap-tools/analysis/vulnerability"
)

// pass is one step of the pipeline. A pass runs when enabled returns true for the configuration.
type pass struct {
	name    string
	enabled func(c *config.Config) bool
	run     func(s *AnalyzerState) error
}

func always(*config.Config) bool { return true }

func enabledAnalysis(name string) func(*config.Config) bool {
	return func(c *config.Config) bool { return c.AnalysisEnabled(name) }
}

// passes returns the steps of the pipeline in execution order
func passes() []pass {
	return []pass{
		{"list-fp-calls", func(c *config.Config) bool { return c.ListFPCalls }, func(s *AnalyzerState) error {
			s.CallGraph.ListFPCalls(s.Out, s.Sandboxes)
			return nil
		}},
		{"list-all-funcs", func(c *config.Config) bool { return c.ListAllFuncs }, func(s *AnalyzerState) error {
			s.CallGraph.ListAllFuncs(s.Out)
			return nil
		}},
		{"print-callgraph", func(c *config.Config) bool { return c.PrintCallGraph }, func(s *AnalyzerState) error {
			s.CallGraph.Print(s.Out)
			return nil
		}},
		{"dump-dot-callgraph", func(c *config.Config) bool { return c.DumpDOTCallGraph != "" },
			func(s *AnalyzerState) error {
				return rendering.GraphvizToFile(s.CallGraph, rendering.Options{Sandboxes: s.Sandboxes},
					s.Config.DumpDOTCallGraph)
			}},
		{"list-fp-targets", func(c *config.Config) bool { return c.ListFPTargets }, func(s *AnalyzerState) error {
			s.CallGraph.ListFPTargets(s.Out)
			return nil
		}},
		{"unresolved-calls", always, func(s *AnalyzerState) error {
			for _, call := range s.CallGraph.Unresolved() {
				s.Report.AddNote(s.Report.At(call), "Function pointer call in %s has no known target",
					call.Function().Name())
			}
			return nil
		}},
		{"list-sandboxed-funcs", func(c *config.Config) bool { return c.ListSandboxedFuncs },
			func(s *AnalyzerState) error {
				s.Sandboxes.ListSandboxedFunctions(s.Out)
				return nil
			}},
		{"list-priv-funcs", func(c *config.Config) bool { return c.ListPrivilegedFuncs },
			func(s *AnalyzerState) error {
				s.Sandboxes.ListPrivilegedFunctions(s.Out)
				return nil
			}},
		{config.AnalysisGlobals, func(c *config.Config) bool {
			return c.AnalysisEnabled(config.AnalysisGlobals) && !c.SkipGlobalVariableAnalysis
		}, func(s *AnalyzerState) error {
			checkCreationPoints(s)
			return globals.New(s.Session).Run()
		}},
		{config.AnalysisSysCalls, enabledAnalysis(config.AnalysisSysCalls), func(s *AnalyzerState) error {
			sc := syscalls.New(s.Session)
			if err := sc.Run(); err != nil {
				return err
			}
			return capability.New(s.Session, sc).Run()
		}},
		{config.AnalysisVulnerability, enabledAnalysis(config.AnalysisVulnerability), func(s *AnalyzerState) error {
			vulnerability.Check(s.Session)
			return origin.New(s.Session).Run()
		}},
		{config.AnalysisInfoFlow, enabledAnalysis(config.AnalysisInfoFlow), func(s *AnalyzerState) error {
			if err := classified.New(s.Session).Run(); err != nil {
				return err
			}
			return private.New(s.Session).Run()
		}},
		{config.AnalysisPrivCalls, enabledAnalysis(config.AnalysisPrivCalls), func(s *AnalyzerState) error {
			privcalls.Check(s.Session)
			return nil
		}},
		{config.AnalysisSandboxed, enabledAnalysis(config.AnalysisSandboxed), func(s *AnalyzerState) error {
			sandboxed.Check(s.Session)
			return nil
		}},
		{"dump-rpc-graph", func(c *config.Config) bool { return c.DumpRPCGraph }, func(s *AnalyzerState) error {
			g := rpc.Build(s.Session)
			g.Dump(s.Out)
			name, err := rendering.RPCGraphToFile(s.Config, g)
			if err != nil {
				return err
			}
			s.Logger.Infof("RPC graph written to %s", name)
			return nil
		}},
	}
}

// Run prepares the state if needed and runs the passes enabled by the configuration. The first pass that fails
// stops the pipeline; the report then holds the diagnostics of the passes run before.
func Run(state *AnalyzerState) (*report.Report, error) {
	if err := state.Prepare(); err != nil {
		return nil, err
	}
	for _, p := range passes() {
		if !p.enabled(state.Config) {
			continue
		}
		start := time.Now()
		state.Logger.Debugf("Running %s", p.name)
		if err := p.run(state); err != nil {
			return state.Report, fmt.Errorf("%s: %w", p.name, err)
		}
		state.Logger.Debugf("%s done in %3.4f s", p.name, time.Since(start).Seconds())
	}
	state.Logger.Infof("Analysis finished with %d diagnostics", state.Report.Len())
	return state.Report, nil
}

// checkCreationPoints reports the calls to sandbox entry points that may happen before the sandbox is created
func checkCreationPoints(s *AnalyzerState) {
	for _, v := range s.Sandboxes.ValidateCreationPoints() {
		s.Diagnose(config.AnalysisGlobals, v.Trace[0], v.Trace, report.Diagnostic{
			Kind:     report.KindCreationMissing,
			Sandbox:  v.Sandbox.Name,
			Resource: v.EntryPoint.Name(),
			Message: fmt.Sprintf("Entry point %q of sandbox %q may be called before the sandbox is created",
				v.EntryPoint.Name(), v.Sandbox.Name),
		})
	}
}
