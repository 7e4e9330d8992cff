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
	"os"
	"time"

	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/classhierarchy"
	"github.com/awslabs/ar-soaap-tools/analysis/fptargets"
	"github.com/awslabs/ar-soaap-tools/internal/formatutil"
)

// buildCallGraph builds the class hierarchy, resolves the virtual calls, or reads them from the file named by
// read-virtual-callees, and computes the call graph with the function pointer targets
func (s *AnalyzerState) buildCallGraph() error {
	start := time.Now()
	s.Hierarchy = classhierarchy.Build(s.Module, s.Logger)
	if name := s.Config.ReadVirtualCallees; name != "" {
		if err := s.readVirtualCallees(s.Config.RelPath(name)); err != nil {
			return err
		}
	} else {
		s.Hierarchy.CacheAllCallees()
	}
	if name := s.Config.DumpVirtualCallees; name != "" {
		if err := s.dumpVirtualCallees(name); err != nil {
			return err
		}
	}

	s.CallGraph = callgraph.New(s.Module, s.Hierarchy, s.Logger)
	s.FPTargets = []callgraph.TargetProvider{fptargets.NewAnnotated(s.Annotations, s.CallGraph, s.Logger)}
	if s.Config.InferFPTargets {
		s.FPTargets = append(s.FPTargets, fptargets.NewInferred(s.CallGraph, s.Logger))
	}
	if err := s.CallGraph.LoadAnnotatedInferredCallGraphEdges(s.FPTargets...); err != nil {
		return err
	}
	if unresolved := s.CallGraph.Unresolved(); len(unresolved) > 0 {
		s.Logger.Warnf("%d function pointer calls have no callee", len(unresolved))
	}
	s.Logger.Infof("Call graph built in %3.4f s\n", time.Since(start).Seconds())
	return nil
}

func (s *AnalyzerState) readVirtualCallees(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("could not open virtual callees: %w", err)
	}
	defer f.Close()
	s.Logger.Infof("Reading virtual callees from %s", formatutil.Sanitize(name))
	return s.Hierarchy.ReadVirtualCallees(f)
}

func (s *AnalyzerState) dumpVirtualCallees(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("could not create virtual callees file: %w", err)
	}
	defer f.Close()
	if err := s.Hierarchy.DumpVirtualCallees(f); err != nil {
		return err
	}
	s.Logger.Infof("Virtual callees written to %s", formatutil.Sanitize(name))
	return nil
}
