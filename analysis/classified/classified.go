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

// Package classified checks that sandboxes only read classified data they have clearance for
package classified

import (
	"fmt"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
)

// Analysis propagates the classification labels of annotated data. A fact is the mask of the labels of a value.
type Analysis struct {
	s       *session.Session
	classes *annotations.ClassIndex
	engine  *infoflow.Engine[uint32]
}

// New returns the classified data analysis of the session
func New(s *session.Session) *Analysis {
	classes := s.Annotations.Classes()
	lattice := infoflow.IntMask{Names: classes.Stringify}
	return &Analysis{
		s:       s,
		classes: classes,
		engine:  infoflow.NewEngine[uint32]("classified", lattice, s.Resolver, s.CallGraph, s.Logger),
	}
}

// Run propagates the labels and reports the reads without clearance
func (a *Analysis) Run() error {
	return a.engine.Run(a)
}

// Labels returns the classification labels of v in ctx
func (a *Analysis) Labels(v ir.Value, ctx contexts.Context) []string {
	mask, _ := a.engine.Fact(v, ctx)
	return a.classes.Names(mask)
}

// Initialise implements infoflow.Analysis. Annotated struct fields and global variables are labelled.
func (a *Analysis) Initialise(e *infoflow.Engine[uint32]) error {
	for _, ann := range a.s.Annotations.PtrAnnotations() {
		if ann.Kind != annotations.Classify {
			continue
		}
		a.s.Logger.Debugf("Classification annotation %q found at %s", ann.Raw, ann.Site.Position())
		a.label(e, ir.StripPointerCasts(ann.Site.Arg(0)), ann.Payload)
	}
	for _, g := range a.s.Module.Globals {
		for _, ann := range a.s.Annotations.ForGlobal(g) {
			if ann.Kind == annotations.Classify {
				a.label(e, g, ann.Payload)
			}
		}
	}
	return nil
}

func (a *Analysis) label(e *infoflow.Engine[uint32], v ir.Value, class string) {
	mask := a.classes.Mask(class)
	if mask == 0 {
		a.s.Logger.Warnf("Unknown classification label %q", class)
		return
	}
	e.Add(v, contexts.NoContext(), mask)
}

// PostDataFlow implements infoflow.Analysis. Loads of classified data and stores of classified values in a
// sandbox without clearance for all their labels are reported, once per set of labels per function unless the
// configuration is pedantic.
func (a *Analysis) PostDataFlow(e *infoflow.Engine[uint32]) error {
	for _, sb := range a.s.Sandboxes.All() {
		clearances := sb.Clearances
		for _, f := range sb.Functions() {
			reported := map[uint32]bool{}
			for _, inst := range f.Instructions() {
				var v ir.Value
				switch inst.Op {
				case ir.OpLoad:
					v = inst.LoadPointer()
				case ir.OpStore:
					v = inst.StoreValue()
				default:
					continue
				}
				labels, _ := e.Fact(v, sb.Context())
				if labels == 0 || labels&clearances == labels || (reported[labels] && !a.s.Config.Pedantic) {
					continue
				}
				reported[labels] = true
				a.s.Diagnose(config.AnalysisInfoFlow, inst, a.s.SandboxTrace(config.AnalysisInfoFlow, inst, sb),
					report.Diagnostic{
						Kind:     report.KindClassified,
						Sandbox:  sb.Name,
						Function: f.Name(),
						Resource: a.classes.Stringify(labels),
						Message: fmt.Sprintf("Sandboxed method %q read data value of class: %s but only has "+
							"clearances for: %s", f.Name(), a.classes.Stringify(labels), a.classes.Stringify(clearances)),
						Details: a.classes.Names(labels),
					})
			}
		}
	}
	return nil
}
