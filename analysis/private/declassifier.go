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

package private

import (
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
	"github.com/awslabs/ar-soaap-tools/internal/graphutil"
	"gonum.org/v1/gonum/graph/flow"
)

const unsupportedDeclassification = "Only declassification of local variables/function arguments is currently supported"

// allPaths is the boolean lattice where a value is declassified only if it is on every path
type allPaths struct{ infoflow.Bool }

func (allPaths) Meet(from, to bool) bool { return from && to }

// Declassifier marks the values loaded from a local variable after a call to __soaap_declassify on it. The
// declassified region of a call is the rest of its block and the blocks its block dominates.
type Declassifier struct {
	s      *session.Session
	engine *infoflow.Engine[bool]
}

// NewDeclassifier returns the declassification analysis of the session
func NewDeclassifier(s *session.Session) *Declassifier {
	return &Declassifier{
		s:      s,
		engine: infoflow.NewEngine[bool]("declassifier", allPaths{}, s.Resolver, s.CallGraph, s.Logger),
	}
}

// Run computes the declassified values
func (d *Declassifier) Run() error {
	return d.engine.Run(d)
}

// IsDeclassified returns true if v is declassified in some context
func (d *Declassifier) IsDeclassified(v ir.Value) bool {
	for _, ctx := range d.engine.Contexts() {
		if f, ok := d.engine.Fact(v, ctx); ok && f {
			return true
		}
	}
	return false
}

// Initialise implements infoflow.Analysis
func (d *Declassifier) Initialise(e *infoflow.Engine[bool]) error {
	for _, f := range d.s.Module.Functions {
		if !strings.HasPrefix(f.Name(), annotations.DeclassifyPrefix) {
			continue
		}
		for _, u := range f.Users() {
			call, ok := u.(*ir.Instruction)
			if !ok || call.Op != ir.OpCall || call.CalledFunction() != f {
				continue
			}
			load, ok := ir.StripPointerCasts(call.Arg(0)).(*ir.Instruction)
			if !ok || load.Op != ir.OpLoad {
				continue
			}
			local, ok := load.LoadPointer().(*ir.Instruction)
			if !ok || local.Op != ir.OpAlloca {
				d.s.Logger.Errorf("%s (%s)", unsupportedDeclassification, call.Position())
				continue
			}
			for _, inst := range Region(call) {
				if inst.Op == ir.OpLoad && inst.LoadPointer() == local {
					d.s.Logger.Debugf("declassified %s at %s", inst, inst.Position())
					e.Seed(inst, contexts.NoContext(), true)
				}
			}
		}
	}
	return nil
}

// PostDataFlow implements infoflow.Analysis
func (d *Declassifier) PostDataFlow(*infoflow.Engine[bool]) error { return nil }

// Region returns the instructions following inst in its block, inst included, and the instructions of the blocks
// dominated by its block
func Region(inst *ir.Instruction) []*ir.Instruction {
	blk := inst.Parent
	region := append([]*ir.Instruction{}, blk.Insts[inst.Index:]...)
	f := blk.Parent
	cfg := graphutil.NewGraph(f.Blocks, func(b *ir.Block) []*ir.Block { return b.Succs() })
	dom := flow.Dominators(cfg.Node(0), cfg)
	id, _ := cfg.IDOf(blk)
	stack := []int64{int64(id)}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range dom.DominatedBy(n) {
			region = append(region, cfg.Values[child.ID()].Insts...)
			stack = append(stack, child.ID())
		}
	}
	return region
}
