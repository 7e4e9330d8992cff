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

package callgraph

import (
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/internal/graphutil"
	"github.com/yourbasic/graph"
)

// pathKey identifies a shortest paths computation: the root and the kind of domain boundary it stops at
type pathKey struct {
	root       *ir.Function
	privileged bool
}

type shortestPaths struct {
	fg      *graphutil.CGraph[*ir.Function]
	parents []int
}

// Trace is a call stack: the first element is the call to the target function, the last element the call in the
// root function
type Trace []*ir.Instruction

// ShortestPathFrom returns a shortest call path from root to target that does not go through the functions on
// which stop returns true (root excepted). The second result is false when target is not reachable.
func (g *Graph) ShortestPathFrom(root, target *ir.Function, stop func(*ir.Function) bool) (Trace, bool) {
	fg := graphutil.WithoutEdgesFrom(g.FunctionGraph(), func(f *ir.Function) bool {
		return f != root && stop(f)
	})
	return g.pathIn(&shortestPaths{fg: fg, parents: computeParents(fg, root)}, root, target)
}

func computeParents(fg *graphutil.CGraph[*ir.Function], root *ir.Function) []int {
	id, ok := fg.IDOf(root)
	if !ok {
		return nil
	}
	parents, _ := graph.ShortestPaths(fg, id)
	return parents
}

func (g *Graph) pathIn(sp *shortestPaths, root, target *ir.Function) (Trace, bool) {
	rootID, ok := sp.fg.IDOf(root)
	if !ok || sp.parents == nil {
		return nil, false
	}
	cur, ok := sp.fg.IDOf(target)
	if !ok {
		return nil, false
	}
	trace := Trace{}
	for cur != rootID {
		parent := sp.parents[cur]
		if parent < 0 {
			return nil, false
		}
		call := g.firstCallBetween(sp.fg.Values[parent], sp.fg.Values[cur])
		if call == nil {
			return nil, false
		}
		trace = append(trace, call)
		cur = parent
	}
	return trace, true
}

// firstCallBetween returns the first call in caller that may call callee
func (g *Graph) firstCallBetween(caller, callee *ir.Function) *ir.Instruction {
	for _, inst := range caller.Instructions() {
		for _, c := range g.callees[inst] {
			if c == callee {
				return inst
			}
		}
	}
	return nil
}

// cachedPaths returns the shortest paths from root, computed once per root until the edges change
func (g *Graph) cachedPaths(root *ir.Function, privileged bool, stop func(*ir.Function) bool) *shortestPaths {
	key := pathKey{root: root, privileged: privileged}
	if sp, ok := g.paths[key]; ok && g.functionGraph != nil {
		return sp
	}
	fg := graphutil.WithoutEdgesFrom(g.FunctionGraph(), stop)
	sp := &shortestPaths{fg: fg, parents: computeParents(fg, root)}
	g.paths[key] = sp
	return sp
}

// PrivilegedPathTo returns a shortest call path from main to fn that does not enter any sandbox
func (g *Graph) PrivilegedPathTo(fn *ir.Function, sandboxes contexts.SandboxIndex) (Trace, bool) {
	main := g.module.Function("main")
	if main == nil {
		return nil, false
	}
	sp := g.cachedPaths(main, true, func(f *ir.Function) bool {
		_, isEntry := sandboxes.EntryPointOf(f)
		return isEntry
	})
	return g.pathIn(sp, main, fn)
}

// SandboxedPathTo returns a shortest call path from main to fn that reaches fn inside a sandbox: the path from an
// entry point among roots to fn without entering another sandbox, followed by the privileged path from main to
// that entry point. Roots are tried in order.
func (g *Graph) SandboxedPathTo(fn *ir.Function, roots []*ir.Function, sandboxes contexts.SandboxIndex) (Trace, bool) {
	for _, root := range roots {
		sp := g.cachedPaths(root, false, func(f *ir.Function) bool {
			_, isEntry := sandboxes.EntryPointOf(f)
			return isEntry && f != root
		})
		sboxTrace, ok := g.pathIn(sp, root, fn)
		if !ok {
			continue
		}
		privTrace, ok := g.PrivilegedPathTo(root, sandboxes)
		if !ok {
			privTrace = Trace{}
		}
		return append(sboxTrace, privTrace...), true
	}
	return nil, false
}
