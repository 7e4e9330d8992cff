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

package graphutil_test

import (
	"testing"

	"github.com/awslabs/ar-soaap-tools/internal/graphutil"
	"github.com/google/go-cmp/cmp"
	"github.com/yourbasic/graph"
	"gonum.org/v1/gonum/graph/flow"
	"gonum.org/v1/gonum/graph/topo"
)

func TestVisitIsOrdered(t *testing.T) {
	g := stringGraph("abcd", "ad", "ab", "ac")
	var visited []int
	g.Visit(0, func(w int, _ int64) bool {
		visited = append(visited, w)
		return false
	})
	if diff := cmp.Diff([]int{1, 2, 3}, visited); diff != "" {
		t.Errorf("successors not visited in order (-want +got):\n%s", diff)
	}
}

func TestShortestPathsAvoidingNodes(t *testing.T) {
	// a -> b -> d and a -> c -> e -> d: the path through b is shorter unless b is a stop node
	g := stringGraph("abcde", "ab", "bd", "ac", "ce", "ed")
	parents, _ := graph.ShortestPaths(g, 0)
	if parents[3] != 1 {
		t.Errorf("expected d to be reached through b, parent is %d", parents[3])
	}
	avoid := graphutil.WithoutEdgesFrom(g, func(s string) bool { return s == "b" })
	parents, dist := graph.ShortestPaths(avoid, 0)
	if parents[3] != 4 || dist[3] != 3 {
		t.Errorf("expected d to be reached through e at distance 3, got parent %d distance %d", parents[3], dist[3])
	}
	if parents[1] != 0 {
		t.Errorf("expected b to remain reachable from a")
	}
}

func TestGonumInterfaces(t *testing.T) {
	g := stringGraph("abcd", "ab", "ac", "bd", "cd")
	if !topo.PathExistsIn(g, g.Node(0), g.Node(3)) {
		t.Errorf("expected a path from a to d")
	}
	if topo.PathExistsIn(g, g.Node(3), g.Node(0)) {
		t.Errorf("expected no path from d to a")
	}
	if n := g.To(3).Len(); n != 2 {
		t.Errorf("expected 2 predecessors of d, got %d", n)
	}
	dom := flow.Dominators(g.Node(0), g)
	if idom := dom.DominatorOf(3); idom == nil || idom.ID() != 0 {
		t.Errorf("expected a to be the immediate dominator of d, got %v", idom)
	}
	if idom := dom.DominatorOf(1); idom == nil || idom.ID() != 0 {
		t.Errorf("expected a to be the immediate dominator of b, got %v", idom)
	}
}

func TestSubgraph(t *testing.T) {
	g := stringGraph("abcd", "ab", "bc", "cd", "da")
	sub := graphutil.Subgraph(g, []int64{2, 1})
	if !sub.HasEdgeFromTo(1, 2) || sub.HasEdgeFromTo(2, 3) {
		t.Errorf("subgraph edges are not restricted to the included nodes")
	}
	if id, ok := sub.IDOf("c"); !ok || id != 2 {
		t.Errorf("expected subgraph to keep node ids")
	}
}
