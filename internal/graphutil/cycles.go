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

package graphutil

import (
	"github.com/yourbasic/graph"
	"golang.org/x/exp/slices"
)

// FindAllElementaryCycles finds all elementary cycles in the graph CGraph
// This uses Donald B. Johnson's algorithm presented in
// "Finding All The Elementary Circuits of a Directed Graph", 1975
//
//	cg : the graph with cycles
//
// Each cycle starts and ends with its smallest node id. Self-loops are cycles of length one.
func FindAllElementaryCycles[T comparable](cg *CGraph[T]) [][]int64 {
	s := &state[T]{
		blocked: map[int64]bool{},
		blist:   map[int64]map[int64]bool{},
		stack:   []int64{},
		cycles:  [][]int64{},
	}
	for _, k := range cg.Keys {
		if cg.Edges[k][k] {
			s.cycles = append(s.cycles, []int64{k, k})
		}
	}
	nodeid := 0
	for nodeid < len(cg.Keys) {
		fg := Subgraph(cg, cg.Keys[nodeid:])
		components := graph.StrongComponents(fg)
		// the component holding the smallest node gives the next start node
		least := -1
		for _, component := range components {
			if len(component) >= 2 {
				slices.Sort(component)
				if least < 0 || component[0] < least {
					least = component[0]
				}
			}
		}
		if least < 0 {
			return s.cycles
		}
		s.stack = []int64{}
		s.blocked = map[int64]bool{}
		s.blist = map[int64]map[int64]bool{}
		s.circuit(int64(least), int64(least), withoutSelfLoops(fg))
		nodeid = slices.Index(cg.Keys, int64(least)) + 1
	}
	return s.cycles
}

func withoutSelfLoops[T comparable](g *CGraph[T]) *CGraph[T] {
	return &CGraph[T]{
		Values: g.Values,
		IDMap:  g.IDMap,
		Keys:   g.Keys,
		Edges:  g.Edges,
		index:  g.index,
		succs:  filterSelf(g.succs),
		preds:  g.preds,
	}
}

func filterSelf(adj map[int64][]int64) map[int64][]int64 {
	res := make(map[int64][]int64, len(adj))
	for x, ys := range adj {
		for _, y := range ys {
			if y != x {
				res[x] = append(res[x], y)
			}
		}
	}
	return res
}

type state[T comparable] struct {
	blocked map[int64]bool
	blist   map[int64]map[int64]bool
	stack   []int64
	cycles  [][]int64
}

func (s *state[T]) unblock(u int64) {
	s.blocked[u] = false
	for w := range s.blist[u] {
		delete(s.blist[u], w)
		if s.blocked[w] {
			s.unblock(w)
		}
	}
}

func (s *state[T]) circuit(v int64, i int64, g *CGraph[T]) bool {
	f := false
	s.stack = append(s.stack, v)
	s.blocked[v] = true
	for _, w := range g.Successors(v) {
		if w == i {
			stackCopy := make([]int64, len(s.stack))
			copy(stackCopy, s.stack)
			stackCopy = append(stackCopy, w)
			s.cycles = append(s.cycles, stackCopy)
			f = true
		} else if !s.blocked[w] {
			if s.circuit(w, i, g) {
				f = true
			}
		}
	}

	if f {
		s.unblock(v)
	} else {
		for _, w := range g.Successors(v) {
			m := s.blist[w]
			if m != nil {
				s.blist[w][v] = true
			} else {
				s.blist[w] = map[int64]bool{v: true}
			}
		}
	}
	s.stack = s.stack[:len(s.stack)-1]
	return f
}
