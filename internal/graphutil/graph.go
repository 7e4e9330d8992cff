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
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
)

// CGraph is an abstraction over a directed graph of values of type T (functions of a call graph, blocks of a
// control-flow graph) to work with existing graph libraries. It implements the methods to satisfy
// yourbasic's graph.Iterator and Gonum's graph.Directed.
// Node ids are the positions of the values in the slice the graph was constructed from.
type CGraph[T comparable] struct {
	// Values are the values of the graph nodes, indexed by node id
	Values []T

	// IDMap maps from node IDs to CNodes
	IDMap map[int64]CNode[T]

	// Keys are all the node IDs, sorted
	Keys []int64

	// Edges is an adjacency matrix: Edges[x][y] means there is a directed edge between IDMap[x] and IDMap[y]
	Edges map[int64]map[int64]bool

	index map[T]int64
	// succs and preds hold the sorted adjacency lists
	succs map[int64][]int64
	preds map[int64][]int64
}

// NewGraph returns a new graph over the nodes where the successors of a node are given by successors. Successors
// that are not in nodes are ignored.
func NewGraph[T comparable](nodes []T, successors func(T) []T) *CGraph[T] {
	n := len(nodes)
	c := &CGraph[T]{
		Values: nodes,
		IDMap:  make(map[int64]CNode[T], n),
		Keys:   make([]int64, n),
		Edges:  make(map[int64]map[int64]bool, n),
		index:  make(map[T]int64, n),
	}
	for i, node := range nodes {
		c.Keys[i] = int64(i)
		c.index[node] = int64(i)
		c.IDMap[int64(i)] = CNode[T]{id: int64(i), Value: node}
	}
	for i, node := range nodes {
		c.Edges[int64(i)] = map[int64]bool{}
		for _, succ := range successors(node) {
			if j, ok := c.index[succ]; ok {
				c.Edges[int64(i)][j] = true
			}
		}
	}
	c.computeAdjacency()
	return c
}

func (c *CGraph[T]) computeAdjacency() {
	c.succs = make(map[int64][]int64, len(c.Keys))
	c.preds = make(map[int64][]int64, len(c.Keys))
	for _, x := range c.Keys {
		for y := range c.Edges[x] {
			c.succs[x] = append(c.succs[x], y)
			c.preds[y] = append(c.preds[y], x)
		}
	}
	for _, x := range c.Keys {
		slices.Sort(c.succs[x])
		slices.Sort(c.preds[x])
	}
}

// Subgraph returns a new graph that is the original graph with only the nodes in include. Only the edges that have
// both the origin and destination nodes in the include nodes are kept in the resulting graph.
// The subgraph's order, Values and IDMap are the same as in origin, meaning that node indices will stay consistent
// across subgraphs.
func Subgraph[T comparable](original *CGraph[T], include []int64) *CGraph[T] {
	included := make(map[int64]bool, len(include))
	for _, i := range include {
		included[i] = true
	}
	edges := make(map[int64]map[int64]bool, len(include))
	for _, i := range include {
		edges[i] = map[int64]bool{}
		for e := range original.Edges[i] {
			if included[e] {
				edges[i][e] = true
			}
		}
	}
	keys := slices.Clone(include)
	slices.Sort(keys)
	sub := &CGraph[T]{
		Values: original.Values,
		IDMap:  original.IDMap,
		Keys:   keys,
		Edges:  edges,
		index:  original.index,
	}
	sub.computeAdjacency()
	return sub
}

// WithoutEdgesFrom returns a new graph with the same nodes, where the nodes whose value satisfies stop have no
// outgoing edges. Paths in the resulting graph may end at such nodes but never go through them.
func WithoutEdgesFrom[T comparable](original *CGraph[T], stop func(T) bool) *CGraph[T] {
	edges := make(map[int64]map[int64]bool, len(original.Keys))
	for _, i := range original.Keys {
		edges[i] = map[int64]bool{}
		if stop(original.Values[i]) {
			continue
		}
		for e := range original.Edges[i] {
			edges[i][e] = true
		}
	}
	res := &CGraph[T]{
		Values: original.Values,
		IDMap:  original.IDMap,
		Keys:   original.Keys,
		Edges:  edges,
		index:  original.index,
	}
	res.computeAdjacency()
	return res
}

// IDOf returns the node id of the value v
func (c *CGraph[T]) IDOf(v T) (int, bool) {
	id, ok := c.index[v]
	return int(id), ok
}

// Successors returns the sorted ids of the successors of the node id
func (c *CGraph[T]) Successors(id int64) []int64 {
	return c.succs[id]
}

// Predecessors returns the sorted ids of the predecessors of the node id
func (c *CGraph[T]) Predecessors(id int64) []int64 {
	return c.preds[id]
}

// Order implements the order of the graph.Iterator interface for the CGraph
func (c *CGraph[T]) Order() int {
	return len(c.Values)
}

// Visit implements the graph.Iterator interface for the CGraph. Successors are visited in increasing id order.
func (c *CGraph[T]) Visit(v int, do func(w int, c int64) (skip bool)) (aborted bool) {
	for _, w := range c.succs[int64(v)] {
		if do(int(w), 1) {
			return true
		}
	}
	return false
}

// *************** Graph interface implementation **********************

// Node implements the Graph interface
func (c *CGraph[T]) Node(id int64) graph.Node {
	n, ok := c.IDMap[id]
	if !ok {
		return nil
	}
	return n
}

// Nodes returns the set of nodes in the graph
func (c *CGraph[T]) Nodes() graph.Nodes {
	return c.nodeSet(c.Keys)
}

// From returns the set of nodes reachable from the id by one edge
func (c *CGraph[T]) From(id int64) graph.Nodes {
	return c.nodeSet(c.succs[id])
}

// To returns the set of nodes that reach the id by one edge
func (c *CGraph[T]) To(id int64) graph.Nodes {
	return c.nodeSet(c.preds[id])
}

func (c *CGraph[T]) nodeSet(ids []int64) *NodeSet[T] {
	return &NodeSet[T]{nodes: c.IDMap, ids: ids, cur: -1}
}

// HasEdgeBetween returns a boolean indicating whether an edge exists between the two node identifiers
func (c *CGraph[T]) HasEdgeBetween(xid, yid int64) bool {
	return c.Edges[xid][yid] || c.Edges[yid][xid]
}

// HasEdgeFromTo returns whether there is a directed edge from uid to vid
func (c *CGraph[T]) HasEdgeFromTo(uid, vid int64) bool {
	return c.Edges[uid][vid]
}

// Edge returns the edge between the two identifiers (nil if none exists)
func (c *CGraph[T]) Edge(uid, vid int64) graph.Edge {
	if c.Edges[uid][vid] {
		return CEdge[T]{from: c.IDMap[uid], to: c.IDMap[vid]}
	}
	return nil
}

// *************** Nodes implementation **********************

// CNode wraps a value of the graph and implements the graph.Node interface
type CNode[T comparable] struct {
	id    int64
	Value T
}

// ID returns the id of the node
func (n CNode[T]) ID() int64 {
	return n.id
}

// NodeSet implements the graph.Nodes interface, an iterator over a set of nodes
type NodeSet[T comparable] struct {
	// nodes is the set of nodes in the iterator
	nodes map[int64]CNode[T]

	// ids is the set of node ids in the iterator
	ids []int64

	// cur is the current index of the iterator, -1 before the first call to Next
	cur int
}

// Next moves the current node to the next, and returns true if such a node exists. Otherwise, returns false
// and the current node has not changed.
func (ns *NodeSet[T]) Next() bool {
	if ns.cur < len(ns.ids)-1 {
		ns.cur++
		return true
	}
	return false
}

// Len returns the number of nodes remaining in the iterator
func (ns *NodeSet[T]) Len() int {
	return len(ns.ids) - ns.cur - 1
}

// Reset resets the id of the current node in the set
func (ns *NodeSet[T]) Reset() {
	ns.cur = -1
}

// Node return the current node in the set
func (ns *NodeSet[T]) Node() graph.Node {
	if ns.cur < 0 || ns.cur >= len(ns.ids) {
		return nil
	}
	return ns.nodes[ns.ids[ns.cur]]
}

// *************** Edge implementation **********************

// CEdge implements the graph.Edge interface
type CEdge[T comparable] struct {
	from CNode[T]
	to   CNode[T]
}

// From returns the origin of the edge
func (e CEdge[T]) From() graph.Node {
	return e.from
}

// To returns the destination of the edge
func (e CEdge[T]) To() graph.Node {
	return e.to
}

// ReversedEdge returns a new value representing the reversed edge
func (e CEdge[T]) ReversedEdge() graph.Edge {
	return CEdge[T]{from: e.to, to: e.from}
}
