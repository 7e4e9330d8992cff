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

package rpc

import (
	"fmt"
	"io"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/sandbox"
	"golang.org/x/exp/slices"
)

type cluster struct {
	sb    *sandbox.Sandbox
	funcs []*ir.Function
}

type nodeKey struct {
	sb *sandbox.Sandbox
	f  *ir.Function
}

// clusters groups the senders and handlers of the links by the context they execute in
func (g *Graph) clusters() []*cluster {
	var res []*cluster
	add := func(sb *sandbox.Sandbox, f *ir.Function) {
		for _, c := range res {
			if c.sb == sb {
				if !slices.Contains(c.funcs, f) {
					c.funcs = append(c.funcs, f)
				}
				return
			}
		}
		res = append(res, &cluster{sb: sb, funcs: []*ir.Function{f}})
	}
	for _, l := range g.Links {
		add(l.Sender, l.Source())
		if l.Handler != nil {
			add(l.Recipient, l.Handler)
		}
	}
	return res
}

// reachable reports whether from calls to, directly or not, without entering another sandbox than sb
func (g *Graph) reachable(from, to *ir.Function, sb *sandbox.Sandbox) bool {
	_, ok := g.s.CallGraph.ShortestPathFrom(from, to, func(f *ir.Function) bool {
		return g.s.Sandboxes.IsEntryPoint(f) && (sb == nil || !sb.IsEntryPoint(f))
	})
	return ok
}

// WriteDOT writes the graph in the graphviz format. Each context is a cluster, sandbox entry points are in bold,
// call graph reachability inside a context is drawn with plain edges and messages with dashed edges labelled by
// their type.
func (g *Graph) WriteDOT(w io.Writer) error {
	var buf strings.Builder
	buf.WriteString("digraph G {\n")
	ids := map[nodeKey]int{}
	for i, c := range g.clusters() {
		fmt.Fprintf(&buf, "\tsubgraph cluster_%d {\n", i)
		buf.WriteString("\t\trankdir=TB\n")
		fmt.Fprintf(&buf, "\t\tlabel = %q\n", nameOf(c.sb))
		for _, f := range c.funcs {
			key := nodeKey{c.sb, f}
			if _, ok := ids[key]; !ok {
				ids[key] = len(ids)
			}
			fmt.Fprintf(&buf, "\t\tn%d [label=%q", ids[key], f.Name())
			if c.sb != nil && c.sb.IsEntryPoint(f) {
				buf.WriteString(",style=\"bold\"")
			}
			buf.WriteString("];\n")
		}
		for j := 1; j < len(c.funcs); j++ {
			fmt.Fprintf(&buf, "\t\tn%d -> n%d [style=invis];\n",
				ids[nodeKey{c.sb, c.funcs[j-1]}], ids[nodeKey{c.sb, c.funcs[j]}])
		}
		buf.WriteString("\t}\n")
		for _, f1 := range c.funcs {
			for _, f2 := range c.funcs {
				if f1 != f2 && g.reachable(f1, f2, c.sb) {
					fmt.Fprintf(&buf, "\tn%d -> n%d [constraint=false];\n", ids[nodeKey{c.sb, f1}], ids[nodeKey{c.sb, f2}])
				}
			}
		}
	}
	buf.WriteString("\n")
	for _, l := range g.Links {
		if l.Handler == nil {
			continue
		}
		fmt.Fprintf(&buf, "\tn%d -> n%d [label=%q,style=\"dashed\"];\n",
			ids[nodeKey{l.Sender, l.Source()}], ids[nodeKey{l.Recipient, l.Handler}], l.MsgType)
	}
	buf.WriteString("}\n")
	if _, err := io.WriteString(w, buf.String()); err != nil {
		return fmt.Errorf("error while writing rpc graph: %w", err)
	}
	return nil
}
