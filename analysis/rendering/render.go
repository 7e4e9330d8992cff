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

// Package rendering writes the call graph and the rpc graph in the graphviz format
package rendering

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/rpc"
	"github.com/awslabs/ar-soaap-tools/analysis/sandbox"
)

// RPCGraphFile is the name of the rpc graph file written in the reports directory
const RPCGraphFile = "rpcgraph.dot"

// Options controls which parts of the call graph are written
type Options struct {
	// Externals keeps the calls to functions declared but not defined in the module
	Externals bool
	// Sandboxes, when set, marks the sandbox entry points in bold and the functions that only execute in
	// sandboxes in red
	Sandboxes *sandbox.Model
}

// edgeColor defines specific color for specific edges in the callgraph
// - an indirect call site resolved through function pointer or virtual call analysis is colored blue
// - all other call sites have a default color edge
func edgeColor(call *ir.Instruction) string {
	if callgraph.IsIndirectCall(call) {
		return " [color=blue]"
	}
	return ""
}

func nodeAttrs(f *ir.Function, opts Options) string {
	if opts.Sandboxes == nil {
		return ""
	}
	if opts.Sandboxes.IsEntryPoint(f) {
		return " [style=bold]"
	}
	if !opts.Sandboxes.IsPrivileged(f) && len(opts.Sandboxes.SandboxesContainingFunction(f)) > 0 {
		return " [color=red]"
	}
	return ""
}

func filterFn(callee *ir.Function, opts Options) bool {
	if callee.IsIntrinsic() {
		return false
	}
	return opts.Externals || !callee.IsDeclaration()
}

// WriteCallGraphDOT writes a graphviz representation of the call graph to w. There is one edge per call site
// and callee.
func WriteCallGraphDOT(w io.Writer, g *callgraph.Graph, opts Options) error {
	var err error
	before := "digraph callgraph {\n"
	after := "}\n"

	_, err = io.WriteString(w, before)
	if err != nil {
		return fmt.Errorf("error while writing in file: %w", err)
	}
	for _, f := range g.Module().Functions {
		if !filterFn(f, opts) {
			continue
		}
		if attrs := nodeAttrs(f, opts); attrs != "" {
			if _, err := fmt.Fprintf(w, "  %q%s;\n", f.Name(), attrs); err != nil {
				return fmt.Errorf("error while writing in file: %w", err)
			}
		}
	}
	for _, call := range g.Calls() {
		for _, callee := range g.AllCallees(call) {
			if !filterFn(callee, opts) {
				continue
			}
			s := fmt.Sprintf("  %q -> %q%s;\n", call.Function().Name(), callee.Name(), edgeColor(call))
			if _, err := io.WriteString(w, s); err != nil {
				return fmt.Errorf("error while writing in file: %w", err)
			}
		}
	}
	_, err = io.WriteString(w, after)
	if err != nil {
		return fmt.Errorf("error while writing in file: %w", err)
	}
	return nil
}

// GraphvizToFile writes the call graph to filename
func GraphvizToFile(g *callgraph.Graph, opts Options, filename string) error {
	return toFile(filename, func(w io.Writer) error {
		return WriteCallGraphDOT(w, g, opts)
	})
}

// RPCGraphToFile writes the rpc graph to RPCGraphFile in the reports directory of cfg and returns the name of
// the file
func RPCGraphToFile(cfg *config.Config, g *rpc.Graph) (string, error) {
	name := filepath.Join(cfg.ReportsDir, RPCGraphFile)
	return name, toFile(name, g.WriteDOT)
}

func toFile(filename string, write func(io.Writer) error) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("could not create directory: %w", err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	if err := write(w); err != nil {
		return fmt.Errorf("error while writing graph: %w", err)
	}
	return nil
}
