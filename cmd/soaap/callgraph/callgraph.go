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

// Package callgraph implements the front-end printing the call graph of a program.
package callgraph

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-soaap-tools/analysis/rendering"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/tools"
	"github.com/awslabs/ar-soaap-tools/internal/formatutil"
)

const usage = `Print the call graph of a program, with function pointer and virtual call targets.

Usage:
  soaap callgraph [options] program.ll

Each caller is printed with its callees and the number of calls to each. With -dot, the graph is written in
the graphviz format instead; sandbox entry points are bold and functions executing only in sandboxes are red.

Examples:
% soaap callgraph program.ll
% soaap callgraph -dot callgraph.dot -externals program.ll
`

// Flags represents the flags for the callgraph sub-command.
type Flags struct {
	tools.CommonFlags
	dotFile   string
	externals bool
}

// NewFlags returns parsed flags for the callgraph sub-command.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("callgraph")
	dotFile := flags.FlagSet.String("dot", "", "write the call graph in graphviz format to this file")
	externals := flags.FlagSet.Bool("externals", false, "include calls to external functions in the dot output")
	tools.SetUsage(flags.FlagSet, usage)
	common, err := flags.Parse(args)
	if err != nil {
		return Flags{}, err
	}
	return Flags{CommonFlags: common, dotFile: *dotFile, externals: *externals}, nil
}

// Run prints the call graph of the program
func Run(flags Flags) error {
	state, err := tools.LoadState(flags.CommonFlags, nil)
	if err != nil {
		return err
	}
	if flags.dotFile == "" {
		state.CallGraph.Print(os.Stdout)
		return nil
	}
	opts := rendering.Options{Externals: flags.externals, Sandboxes: state.Sandboxes}
	if err := rendering.GraphvizToFile(state.CallGraph, opts, flags.dotFile); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Call graph written to %s\n", formatutil.Sanitize(flags.dotFile))
	return nil
}
