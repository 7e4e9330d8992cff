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

// Package rpc implements the front-end printing the messages exchanged between sandboxes.
package rpc

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/rendering"
	"github.com/awslabs/ar-soaap-tools/analysis/rpc"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/tools"
	"github.com/awslabs/ar-soaap-tools/internal/formatutil"
)

const usage = `Print the messages sent between the privileged parent and its sandboxes.

Usage:
  soaap rpc [options] program.ll

Each line is a message: the sending context, the message type, the receiving context and the function handling
it. With -dot, the graph is also written to rpcgraph.dot in the reports directory.

Examples:
% soaap rpc program.ll
% soaap rpc -dot -reports-dir out program.ll
`

// Flags represents the flags for the rpc sub-command.
type Flags struct {
	tools.CommonFlags
	dot        bool
	reportsDir string
}

// NewFlags returns parsed flags for the rpc sub-command.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("rpc")
	dot := flags.FlagSet.Bool("dot", false, "write the graph in graphviz format")
	reportsDir := flags.FlagSet.String("reports-dir", "", "directory of the dot file (overrides the config)")
	tools.SetUsage(flags.FlagSet, usage)
	common, err := flags.Parse(args)
	if err != nil {
		return Flags{}, err
	}
	return Flags{CommonFlags: common, dot: *dot, reportsDir: *reportsDir}, nil
}

// Run prints the RPC graph of the program
func Run(flags Flags) error {
	state, err := tools.LoadState(flags.CommonFlags, func(c *config.Config) {
		if flags.reportsDir != "" {
			c.ReportsDir = flags.reportsDir
		}
	})
	if err != nil {
		return err
	}
	g := rpc.Build(state.Session)
	g.Dump(os.Stdout)
	if !flags.dot {
		return nil
	}
	filename, err := rendering.RPCGraphToFile(state.Config, g)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "RPC graph written to %s\n", formatutil.Sanitize(filename))
	return nil
}
