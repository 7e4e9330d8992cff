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

// Package vtables implements the front-end dumping the class hierarchy and the callees of virtual calls.
package vtables

import (
	"bufio"
	"fmt"
	"os"

	"github.com/awslabs/ar-soaap-tools/cmd/soaap/tools"
	"github.com/awslabs/ar-soaap-tools/internal/formatutil"
)

const usage = `Dump the callees of the virtual calls of a C++ program.

Usage:
  soaap vtables [options] program.ll

The callees are written in the YAML format read back by the read-virtual-callees configuration option. Resolving
virtual calls is expensive for large programs: the dump of one run can be reused by the following ones.

Examples:
% soaap vtables -o callees.yaml program.ll
% soaap vtables -hierarchy program.ll
`

// Flags represents the flags for the vtables sub-command.
type Flags struct {
	tools.CommonFlags
	outputFile string
	hierarchy  bool
}

// NewFlags returns parsed flags for the vtables sub-command.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("vtables")
	outputFile := flags.FlagSet.String("o", "", "output file (default: standard output)")
	hierarchy := flags.FlagSet.Bool("hierarchy", false, "print the class hierarchy instead of the virtual callees")
	tools.SetUsage(flags.FlagSet, usage)
	common, err := flags.Parse(args)
	if err != nil {
		return Flags{}, err
	}
	return Flags{CommonFlags: common, outputFile: *outputFile, hierarchy: *hierarchy}, nil
}

// Run dumps the virtual callees, or the class hierarchy, of the program
func Run(flags Flags) error {
	state, err := tools.LoadState(flags.CommonFlags, nil)
	if err != nil {
		return err
	}
	if flags.hierarchy {
		state.Hierarchy.Print(os.Stdout)
		return nil
	}
	if flags.outputFile == "" {
		return state.Hierarchy.DumpVirtualCallees(os.Stdout)
	}
	f, err := os.Create(flags.outputFile)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", flags.outputFile, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := state.Hierarchy.DumpVirtualCallees(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Virtual callees written to %s\n", formatutil.Sanitize(flags.outputFile))
	return nil
}
