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

// Package list implements the front-end listing the functions of a program by the way they execute.
package list

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/awslabs/ar-soaap-tools/analysis"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/tools"
	"github.com/awslabs/ar-soaap-tools/internal/formatutil"
)

const usage = `List the functions of a program.

Usage:
  soaap list [options] program.ll

At least one listing must be selected. Listings are printed in the order of the options below.

Examples:
% soaap list -sandboxed -privileged program.ll
% soaap list -fp-calls -fp-targets program.ll
% soaap list -stats -json program.ll
`

// Flags represents the flags for the list sub-command.
type Flags struct {
	tools.CommonFlags
	sandboxed  bool
	privileged bool
	fpCalls    bool
	fpTargets  bool
	all        bool
	stats      bool
	outputJson bool
}

// NewFlags returns parsed flags for the list sub-command.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("list")
	res := Flags{}
	flags.FlagSet.BoolVar(&res.sandboxed, "sandboxed", false, "list the functions of every sandbox")
	flags.FlagSet.BoolVar(&res.privileged, "privileged", false, "list the functions executing with privileges")
	flags.FlagSet.BoolVar(&res.fpCalls, "fp-calls", false, "list the function pointer calls")
	flags.FlagSet.BoolVar(&res.fpTargets, "fp-targets", false, "list the targets of the function pointer calls")
	flags.FlagSet.BoolVar(&res.all, "all-funcs", false, "list all the defined functions and recursive groups")
	flags.FlagSet.BoolVar(&res.stats, "stats", false, "print statistics about the program")
	flags.FlagSet.BoolVar(&res.outputJson, "json", false, "output statistics as JSON")
	tools.SetUsage(flags.FlagSet, usage)
	common, err := flags.Parse(args)
	if err != nil {
		return Flags{}, err
	}
	res.CommonFlags = common
	if !(res.sandboxed || res.privileged || res.fpCalls || res.fpTargets || res.all || res.stats) {
		return Flags{}, fmt.Errorf("no listing selected")
	}
	return res, nil
}

// Run prints the listings selected by flags
func Run(flags Flags) error {
	state, err := tools.LoadState(flags.CommonFlags, nil)
	if err != nil {
		return err
	}
	w := os.Stdout
	if flags.sandboxed {
		fmt.Fprintln(w, formatutil.Bold("Sandboxed functions"))
		state.Sandboxes.ListSandboxedFunctions(w)
	}
	if flags.privileged {
		fmt.Fprintln(w, formatutil.Bold("Privileged functions"))
		state.Sandboxes.ListPrivilegedFunctions(w)
	}
	if flags.fpCalls {
		fmt.Fprintln(w, formatutil.Bold("Function pointer calls"))
		state.CallGraph.ListFPCalls(w, state.Sandboxes)
	}
	if flags.fpTargets {
		fmt.Fprintln(w, formatutil.Bold("Function pointer targets"))
		state.CallGraph.ListFPTargets(w)
	}
	if flags.all {
		fmt.Fprintln(w, formatutil.Bold("Functions"))
		state.CallGraph.ListAllFuncs(w)
	}
	if flags.stats {
		result := analysis.ProgramStatistics(state)
		if flags.outputJson {
			buf, err := json.Marshal(result)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(buf))
		} else {
			result.Print(w)
		}
	}
	return nil
}
