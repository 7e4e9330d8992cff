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

package main

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-soaap-tools/analysis"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/analyze"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/callgraph"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/list"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/rpc"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/tools"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/vtables"
)

const usage = `Soaap: sandboxing policy analysis of LLVM IR programs
Usage:
  soaap [tool] [options] <program.ll>
Tools:
  - analyze: checks the sandboxing policy of a program and writes the reports
  - callgraph: prints the call graph of a program, or writes it in graphviz format
  - list: lists the sandboxed, privileged and function pointer information of a program
  - rpc: prints the messages exchanged between the privileged parent and its sandboxes
  - vtables: dumps the callees of the virtual calls of a C++ program
Examples:
  Run all the analyses: soaap analyze -mode all program.ll
  Check the system calls of sandboxes on FreeBSD: soaap analyze -analyses syscalls -os freebsd program.ll`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "error: expected subcommand\n%s\n", usage)
		os.Exit(2)
	}

	// hardcode help flag
	if snd := os.Args[1]; snd == "-help" || snd == "--help" {
		fmt.Println(usage)
		return
	}

	// hardcode version flag
	if snd := os.Args[1]; snd == "-version" || snd == "--version" {
		fmt.Println(analysis.Version)
		return
	}

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "analyze":
		flags, err := analyze.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := analyze.Run(flags); err != nil {
			errExit(err)
		}
	case "callgraph":
		flags, err := callgraph.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := callgraph.Run(flags); err != nil {
			errExit(err)
		}
	case "list":
		flags, err := list.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := list.Run(flags); err != nil {
			errExit(err)
		}
	case "rpc":
		flags, err := rpc.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := rpc.Run(flags); err != nil {
			errExit(err)
		}
	case "vtables":
		flags, err := vtables.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := vtables.Run(flags); err != nil {
			errExit(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "error: unexpected command: %v\n", cmd)
		fmt.Fprintf(os.Stderr, "usage:\n%s\n", usage)
		os.Exit(2)
	}
}

func errExit(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	hint := tools.HintForErrorMessage(err.Error())
	if hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
	os.Exit(2)
}
