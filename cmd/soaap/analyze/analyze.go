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

// Package analyze implements the front-end of the sandboxing policy analyses.
package analyze

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-soaap-tools/analysis"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/cmd/soaap/tools"
	"github.com/awslabs/ar-soaap-tools/internal/formatutil"
)

const usage = `Check the sandboxing policy of a program compiled to LLVM IR.

Usage:
  soaap analyze [options] program.ll

Use the -help flag to display the options.

Examples:
% soaap analyze -config config.yaml program.ll
% soaap analyze -mode vulnerable -platform capsicum program.ll
% soaap analyze -analyses globals,syscalls -formats text,json -reports-dir out program.ll
`

// Flags represents the flags for the analyze sub-command.
type Flags struct {
	tools.CommonFlags
	mode               string
	analyses           tools.ListFlag
	os                 string
	platform           string
	policy             string
	reportsDir         string
	formats            tools.ListFlag
	traces             tools.ListFlag
	contextInsensitive bool
	pedantic           bool
}

// NewFlags returns parsed flags for the analyze sub-command.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("analyze")
	res := Flags{}
	flags.FlagSet.StringVar(&res.mode, "mode", "", "analysis mode: null, vulnerable, correct, infoflow, custom or all")
	flags.FlagSet.Var(&res.analyses, "analyses", "analyses to run in custom mode")
	flags.FlagSet.StringVar(&res.os, "os", "", "operating system: freebsd or linux")
	flags.FlagSet.StringVar(&res.platform, "platform", "", "sandbox platform")
	flags.FlagSet.StringVar(&res.policy, "policy", "", "seccomp-bpf policy file")
	flags.FlagSet.StringVar(&res.reportsDir, "reports-dir", "", "directory where reports are written")
	flags.FlagSet.Var(&res.formats, "formats", "report formats: text, json, xml, html")
	flags.FlagSet.Var(&res.traces, "traces", "analyses whose diagnostics include traces")
	flags.FlagSet.BoolVar(&res.contextInsensitive, "context-insensitive", false,
		"collapse the contexts of the information flow analyses")
	flags.FlagSet.BoolVar(&res.pedantic, "pedantic", false, "report every global variable access")
	tools.SetUsage(flags.FlagSet, usage)
	common, err := flags.Parse(args)
	if err != nil {
		return Flags{}, err
	}
	res.CommonFlags = common
	return res, nil
}

// override applies the flags that were set to cfg
func (f Flags) override(cfg *config.Config) {
	if f.mode != "" {
		cfg.Mode = f.mode
	}
	if len(f.analyses) > 0 {
		cfg.Analyses = f.analyses
	}
	if f.os != "" {
		cfg.OS = f.os
	}
	if f.platform != "" {
		cfg.SandboxPlatform = f.platform
	}
	if f.policy != "" {
		cfg.SandboxPolicy = f.policy
	}
	if f.reportsDir != "" {
		cfg.ReportsDir = f.reportsDir
	}
	if len(f.formats) > 0 {
		cfg.ReportOutputFormats = f.formats
	}
	if len(f.traces) > 0 {
		cfg.OutputTraces = f.traces
	}
	cfg.ContextInsensitive = cfg.ContextInsensitive || f.contextInsensitive
	cfg.Pedantic = cfg.Pedantic || f.pedantic
}

// Run runs the analyses on the program and writes the reports
func Run(flags Flags) error {
	fmt.Fprintln(os.Stderr, formatutil.Faint("Loading program"))
	state, err := tools.LoadState(flags.CommonFlags, flags.override)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, formatutil.Faint("Analyzing"))
	r, err := analysis.Run(state)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	written := r.WriteAll(os.Stdout, state.Logger)
	if len(written) == 0 && state.Config.ReportsDir != "" {
		return fmt.Errorf("no report could be written to %s", formatutil.Sanitize(state.Config.ReportsDir))
	}
	return nil
}
