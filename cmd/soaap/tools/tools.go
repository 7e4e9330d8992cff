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

// Package tools contains utility types and functions for the soaap sub-commands.
package tools

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
)

// UnparsedCommonFlags represents an unparsed CLI sub-command flags.
type UnparsedCommonFlags struct {
	FlagSet    *flag.FlagSet
	ConfigPath *string
	Verbose    *bool
}

// NewUnparsedCommonFlags returns an unparsed flag set with a given name.
// This is useful for creating sub-commands that have the flags -config and -verbose but need other flags in
// addition.
func NewUnparsedCommonFlags(name string) UnparsedCommonFlags {
	cmd := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := cmd.String("config", "", "config file path for analysis")
	verbose := cmd.Bool("verbose", false, "verbose printing on standard error")
	return UnparsedCommonFlags{
		FlagSet:    cmd,
		ConfigPath: configPath,
		Verbose:    verbose,
	}
}

// Parse parses args and returns the common flags
func (f UnparsedCommonFlags) Parse(args []string) (CommonFlags, error) {
	if err := f.FlagSet.Parse(args); err != nil {
		return CommonFlags{}, fmt.Errorf("failed to parse command %s with args %v: %v", f.FlagSet.Name(), args, err)
	}
	return CommonFlags{
		FlagSet:    f.FlagSet,
		ConfigPath: *f.ConfigPath,
		Verbose:    *f.Verbose,
	}, nil
}

// CommonFlags represents a parsed CLI sub-command flags.
// E.g., for the command `soaap analyze ...`, "analyze" is the sub-command.
type CommonFlags struct {
	FlagSet    *flag.FlagSet
	ConfigPath string
	Verbose    bool
}

// NewCommonFlags returns a parsed flag set with a given name.
// Returns an error if args are invalid.
// Prints cmdUsage along with flag docs as the --help message.
func NewCommonFlags(name string, args []string, cmdUsage string) (CommonFlags, error) {
	flags := NewUnparsedCommonFlags(name)
	SetUsage(flags.FlagSet, cmdUsage)
	return flags.Parse(args)
}

// SetUsage sets cmd's usage (for --help flag) to output the string cmdUsage
// followed by each flag's documentation.
func SetUsage(cmd *flag.FlagSet, cmdUsage string) {
	cmd.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n", cmdUsage)
		fmt.Fprintf(os.Stderr, "Options:\n")
		cmd.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  %s: %s (default: %q)\n", f.Name, f.Usage, f.DefValue)
		})
	}
}

// ListFlag is a flag holding a comma separated list, that can also be repeated
type ListFlag []string

func (l *ListFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

// Set adds the elements of value to l.
// This method satisfies the flag.Value interface.
func (l *ListFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

// LoadConfig loads the config file from configPath, or returns the default config when configPath is empty.
func LoadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.NewDefault(), nil
	}
	config.SetGlobalConfig(configPath)
	cfg, err := config.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %v", configPath, err)
	}

	return cfg, nil
}

// LoadState loads the configuration and the program named by the single positional argument of flags, then
// prepares the analyzer state. override, when not nil, is applied to the configuration before it is validated.
func LoadState(flags CommonFlags, override func(*config.Config)) (*analysis.AnalyzerState, error) {
	cfg, err := LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if flags.Verbose {
		cfg.LogLevel = int(config.DebugLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if flags.FlagSet.NArg() != 1 {
		return nil, fmt.Errorf("expected one program file, got %d arguments", flags.FlagSet.NArg())
	}
	logger := config.NewLogGroup(cfg)
	m, err := analysis.LoadProgram(flags.FlagSet.Arg(0), logger)
	if err != nil {
		return nil, fmt.Errorf("could not load program: %w", err)
	}
	state := analysis.NewAnalyzerState(m, cfg, logger)
	if err := state.Prepare(); err != nil {
		return nil, err
	}
	return state, nil
}
