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

package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/awslabs/ar-soaap-tools/internal/funcutil"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string
)

var (
	// ErrConflictingLibLists is returned when both warn-libs and nowarn-libs are set
	ErrConflictingLibLists = errors.New("warn-libs and nowarn-libs cannot both be specified")

	// ErrUnsupportedPlatform is returned when the sandbox platform is not implemented for the selected OS
	ErrUnsupportedPlatform = errors.New("sandbox platform not supported on this operating system")

	// ErrUnknownOption is returned when an enumerated option has a value that is not recognized
	ErrUnknownOption = errors.New("unknown option value")
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// Config contains the options of an analysis run. Options can be set in a yaml file or overridden on the command
// line.
// If some field is not defined in the config file, it will take its value from NewDefault.
// private fields are not populated from a yaml file, but computed after initialization
type Config struct {
	Options `yaml:",inline"`

	sourceFile string

	// Libraries maps a library name to the source path prefixes of the files that belong to it. This is used to
	// find the library enclosing a function when filtering warnings with WarnLibs and NoWarnLibs.
	Libraries map[string][]string `yaml:"libraries"`

	// WarnLibs lists the libraries for which warnings are output. Cannot be used together with NoWarnLibs.
	WarnLibs []string `yaml:"warn-libs"`

	// NoWarnLibs lists the libraries for which no warning is output. Cannot be used together with WarnLibs.
	NoWarnLibs []string `yaml:"nowarn-libs"`

	// VulnerableVendors lists the vendors whose code is considered vulnerable
	VulnerableVendors []string `yaml:"vulnerable-vendors"`

	// VulnerableLibs lists the libraries considered vulnerable
	VulnerableLibs []string `yaml:"vulnerable-libs"`

	// Analyses lists the analyses that should run when Mode is custom
	Analyses []string `yaml:"analyses"`

	// OutputTraces lists the analyses whose diagnostics should include traces
	OutputTraces []string `yaml:"output-traces"`

	// ReportOutputFormats lists the formats reports are written in
	ReportOutputFormats []string `yaml:"report-output-formats"`
}

// Options are the scalar options of the analyzer
type Options struct {
	// Mode selects a predefined set of analyses. One of null, vulnerable, correct, infoflow, custom or all.
	Mode string `yaml:"mode"`

	// OS is the operating system whose system call table is used. One of freebsd or linux.
	OS string `yaml:"os"`

	// SandboxPlatform is the sandboxing mechanism model. One of none, annotated, capsicum, chroot, seccomp and
	// seccomp-bpf.
	SandboxPlatform string `yaml:"sandbox-platform"`

	// SandboxPolicy is the policy file of the seccomp-bpf platform (one system call per line)
	SandboxPolicy string `yaml:"sandbox-policy"`

	// ContextInsensitive collapses all contexts of the information flow analyses into one
	ContextInsensitive bool `yaml:"context-insensitive"`

	// InferFPTargets enables the inference of function pointer targets
	InferFPTargets bool `yaml:"infer-fp-targets"`

	// Pedantic reports every global variable access instead of one per global per function, and every read of
	// classified data instead of one per set of labels per function
	Pedantic bool `yaml:"pedantic"`

	// SkipGlobalVariableAnalysis disables the global variable analysis
	SkipGlobalVariableAnalysis bool `yaml:"skip-global-variable-analysis"`

	// ListSandboxedFuncs lists the functions of every sandbox
	ListSandboxedFuncs bool `yaml:"list-sandboxed-funcs"`

	// ListPrivilegedFuncs lists the functions executing with privileges
	ListPrivilegedFuncs bool `yaml:"list-priv-funcs"`

	// ListFPCalls lists the function pointer calls
	ListFPCalls bool `yaml:"list-fp-calls"`

	// ListFPTargets lists the targets of every function pointer call
	ListFPTargets bool `yaml:"list-fp-targets"`

	// ListAllFuncs lists all the defined functions
	ListAllFuncs bool `yaml:"list-all-funcs"`

	// PrintCallGraph prints every call edge with its number of calls
	PrintCallGraph bool `yaml:"print-callgraph"`

	// DumpDOTCallGraph is the name of a file where the call graph is written in DOT format
	DumpDOTCallGraph string `yaml:"dump-dot-callgraph"`

	// DumpRPCGraph dumps the RPC graph (text and rpcgraph.dot in the reports directory)
	DumpRPCGraph bool `yaml:"dump-rpc-graph"`

	// DumpVirtualCallees is the name of a file where the resolved virtual callees are written
	DumpVirtualCallees string `yaml:"dump-virtual-callees"`

	// ReadVirtualCallees is the name of a file from which resolved virtual callees are read instead of being
	// recomputed
	ReadVirtualCallees string `yaml:"read-virtual-callees"`

	// ReportsDir is the directory where all the reports will be stored. Defaults to the current directory.
	ReportsDir string `yaml:"reports-dir"`

	// ReportFilePrefix is the prefix of the report files
	ReportFilePrefix string `yaml:"report-file-prefix"`

	// PrettyPrint indents structured reports
	PrettyPrint bool `yaml:"pretty-print"`

	// SummariseTraces limits traces to their first and last SummariseTraces frames. 0 means no limit.
	SummariseTraces int `yaml:"summarise-traces"`

	// LogLevel controls the verbosity of the tool
	LogLevel int `yaml:"log-level"`

	// DebugModule restricts debug output to the named module (component) when set
	DebugModule string `yaml:"debug-module"`

	// DebugFunction restricts debug output to the named function when set
	DebugFunction string `yaml:"debug-function"`
}

// NewDefault returns a default config.
func NewDefault() *Config {
	return &Config{
		sourceFile:          "",
		Libraries:           map[string][]string{},
		WarnLibs:            nil,
		NoWarnLibs:          nil,
		Analyses:            []string{AnalysisAll},
		OutputTraces:        []string{AnalysisNone},
		ReportOutputFormats: []string{FormatText},
		Options: Options{
			Mode:             ModeCustom,
			OS:               OSFreeBSD,
			SandboxPlatform:  PlatformCapsicum,
			InferFPTargets:   true,
			ReportFilePrefix: DefaultReportFilePrefix,
			LogLevel:         int(InfoLevel),
		},
	}
}

// Load reads a configuration from a file
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("could not load config file %s: %w", filename, err)
	}
	cfg.sourceFile = filename
	return cfg, nil
}

// Parse unmarshals the yaml contents into a config initialized with the defaults, and validates it
func Parse(contents []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	// If logLevel has not been specified (i.e. it is 0) set the default to Info
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}
	if cfg.ReportFilePrefix == "" {
		cfg.ReportFilePrefix = DefaultReportFilePrefix
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the options of the config are consistent. The errors returned wrap ErrConflictingLibLists,
// ErrUnsupportedPlatform or ErrUnknownOption.
func (c *Config) Validate() error {
	if len(c.WarnLibs) > 0 && len(c.NoWarnLibs) > 0 {
		return ErrConflictingLibLists
	}
	if !slices.Contains(modes, c.Mode) {
		return fmt.Errorf("mode %q: %w", c.Mode, ErrUnknownOption)
	}
	if !slices.Contains(operatingSystems, c.OS) {
		return fmt.Errorf("os %q: %w", c.OS, ErrUnknownOption)
	}
	if !slices.Contains(platforms, c.SandboxPlatform) {
		return fmt.Errorf("sandbox-platform %q: %w", c.SandboxPlatform, ErrUnknownOption)
	}
	for _, a := range append(append([]string{}, c.Analyses...), c.OutputTraces...) {
		if !slices.Contains(analyses, a) {
			return fmt.Errorf("analysis %q: %w", a, ErrUnknownOption)
		}
	}
	for _, f := range c.ReportOutputFormats {
		if !slices.Contains(formats, f) {
			return fmt.Errorf("report output format %q: %w", f, ErrUnknownOption)
		}
	}
	switch c.SandboxPlatform {
	case PlatformCapsicum:
		if c.OS != OSFreeBSD {
			return fmt.Errorf("%s on %s: %w", c.SandboxPlatform, c.OS, ErrUnsupportedPlatform)
		}
	case PlatformSeccomp, PlatformSeccompBPF:
		if c.OS != OSLinux {
			return fmt.Errorf("%s on %s: %w", c.SandboxPlatform, c.OS, ErrUnsupportedPlatform)
		}
		if c.SandboxPlatform == PlatformSeccompBPF && c.SandboxPolicy == "" {
			return fmt.Errorf("%s requires a sandbox-policy file: %w", c.SandboxPlatform, ErrUnsupportedPlatform)
		}
	}
	return nil
}

// RelPath returns filename path relative to the config source file
func (c Config) RelPath(filename string) string {
	if c.sourceFile == "" || path.IsAbs(filename) {
		return filename
	}
	return path.Join(path.Dir(c.sourceFile), filename)
}

// AnalysisEnabled returns true if the analysis named name should run given the mode and the list of analyses.
func (c Config) AnalysisEnabled(name string) bool {
	switch c.Mode {
	case ModeNull:
		return false
	case ModeAll:
		return true
	case ModeVulnerable:
		return name == AnalysisVulnerability
	case ModeCorrect:
		return name == AnalysisGlobals || name == AnalysisSysCalls || name == AnalysisPrivCalls ||
			name == AnalysisSandboxed
	case ModeInfoFlow:
		return name == AnalysisInfoFlow
	}
	return listContains(c.Analyses, name)
}

// TracesEnabled returns true if the diagnostics of the analysis named name should contain traces
func (c Config) TracesEnabled(name string) bool {
	return listContains(c.OutputTraces, name)
}

func listContains(list []string, name string) bool {
	if slices.Contains(list, AnalysisNone) {
		return false
	}
	return slices.Contains(list, AnalysisAll) || slices.Contains(list, name)
}

// LibraryOf returns the library containing the source file filename, or "" if no library matches.
// Libraries are tried in name order so that the result is deterministic.
func (c Config) LibraryOf(filename string) string {
	if filename == "" {
		return ""
	}
	for _, name := range funcutil.SortedKeys(c.Libraries) {
		for _, prefix := range c.Libraries[name] {
			if strings.HasPrefix(filename, prefix) {
				return name
			}
		}
	}
	return ""
}

// ShouldOutputWarningFor returns true when warnings in code belonging to library should be output.
// Code outside any library always produces warnings.
func (c Config) ShouldOutputWarningFor(library string) bool {
	if library == "" {
		return true
	}
	if len(c.WarnLibs) > 0 {
		return slices.Contains(c.WarnLibs, library)
	}
	if len(c.NoWarnLibs) > 0 {
		return !slices.Contains(c.NoWarnLibs, library)
	}
	return true
}

// IsVulnerableLibrary returns true if the library is marked as vulnerable, either directly or through its vendor.
// Vendors are matched as a prefix of the library name.
func (c Config) IsVulnerableLibrary(library string) bool {
	if slices.Contains(c.VulnerableLibs, library) {
		return true
	}
	for _, vendor := range c.VulnerableVendors {
		if vendor != "" && strings.HasPrefix(library, vendor) {
			return true
		}
	}
	return false
}
