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

// Package analysistest contains helpers to prepare analysis states and check diagnostics in tests
package analysistest

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"golang.org/x/exp/slices"
)

// NewLogger returns a log group for cfg that discards everything
func NewLogger(cfg *config.Config) *config.LogGroup {
	logger := config.NewLogGroup(cfg)
	logger.SetAllOutput(io.Discard)
	return logger
}

// NewState returns the prepared analyzer state of m with a silent logger. The test fails if preparation fails.
func NewState(t *testing.T, m *ir.Module, cfg *config.Config) *analysis.AnalyzerState {
	t.Helper()
	state := analysis.NewAnalyzerState(m, cfg, NewLogger(cfg))
	state.Out = io.Discard
	if err := state.Prepare(); err != nil {
		t.Fatalf("failed to prepare analyzer state: %v", err)
	}
	return state
}

// LoadTest loads the program file in the directory dir and the config.yaml next to it. The default config is used
// when dir has no config.yaml.
func LoadTest(t *testing.T, dir string, file string) (*ir.Module, *config.Config) {
	t.Helper()
	cfg := config.NewDefault()
	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); err == nil {
		config.SetGlobalConfig(configFile)
		cfg, err = config.LoadGlobal()
		if err != nil {
			t.Fatalf("error loading config %s: %v", configFile, err)
		}
	}
	m, err := analysis.LoadProgram(filepath.Join(dir, file), NewLogger(cfg))
	if err != nil {
		t.Fatalf("error loading program: %v", err)
	}
	return m, cfg
}

// ExpectRegex matches expectation comments of the form "; @Expect(kind, resource, function(file:line))"
var ExpectRegex = regexp.MustCompile(`;.*@Expect\(\s*(\w+)\s*,\s*([^,]*?)\s*,\s*(.*)\)\s*$`)

// GetExpectedDiagnostics reads the expectation comments of the program file, and returns them in the format of
// Summary, sorted
func GetExpectedDiagnostics(t *testing.T, filename string) []string {
	t.Helper()
	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("could not open %s: %v", filename, err)
	}
	defer f.Close()
	expected := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if a := ExpectRegex.FindStringSubmatch(scanner.Text()); len(a) == 4 {
			expected = append(expected, a[1]+":"+a[2]+"@"+a[3])
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("could not read %s: %v", filename, err)
	}
	slices.Sort(expected)
	return expected
}

// Summary returns "kind:resource@function(file:line)" for each diagnostic, sorted
func Summary(diags []report.Diagnostic) []string {
	res := []string{}
	for _, d := range diags {
		res = append(res, string(d.Kind)+":"+d.Resource+"@"+d.Location.String())
	}
	slices.Sort(res)
	return res
}

// Lines splits the output of a listing into trimmed non-empty lines
func Lines(out string) []string {
	var res []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			res = append(res, l)
		}
	}
	return res
}
