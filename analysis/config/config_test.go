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
	"bytes"
	"embed"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

//go:embed testdata
var testfsys embed.FS

func parseFromTestDir(t *testing.T, name string) (*Config, error) {
	filename := filepath.Join("testdata", name)
	b, err := testfsys.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read file %v: %v", filename, err)
	}
	return Parse(b)
}

func TestNewDefault(t *testing.T) {
	c := NewDefault()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if c.Mode != ModeCustom || c.OS != OSFreeBSD || c.SandboxPlatform != PlatformCapsicum {
		t.Errorf("unexpected defaults: %+v", c.Options)
	}
	if !c.InferFPTargets {
		t.Errorf("infer-fp-targets should be on by default")
	}
	if !c.AnalysisEnabled(AnalysisGlobals) || c.TracesEnabled(AnalysisGlobals) {
		t.Errorf("default config should run every analysis without traces")
	}
}

func TestLoadFullConfig(t *testing.T) {
	c, err := parseFromTestDir(t, "full-config.yaml")
	if err != nil {
		t.Fatalf("could not parse full config: %v", err)
	}
	if !c.ContextInsensitive || c.InferFPTargets || !c.Pedantic {
		t.Errorf("boolean options not loaded: %+v", c.Options)
	}
	if c.OS != OSLinux || c.SandboxPlatform != PlatformSeccomp {
		t.Errorf("platform options not loaded: %+v", c.Options)
	}
	if diff := cmp.Diff([]string{FormatText, FormatJSON}, c.ReportOutputFormats); diff != "" {
		t.Errorf("report formats mismatch (-want +got):\n%s", diff)
	}
	if c.ReportFilePrefix != "out" || !c.PrettyPrint || c.SummariseTraces != 5 {
		t.Errorf("report options not loaded: %+v", c.Options)
	}
	if c.LogLevel != int(DebugLevel) || c.DebugFunction != "main" {
		t.Errorf("log options not loaded: %+v", c.Options)
	}
	if !c.AnalysisEnabled(AnalysisSysCalls) || c.AnalysisEnabled(AnalysisGlobals) {
		t.Errorf("analyses list not honored")
	}
	if !c.TracesEnabled(AnalysisInfoFlow) || c.TracesEnabled(AnalysisSysCalls) {
		t.Errorf("output-traces list not honored")
	}
	if lib := c.LibraryOf("/usr/local/src/zlib/inflate.c"); lib != "libz" {
		t.Errorf("expected libz, got %q", lib)
	}
	if c.ShouldOutputWarningFor("libz") || !c.ShouldOutputWarningFor("libc") || !c.ShouldOutputWarningFor("") {
		t.Errorf("nowarn-libs filter not honored")
	}
	if !c.IsVulnerableLibrary("acme-parser") || c.IsVulnerableLibrary("libc") {
		t.Errorf("vulnerable vendors not honored")
	}
}

func TestLoadBadFormatFileReturnsError(t *testing.T) {
	c, err := parseFromTestDir(t, "bad_format.yaml")
	if c != nil || err == nil {
		t.Errorf("Expected error and nil value when trying to load a badly formatted file.")
	}
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "does-not-exist.yaml"))
	if c != nil || err == nil {
		t.Errorf("Expected error and nil value when trying to load non existent file.")
	}
}

func TestLoadSetsSourceFile(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "empty.yaml"))
	if err != nil {
		t.Fatalf("could not load empty config: %v", err)
	}
	if c.LogLevel != int(InfoLevel) {
		t.Errorf("log-level 0 should default to info, got %d", c.LogLevel)
	}
	if got := c.RelPath("policy.txt"); got != filepath.Join("testdata", "policy.txt") {
		t.Errorf("RelPath should be relative to the config file, got %q", got)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		file string
		want error
	}{
		{"both-lib-lists.yaml", ErrConflictingLibLists},
		{"capsicum-linux.yaml", ErrUnsupportedPlatform},
		{"seccomp-bpf-no-policy.yaml", ErrUnsupportedPlatform},
		{"unknown-mode.yaml", ErrUnknownOption},
	}
	for _, test := range tests {
		t.Run(test.file, func(t *testing.T) {
			c, err := parseFromTestDir(t, test.file)
			if c != nil {
				t.Errorf("expected nil config")
			}
			if !errors.Is(err, test.want) {
				t.Errorf("expected %v, got %v", test.want, err)
			}
		})
	}
}

func TestAnalysisEnabledModes(t *testing.T) {
	c := NewDefault()
	c.Mode = ModeNull
	if c.AnalysisEnabled(AnalysisGlobals) {
		t.Errorf("null mode should not run any analysis")
	}
	c.Mode = ModeCorrect
	if !c.AnalysisEnabled(AnalysisPrivCalls) || c.AnalysisEnabled(AnalysisInfoFlow) {
		t.Errorf("correct mode should run the correctness analyses only")
	}
	c.Mode = ModeVulnerable
	if !c.AnalysisEnabled(AnalysisVulnerability) || c.AnalysisEnabled(AnalysisSysCalls) {
		t.Errorf("vulnerable mode should run the vulnerability analysis only")
	}
	c.Mode = ModeCustom
	c.Analyses = []string{AnalysisNone}
	if c.AnalysisEnabled(AnalysisGlobals) {
		t.Errorf("none in analyses should disable everything")
	}
}

func TestWarnLibs(t *testing.T) {
	c := NewDefault()
	c.WarnLibs = []string{"libz"}
	if !c.ShouldOutputWarningFor("libz") || c.ShouldOutputWarningFor("libc") {
		t.Errorf("warn-libs filter not honored")
	}
}

func TestLogGroupDebugFor(t *testing.T) {
	c := NewDefault()
	c.LogLevel = int(DebugLevel)
	c.DebugFunction = "main"
	l := NewLogGroup(c)
	if !l.DebugFor("main") || l.DebugFor("other") {
		t.Errorf("debug-function should restrict debug output")
	}
	var buf bytes.Buffer
	l.SetAllOutput(&buf)
	l.SetAllFlags(0)
	l.Tracef("hidden")
	l.Warnf("shown %d", 1)
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "[WARN] shown 1") {
		t.Errorf("unexpected log output %q", buf.String())
	}
	c.LogLevel = int(InfoLevel)
	if NewLogGroup(c).DebugFor("main") {
		t.Errorf("DebugFor should be false below debug level")
	}
}
