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

const (
	// ModeNull runs no analysis
	ModeNull = "null"
	// ModeVulnerable runs the vulnerability analysis only
	ModeVulnerable = "vulnerable"
	// ModeCorrect runs the analyses checking that the sandboxing is correct (globals, system calls,
	// privileged calls and sandboxed functions)
	ModeCorrect = "correct"
	// ModeInfoFlow runs the information flow analyses only
	ModeInfoFlow = "infoflow"
	// ModeCustom runs the analyses listed in the analyses option
	ModeCustom = "custom"
	// ModeAll runs every analysis
	ModeAll = "all"
)

const (
	// AnalysisVulnerability is the access origin analysis of past vulnerabilities
	AnalysisVulnerability = "vulnerability"
	// AnalysisGlobals checks the accesses to global variables
	AnalysisGlobals = "globals"
	// AnalysisSysCalls checks system calls and fd capabilities
	AnalysisSysCalls = "syscalls"
	// AnalysisPrivCalls checks calls to privileged functions
	AnalysisPrivCalls = "privcalls"
	// AnalysisSandboxed checks the functions that must only execute in a sandbox
	AnalysisSandboxed = "sandboxed"
	// AnalysisInfoFlow runs the classified and sandbox-private data analyses
	AnalysisInfoFlow = "infoflow"
	// AnalysisAll stands for every analysis in a list
	AnalysisAll = "all"
	// AnalysisNone stands for no analysis in a list
	AnalysisNone = "none"
)

const (
	// OSFreeBSD selects the FreeBSD system call table
	OSFreeBSD = "freebsd"
	// OSLinux selects the Linux system call table
	OSLinux = "linux"
)

const (
	PlatformNone       = "none"
	PlatformAnnotated  = "annotated"
	PlatformCapsicum   = "capsicum"
	PlatformChroot     = "chroot"
	PlatformSeccomp    = "seccomp"
	PlatformSeccompBPF = "seccomp-bpf"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatXML  = "xml"
	FormatHTML = "html"
)

// DefaultReportFilePrefix is the prefix of report files when none is specified
const DefaultReportFilePrefix = "soaap"

var (
	modes            = []string{ModeNull, ModeVulnerable, ModeCorrect, ModeInfoFlow, ModeCustom, ModeAll}
	operatingSystems = []string{OSFreeBSD, OSLinux}
	platforms        = []string{PlatformNone, PlatformAnnotated, PlatformCapsicum, PlatformChroot, PlatformSeccomp,
		PlatformSeccompBPF}
	analyses = []string{AnalysisVulnerability, AnalysisGlobals, AnalysisSysCalls, AnalysisPrivCalls,
		AnalysisSandboxed, AnalysisInfoFlow, AnalysisAll, AnalysisNone}
	formats = []string{FormatText, FormatJSON, FormatXML, FormatHTML}
)
