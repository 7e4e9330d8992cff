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

package tools

import "regexp"

// Captures errors happening before any analysis starts (program could not load)
var regexCouldNotLoad = regexp.MustCompile("could not load program")

// Captures the kind of error that happens when the program is given as C source or bitcode
var notTextualIR = regexp.MustCompile(`expected a textual LLVM IR file`)

// Captures the kind of error that happens when a flag is put after the program file
var unexpectedArguments = regexp.MustCompile(`expected one program file, got \d+ arguments`)

// Captures configuration values that are not recognized
var unknownOption = regexp.MustCompile("unknown option value")

// HintForErrorMessage looks for specific error message and returns some other message that might help the user
// resolve the problem.
func HintForErrorMessage(errMsg string) string {
	if regexCouldNotLoad.MatchString(errMsg) {
		if notTextualIR.MatchString(errMsg) {
			return "compile the program with clang -S -emit-llvm -g to obtain a .ll file"
		}
		return "make sure the program file is LLVM IR produced by clang with the soaap annotations header"
	}
	if unexpectedArguments.MatchString(errMsg) {
		return "all command line flags should be before the path to the program file"
	}
	if unknownOption.MatchString(errMsg) {
		return "check the mode, os, sandbox-platform and report-output-formats values of the configuration"
	}
	return ""
}
