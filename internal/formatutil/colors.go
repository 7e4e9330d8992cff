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

// Package formatutil manipulates string colors and other formatting operations.
package formatutil

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	Bold   = Color(color.Bold)
	Faint  = Color(color.Faint)
	Red    = Color(color.Bold, color.FgRed)
	Yellow = Color(color.Bold, color.FgYellow)
)

// Color returns a function printing its arguments with the attributes when the standard output is a terminal,
// and printing them plainly otherwise.
func Color(attrs ...color.Attribute) func(...interface{}) string {
	c := color.New(attrs...)
	return func(args ...interface{}) string {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Sprint(args...)
		}
		c.EnableColor()
		return c.Sprint(args...)
	}
}

// Sanitize is a simple sanitizer that removes all escape sequences
func Sanitize(s string) string {
	r := fmt.Sprintf("%q", s)
	if len(r) >= 2 {
		return r[1 : len(r)-1]
	} else {
		return r
	}
}

