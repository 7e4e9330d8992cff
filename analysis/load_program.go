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

package analysis

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/loader"
	"github.com/awslabs/ar-soaap-tools/internal/formatutil"
)

// ErrNotIR is returned when the program file is not textual LLVM IR
var ErrNotIR = errors.New("expected a textual LLVM IR file (.ll)")

// LoadProgram loads the textual LLVM IR program in filename. The program is read from the standard input when
// filename is "-".
func LoadProgram(filename string, logger *config.LogGroup) (*ir.Module, error) {
	var (
		m   *ir.Module
		err error
	)
	if filename == "-" {
		text, rerr := io.ReadAll(os.Stdin)
		if rerr != nil {
			return nil, fmt.Errorf("failed to read program: %w", rerr)
		}
		m, err = loader.LoadString("stdin", string(text), logger)
	} else {
		if !strings.HasSuffix(filename, ".ll") {
			return nil, fmt.Errorf("%s: %w", formatutil.Sanitize(filename), ErrNotIR)
		}
		m, err = loader.LoadFile(filepath.Clean(filename), logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load program: %w", err)
	}
	if f := m.Function("main"); f == nil || f.IsDeclaration() {
		logger.Warnf("Program has no main function: no function will be considered privileged")
	}
	logger.Infof("Loaded %d functions and %d globals", len(m.Functions), len(m.Globals))
	return m, nil
}
