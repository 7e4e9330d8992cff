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

package classhierarchy

import (
	"fmt"
	"io"

	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"gopkg.in/yaml.v3"
)

// CallEntry is the persisted form of the callees of one virtual call
type CallEntry struct {
	// Call is the index of the call among the instructions of its function
	Call    int      `yaml:"call"`
	Callees []string `yaml:"callees"`
}

// VirtualCallees is the persisted table of virtual callees, keyed by the name of the calling function
type VirtualCallees map[string][]CallEntry

// DumpVirtualCallees resolves all virtual calls and writes the table of their callees to w as YAML
func (h *Hierarchy) DumpVirtualCallees(w io.Writer) error {
	h.CacheAllCallees()
	table := VirtualCallees{}
	for _, f := range h.module.Functions {
		for idx, inst := range f.Instructions() {
			callees, ok := h.callees[inst]
			if !ok {
				continue
			}
			entry := CallEntry{Call: idx, Callees: []string{}}
			for _, c := range callees {
				entry.Callees = append(entry.Callees, c.Name())
			}
			table[f.Name()] = append(table[f.Name()], entry)
		}
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(table); err != nil {
		return fmt.Errorf("could not write virtual callees: %w", err)
	}
	return nil
}

// ReadVirtualCallees reads a table written by DumpVirtualCallees and uses it instead of resolving the virtual
// calls. Entries naming unknown functions or calls are logged and skipped.
func (h *Hierarchy) ReadVirtualCallees(r io.Reader) error {
	table := VirtualCallees{}
	if err := yaml.NewDecoder(r).Decode(&table); err != nil && err != io.EOF {
		return fmt.Errorf("could not read virtual callees: %w", err)
	}
	h.callees = map[*ir.Instruction][]*ir.Function{}
	for fname, entries := range table {
		f := h.module.Function(fname)
		if f == nil {
			h.logger.Warnf("Virtual callees table refers to unknown function %s", fname)
			continue
		}
		insts := f.Instructions()
		for _, entry := range entries {
			if entry.Call < 0 || entry.Call >= len(insts) || insts[entry.Call].Op != ir.OpCall {
				h.logger.Warnf("Virtual callees table refers to unknown call %d in %s", entry.Call, fname)
				continue
			}
			set := map[*ir.Function]bool{}
			for _, name := range entry.Callees {
				if callee := h.module.Function(name); callee != nil {
					set[callee] = true
				} else {
					h.logger.Warnf("Virtual callees table refers to unknown callee %s", name)
				}
			}
			h.callees[insts[entry.Call]] = sortedFunctions(set)
		}
	}
	h.populated = true
	return nil
}
