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

package annotations

import "strings"

// ClassIndex assigns bit indices to names in order of first appearance. It is used for classification labels
// and for sandbox names.
type ClassIndex struct {
	names   []string
	indices map[string]int
}

// NewClassIndex returns an empty index
func NewClassIndex() *ClassIndex {
	return &ClassIndex{indices: map[string]int{}}
}

// Assign returns the index of name, assigning the next free index if name is new. It returns false when all
// MaxLabels indices are taken.
func (c *ClassIndex) Assign(name string) (int, bool) {
	if idx, ok := c.indices[name]; ok {
		return idx, true
	}
	if len(c.names) >= MaxLabels {
		return -1, false
	}
	idx := len(c.names)
	c.indices[name] = idx
	c.names = append(c.names, name)
	return idx, true
}

// Index returns the index of name
func (c *ClassIndex) Index(name string) (int, bool) {
	idx, ok := c.indices[name]
	return idx, ok
}

// Mask returns the bit of name, or 0 if name has no index
func (c *ClassIndex) Mask(name string) uint32 {
	if idx, ok := c.indices[name]; ok {
		return 1 << uint(idx)
	}
	return 0
}

// Len returns the number of names
func (c *ClassIndex) Len() int { return len(c.names) }

// Names returns the names of the bits set in mask, by increasing index
func (c *ClassIndex) Names(mask uint32) []string {
	var res []string
	for idx, name := range c.names {
		if mask&(1<<uint(idx)) != 0 {
			res = append(res, name)
		}
	}
	return res
}

// Stringify returns the names of the bits set in mask formatted as "[a,b]"
func (c *ClassIndex) Stringify(mask uint32) string {
	return "[" + strings.Join(c.Names(mask), ",") + "]"
}
