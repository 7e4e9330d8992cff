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

// Package classhierarchy reconstructs the C++ class hierarchy of a module from its type_info and vtable globals,
// and resolves the callees of virtual calls.
package classhierarchy

import (
	"fmt"
	"io"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"golang.org/x/exp/slices"
)

// from the C++ ABI
const (
	virtualMask = 0x1
	offsetShift = 8
	wordSize    = 8
)

const (
	vtablePrefix   = "_ZTV"
	typeInfoPrefix = "_ZTI"
)

// Edge is an inheritance edge from Derived to its direct base Base
type Edge struct {
	Base    *ir.Global
	Derived *ir.Global
	// Offset is the offset of the Base subobject in Derived, for non-virtual bases
	Offset int64
	// Virtual is set when Base is a virtual base of Derived
	Virtual bool
	// VBaseOffsetOffset is the offset, in vtable entries, from the start of the primary vtable of Derived to the
	// entry holding the offset of the virtual base
	VBaseOffsetOffset int64
}

// Hierarchy is the class hierarchy of a module. Classes are identified by their type_info globals.
type Hierarchy struct {
	module *ir.Module
	logger *config.LogGroup

	// classes in the order they were processed
	classes    []*ir.Global
	isClass    map[*ir.Global]bool
	subclasses map[*ir.Global][]*ir.Global
	// bases maps a derived class to its edges, keyed by base class
	bases       map[*ir.Global]map[*ir.Global]Edge
	descendants map[*ir.Global][]*ir.Global

	typeInfoToVTable map[*ir.Global]*ir.Global
	vtableToTypeInfo map[*ir.Global]*ir.Global
	// vtableEntries holds the flattened initializer of each vtable
	vtableEntries map[*ir.Global][]ir.Value
	// subVTables maps a vtable to the start index of each of its sub-vtables, keyed by the offset of the
	// corresponding subobject
	subVTables map[*ir.Global]map[int64]int

	callees   map[*ir.Instruction][]*ir.Function
	populated bool
}

// Build scans the vtables and type_info globals of m
func Build(m *ir.Module, logger *config.LogGroup) *Hierarchy {
	h := &Hierarchy{
		module:           m,
		logger:           logger,
		isClass:          map[*ir.Global]bool{},
		subclasses:       map[*ir.Global][]*ir.Global{},
		bases:            map[*ir.Global]map[*ir.Global]Edge{},
		descendants:      map[*ir.Global][]*ir.Global{},
		typeInfoToVTable: map[*ir.Global]*ir.Global{},
		vtableToTypeInfo: map[*ir.Global]*ir.Global{},
		vtableEntries:    map[*ir.Global][]ir.Value{},
		subVTables:       map[*ir.Global]map[int64]int{},
		callees:          map[*ir.Instruction][]*ir.Function{},
	}
	// vtables give the vtable <-> type_info mapping, which is needed to process the type_info globals: names of
	// classes in anonymous namespaces may be renamed inconsistently between the two.
	for _, vt := range m.Globals {
		if !strings.HasPrefix(vt.Name(), vtablePrefix) {
			continue
		}
		if vt.Init == nil {
			logger.Warnf("VTable %s does not have an initializer", vt.Name())
			continue
		}
		entries := flatten(vt.Init)
		h.vtableEntries[vt] = entries
		// the first type_info is the one of the primary vtable; secondary vtables reference the same one
		for _, e := range entries {
			if ti, ok := ir.StripPointerCasts(e).(*ir.Global); ok {
				if prev, exists := h.typeInfoToVTable[ti]; exists {
					logger.Warnf("%s <-> %s mapping already exists (with %s)", ti.Name(), vt.Name(), prev.Name())
					break
				}
				h.typeInfoToVTable[ti] = vt
				h.vtableToTypeInfo[vt] = ti
				break
			}
		}
	}
	for _, g := range m.Globals {
		if strings.HasPrefix(g.Name(), typeInfoPrefix) {
			h.processTypeInfo(g)
		}
	}
	return h
}

// flatten returns the entries of a vtable initializer given as an array, or as a struct of arrays
func flatten(init ir.Value) []ir.Value {
	switch c := init.(type) {
	case *ir.ConstArray:
		return c.Elems
	case *ir.ConstStruct:
		var res []ir.Value
		for _, f := range c.Fields {
			if arr, ok := f.(*ir.ConstArray); ok {
				res = append(res, arr.Elems...)
			} else {
				res = append(res, f)
			}
		}
		return res
	}
	return nil
}

func (h *Hierarchy) processTypeInfo(ti *ir.Global) {
	if h.isClass[ti] {
		return
	}
	h.isClass[ti] = true
	h.classes = append(h.classes, ti)

	// Record the start of each sub-vtable, keyed by the absolute value of its offset-to-top, which is the offset
	// of the subobject it belongs to. Each sub-vtable is preceded by offset-to-top and the type_info reference.
	if vt, ok := h.typeInfoToVTable[ti]; ok {
		entries := h.vtableEntries[vt]
		starts := map[int64]int{}
		for i, e := range entries {
			if ir.StripPointerCasts(e) != ti {
				continue
			}
			var offsetToTop int64
			if i > 0 {
				offsetToTop, _ = ir.IntOf(entries[i-1])
			}
			if offsetToTop > 0 {
				h.logger.Warnf("Positive offset-to-top %d in %s", offsetToTop, vt.Name())
				continue
			}
			starts[-offsetToTop] = i + 1
		}
		h.subVTables[vt] = starts
	} else {
		h.logger.Tracef("No vtable found for %s", ti.Name())
	}

	if ti.Init == nil {
		h.logger.Debugf("type_info %s does not have an initializer", ti.Name())
		return
	}
	init, ok := ti.Init.(*ir.ConstStruct)
	if !ok {
		h.logger.Warnf("type_info %s has an unexpected initializer", ti.Name())
		return
	}
	// the first two fields are the vptr and the type name
	switch n := len(init.Fields); {
	case n <= 2:
		return
	case n == 3:
		// __si_class_type_info: single, public, non-virtual base at offset 0
		if base, ok := ir.StripPointerCasts(init.Fields[2]).(*ir.Global); ok {
			h.addEdge(Edge{Base: base, Derived: ti})
			h.processTypeInfo(base)
		}
	default:
		// __vmi_class_type_info: flags and base_count, then (base, offset_flags) pairs
		for i := 4; i+1 < n; i += 2 {
			base, ok := ir.StripPointerCasts(init.Fields[i]).(*ir.Global)
			if !ok {
				h.logger.Warnf("Base %d of %s is not a type_info", (i-4)/2, ti.Name())
				continue
			}
			offsetFlags, _ := ir.IntOf(init.Fields[i+1])
			offset := offsetFlags >> offsetShift
			e := Edge{Base: base, Derived: ti}
			if offsetFlags&virtualMask != 0 {
				e.Virtual = true
				e.VBaseOffsetOffset = offset / wordSize
			} else {
				e.Offset = offset
			}
			h.addEdge(e)
			h.processTypeInfo(base)
		}
	}
}

func (h *Hierarchy) addEdge(e Edge) {
	h.subclasses[e.Base] = append(h.subclasses[e.Base], e.Derived)
	if h.bases[e.Derived] == nil {
		h.bases[e.Derived] = map[*ir.Global]Edge{}
	}
	h.bases[e.Derived][e.Base] = e
}

// Classes returns all the classes, in the order they were found
func (h *Hierarchy) Classes() []*ir.Global { return h.classes }

// Subclasses returns the direct subclasses of ti
func (h *Hierarchy) Subclasses(ti *ir.Global) []*ir.Global { return h.subclasses[ti] }

// EdgeBetween returns the inheritance edge from derived to its direct base base
func (h *Hierarchy) EdgeBetween(derived, base *ir.Global) (Edge, bool) {
	e, ok := h.bases[derived][base]
	return e, ok
}

// VTableOf returns the vtable of the class ti
func (h *Hierarchy) VTableOf(ti *ir.Global) *ir.Global { return h.typeInfoToVTable[ti] }

// TypeInfoOf returns the class of the vtable vt
func (h *Hierarchy) TypeInfoOf(vt *ir.Global) *ir.Global { return h.vtableToTypeInfo[vt] }

// Descendants returns the transitive subclasses of ti, sorted by value ID
func (h *Hierarchy) Descendants(ti *ir.Global) []*ir.Global {
	if d, ok := h.descendants[ti]; ok {
		return d
	}
	seen := map[*ir.Global]bool{}
	var visit func(c *ir.Global)
	visit = func(c *ir.Global) {
		for _, sub := range h.subclasses[c] {
			if !seen[sub] {
				seen[sub] = true
				visit(sub)
			}
		}
	}
	visit(ti)
	res := make([]*ir.Global, 0, len(seen))
	for c := range seen {
		res = append(res, c)
	}
	ir.SortValues(res)
	h.descendants[ti] = res
	return res
}

// Print writes the hierarchy, one tree per root class
func (h *Hierarchy) Print(w io.Writer) {
	isSub := map[*ir.Global]bool{}
	for _, subs := range h.subclasses {
		for _, s := range subs {
			isSub[s] = true
		}
	}
	var printHelper func(c *ir.Global, nesting int)
	printHelper = func(c *ir.Global, nesting int) {
		if nesting > 0 {
			fmt.Fprintf(w, "%s -> ", strings.Repeat("    ", nesting-1))
		}
		fmt.Fprintf(w, "%s\n", c.Name())
		for _, sub := range h.subclasses[c] {
			printHelper(sub, nesting+1)
		}
	}
	for _, c := range h.classes {
		if !isSub[c] {
			printHelper(c, 0)
		}
	}
}

// sortedFunctions returns the functions of the set in ID order
func sortedFunctions(set map[*ir.Function]bool) []*ir.Function {
	res := make([]*ir.Function, 0, len(set))
	for f := range set {
		res = append(res, f)
	}
	slices.SortFunc(res, func(a, b *ir.Function) bool { return a.ID() < b.ID() })
	return res
}
