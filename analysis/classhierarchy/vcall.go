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
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/ir"
)

// Metadata attached by the front end to virtual calls
const (
	DefiningVTableVar  = "soaap_defining_vtable_var"
	DefiningVTableName = "soaap_defining_vtable_name"
	StaticVTableVar    = "soaap_static_vtable_var"
	StaticVTableName   = "soaap_static_vtable_name"
)

const pureVirtual = "__cxa_pure_virtual"

// VTableVariant is the kind of (sub-)vtable a class is looked up through during a walk
type VTableVariant int

const (
	// VTablePrimary is the vtable of the object itself, at subobject offset 0
	VTablePrimary VTableVariant = iota
	// VTableSecondary is the sub-vtable of a non-virtual base subobject at a non-zero offset
	VTableSecondary
	// VTableVirtualBase is the sub-vtable of a virtual base, found through its vbase offset
	VTableVirtualBase
)

func (v VTableVariant) String() string {
	switch v {
	case VTablePrimary:
		return "primary"
	case VTableSecondary:
		return "secondary"
	default:
		return "virtual-base"
	}
}

// walkState is the state of the walk down the hierarchy from the defining type of a virtual call
type walkState struct {
	variant VTableVariant
	// subObjOffset is the offset of the defining type's subobject in the current class, or in the virtual base
	// when variant is VTableVirtualBase
	subObjOffset int64
	// vbaseOffsetOffset locates the vbase offset of the virtual base on the path, relative to the vtable of the
	// current class
	vbaseOffsetOffset int64
	// vbaseSubObjOffset is the offset of the defining type's subobject within the virtual base
	vbaseSubObjOffset int64
	collecting        bool
}

// IsVirtualCall returns true if the call carries virtual call metadata
func IsVirtualCall(call *ir.Instruction) bool {
	_, v1 := call.Metadata[DefiningVTableVar]
	_, v2 := call.Metadata[DefiningVTableName]
	return v1 || v2
}

// CalleesForVirtualCall returns the possible callees of the virtual call. All virtual calls of the module are
// resolved on the first query.
func (h *Hierarchy) CalleesForVirtualCall(call *ir.Instruction) []*ir.Function {
	if !h.populated {
		h.CacheAllCallees()
	}
	return h.callees[call]
}

// CacheAllCallees resolves every virtual call of the module
func (h *Hierarchy) CacheAllCallees() {
	if h.populated {
		return
	}
	for _, f := range h.module.Functions {
		for _, inst := range f.Instructions() {
			if inst.Op != ir.OpCall {
				continue
			}
			defining, hasDefining := h.classFromMetadata(inst, DefiningVTableVar, DefiningVTableName)
			static, hasStatic := h.classFromMetadata(inst, StaticVTableVar, StaticVTableName)
			if !hasDefining && !hasStatic {
				continue
			}
			if defining == nil || static == nil {
				h.logger.Warnf("Could not find the defining or static type of virtual call %s (%s)", inst,
					inst.Position())
				h.callees[inst] = nil
				continue
			}
			h.callees[inst] = h.findAllCallees(inst, defining, static)
		}
	}
	h.populated = true
}

// classFromMetadata returns the type_info designated by the metadata of call: either the vtable itself (varKey) or
// the vtable name (nameKey). The second result is true when the metadata is present.
func (h *Hierarchy) classFromMetadata(call *ir.Instruction, varKey, nameKey string) (*ir.Global, bool) {
	if _, ok := call.Metadata[varKey]; ok {
		vt, _ := call.MetadataValue(varKey).(*ir.Global)
		if vt == nil {
			return nil, true
		}
		return h.vtableToTypeInfo[vt], true
	}
	if _, ok := call.Metadata[nameKey]; ok {
		name := call.MetadataString(nameKey)
		if v := call.MetadataValue(nameKey); v != nil {
			if s, ok := v.(*ir.ConstString); ok {
				name = s.Text()
			} else if s, ok := ir.StringOf(v); ok {
				name = s
			}
		}
		if len(name) < len(vtablePrefix) {
			return nil, true
		}
		// classes in anonymous namespaces are identified by the type_info name built from the vtable name
		return h.module.Global(typeInfoPrefix + name[len(vtablePrefix):]), true
	}
	return nil, false
}

// findAllCallees finds the vtable slot of the call and collects the functions in that slot in the static type and
// all its descendants. The call sequence is: load the vtable, getelementptr to the slot, load the function.
func (h *Hierarchy) findAllCallees(call *ir.Instruction, defining, static *ir.Global) []*ir.Function {
	load, ok := call.Callee().(*ir.Instruction)
	if !ok || load.Op != ir.OpLoad {
		h.logger.Warnf("Virtual call sequence does not have a load where expected at %s (%s)", call, call.Position())
		return nil
	}
	gep, ok := load.LoadPointer().(*ir.Instruction)
	if !ok || gep.Op != ir.OpGEP || len(gep.Operands) < 2 {
		h.logger.Warnf("Virtual call sequence does not have a getelementptr where expected at %s (%s)", call,
			call.Position())
		return nil
	}
	slot, ok := gep.Operands[1].(*ir.ConstInt)
	if !ok {
		h.logger.Warnf("VTable index is not a constant at %s (%s)", call, call.Position())
		return nil
	}
	set := map[*ir.Function]bool{}
	h.walk(call, defining, static, int(slot.Value), walkState{variant: VTablePrimary}, set)
	res := sortedFunctions(set)
	h.logger.Tracef("Callees of %s: %v", call, res)
	return res
}

// walk moves down the hierarchy from ti until it reaches the static type, tracking the offset of the defining
// type's subobject, then collects the function in the slot of each class from the static type down.
//
// Only one virtual base per path from the defining type to any subclass is supported.
func (h *Hierarchy) walk(call *ir.Instruction, ti, static *ir.Global, slot int, st walkState, set map[*ir.Function]bool) {
	skip := false
	if ti == static || st.collecting {
		st.collecting = true
		skip = !h.collect(call, ti, slot, st, set)
	}
	for _, sub := range h.subclasses[ti] {
		e := h.bases[sub][ti]
		next := st
		if e.Virtual {
			if st.variant == VTableVirtualBase {
				h.logger.Warnf("Found a second virtual base on the path from %s to %s, for call %s", ti.Name(),
					sub.Name(), call)
				continue
			}
			next.variant = VTableVirtualBase
			next.vbaseOffsetOffset = e.VBaseOffsetOffset
			next.vbaseSubObjOffset = st.subObjOffset
			next.subObjOffset = 0
		} else {
			if !skip {
				next.subObjOffset = st.subObjOffset + e.Offset
			}
			if next.variant == VTablePrimary && next.subObjOffset != 0 {
				next.variant = VTableSecondary
			}
		}
		h.walk(call, sub, static, slot, next, set)
	}
}

// collect adds the function in the slot of the sub-vtable of ti selected by st. It returns false when ti has no
// function at that slot, which happens when the receiver was downcast or the function is introduced by a
// subclass.
func (h *Hierarchy) collect(call *ir.Instruction, ti *ir.Global, slot int, st walkState, set map[*ir.Function]bool) bool {
	vt := h.typeInfoToVTable[ti]
	if vt == nil {
		return true
	}
	entries := h.vtableEntries[vt]
	starts := h.subVTables[vt]
	start, ok := starts[st.subObjOffset]
	if !ok {
		h.logger.Tracef("Subobject offset %d does not exist in vtable %s", st.subObjOffset, vt.Name())
		return false
	}
	if st.variant == VTableVirtualBase {
		// the vbase offset is relative to the current subobject: add the offset-to-top to get the offset from
		// the start of the object
		var vbaseOffset, offsetToTop int64
		if idx := start + int(st.vbaseOffsetOffset); idx >= 0 && idx < len(entries) {
			vbaseOffset, _ = ir.IntOf(entries[idx])
		}
		if idx := start - 2; idx >= 0 && idx < len(entries) {
			offsetToTop, _ = ir.IntOf(entries[idx])
		}
		if offsetToTop < 0 {
			vbaseOffset += -offsetToTop
		}
		objOffset := vbaseOffset + st.vbaseSubObjOffset
		vbStart, ok := starts[objOffset]
		if !ok {
			h.logger.Warnf("Secondary vtable at offset %d does not exist in %s", objOffset, vt.Name())
			return false
		}
		start = vbStart
	}
	idx := start + slot
	if idx >= len(entries) {
		h.logger.Tracef("VTable entry %d does not exist in %s", slot, vt.Name())
		return false
	}
	callee, ok := ir.StripPointerCasts(entries[idx]).(*ir.Function)
	if !ok {
		// static_cast to a superclass: the entry of some subclasses is not a function
		h.logger.Tracef("VTable entry %d of %s is not a function (call %s)", slot, vt.Name(), call)
		return false
	}
	if callee.Name() != pureVirtual {
		set[h.unwrapThunk(callee)] = true
	}
	return true
}

// unwrapThunk returns the function a thunk calls: the first non-intrinsic direct callee in the thunk
func (h *Hierarchy) unwrapThunk(f *ir.Function) *ir.Function {
	if !strings.HasPrefix(f.Name(), "_ZTh") && !strings.HasPrefix(f.Name(), "_ZTv") {
		return f
	}
	for _, inst := range f.Instructions() {
		if inst.Op != ir.OpCall {
			continue
		}
		callee := inst.CalledFunction()
		if callee != nil && callee.IsIntrinsic() {
			continue
		}
		if callee == nil {
			h.logger.Warnf("Function extracted from thunk %s is not a direct callee", f.Name())
			return f
		}
		return callee
	}
	return f
}
