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

package ir

func isPointerCast(kind string) bool {
	return kind == "bitcast" || kind == "addrspacecast"
}

func allZero(indices []Value) bool {
	for _, idx := range indices {
		c, ok := idx.(*ConstInt)
		if !ok || c.Value != 0 {
			return false
		}
	}
	return true
}

// StripPointerCasts returns the value v with pointer casts, all-zero getelementptrs and aliases removed.
func StripPointerCasts(v Value) Value {
	return strip(v, false)
}

// StripInBoundsOffsets returns the value v with pointer casts, aliases and any inbounds getelementptr removed.
func StripInBoundsOffsets(v Value) Value {
	return strip(v, true)
}

func strip(v Value, inbounds bool) Value {
	visited := map[Value]bool{}
	for v != nil && !visited[v] {
		visited[v] = true
		switch x := v.(type) {
		case *Instruction:
			switch {
			case x.Op == OpCast && isPointerCast(x.Kind):
				v = x.Operands[0]
			case x.Op == OpGEP && (allZero(x.Operands[1:]) || (inbounds && x.InBounds)):
				v = x.Operands[0]
			default:
				return v
			}
		case *ConstExpr:
			switch {
			case isPointerCast(x.Kind):
				v = x.Operands[0]
			case x.Kind == "getelementptr" && (allZero(x.Operands[1:]) || (inbounds && x.InBounds)):
				v = x.Operands[0]
			default:
				return v
			}
		case *Alias:
			v = x.Aliasee
		default:
			return v
		}
	}
	return v
}

// StringOf returns the string a pointer value points to, when it points into a global initialized with a
// character array, as annotation strings do.
func StringOf(v Value) (string, bool) {
	if v == nil {
		return "", false
	}
	if s, ok := v.(*ConstString); ok {
		return s.Text(), true
	}
	g, ok := StripInBoundsOffsets(v).(*Global)
	if !ok || g.Init == nil {
		return "", false
	}
	s, ok := g.Init.(*ConstString)
	if !ok {
		return "", false
	}
	return s.Text(), true
}

// IntOf returns the value of an integer constant, looking through casts
func IntOf(v Value) (int64, bool) {
	for v != nil {
		switch x := v.(type) {
		case *ConstInt:
			return x.Value, true
		case *ConstExpr:
			if len(x.Operands) == 0 {
				return 0, false
			}
			v = x.Operands[0]
		case *Instruction:
			if x.Op != OpCast {
				return 0, false
			}
			v = x.Operands[0]
		default:
			return 0, false
		}
	}
	return 0, false
}

// FunctionOf returns the function a constant refers to, looking through casts and aliases
func FunctionOf(v Value) *Function {
	if v == nil {
		return nil
	}
	f, _ := StripInBoundsOffsets(v).(*Function)
	return f
}

// EnclosingFunction returns the function a value belongs to: the parent function of an instruction or a
// parameter, and nil for module-level values
func EnclosingFunction(v Value) *Function {
	switch x := v.(type) {
	case *Instruction:
		return x.Function()
	case *Param:
		return x.Parent
	}
	return nil
}
