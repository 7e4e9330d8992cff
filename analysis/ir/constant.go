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

import (
	"fmt"
	"strconv"
	"strings"
)

// Global is a global variable
type Global struct {
	valueNode
	// ValueType is the type of the contents of the global; the type of the global itself is a pointer to it
	ValueType string
	Init      Value
	IsConst   bool
	// File and Line locate the declaration of the global when debug information is present
	File string
	Line int
}

func (g *Global) String() string { return "@" + g.name }

// IsDeclaration returns true if the global is defined outside the module
func (g *Global) IsDeclaration() bool { return g.Init == nil }

// Alias is a global alias
type Alias struct {
	valueNode
	Aliasee Value
}

func (a *Alias) String() string { return "@" + a.name }

// ConstInt is an integer constant. Integer constants are uniqued per module by type and value.
type ConstInt struct {
	valueNode
	Value int64
}

func (c *ConstInt) String() string { return c.typ + " " + strconv.FormatInt(c.Value, 10) }

// ConstString is a character array constant
type ConstString struct {
	valueNode
	Bytes []byte
}

func (c *ConstString) String() string { return strconv.Quote(string(c.Bytes)) }

// Text returns the string without its terminating NUL character
func (c *ConstString) Text() string {
	return strings.TrimRight(string(c.Bytes), "\x00")
}

// ConstArray is an array constant
type ConstArray struct {
	valueNode
	Elems []Value
}

func (c *ConstArray) String() string { return fmt.Sprintf("[%d x ...]", len(c.Elems)) }

// ConstStruct is a struct constant
type ConstStruct struct {
	valueNode
	Fields []Value
}

func (c *ConstStruct) String() string { return fmt.Sprintf("{%d fields}", len(c.Fields)) }

// ConstExpr is a constant expression (bitcast, inttoptr, ptrtoint, addrspacecast or getelementptr)
type ConstExpr struct {
	valueNode
	Kind     string
	Operands []Value
	InBounds bool
}

func (c *ConstExpr) String() string {
	ops := make([]string, len(c.Operands))
	for i, op := range c.Operands {
		ops[i] = op.String()
	}
	return fmt.Sprintf("%s (%s)", c.Kind, strings.Join(ops, ", "))
}

// ConstNull is a null, undef or zeroinitializer constant. Null constants are uniqued per module by type.
type ConstNull struct {
	valueNode
}

func (c *ConstNull) String() string { return c.typ + " null" }

// operands returns the constant operands of a constant aggregate or expression
func constOperands(v Value) []Value {
	switch c := v.(type) {
	case *ConstArray:
		return c.Elems
	case *ConstStruct:
		return c.Fields
	case *ConstExpr:
		return c.Operands
	}
	return nil
}

// IsConstant returns true for constants, functions, globals and aliases
func IsConstant(v Value) bool {
	switch v.(type) {
	case *ConstInt, *ConstString, *ConstArray, *ConstStruct, *ConstExpr, *ConstNull, *Function, *Global, *Alias:
		return true
	}
	return false
}

// NewGlobal returns a global with no initializer
func NewGlobal(name, valueType string, isConst bool) *Global {
	return &Global{valueNode: valueNode{name: name}, ValueType: valueType, IsConst: isConst}
}

// NewAlias returns an alias whose aliasee is set later
func NewAlias(name string) *Alias {
	return &Alias{valueNode: valueNode{name: name}}
}

// NewConstString returns a character array constant
func NewConstString(typ string, data []byte) *ConstString {
	return &ConstString{valueNode: valueNode{typ: typ}, Bytes: data}
}

// NewConstArray returns an array constant
func NewConstArray(typ string, elems []Value) *ConstArray {
	return &ConstArray{valueNode: valueNode{typ: typ}, Elems: elems}
}

// NewConstStruct returns a struct constant
func NewConstStruct(typ string, fields []Value) *ConstStruct {
	return &ConstStruct{valueNode: valueNode{typ: typ}, Fields: fields}
}

// NewConstExpr returns a constant expression
func NewConstExpr(kind, typ string, operands ...Value) *ConstExpr {
	return &ConstExpr{valueNode: valueNode{typ: typ}, Kind: kind, Operands: operands}
}
