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

// Package ir contains the program graph the analyses work on: a module of functions, blocks, instructions,
// globals and constants, with use lists and debug locations. A module is built once (by the loader or by a
// Builder), finalized, and never mutated afterwards.
package ir

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Value is any node of the program graph that can be used as an operand.
type Value interface {
	// ID is unique in the module and follows the module order. It is assigned by Module.Finalize.
	ID() int
	// Name is the name of the value without its sigil. It may be empty.
	Name() string
	// Type is the textual type of the value, e.g. "i32" or "void (i8*)*".
	Type() string
	// Users returns the values that use this value as an operand, ordered by ID.
	Users() []Value
	String() string

	node() *valueNode
}

type valueNode struct {
	id    int
	name  string
	typ   string
	users []Value
}

func (n *valueNode) ID() int          { return n.id }
func (n *valueNode) Name() string     { return n.name }
func (n *valueNode) Type() string     { return n.typ }
func (n *valueNode) Users() []Value   { return n.users }
func (n *valueNode) node() *valueNode { return n }

func (n *valueNode) addUser(v Value) {
	// users are added in ID order, so checking the last one is enough to avoid duplicates
	if k := len(n.users); k > 0 && n.users[k-1] == v {
		return
	}
	n.users = append(n.users, v)
}

// SortValues sorts the values by ID, in place, and returns the slice.
func SortValues[T Value](values []T) []T {
	slices.SortFunc(values, func(a, b T) bool { return a.ID() < b.ID() })
	return values
}

// Signature is the type of a function.
type Signature struct {
	Ret      string
	Params   []string
	Variadic bool
}

// String returns the signature as a textual function type, e.g. "i32 (i8*, ...)"
func (s Signature) String() string {
	params := append([]string{}, s.Params...)
	if s.Variadic {
		params = append(params, "...")
	}
	ret := s.Ret
	if ret == "" {
		ret = "void"
	}
	return fmt.Sprintf("%s (%s)", ret, strings.Join(params, ", "))
}

// IsPointerType returns true if the textual type t is a pointer type.
func IsPointerType(t string) bool {
	return strings.HasSuffix(t, "*") || t == "ptr"
}

// PointeeFuncType returns the function type a function pointer type (possibly a pointer to a function pointer)
// points to, and false if t is not a pointer to a function.
func PointeeFuncType(t string) (string, bool) {
	s := strings.TrimRight(t, "*")
	if s == t || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return s, true
}
