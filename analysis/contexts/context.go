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

// Package contexts defines the execution domains facts are tracked under, and the rules mapping program points and
// call edges to contexts.
package contexts

import (
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
)

// Kind is the kind of a context
type Kind uint8

const (
	// Privileged is the context of code running outside any sandbox
	Privileged Kind = iota
	// None is the context of facts seeded before the executing domain is known
	None
	// Single is the only context of context-insensitive analyses
	Single
	// Sandboxed is the context of code running in a specific sandbox
	Sandboxed
)

// Context is the execution domain of a program point. Contexts are compared by value.
type Context struct {
	Kind Kind
	// Index is the bit index of the sandbox for sandbox contexts, -1 otherwise
	Index int
	// Name is the name of the sandbox for sandbox contexts
	Name string
}

// Priv returns the privileged context
func Priv() Context { return Context{Kind: Privileged, Index: -1} }

// NoContext returns the context of seeds with no domain
func NoContext() Context { return Context{Kind: None, Index: -1} }

// SingleContext returns the context used by context-insensitive analyses
func SingleContext() Context { return Context{Kind: Single, Index: -1} }

// ForSandbox returns the context of the sandbox with index idx and name name
func ForSandbox(idx int, name string) Context { return Context{Kind: Sandboxed, Index: idx, Name: name} }

// IsSandbox returns true if c is the context of a sandbox
func (c Context) IsSandbox() bool { return c.Kind == Sandboxed }

func (c Context) String() string {
	switch c.Kind {
	case Privileged:
		return "[<priv>]"
	case None:
		return "[<none>]"
	case Single:
		return "[<single>]"
	default:
		return "[" + c.Name + "]"
	}
}

// Less orders contexts: privileged, none, single, then sandboxes by index
func Less(a, b Context) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Index < b.Index
}

// SandboxIndex is the view of the sandbox model used to compute contexts
type SandboxIndex interface {
	// IsPrivileged returns true if f may execute in the privileged context
	IsPrivileged(f *ir.Function) bool
	// IsPrivilegedInstruction returns true if i may execute in the privileged context
	IsPrivilegedInstruction(i *ir.Instruction) bool
	// FunctionSandboxes returns the contexts of the sandboxes containing f, in sandbox order
	FunctionSandboxes(f *ir.Function) []Context
	// InstructionSandboxes returns the contexts of the sandboxes containing i, in sandbox order
	InstructionSandboxes(i *ir.Instruction) []Context
	// EntryPointOf returns the context of the sandbox f is the entry point of
	EntryPointOf(f *ir.Function) (Context, bool)
	// IsCallgateOf returns true if f is a callgate of the sandbox of context c
	IsCallgateOf(c Context, f *ir.Function) bool
	// Sandboxes returns the contexts of all the sandboxes, in sandbox order
	Sandboxes() []Context
}
