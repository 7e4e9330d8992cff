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

package contexts

import (
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
)

// Resolver maps program points and call edges to contexts
type Resolver struct {
	// Insensitive collapses every context to Single
	Insensitive bool
	Sandboxes   SandboxIndex
}

// NewResolver returns a resolver over the sandboxes
func NewResolver(sandboxes SandboxIndex, insensitive bool) *Resolver {
	return &Resolver{Insensitive: insensitive, Sandboxes: sandboxes}
}

// ContextsForFunction returns the contexts f executes in: the sandboxes containing it, then Privileged if f is
// privileged
func (r *Resolver) ContextsForFunction(f *ir.Function) []Context {
	if r.Insensitive {
		return []Context{SingleContext()}
	}
	cs := append([]Context{}, r.Sandboxes.FunctionSandboxes(f)...)
	if r.Sandboxes.IsPrivileged(f) {
		cs = append(cs, Priv())
	}
	return cs
}

// ContextsForInstruction returns the contexts i executes in: the sandboxes containing it, then Privileged if i is
// in a privileged function outside a sandboxed region
func (r *Resolver) ContextsForInstruction(i *ir.Instruction) []Context {
	if r.Insensitive {
		return []Context{SingleContext()}
	}
	cs := append([]Context{}, r.Sandboxes.InstructionSandboxes(i)...)
	if r.Sandboxes.IsPrivilegedInstruction(i) {
		cs = append(cs, Priv())
	}
	return cs
}

// InContext returns true if i executes in c
func (r *Resolver) InContext(i *ir.Instruction, c Context) bool {
	for _, c2 := range r.ContextsForInstruction(i) {
		if c2 == c {
			return true
		}
	}
	return false
}

// CalleeContext returns the context callee executes in when called from callerCtx. Calling an entry point enters
// its sandbox and calling a callgate from a sandbox returns to the privileged context.
func (r *Resolver) CalleeContext(callerCtx Context, callee *ir.Function) Context {
	if r.Insensitive {
		return SingleContext()
	}
	if c, ok := r.Sandboxes.EntryPointOf(callee); ok {
		return c
	}
	if callerCtx.IsSandbox() && r.Sandboxes.IsCallgateOf(callerCtx, callee) {
		return Priv()
	}
	return callerCtx
}

// CallerContexts returns the contexts in which the result of call is available when returningFn returns in
// returnCtx. Entry points return to every context of the function containing the call.
func (r *Resolver) CallerContexts(returnCtx Context, returningFn *ir.Function, call *ir.Instruction) []Context {
	if r.Insensitive {
		return []Context{SingleContext()}
	}
	if _, ok := r.Sandboxes.EntryPointOf(returningFn); ok {
		return r.ContextsForFunction(call.Function())
	}
	return []Context{returnCtx}
}

// AllContexts returns Privileged, None and every sandbox context. Without a sandbox index, only Privileged and
// None are returned.
func (r *Resolver) AllContexts() []Context {
	if r.Sandboxes == nil {
		return []Context{Priv(), NoContext()}
	}
	return append([]Context{Priv(), NoContext()}, r.Sandboxes.Sandboxes()...)
}
