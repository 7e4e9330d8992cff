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

// Package capability checks that the system calls made on file descriptors in sandboxes are covered by the
// rights the descriptors were annotated with.
//
// Rights come from three kinds of annotations: __soaap_fd_permit on the parameters of sandbox entry points
// (per sandbox), __soaap_fd_syscalls on values (in every sandbox) and __soaap_fd_key_syscalls together with
// __soaap_fd_getter for descriptors kept in a table indexed by an integer key. Rights flow along the data flow of
// the descriptors; where two descriptors with different rights meet, only the common rights remain.
package capability

import (
	"fmt"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
	"github.com/awslabs/ar-soaap-tools/analysis/syscalls"
	"golang.org/x/tools/container/intsets"
)

// Analysis propagates the system calls allowed on each file descriptor value
type Analysis struct {
	s        *session.Session
	sysCalls *syscalls.Analysis
	engine   *infoflow.Engine[*intsets.Sparse]

	// rights of descriptors that are integer constants
	intFds map[int64]*intsets.Sparse
	// rights of the descriptors stored under an integer key
	fdKeys map[int64]*intsets.Sparse
}

// New returns the capability analysis of the session. sysCalls must have been run: a system call that is not
// allowed at all is reported by the system call check, not for its descriptor.
func New(s *session.Session, sysCalls *syscalls.Analysis) *Analysis {
	lattice := infoflow.BitVector{Intersect: true, Names: s.SysCalls.SysCall}
	return &Analysis{
		s:        s,
		sysCalls: sysCalls,
		engine:   infoflow.NewEngine[*intsets.Sparse]("capability", lattice, s.Resolver, s.CallGraph, s.Logger),
	}
}

// Run propagates the rights and reports the system calls without rights on their descriptor
func (a *Analysis) Run() error {
	return a.engine.Run(a)
}

// Rights returns the names of the system calls allowed on the descriptor v in sandbox context ctx
func (a *Analysis) Rights(v ir.Value, ctx contexts.Context) ([]string, bool) {
	rights, ok := a.rights(v, ctx)
	if !ok {
		return nil, false
	}
	return a.s.SysCalls.Names(rights), true
}

// Initialise implements infoflow.Analysis
func (a *Analysis) Initialise(e *infoflow.Engine[*intsets.Sparse]) error {
	a.intFds = map[int64]*intsets.Sparse{}
	a.fdKeys = map[int64]*intsets.Sparse{}

	for _, sb := range a.s.Sandboxes.All() {
		for _, v := range sb.CapabilityValues() {
			e.Seed(v, sb.Context(), a.sysCallSet(sb.Capabilities()[v]))
		}
	}

	for _, ann := range a.s.Annotations.ValueAnnotations() {
		switch ann.Kind {
		case annotations.FDSysCalls:
			rights := a.sysCallSet(ann.List())
			fd := ir.StripPointerCasts(ann.Target)
			if c, ok := fd.(*ir.ConstInt); ok {
				a.intFds[c.Value] = rights
				continue
			}
			e.Seed(fd, contexts.NoContext(), rights)
			e.PropagateToAggregate(fd, contexts.NoContext())
			// the annotation call returns the annotated descriptor
			e.Seed(ann.Site, contexts.NoContext(), rights)
		case annotations.FDKeySysCalls:
			key, ok := ir.IntOf(ann.Target)
			if !ok {
				a.s.Logger.Warnf("%s at %s: the key is not an integer constant", ann.Kind, ann.Site.Position())
				continue
			}
			a.fdKeys[key] = a.sysCallSet(ann.List())
		}
	}

	for _, getter := range a.s.Annotations.FunctionsWith(annotations.FDGetter) {
		if getter.Sig.Ret == "void" {
			a.s.Logger.Errorf("fd getter %s does not return a value", getter.Name())
			continue
		}
		keyIdx := 0
		if len(getter.Params) > 0 && getter.Params[0].Name() == "this" {
			keyIdx = 1
		}
		for _, ctx := range a.s.Resolver.ContextsForFunction(getter) {
			for _, call := range a.s.CallGraph.Callers(getter, ctx) {
				key, ok := ir.IntOf(call.Arg(keyIdx))
				if !ok {
					a.s.Logger.Debugf("fd getter call at %s does not use a constant key", call.Position())
					continue
				}
				rights, ok := a.fdKeys[key]
				if !ok {
					rights = e.Lattice.Bottom()
				}
				e.Seed(call, ctx, rights)
			}
		}
	}
	return nil
}

// PostDataFlow implements infoflow.Analysis. It reports the system calls on descriptors that lack the right to
// perform them.
func (a *Analysis) PostDataFlow(e *infoflow.Engine[*intsets.Sparse]) error {
	for _, sb := range a.s.Sandboxes.All() {
		for _, call := range sb.Calls() {
			for _, callee := range a.s.CallGraph.Callees(call, sb.Context()) {
				name := callee.Name()
				if !a.s.SysCalls.IsSysCall(name) || !a.s.SysCalls.HasFdArg(name) || !a.sysCalls.AllowedAt(call, name) {
					continue
				}
				if a.s.Platform != nil && !a.s.Platform.RequiresFdRights(name) {
					continue
				}
				fd := call.Arg(a.s.SysCalls.FdArgIdx(name))
				if fd == nil {
					continue
				}
				rights, ok := a.rights(fd, sb.Context())
				if ok && rights.Has(a.s.SysCalls.Index(name)) {
					continue
				}
				a.s.Diagnose(config.AnalysisSysCalls, call, a.s.SandboxTrace(config.AnalysisSysCalls, call, sb),
					report.Diagnostic{
						Kind:     report.KindCapRights,
						Sandbox:  sb.Name,
						Resource: name,
						Message: fmt.Sprintf("Sandbox %q performs system call %q but is not allowed to for the "+
							"given fd arg.", sb.Name, name),
					})
			}
		}
	}
	return nil
}

func (a *Analysis) rights(fd ir.Value, ctx contexts.Context) (*intsets.Sparse, bool) {
	if c, ok := fd.(*ir.ConstInt); ok {
		rights, ok := a.intFds[c.Value]
		return rights, ok
	}
	return a.engine.Fact(fd, ctx)
}

// sysCallSet returns the set of the system calls named. SOAAP_NO_SYSCALLS_ALLOWED in the list yields the empty set.
func (a *Analysis) sysCallSet(names []string) *intsets.Sparse {
	for _, n := range names {
		if n == annotations.NoSysCallsAllowed.String() {
			return &intsets.Sparse{}
		}
	}
	set, unknown := a.s.SysCalls.Set(names)
	for _, n := range unknown {
		a.s.Logger.Warnf("%q does not appear to be a system call", n)
	}
	return set
}
