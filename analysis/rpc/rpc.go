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

// Package rpc builds the graph of the messages exchanged between the privileged context and the sandboxes
// through the rpc helper annotations.
package rpc

import (
	"fmt"
	"io"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
	"github.com/awslabs/ar-soaap-tools/analysis/sandbox"
	"github.com/awslabs/ar-soaap-tools/analysis/session"
)

const privilegedName = "<privileged>"

// Link is a message send. A nil Sender or Recipient is the privileged context, a nil Handler means no receive
// matches the message type in the recipient.
type Link struct {
	Call      *ir.Instruction
	Sender    *sandbox.Sandbox
	MsgType   string
	Recipient *sandbox.Sandbox
	Handler   *ir.Function
}

// Source is the function performing the send
func (l Link) Source() *ir.Function { return l.Call.Function() }

func (l Link) String() string {
	handler := "handler missing"
	if l.Handler != nil {
		handler = "handled by " + l.Handler.Name()
	}
	return fmt.Sprintf("%s (%s) -- %s --> %s (%s)",
		l.Source().Name(), nameOf(l.Sender), l.MsgType, nameOf(l.Recipient), handler)
}

func nameOf(sb *sandbox.Sandbox) string {
	if sb == nil {
		return privilegedName
	}
	return sb.Name
}

// Graph is the rpc graph of a program
type Graph struct {
	s *session.Session
	// Links are grouped by sender, the privileged context first, then sandboxes in model order
	Links []Link
}

type handlers map[*sandbox.Sandbox]map[string]*ir.Function

// Build finds the sends and receives of the privileged functions and the sandboxes, and connects each send to the
// handler of its message type in the recipient
func Build(s *session.Session) *Graph {
	g := &Graph{s: s}
	senders := []*sandbox.Sandbox{nil}
	senders = append(senders, s.Sandboxes.All()...)

	recv := handlers{}
	for _, sb := range senders {
		for _, call := range g.callsOf(sb) {
			name := helperName(call)
			if !strings.HasPrefix(name, annotations.RPCRecvHelper) &&
				!strings.HasPrefix(name, annotations.RPCRecvSyncHelper) {
				continue
			}
			msgType, _ := ir.StringOf(call.Arg(1))
			var handler *ir.Function
			if strings.HasPrefix(name, annotations.RPCRecvSyncHelper) {
				handler = call.Function()
			} else {
				handler = ir.FunctionOf(call.Arg(2))
			}
			if handler == nil {
				s.Logger.Warnf("rpc receive at %s has no handler function", call.Position())
				continue
			}
			if recv[sb] == nil {
				recv[sb] = map[string]*ir.Function{}
			}
			recv[sb][msgType] = handler
			s.Logger.Debugf("receive in %s: %q handled by %s", nameOf(sb), msgType, handler.Name())
		}
	}

	for _, sb := range senders {
		for _, call := range g.callsOf(sb) {
			if !strings.HasPrefix(helperName(call), annotations.RPCSendHelper) {
				continue
			}
			link := Link{Call: call, Sender: sb}
			if name, ok := ir.StringOf(call.Arg(0)); ok {
				link.Recipient = s.Sandboxes.SandboxWithName(name)
				if link.Recipient == nil && name != "" && name != privilegedName {
					s.Logger.Warnf("rpc send at %s names unknown sandbox %q", call.Position(), name)
				}
			}
			link.MsgType, _ = ir.StringOf(call.Arg(1))
			link.Handler = recv[link.Recipient][link.MsgType]
			g.Links = append(g.Links, link)
		}
	}
	return g
}

// callsOf returns the calls executing in sb, or in privileged functions when sb is nil
func (g *Graph) callsOf(sb *sandbox.Sandbox) []*ir.Instruction {
	if sb != nil {
		return sb.Calls()
	}
	var calls []*ir.Instruction
	for _, f := range g.s.Sandboxes.PrivilegedFunctions() {
		for _, inst := range f.Instructions() {
			if inst.Op == ir.OpCall {
				calls = append(calls, inst)
			}
		}
	}
	return calls
}

func helperName(call *ir.Instruction) string {
	if f := call.CalledFunction(); f != nil {
		return f.Name()
	}
	return ""
}

// Dump writes one line per link
func (g *Graph) Dump(w io.Writer) {
	for _, l := range g.Links {
		fmt.Fprintln(w, l.String())
	}
}
