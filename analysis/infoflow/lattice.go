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

package infoflow

import (
	"strconv"
	"strings"

	"golang.org/x/tools/container/intsets"
)

// Lattice is the domain of the facts of an analysis. Facts are values: Meet returns a new fact and never
// modifies its arguments.
type Lattice[L any] interface {
	// Bottom is the fact of values that carry no information
	Bottom() L
	// Meet combines the fact flowing in (from) with the current fact of the destination (to)
	Meet(from, to L) L
	Equal(a, b L) bool
	String(fact L) string
}

// BitVector is the lattice of sets of small integers, e.g. indices of functions or system calls.
// The meet is the union, or the intersection when Intersect is set.
type BitVector struct {
	Intersect bool
	// Names returns the name of the element with index i, used to print facts. Indices are printed when nil.
	Names func(i int) string
}

// Bottom returns a new empty set
func (b BitVector) Bottom() *intsets.Sparse { return &intsets.Sparse{} }

// Meet returns the union (or intersection) of from and to
func (b BitVector) Meet(from, to *intsets.Sparse) *intsets.Sparse {
	res := &intsets.Sparse{}
	if b.Intersect {
		res.Intersection(nonNil(from), nonNil(to))
	} else {
		res.Union(nonNil(from), nonNil(to))
	}
	return res
}

// Equal returns true if x and y contain the same elements
func (b BitVector) Equal(x, y *intsets.Sparse) bool {
	return nonNil(x).Equals(nonNil(y))
}

func (b BitVector) String(fact *intsets.Sparse) string {
	if b.Names == nil {
		return nonNil(fact).String()
	}
	var names []string
	for _, i := range nonNil(fact).AppendTo(nil) {
		names = append(names, b.Names(i))
	}
	return "[" + strings.Join(names, ",") + "]"
}

// Set returns a new set containing the elements
func Set(elems ...int) *intsets.Sparse {
	s := &intsets.Sparse{}
	for _, e := range elems {
		s.Insert(e)
	}
	return s
}

func nonNil(s *intsets.Sparse) *intsets.Sparse {
	if s == nil {
		return &intsets.Sparse{}
	}
	return s
}

// IntMask is the lattice of bit masks (sandbox or classification indices) with OR as meet
type IntMask struct {
	// Names stringifies a mask, e.g. "[net,zip]". The mask is printed in hexadecimal when nil.
	Names func(mask uint32) string
}

func (m IntMask) Bottom() uint32 { return 0 }

func (m IntMask) Meet(from, to uint32) uint32 { return from | to }

func (m IntMask) Equal(a, b uint32) bool { return a == b }

func (m IntMask) String(fact uint32) string {
	if m.Names == nil {
		return "0x" + strconv.FormatUint(uint64(fact), 16)
	}
	return m.Names(fact)
}

// Bool is the two point lattice with OR as meet
type Bool struct{}

func (Bool) Bottom() bool { return false }

func (Bool) Meet(from, to bool) bool { return from || to }

func (Bool) Equal(a, b bool) bool { return a == b }

func (Bool) String(fact bool) string {
	if fact {
		return "true"
	}
	return "false"
}

// OriginKind is where a value originates from
type OriginKind int

const (
	Uninitialised OriginKind = iota
	// FromPrivileged values are produced by privileged code
	FromPrivileged
	// FromSandbox values are returned by a sandbox
	FromSandbox
)

// Origin is the lattice of origins, ordered Uninitialised < FromPrivileged < FromSandbox, with the maximum as meet
type Origin struct{}

func (Origin) Bottom() OriginKind { return Uninitialised }

func (Origin) Meet(from, to OriginKind) OriginKind {
	if from > to {
		return from
	}
	return to
}

func (Origin) Equal(a, b OriginKind) bool { return a == b }

func (Origin) String(fact OriginKind) string {
	switch fact {
	case FromPrivileged:
		return "privileged"
	case FromSandbox:
		return "sandbox"
	default:
		return "uninitialised"
	}
}
