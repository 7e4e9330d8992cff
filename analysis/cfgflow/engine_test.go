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

package cfgflow_test

import (
	"io"
	"testing"

	"github.com/awslabs/ar-soaap-tools/analysis/callgraph"
	"github.com/awslabs/ar-soaap-tools/analysis/cfgflow"
	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/analysis/infoflow"
	"github.com/awslabs/ar-soaap-tools/analysis/ir"
)

// program is
//
//	main:  before = call setup; create = call sandbox_create; br cond, then, else
//	then:  call helper; br end
//	else:  call worker; br end
//	end:   after = call finish; ret
//
// worker is a sandbox entry point, finish seeds its return.
type program struct {
	m                            *ir.Module
	worker                       *ir.Function
	before, create, after        *ir.Instruction
	inHelper, inWorker, finished *ir.Instruction
	elseBr                       *ir.Instruction
}

func newProgram() program {
	var p program
	b := ir.NewBuilder("cfg")
	void := ir.Signature{Ret: "void"}
	setup := b.Func("setup", void)
	setup.Ret(nil)
	sandboxCreate := b.Declare("sandbox_create", void)

	helper := b.Func("helper", void)
	p.inHelper = helper.Load("x", b.Null("i32*"))
	helper.Ret(nil)

	worker := b.Func("worker", void)
	p.inWorker = worker.Load("y", b.Null("i32*"))
	worker.Ret(nil)
	p.worker = worker.F

	finish := b.Func("finish", void)
	p.finished = finish.Load("z", b.Null("i32*"))
	finish.Ret(nil)

	main := b.Func("main", void)
	then := main.NewBlock("then")
	els := main.NewBlock("else")
	end := main.NewBlock("end")
	p.before = main.Call("", setup.F)
	p.create = main.Call("", sandboxCreate)
	main.CondBr(b.Int(1), then, els)
	main.SetBlock(then)
	main.Call("", helper.F)
	main.Br(end)
	main.SetBlock(els)
	main.Call("", worker.F)
	p.elseBr = main.Br(end)
	main.SetBlock(end)
	p.after = main.Call("", finish.F)
	main.Ret(nil)
	p.m = b.Module()
	return p
}

type seeds struct {
	at   map[*ir.Instruction]uint32
	done bool
}

func (s *seeds) Initialise(e *cfgflow.Engine[uint32]) error {
	for inst, fact := range s.at {
		e.Seed(inst, fact)
	}
	return nil
}

func (s *seeds) PostDataFlow(*cfgflow.Engine[uint32]) error {
	s.done = true
	return nil
}

func newEngine(p program) *cfgflow.Engine[uint32] {
	logger := config.NewLogGroup(config.NewDefault())
	logger.SetAllOutput(io.Discard)
	cg := callgraph.New(p.m, nil, logger)
	return cfgflow.NewEngine[uint32]("test", infoflow.IntMask{}, cg, logger,
		func(f *ir.Function) bool { return f == p.worker })
}

func TestForwardFlow(t *testing.T) {
	p := newProgram()
	e := newEngine(p)
	a := &seeds{at: map[*ir.Instruction]uint32{p.create: 1}}
	if err := e.Run(a); err != nil {
		t.Fatal(err)
	}
	if !a.done {
		t.Errorf("PostDataFlow not called")
	}
	for name, tc := range map[string]struct {
		inst *ir.Instruction
		want uint32
	}{
		"before creation":   {p.before, 0},
		"creation":          {p.create, 1},
		"after the branch":  {p.after, 1},
		"callee":            {p.inHelper, 1},
		"entry point":       {p.inWorker, 0},
		"else branch":       {p.elseBr, 1},
		"callee after join": {p.finished, 1},
	} {
		if got, _ := e.Fact(tc.inst); got != tc.want {
			t.Errorf("%s: fact = %d, want %d", name, got, tc.want)
		}
	}
}

func TestReturnFlow(t *testing.T) {
	p := newProgram()
	e := newEngine(p)
	if err := e.Run(&seeds{at: map[*ir.Instruction]uint32{p.inHelper: 2}}); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.Fact(p.after); got != 2 {
		t.Errorf("fact after the join = %d, want 2", got)
	}
	if got, _ := e.Fact(p.create); got != 0 {
		t.Errorf("fact before the call = %d, want 0", got)
	}
}

func TestRunResetsState(t *testing.T) {
	p := newProgram()
	e := newEngine(p)
	if err := e.Run(&seeds{at: map[*ir.Instruction]uint32{p.create: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(&seeds{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Fact(p.after); ok {
		t.Errorf("facts of the previous run were kept")
	}
	if e.Steps() != 0 {
		t.Errorf("steps = %d without seeds", e.Steps())
	}
}
