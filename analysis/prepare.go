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

package analysis

import (
	"github.com/awslabs/ar-soaap-tools/analysis/annotations"
	"github.com/awslabs/ar-soaap-tools/analysis/contexts"
	"github.com/awslabs/ar-soaap-tools/analysis/osmodel"
	"github.com/awslabs/ar-soaap-tools/analysis/report"
	"github.com/awslabs/ar-soaap-tools/analysis/sandbox"
)

func (s *AnalyzerState) loadAnnotations() error {
	pa, err := annotations.Load(s.Module, s.Logger)
	if err != nil {
		return err
	}
	s.Annotations = pa
	s.Logger.Infof("Loaded %d annotations from program\n", pa.Count())
	return nil
}

// loadOSModel selects the system call table of the configured operating system and the sandbox platform, and
// creates the report the checks write to
func (s *AnalyzerState) loadOSModel() error {
	provider, err := osmodel.ForOS(s.Config.OS)
	if err != nil {
		return err
	}
	platform, err := osmodel.NewPlatform(s.Config)
	if err != nil {
		return err
	}
	s.SysCalls = provider
	s.Platform = platform
	s.Report = report.New(s.Config)
	return nil
}

func (s *AnalyzerState) discoverSandboxes() error {
	model, err := sandbox.Discover(sandbox.Inputs{
		Module:      s.Module,
		Annotations: s.Annotations,
		CallGraph:   s.CallGraph,
		Logger:      s.Logger,
		IsSysCall:   s.SysCalls.IsSysCall,
	})
	if err != nil {
		return err
	}
	s.Sandboxes = model
	s.Resolver = contexts.NewResolver(model, s.Config.ContextInsensitive)
	s.Logger.Infof("Found %d sandboxes and %d privileged functions", len(model.All()),
		len(model.PrivilegedFunctions()))
	return nil
}
