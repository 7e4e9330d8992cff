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

package osmodel

import (
	"fmt"
	"os"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
)

// Platform is a sandboxing mechanism: it decides which system calls sandboxed code may perform.
type Platform interface {
	// Name returns the name of the platform as used in the configuration
	Name() string
	// IsSysCallPermitted returns true if sandboxed code may perform the system call name. A permitted system call
	// taking a file descriptor may still need rights on that descriptor, see RequiresFdRights.
	IsSysCallPermitted(name string) bool
	// RequiresFdRights returns true if the permitted system call name needs rights on its file descriptor
	// argument
	RequiresFdRights(name string) bool
	// ProvidesProtection returns false for platforms that do not restrict sandboxed code
	ProvidesProtection() bool
}

// listPlatform permits the system calls of its list
type listPlatform struct {
	name       string
	permitted  map[string]bool
	fdRights   map[string]bool
	permissive bool
	protection bool
}

func newListPlatform(name string) *listPlatform {
	return &listPlatform{name: name, permitted: map[string]bool{}, fdRights: map[string]bool{}, protection: true}
}

func (p *listPlatform) permit(name string, requiresFdRights bool) {
	p.permitted[name] = true
	if requiresFdRights {
		p.fdRights[name] = true
	}
}

func (p *listPlatform) Name() string { return p.name }

func (p *listPlatform) IsSysCallPermitted(name string) bool { return p.permissive || p.permitted[name] }

func (p *listPlatform) RequiresFdRights(name string) bool { return p.fdRights[name] }

func (p *listPlatform) ProvidesProtection() bool { return p.protection }

// NewPlatform returns the platform selected by the configuration. The annotated platform is represented by a nil
// Platform: the system calls allowed are then given by annotations only.
func NewPlatform(cfg *config.Config) (Platform, error) {
	switch cfg.SandboxPlatform {
	case config.PlatformAnnotated:
		return nil, nil
	case config.PlatformNone:
		return NoSandbox(), nil
	case config.PlatformCapsicum:
		return Capsicum(), nil
	case config.PlatformChroot:
		return Chroot(), nil
	case config.PlatformSeccomp:
		return Seccomp(), nil
	case config.PlatformSeccompBPF:
		return SeccompBPF(cfg.RelPath(cfg.SandboxPolicy))
	}
	return nil, fmt.Errorf("sandbox-platform %q: %w", cfg.SandboxPlatform, config.ErrUnknownOption)
}

// NoSandbox permits every system call and provides no protection
func NoSandbox() Platform {
	p := newListPlatform(config.PlatformNone)
	p.permissive = true
	p.protection = false
	return p
}

// Capsicum is the FreeBSD capability mode. Reads and writes need rights on their descriptor.
func Capsicum() Platform {
	p := newListPlatform(config.PlatformCapsicum)
	for _, name := range []string{"cap_enter", "cap_fcntls_get", "cap_fcntls_limit", "cap_getmode", "cap_ioctls_get",
		"cap_ioctls_limit", "__cap_rights_get", "cap_rights_limit", "dup", "dup2", "close", "exit"} {
		p.permit(name, false)
	}
	p.permit("read", true)
	p.permit("write", true)
	return p
}

// Chroot confines the file system namespace of the sandbox. System calls are not restricted and descriptors carry
// no rights.
func Chroot() Platform {
	p := newListPlatform(config.PlatformChroot)
	p.permissive = true
	return p
}

// Seccomp is the Linux strict secure computing mode
func Seccomp() Platform {
	p := newListPlatform(config.PlatformSeccomp)
	p.permit("sigreturn", false)
	p.permit("exit", false)
	p.permit("read", true)
	p.permit("write", true)
	return p
}

// SeccompBPF is the Linux secure computing mode with a filter permitting the system calls listed in the policy
// file, one per line. Empty lines and lines starting with '#' are ignored.
func SeccompBPF(policyFile string) (Platform, error) {
	p := newListPlatform(config.PlatformSeccompBPF)
	if policyFile == "" {
		return p, nil
	}
	b, err := os.ReadFile(policyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to open sandbox policy file %q: %w", policyFile, err)
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p.permit(line, false)
	}
	return p, nil
}
