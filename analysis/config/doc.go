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

/*
Package config provides a simple way to manage configuration files.

Use [Load](filename) to load a configuration from a specific filename.

Use [SetGlobalConfig](filename) to set filename as the global config, and then [LoadGlobal]() to load the global config.

A config file should be in yaml format. The top-level fields can be any of the fields defined in the Config
struct type and in the inlined Options.
For example, a valid config file is as follows:

	mode: custom
	analyses:
	  - syscalls
	  - infoflow
	output-traces:
	  - infoflow
	os: freebsd
	sandbox-platform: capsicum
	libraries:
	  libz:
	    - /usr/src/lib/libz
	nowarn-libs:
	  - libz
	report-output-formats:
	  - text
	  - json
	log-level: 4

# Filtering warnings

Warnings are attributed to the library whose path prefix matches the source file of the function where the
warning occurs. warn-libs restricts warnings to the listed libraries, nowarn-libs silences the listed libraries.
Code that is not part of any library always produces warnings. Only one of the two lists may be set.

# Platforms

The sandbox platform must be implemented on the selected operating system: capsicum requires freebsd, seccomp and
seccomp-bpf require linux, and seccomp-bpf requires a sandbox-policy file. [Config.Validate] reports the violations.
*/
package config
