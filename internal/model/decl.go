// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"fmt"
)

// Startup modes for statically declared children.
const (
	// StartupLazy children are only started on an explicit start request.
	StartupLazy = "lazy"
	// StartupEager children are started as soon as their parent starts.
	StartupEager = "eager"
)

// Lifecycle modes for program declarations.
const (
	// LifecycleNone means stop kills the job immediately.
	LifecycleNone = ""
	// LifecycleSignal negotiates graceful stop via SIGTERM and process exit.
	LifecycleSignal = "signal"
)

// Decl is a resolved component declaration (manifest).
type Decl struct {
	// Program describes how to run the component. Nil for pure
	// organizational components that only hold children.
	Program *ProgramDecl `yaml:"program,omitempty"`

	// Children are statically declared child components.
	Children []ChildDecl `yaml:"children,omitempty"`

	// Collections are containers for dynamically created children.
	Collections []CollectionDecl `yaml:"collections,omitempty"`

	// Uses declares capabilities the component consumes from its namespace.
	Uses []UseDecl `yaml:"uses,omitempty"`

	// Exposes declares capabilities the component makes available to its
	// parent.
	Exposes []ExposeDecl `yaml:"exposes,omitempty"`
}

// Validate checks structural invariants of the declaration.
func (d *Decl) Validate() error {
	seen := make(map[string]struct{})
	for _, c := range d.Children {
		if c.Name == "" {
			return fmt.Errorf("child with empty name")
		}
		if c.URL == "" {
			return fmt.Errorf("child %q has no url", c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate child name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		switch c.Startup {
		case "", StartupLazy, StartupEager:
		default:
			return fmt.Errorf("child %q has invalid startup %q", c.Name, c.Startup)
		}
	}
	for _, coll := range d.Collections {
		if coll.Name == "" {
			return fmt.Errorf("collection with empty name")
		}
		if _, dup := seen[coll.Name]; dup {
			return fmt.Errorf("collection name %q collides with a child", coll.Name)
		}
		seen[coll.Name] = struct{}{}
	}
	if d.Program != nil {
		if d.Program.Binary == "" {
			return fmt.Errorf("program has no binary")
		}
		switch d.Program.Lifecycle {
		case LifecycleNone, LifecycleSignal:
		default:
			return fmt.Errorf("program has invalid lifecycle %q", d.Program.Lifecycle)
		}
	}
	return nil
}

// Collection returns the named collection declaration, if present.
func (d *Decl) Collection(name string) (CollectionDecl, bool) {
	for _, c := range d.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionDecl{}, false
}

// ProgramDecl describes the executable part of a component.
type ProgramDecl struct {
	// Runner names the runner that executes the program. Empty selects the
	// default ELF runner.
	Runner string `yaml:"runner,omitempty"`

	// Binary is the path of the executable.
	Binary string `yaml:"binary"`

	// Args are additional command line arguments.
	Args []string `yaml:"args,omitempty"`

	// Env are additional environment variables, KEY=VALUE form.
	Env []string `yaml:"env,omitempty"`

	// MainProcessCritical marks the main process as critical: forced
	// termination of its job is equivalent to taking down the supervising
	// environment, so graceful stop waits for natural process exit.
	MainProcessCritical bool `yaml:"main_process_critical,omitempty"`

	// Lifecycle selects the graceful stop negotiation. Empty means none
	// (stop kills the job immediately); "signal" negotiates via SIGTERM and
	// process exit.
	Lifecycle string `yaml:"lifecycle,omitempty"`
}

// RunnerName returns the runner to use, applying the default.
func (p *ProgramDecl) RunnerName() string {
	if p.Runner == "" {
		return "elf"
	}
	return p.Runner
}

// ChildDecl declares a static child component.
type ChildDecl struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Startup string `yaml:"startup,omitempty"`
}

// CollectionDecl declares a container for dynamic children.
type CollectionDecl struct {
	Name string `yaml:"name"`
}

// UseDecl declares a capability the component consumes. Routing the use to
// its source is external to this package.
type UseDecl struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// ExposeDecl declares a capability the component exposes to its parent.
type ExposeDecl struct {
	Name string `yaml:"name"`
	From string `yaml:"from,omitempty"`
}
