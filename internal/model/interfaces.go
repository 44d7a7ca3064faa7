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

// External collaborator interfaces. The model drives component lifecycle;
// manifest resolution, program execution and capability routing are
// consumed through these narrow contracts and implemented elsewhere.

package model

import (
	"context"
	"time"

	"github.com/tombee/steward/internal/moniker"
)

// Resolver resolves a component URL to its declaration.
type Resolver interface {
	Resolve(ctx context.Context, url string) (*Decl, error)
}

// Runner starts the program of a resolved component.
type Runner interface {
	// Start launches the program described by info and returns a handle to
	// the running execution context. Start must not block on the program's
	// lifetime.
	Start(ctx context.Context, info StartInfo) (Program, error)
}

// Program is the execution context of a started component, typically an OS
// job/process pair owned by the runner.
type Program interface {
	// Stop requests graceful termination and tears down the execution
	// context once the program has acknowledged or exited.
	Stop(ctx context.Context) error

	// Kill forcibly tears down the execution context immediately.
	Kill() error

	// Wait returns a channel that receives the exit status once the
	// program's main process has terminated, then closes.
	Wait() <-chan ExitStatus
}

// ExitStatus describes how a program's main process terminated.
type ExitStatus struct {
	Code int
	Err  error
}

// StartInfo bundles everything a runner needs to launch a component.
type StartInfo struct {
	// ResolvedURL is the URL the declaration was resolved from.
	ResolvedURL string

	// Moniker names the instance being started.
	Moniker moniker.Moniker

	// Program is the program metadata from the declaration.
	Program ProgramDecl

	// Namespace is the set of capability entries routed for the component.
	Namespace []NamespaceEntry

	// OutgoingDir is the directory prepared for capabilities the component
	// serves to the framework.
	OutgoingDir string

	// RuntimeDir is the directory the runner populates with runtime
	// introspection data.
	RuntimeDir string
}

// NamespaceEntry maps a path in the component's namespace to a routed
// capability source.
type NamespaceEntry struct {
	Path   string
	Source string
}

// CapabilityRouter resolves a use declaration to a namespace entry. Routing
// is external to the lifecycle core; a nil router yields an empty namespace.
type CapabilityRouter interface {
	Route(ctx context.Context, use UseDecl, target moniker.Moniker) (NamespaceEntry, error)
}

// MetricsCollector records lifecycle observability metrics. Implementations
// must be safe for concurrent use.
type MetricsCollector interface {
	RecordActionStart(kind, moniker string)
	RecordActionComplete(kind, moniker, status string, duration time.Duration)
	RecordCoalescedJoin(kind string)
	RecordEventDispatch(eventType string)
	AddLiveInstances(delta int)
}

// noopMetrics is used when no collector is configured.
type noopMetrics struct{}

func (noopMetrics) RecordActionStart(string, string)                         {}
func (noopMetrics) RecordActionComplete(string, string, string, time.Duration) {}
func (noopMetrics) RecordCoalescedJoin(string)                               {}
func (noopMetrics) RecordEventDispatch(string)                               {}
func (noopMetrics) AddLiveInstances(int)                                     {}
