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

// Package model holds the component instance tree and the action
// coordination primitives that drive every instance through its lifecycle
// state machine.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/steward/internal/hooks"
	"github.com/tombee/steward/internal/moniker"
)

var (
	// ErrRunnerNotFound is returned when a declaration names an unknown
	// runner.
	ErrRunnerNotFound = errors.New("runner not found")

	// ErrCollectionNotFound is returned when creating a dynamic child in a
	// collection the parent does not declare.
	ErrCollectionNotFound = errors.New("collection not declared by parent")
)

// Options configures a Model.
type Options struct {
	// RootURL is the component URL of the root instance. Required.
	RootURL string

	// Resolver resolves component URLs to declarations. Required.
	Resolver Resolver

	// Runners maps runner names to implementations.
	Runners map[string]Runner

	// Router routes use declarations during namespace construction.
	// Optional; nil yields empty namespaces.
	Router CapabilityRouter

	// Hooks is the lifecycle event registry. Optional; defaults to an empty
	// registry.
	Hooks *hooks.Registry

	// Metrics records lifecycle metrics. Optional.
	Metrics MetricsCollector

	// Logger is the base logger. Optional; defaults to slog.Default.
	Logger *slog.Logger

	// RuntimeDirBase is the directory under which per-instance outgoing and
	// runtime directories are created. Optional; empty leaves the start
	// info directories unset.
	RuntimeDirBase string
}

// Model owns the component instance tree and the shared collaborators every
// action needs: the hook registry, the resolver, the runner registry and the
// capability router.
type Model struct {
	root           *ComponentInstance
	hooks          *hooks.Registry
	resolver       Resolver
	runners        map[string]Runner
	router         CapabilityRouter
	metrics        MetricsCollector
	logger         *slog.Logger
	runtimeDirBase string
}

// New creates a model with an undiscovered root instance. Call
// DiscoverRoot before driving any actions.
func New(opts Options) (*Model, error) {
	if opts.RootURL == "" {
		return nil, fmt.Errorf("model: root url is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("model: resolver is required")
	}

	m := &Model{
		hooks:          opts.Hooks,
		resolver:       opts.Resolver,
		runners:        opts.Runners,
		router:         opts.Router,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		runtimeDirBase: opts.RuntimeDirBase,
	}
	if m.hooks == nil {
		m.hooks = hooks.NewRegistry()
	}
	if m.metrics == nil {
		m.metrics = noopMetrics{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.runners == nil {
		m.runners = make(map[string]Runner)
	}

	m.root = newInstance(m, nil, moniker.Root(), opts.RootURL)
	return m, nil
}

// Root returns the root instance.
func (m *Model) Root() *ComponentInstance { return m.root }

// Hooks returns the lifecycle event registry.
func (m *Model) Hooks() *hooks.Registry { return m.hooks }

// Logger returns the model's base logger.
func (m *Model) Logger() *slog.Logger { return m.logger }

// Router returns the capability router, which may be nil.
func (m *Model) Router() CapabilityRouter { return m.router }

// RunnerFor returns the runner registered under the given name.
func (m *Model) RunnerFor(name string) (Runner, error) {
	r, ok := m.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRunnerNotFound, name)
	}
	return r, nil
}

// DiscoverRoot announces the root instance to hooks. Called once at boot,
// after hooks are installed.
func (m *Model) DiscoverRoot(ctx context.Context) error {
	return m.dispatch(ctx, hooks.NewEvent(hooks.EventDiscovered, m.root.moniker, m.root.url))
}

// DispatchEvent delivers an event through the hook registry, recording
// metrics. Actions use this to notify observers of lifecycle transitions.
func (m *Model) DispatchEvent(ctx context.Context, ev hooks.Event) error {
	return m.dispatch(ctx, ev)
}

// RuntimeDirBase returns the base directory for per-instance runtime
// directories, which may be empty.
func (m *Model) RuntimeDirBase() string { return m.runtimeDirBase }

// dispatch delivers an event through the hook registry, recording metrics.
func (m *Model) dispatch(ctx context.Context, ev hooks.Event) error {
	m.metrics.RecordEventDispatch(string(ev.Type))
	return m.hooks.Dispatch(ctx, ev)
}

// Lookup walks the tree to the live instance named by the moniker. The
// instance ids must match: a moniker naming a purged incarnation of a child
// does not resolve to its replacement.
func (m *Model) Lookup(mon moniker.Moniker) (*ComponentInstance, error) {
	inst := m.root
	for _, seg := range mon.Segments() {
		child := inst.LiveChild(seg.ChildName())
		if child == nil {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, mon)
		}
		leaf, _ := child.moniker.Leaf()
		if leaf != seg {
			return nil, fmt.Errorf("%w: %s (live incarnation is %s)", ErrInstanceNotFound, mon, child.moniker)
		}
		inst = child
	}
	return inst, nil
}

// AddDynamicChild creates a child in one of the parent's declared
// collections and announces it to hooks. The parent is resolved first if
// necessary.
func (m *Model) AddDynamicChild(ctx context.Context, parent *ComponentInstance, collection, name, url string) (*ComponentInstance, error) {
	decl, err := parent.EnsureResolved(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := decl.Collection(collection); !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrCollectionNotFound, collection, parent.moniker)
	}

	seg := moniker.NewCollectionSegment(collection, name, 0)
	parent.mu.Lock()
	if parent.state == StatePurged {
		parent.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInstancePurged, parent.moniker)
	}
	if _, exists := parent.children[seg.ChildName()]; exists {
		parent.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in %s", ErrChildExists, seg.ChildName(), parent.moniker)
	}
	child := parent.addChildLocked(collection, name, url)
	parent.mu.Unlock()

	if err := m.dispatch(ctx, hooks.NewEvent(hooks.EventDynamicChildAdded, child.moniker, url)); err != nil {
		return nil, err
	}
	if err := m.dispatch(ctx, hooks.NewEvent(hooks.EventDiscovered, child.moniker, url)); err != nil {
		return nil, err
	}
	return child, nil
}

// InstanceInfo is an immutable description of one instance, for
// diagnostics. It carries no aliasing to mutable model state.
type InstanceInfo struct {
	Moniker   string         `json:"moniker"`
	URL       string         `json:"url"`
	State     string         `json:"state"`
	Running   bool           `json:"running"`
	ShutDown  bool           `json:"shut_down"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	Children  []InstanceInfo `json:"children,omitempty"`
}

// Describe returns a snapshot of the tree rooted at the given instance.
func Describe(inst *ComponentInstance) InstanceInfo {
	inst.mu.Lock()
	info := InstanceInfo{
		Moniker:  inst.moniker.String(),
		URL:      inst.url,
		State:    inst.state.String(),
		Running:  inst.runtime != nil,
		ShutDown: inst.shutDown,
	}
	if inst.runtime != nil {
		at := inst.runtime.StartedAt
		info.StartedAt = &at
	}
	children := make([]*ComponentInstance, 0, len(inst.children))
	for _, child := range inst.children {
		children = append(children, child)
	}
	inst.mu.Unlock()

	for _, child := range children {
		info.Children = append(info.Children, Describe(child))
	}
	return info
}
