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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/steward/internal/hooks"
	internallog "github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/moniker"
)

var (
	// ErrInstanceShutDown is returned when a start is attempted on an
	// instance whose shutdown latch is set. The latch never clears.
	ErrInstanceShutDown = errors.New("instance has been shut down")

	// ErrAlreadyStarted is returned by start bookkeeping when a runtime is
	// already committed. Callers treat it as an idempotent no-op.
	ErrAlreadyStarted = errors.New("instance is already started")

	// ErrInstanceNotFound is returned when a moniker does not name a live
	// instance in the tree.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstancePurged is returned when operating on a destroyed instance.
	ErrInstancePurged = errors.New("instance has been purged")

	// ErrStateRegression is returned on an attempted backward state
	// transition. Instance states are monotonic.
	ErrStateRegression = errors.New("instance state may not move backward")

	// ErrChildExists is returned when creating a dynamic child whose name
	// is already live in the parent.
	ErrChildExists = errors.New("child already exists")
)

// InstanceState is the monotonic lifecycle state of an instance.
type InstanceState int

const (
	// StateNew is the initial state before discovery completes.
	StateNew InstanceState = iota
	// StateDiscovered means the instance exists in the tree but its
	// declaration has not been resolved.
	StateDiscovered
	// StateResolved means the declaration is known and child instances for
	// static children have been created.
	StateResolved
	// StatePurged means the instance has been destroyed and removed from
	// its parent. Terminal.
	StatePurged
)

func (s InstanceState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDiscovered:
		return "discovered"
	case StateResolved:
		return "resolved"
	case StatePurged:
		return "purged"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Runtime is the live resource bundle of a started component. It exists
// only between a successful start commit and the subsequent stop or kill,
// and is exclusively owned by its instance's execution state.
type Runtime struct {
	// Program is the running execution context. Nil between the commit and
	// the runner's launch completing.
	Program Program

	// URL the instance was started from.
	URL string

	// StartedAt is the commit timestamp.
	StartedAt time.Time

	// Namespace, OutgoingDir and RuntimeDir are the resources handed to the
	// runner.
	Namespace   []NamespaceEntry
	OutgoingDir string
	RuntimeDir  string
}

// ComponentInstance is a node in the component tree.
//
// Ownership is strictly downward: a parent owns its children through the
// children map, and a child's parent pointer is a non-owning back reference
// used for event dispatch only. The per-instance mutex is held only for
// synchronous reads and mutations, never across awaiting calls; multi-step
// operations snapshot under the lock, work unlocked, then re-validate.
type ComponentInstance struct {
	moniker moniker.Moniker
	url     string
	model   *Model
	parent  *ComponentInstance
	actions *ActionSet
	logger  *slog.Logger

	mu       sync.Mutex
	state    InstanceState
	decl     *Decl
	children map[string]*ComponentInstance
	childIDs map[string]uint32
	runtime  *Runtime
	shutDown bool
}

func newInstance(m *Model, parent *ComponentInstance, mon moniker.Moniker, url string) *ComponentInstance {
	inst := &ComponentInstance{
		moniker:  mon,
		url:      url,
		model:    m,
		parent:   parent,
		actions:  newActionSet(m.metrics),
		logger:   internallog.WithMoniker(m.logger, mon.String()),
		state:    StateDiscovered,
		children: make(map[string]*ComponentInstance),
		childIDs: make(map[string]uint32),
	}
	m.metrics.AddLiveInstances(1)
	return inst
}

// Moniker returns the instance's identity in the tree.
func (c *ComponentInstance) Moniker() moniker.Moniker { return c.moniker }

// URL returns the component URL the instance was declared with.
func (c *ComponentInstance) URL() string { return c.url }

// Model returns the shared model environment.
func (c *ComponentInstance) Model() *Model { return c.model }

// Parent returns the non-owning parent reference, nil for the root.
func (c *ComponentInstance) Parent() *ComponentInstance { return c.parent }

// Actions returns the instance's action set.
func (c *ComponentInstance) Actions() *ActionSet { return c.actions }

// Logger returns a logger annotated with the instance moniker.
func (c *ComponentInstance) Logger() *slog.Logger { return c.logger }

// State returns the current lifecycle state.
func (c *ComponentInstance) State() InstanceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsShutDown reports whether the shutdown latch is set.
func (c *ComponentInstance) IsShutDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutDown
}

// IsRunning reports whether a runtime is currently committed.
func (c *ComponentInstance) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runtime != nil
}

// setState enforces monotonic transitions. Caller holds c.mu.
func (c *ComponentInstance) setState(s InstanceState) error {
	if s < c.state {
		return fmt.Errorf("%w: %s -> %s for %s", ErrStateRegression, c.state, s, c.moniker)
	}
	c.state = s
	return nil
}

// EnsureResolved resolves the instance's declaration if it has not been
// resolved yet, creating instances for statically declared children. It
// dispatches Resolved for the instance and Discovered for each new child.
// Idempotent; concurrent callers may both resolve, the first commit wins.
func (c *ComponentInstance) EnsureResolved(ctx context.Context) (*Decl, error) {
	c.mu.Lock()
	switch {
	case c.state == StatePurged:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInstancePurged, c.moniker)
	case c.state == StateResolved:
		decl := c.decl
		c.mu.Unlock()
		return decl, nil
	}
	url := c.url
	c.mu.Unlock()

	decl, err := c.model.resolver.Resolve(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("resolving %s from %s: %w", c.moniker, url, err)
	}
	if err := decl.Validate(); err != nil {
		return nil, fmt.Errorf("invalid declaration for %s: %w", c.moniker, err)
	}

	var discovered []*ComponentInstance
	c.mu.Lock()
	if c.state == StatePurged {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInstancePurged, c.moniker)
	}
	if c.state != StateResolved {
		c.decl = decl
		if err := c.setState(StateResolved); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		for _, child := range decl.Children {
			inst := c.addChildLocked("", child.Name, child.URL)
			discovered = append(discovered, inst)
		}
	}
	decl = c.decl
	c.mu.Unlock()

	if err := c.model.dispatch(ctx, hooks.NewEvent(hooks.EventResolved, c.moniker, c.url)); err != nil {
		return nil, err
	}
	for _, child := range discovered {
		if err := c.model.dispatch(ctx, hooks.NewEvent(hooks.EventDiscovered, child.moniker, child.url)); err != nil {
			return nil, err
		}
	}
	return decl, nil
}

// addChildLocked creates a child instance and links it into the children
// map. Caller holds c.mu. The instance id increments each time a child of
// the same name is recreated.
func (c *ComponentInstance) addChildLocked(collection, name, url string) *ComponentInstance {
	var seg moniker.Segment
	if collection != "" {
		seg = moniker.NewCollectionSegment(collection, name, 0)
	} else {
		seg = moniker.NewSegment(name, 0)
	}
	key := seg.ChildName()
	seg.InstanceID = c.childIDs[key]
	c.childIDs[key]++

	inst := newInstance(c.model, c, c.moniker.Child(seg), url)
	c.children[key] = inst
	return inst
}

// LiveChild returns the live child with the given child name
// ("name" or "collection:name"), or nil.
func (c *ComponentInstance) LiveChild(childName string) *ComponentInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.children[childName]
}

// LiveChildren returns a snapshot of the live children.
func (c *ComponentInstance) LiveChildren() []*ComponentInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	children := make([]*ComponentInstance, 0, len(c.children))
	for _, child := range c.children {
		children = append(children, child)
	}
	return children
}

// RemoveChild unlinks the named child and marks it purged. Returns
// ErrInstanceNotFound if no such live child exists.
func (c *ComponentInstance) RemoveChild(childName string) (*ComponentInstance, error) {
	c.mu.Lock()
	child, ok := c.children[childName]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: child %q of %s", ErrInstanceNotFound, childName, c.moniker)
	}
	delete(c.children, childName)
	c.mu.Unlock()

	child.markPurged()
	return child, nil
}

func (c *ComponentInstance) markPurged() {
	c.mu.Lock()
	// Purged is the maximum state, setState cannot fail here.
	_ = c.setState(StatePurged)
	c.mu.Unlock()
	c.model.metrics.AddLiveInstances(-1)
}

// BeginStart validates that a start may proceed: the shutdown latch wins
// over everything, and an existing runtime makes the start an idempotent
// no-op signalled by ErrAlreadyStarted.
func (c *ComponentInstance) BeginStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePurged {
		return fmt.Errorf("%w: %s", ErrInstancePurged, c.moniker)
	}
	if c.shutDown {
		return fmt.Errorf("%w: %s", ErrInstanceShutDown, c.moniker)
	}
	if c.runtime != nil {
		return ErrAlreadyStarted
	}
	return nil
}

// CommitStart re-validates eligibility and commits the runtime. A shutdown
// that raced in since BeginStart is detected here and wins.
func (c *ComponentInstance) CommitStart(rt *Runtime) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutDown || c.state == StatePurged {
		return fmt.Errorf("%w: %s", ErrInstanceShutDown, c.moniker)
	}
	if c.runtime != nil {
		return ErrAlreadyStarted
	}
	rt.StartedAt = time.Now()
	c.runtime = rt
	return nil
}

// AttachProgram binds the launched program to the committed runtime. If the
// runtime was torn down while the runner was launching, the program is the
// caller's to kill and ErrInstanceShutDown is returned.
func (c *ComponentInstance) AttachProgram(rt *Runtime, prog Program) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runtime != rt {
		return fmt.Errorf("%w: %s", ErrInstanceShutDown, c.moniker)
	}
	rt.Program = prog
	return nil
}

// AbortStart rolls back a committed runtime after a failed runner launch.
func (c *ComponentInstance) AbortStart(rt *Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runtime == rt {
		c.runtime = nil
	}
}

// RuntimeSnapshot returns the committed runtime, or nil. The returned value
// must be treated as read-only.
func (c *ComponentInstance) RuntimeSnapshot() *Runtime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runtime
}

// LatchShutdown sets the shutdown latch and takes ownership of the runtime,
// if any. The second return value reports whether this call performed the
// latching transition; only that caller dispatches the stop notification.
func (c *ComponentInstance) LatchShutdown() (*Runtime, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	first := !c.shutDown
	c.shutDown = true
	rt := c.runtime
	c.runtime = nil
	return rt, first
}

// HandleProgramExit records a program termination observed by the exit
// watcher. If the exited program still owned the current runtime, the
// runtime is cleared and a stop notification dispatched; otherwise the exit
// belongs to an execution already torn down and is only logged.
func (c *ComponentInstance) HandleProgramExit(ctx context.Context, rt *Runtime, status ExitStatus) {
	c.mu.Lock()
	current := c.runtime == rt
	if current {
		c.runtime = nil
	}
	c.mu.Unlock()

	if !current {
		c.logger.Debug("ignoring exit of superseded program", "code", status.Code)
		return
	}

	c.logger.Info("program exited", "code", status.Code, internallog.Error(status.Err))
	if err := c.model.dispatch(ctx, hooks.NewEvent(hooks.EventStopped, c.moniker, c.url)); err != nil {
		c.logger.Warn("stop notification failed", internallog.Error(err))
	}
}
