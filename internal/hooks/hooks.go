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

// Package hooks provides the lifecycle event bus.
//
// Hooks are observers of lifecycle events, installed once at boot and
// immutable thereafter. Actions dispatch events through the Registry; hooks
// for a given event type run in installation order, and the first hard error
// aborts the remaining hooks for that dispatch.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/steward/internal/moniker"
)

// EventType identifies a kind of lifecycle event.
type EventType string

const (
	// EventDiscovered fires when an instance is added to the tree.
	EventDiscovered EventType = "discovered"
	// EventResolved fires when an instance's declaration has been resolved.
	EventResolved EventType = "resolved"
	// EventStarted fires when a start attempt completes, successfully or
	// not; failed starts carry the error in Event.Err.
	EventStarted EventType = "started"
	// EventStopped fires when an instance's execution has been stopped.
	EventStopped EventType = "stopped"
	// EventDestroyed fires after an instance has been shut down and is about
	// to be removed from its parent.
	EventDestroyed EventType = "destroyed"
	// EventDynamicChildAdded fires when a child is created in a collection.
	EventDynamicChildAdded EventType = "dynamic_child_added"
	// EventDynamicChildRemoved fires when a dynamic child is removed.
	EventDynamicChildRemoved EventType = "dynamic_child_removed"
	// EventCapabilityRouted fires when a framework capability is routed.
	EventCapabilityRouted EventType = "capability_routed"
)

var (
	// ErrAlreadyServing is returned by Install once dispatch has begun.
	ErrAlreadyServing = errors.New("hooks: registry is already serving dispatch")

	// ErrEventNotHandled is the acknowledgement a hook returns when an event
	// is outside its lifespan of interest. For stop and destroy events it is
	// non-fatal and does not abort the chain.
	ErrEventNotHandled = errors.New("hooks: event not handled by this hook")
)

// Event is a single lifecycle event delivered to hooks.
type Event struct {
	// ID uniquely identifies this dispatch.
	ID string

	// Type is the event kind.
	Type EventType

	// Moniker names the instance the event concerns.
	Moniker moniker.Moniker

	// URL is the component URL of the instance, when known.
	URL string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Err carries the failure for error-payload events such as a failed
	// start. Nil on the success path.
	Err error
}

// NewEvent creates an event with a fresh id and timestamp.
func NewEvent(t EventType, m moniker.Moniker, url string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Moniker:   m,
		URL:       url,
		Timestamp: time.Now(),
	}
}

// NewErrorEvent creates an error-payload event, used to notify observers of
// failed operations such as a start that never committed.
func NewErrorEvent(t EventType, m moniker.Moniker, url string, err error) Event {
	ev := NewEvent(t, m, url)
	ev.Err = err
	return ev
}

// Hook observes lifecycle events.
type Hook interface {
	// Name identifies the hook in logs and errors.
	Name() string

	// On handles one event. Returning an error aborts the remaining hooks
	// for this dispatch unless the error is a non-fatal acknowledgement for
	// the event type.
	On(ctx context.Context, ev Event) error
}

// Registration binds a hook to the event types it wants to observe.
type Registration struct {
	Hook   Hook
	Events []EventType
}

// ackErrors lists, per event type, errors that are treated as non-fatal
// acknowledgements rather than dispatch failures. Stop and destroy
// notifications tolerate hooks whose lifespan does not cover the instance.
var ackErrors = map[EventType][]error{
	EventStopped:   {ErrEventNotHandled},
	EventDestroyed: {ErrEventNotHandled},
}

// Registry is the ordered, install-once hook registry.
type Registry struct {
	mu      sync.RWMutex
	serving bool
	hooks   map[EventType][]Hook
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[EventType][]Hook),
	}
}

// Install registers hooks for the event types they declare. It is only
// valid before the registry begins serving dispatch; installation order is
// dispatch order.
func (r *Registry) Install(regs []Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.serving {
		return ErrAlreadyServing
	}
	for _, reg := range regs {
		for _, t := range reg.Events {
			r.hooks[t] = append(r.hooks[t], reg.Hook)
		}
	}
	return nil
}

// Dispatch delivers the event to every hook registered for its type, in
// installation order. The first hard error aborts the remaining hooks and is
// returned to the caller.
func (r *Registry) Dispatch(ctx context.Context, ev Event) error {
	r.mu.Lock()
	r.serving = true
	hooks := r.hooks[ev.Type]
	r.mu.Unlock()

	for _, h := range hooks {
		if err := h.On(ctx, ev); err != nil {
			if isAck(ev.Type, err) {
				continue
			}
			return fmt.Errorf("hook %s failed on %s for %s: %w", h.Name(), ev.Type, ev.Moniker, err)
		}
	}
	return nil
}

func isAck(t EventType, err error) bool {
	for _, ack := range ackErrors[t] {
		if errors.Is(err, ack) {
			return true
		}
	}
	return false
}
