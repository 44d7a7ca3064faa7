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
	"sync"
	"time"
)

// ActionKind identifies a class of mutually exclusive lifecycle work.
type ActionKind string

const (
	ActionStart        ActionKind = "start"
	ActionShutdown     ActionKind = "shutdown"
	ActionDestroyChild ActionKind = "destroy_child"
)

// ActionKey is the dedup identity of an action on one instance. Two
// registrations with an equal key coalesce onto a single execution.
type ActionKey struct {
	Kind ActionKind

	// Child scopes child-targeted actions such as destroy, so destroying
	// different children of the same parent proceeds independently.
	Child string
}

// Action is a unit of asynchronous lifecycle work on one instance.
type Action interface {
	// Key returns the coalescing identity of the action.
	Key() ActionKey

	// Handle performs the work. It runs at most once per in-flight key and
	// its result is broadcast to every coalesced caller.
	Handle(ctx context.Context, inst *ComponentInstance) error
}

// actionCell is a single-assignment, multi-waiter result slot. The error is
// written exactly once, before done is closed.
type actionCell struct {
	done chan struct{}
	err  error
}

// ActionSet tracks in-flight actions for one instance: at most one live
// entry per key at any time. Entries are removed once the result has been
// broadcast; a registration arriving after removal runs the action again,
// which is safe because every action is idempotent.
type ActionSet struct {
	metrics MetricsCollector

	mu       sync.Mutex
	inFlight map[ActionKey]*actionCell
}

func newActionSet(metrics MetricsCollector) *ActionSet {
	return &ActionSet{
		metrics:  metrics,
		inFlight: make(map[ActionKey]*actionCell),
	}
}

// Register runs the action, coalescing with any in-flight registration of
// the same key. Exactly one caller executes Handle; all callers observe the
// identical result. Errors are returned verbatim and never retried.
//
// A caller whose context expires while waiting stops observing the action;
// the execution itself continues for the remaining callers.
func (s *ActionSet) Register(ctx context.Context, inst *ComponentInstance, action Action) error {
	key := action.Key()

	s.mu.Lock()
	if cell, ok := s.inFlight[key]; ok {
		s.mu.Unlock()
		s.metrics.RecordCoalescedJoin(string(key.Kind))
		select {
		case <-cell.done:
			return cell.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cell := &actionCell{done: make(chan struct{})}
	s.inFlight[key] = cell
	s.mu.Unlock()

	s.metrics.RecordActionStart(string(key.Kind), inst.moniker.String())
	started := time.Now()

	cell.err = action.Handle(ctx, inst)
	close(cell.done)

	status := "ok"
	if cell.err != nil {
		status = "error"
	}
	s.metrics.RecordActionComplete(string(key.Kind), inst.moniker.String(), status, time.Since(started))

	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()

	return cell.err
}
