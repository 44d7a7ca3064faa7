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

// Package events records lifecycle events into the persistent event log.
package events

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/steward/internal/events/storage"
	"github.com/tombee/steward/internal/hooks"
	internallog "github.com/tombee/steward/internal/log"
)

// AllEventTypes lists every lifecycle event type, for hooks that observe
// the whole lifecycle.
var AllEventTypes = []hooks.EventType{
	hooks.EventDiscovered,
	hooks.EventResolved,
	hooks.EventStarted,
	hooks.EventStopped,
	hooks.EventDestroyed,
	hooks.EventDynamicChildAdded,
	hooks.EventDynamicChildRemoved,
	hooks.EventCapabilityRouted,
}

// Logger is a hook that appends every observed event to the event store.
// Persistence failures never fail the dispatch: losing a log row is better
// than wedging a lifecycle transition.
type Logger struct {
	store    *storage.Store
	logger   *slog.Logger
	failWarn *rate.Limiter
}

// NewLogger creates the event-logger hook backed by the given store.
func NewLogger(store *storage.Store, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		store:    store,
		logger:   internallog.WithComponent(logger, "event-log"),
		failWarn: rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
}

// Registration returns the hook registration observing all event types.
func (l *Logger) Registration() hooks.Registration {
	return hooks.Registration{Hook: l, Events: AllEventTypes}
}

// Name implements hooks.Hook.
func (l *Logger) Name() string { return "event-log" }

// On implements hooks.Hook.
func (l *Logger) On(ctx context.Context, ev hooks.Event) error {
	stored := storage.StoredEvent{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Moniker:   ev.Moniker.String(),
		URL:       ev.URL,
		Timestamp: ev.Timestamp,
	}
	if ev.Err != nil {
		stored.Error = ev.Err.Error()
	}

	if err := l.store.Append(ctx, stored); err != nil {
		if l.failWarn.Allow() {
			l.logger.Warn("event not persisted",
				internallog.EventKey, string(ev.Type),
				internallog.MonikerKey, stored.Moniker,
				internallog.Error(err))
		}
	}
	return nil
}
