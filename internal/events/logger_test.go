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

package events

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/steward/internal/events/storage"
	"github.com/tombee/steward/internal/hooks"
	"github.com/tombee/steward/internal/moniker"
)

func newLogger(t *testing.T) (*Logger, *storage.Store) {
	t.Helper()
	store, err := storage.New(storage.Config{Path: filepath.Join(t.TempDir(), "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewLogger(store, nil), store
}

func TestLoggerPersistsEvents(t *testing.T) {
	l, store := newLogger(t)
	ctx := context.Background()

	mon, err := moniker.Parse("a:0")
	require.NoError(t, err)

	ev := hooks.NewEvent(hooks.EventStarted, mon, "steward:///a")
	require.NoError(t, l.On(ctx, ev))

	got, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, "started", got[0].Type)
	assert.Equal(t, "a:0", got[0].Moniker)
	assert.Equal(t, "steward:///a", got[0].URL)
	assert.Empty(t, got[0].Error)
}

func TestLoggerPersistsErrorPayload(t *testing.T) {
	l, store := newLogger(t)
	ctx := context.Background()

	mon, err := moniker.Parse("a:0")
	require.NoError(t, err)

	ev := hooks.NewErrorEvent(hooks.EventStarted, mon, "steward:///a", errors.New("boom"))
	require.NoError(t, l.On(ctx, ev))

	got, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Error)
}

func TestLoggerNeverFailsDispatch(t *testing.T) {
	store, err := storage.New(storage.Config{Path: filepath.Join(t.TempDir(), "events.db")})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	l := NewLogger(store, nil)
	mon, err := moniker.Parse("a:0")
	require.NoError(t, err)

	// The store is closed, persistence fails, but dispatch must proceed.
	assert.NoError(t, l.On(context.Background(), hooks.NewEvent(hooks.EventStopped, mon, "")))
}

func TestRegistrationObservesAllTypes(t *testing.T) {
	l, _ := newLogger(t)
	reg := l.Registration()
	assert.Equal(t, AllEventTypes, reg.Events)
	assert.Equal(t, l, reg.Hook)
}
