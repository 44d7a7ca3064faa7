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

package crash

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecords(t *testing.T, ttl time.Duration) *Records {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRecords(ctx, Options{TTL: ttl})
}

func TestAddThenTake(t *testing.T) {
	r := newRecords(t, DefaultTTL)
	want := Info{URL: "file:///thing", Moniker: "coll:thing:0"}

	r.AddReport(42, want)

	got, err := r.TakeReport(42)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTakeRemovesReport(t *testing.T) {
	r := newRecords(t, DefaultTTL)
	r.AddReport(42, Info{Moniker: "a:0"})

	_, err := r.TakeReport(42)
	require.NoError(t, err)

	_, err = r.TakeReport(42)
	assert.ErrorIs(t, err, ErrReportNotFound)
	assert.Zero(t, r.Len())
}

func TestTakeUnknownKoid(t *testing.T) {
	r := newRecords(t, DefaultTTL)
	_, err := r.TakeReport(7)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestDistinctKoidsAreIndependent(t *testing.T) {
	r := newRecords(t, DefaultTTL)
	r.AddReport(1, Info{Moniker: "a:0"})
	r.AddReport(2, Info{Moniker: "b:0"})

	got, err := r.TakeReport(2)
	require.NoError(t, err)
	assert.Equal(t, "b:0", got.Moniker)

	got, err = r.TakeReport(1)
	require.NoError(t, err)
	assert.Equal(t, "a:0", got.Moniker)
}

func TestExpiredReportIsPurged(t *testing.T) {
	r := newRecords(t, 30*time.Millisecond)
	r.AddReport(42, Info{Moniker: "a:0"})

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Zero(t, r.Len(), "the purge goroutine must drop the expired report")

	_, err := r.TakeReport(42)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestCacheUsableAfterPurgerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRecords(ctx, Options{TTL: DefaultTTL})
	cancel()
	time.Sleep(10 * time.Millisecond)

	r.AddReport(1, Info{Moniker: "a:0"})
	got, err := r.TakeReport(1)
	require.NoError(t, err)
	assert.Equal(t, "a:0", got.Moniker)
}

func TestConcurrentAddAndTake(t *testing.T) {
	r := newRecords(t, DefaultTTL)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(koid uint64) {
			defer wg.Done()
			r.AddReport(koid, Info{Moniker: fmt.Sprintf("w:%d", koid)})
			got, err := r.TakeReport(koid)
			if err != nil {
				t.Errorf("take %d: %v", koid, err)
				return
			}
			if got.Moniker != fmt.Sprintf("w:%d", koid) {
				t.Errorf("take %d: got %q", koid, got.Moniker)
			}
		}(uint64(i))
	}
	wg.Wait()
	assert.Zero(t, r.Len())
}
