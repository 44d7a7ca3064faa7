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

// Package crash attributes process crashes to component instances.
//
// When a supervised program terminates abnormally, the runner files a report
// keyed by the kernel object id of the crashed process. A crash introspection
// consumer then has a bounded window to claim the report and learn which
// component the process belonged to. Unclaimed reports expire so the cache
// cannot grow without bound.
package crash

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	internallog "github.com/tombee/steward/internal/log"
)

// DefaultTTL is how long a report stays claimable.
const DefaultTTL = 10 * time.Minute

// defaultPurgeInterval is the purge wakeup period while no records are held.
const defaultPurgeInterval = time.Minute

// ErrReportNotFound is returned by TakeReport when no claimable report
// exists for the koid, either because none was filed or because it expired.
var ErrReportNotFound = errors.New("crash: no report for koid")

// Info identifies the component a crashed process belonged to.
type Info struct {
	// URL is the component URL of the instance.
	URL string `json:"url"`

	// Moniker is the instance moniker string.
	Moniker string `json:"moniker"`
}

type record struct {
	deadline time.Time
	koid     uint64
	info     Info
}

// Records is the TTL cache of crash reports. Construct one per daemon with
// NewRecords and thread it explicitly to the runner and the diagnostics
// surface.
type Records struct {
	ttl      time.Duration
	logger   *slog.Logger
	missWarn *rate.Limiter

	mu sync.Mutex
	// Appended with a fixed TTL, so always deadline-sorted.
	records []record

	wake chan struct{}
}

// Options configures a Records cache.
type Options struct {
	// TTL overrides DefaultTTL. Zero keeps the default.
	TTL time.Duration

	Logger *slog.Logger
}

// NewRecords creates an empty cache and starts its purge goroutine, which
// runs until ctx is cancelled.
func NewRecords(ctx context.Context, opts Options) *Records {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Records{
		ttl:    ttl,
		logger: internallog.WithComponent(logger, "crash"),
		// Unattributed crash lookups are worth a warning, but a crash loop
		// must not flood the log.
		missWarn: rate.NewLimiter(rate.Every(10*time.Second), 5),
		wake:     make(chan struct{}, 1),
	}
	go r.purgeLoop(ctx)
	return r
}

// AddReport files a crash report for the given process koid.
func (r *Records) AddReport(koid uint64, info Info) {
	r.mu.Lock()
	r.records = append(r.records, record{
		deadline: time.Now().Add(r.ttl),
		koid:     koid,
		info:     info,
	})
	r.mu.Unlock()

	// Nudge the purger in case it was sleeping on the empty-cache interval.
	select {
	case r.wake <- struct{}{}:
	default:
	}

	r.logger.Debug("filed crash report", internallog.KoidKey, koid, internallog.MonikerKey, info.Moniker)
}

// TakeReport claims and removes the report for the koid. A miss means the
// crash either was not supervised here or its report already expired.
func (r *Records) TakeReport(koid uint64) (Info, error) {
	r.mu.Lock()
	for i, rec := range r.records {
		if rec.koid == koid {
			r.records = append(r.records[:i], r.records[i+1:]...)
			r.mu.Unlock()
			return rec.info, nil
		}
	}
	r.mu.Unlock()

	if r.missWarn.Allow() {
		r.logger.Warn("no crash report for process", internallog.KoidKey, koid)
	}
	return Info{}, ErrReportNotFound
}

// Len returns the number of held reports.
func (r *Records) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// purgeLoop drops expired records. It sleeps until the oldest record's
// deadline, or the default interval while the cache is empty, and exits on
// context cancellation.
func (r *Records) purgeLoop(ctx context.Context) {
	timer := time.NewTimer(defaultPurgeInterval)
	defer timer.Stop()

	for {
		r.mu.Lock()
		now := time.Now()
		expired := 0
		for expired < len(r.records) && !r.records[expired].deadline.After(now) {
			expired++
		}
		if expired > 0 {
			r.records = r.records[expired:]
		}
		next := defaultPurgeInterval
		if len(r.records) > 0 {
			next = time.Until(r.records[0].deadline)
		}
		r.mu.Unlock()

		if expired > 0 {
			r.logger.Debug("purged expired crash reports", "count", expired)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-r.wake:
		}
	}
}
