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

// Package metrics exposes lifecycle observability counters via prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/steward/internal/model"
)

// Collector implements model.MetricsCollector on a prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	actionStarts   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	coalescedJoins *prometheus.CounterVec
	eventDispatch  *prometheus.CounterVec
	liveInstances  prometheus.Gauge
	crashRecords   prometheus.Gauge
}

// NewCollector creates a collector with its own registry, so tests and
// multiple daemons in one process never collide on metric registration.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		actionStarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_action_starts_total",
				Help: "Total action executions by action kind",
			},
			[]string{"kind"},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_action_duration_seconds",
				Help:    "Action execution duration by kind and outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "status"},
		),
		coalescedJoins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_action_coalesced_joins_total",
				Help: "Total registrations that joined an in-flight action",
			},
			[]string{"kind"},
		),
		eventDispatch: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_event_dispatches_total",
				Help: "Total lifecycle event dispatches by event type",
			},
			[]string{"type"},
		),
		liveInstances: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "steward_live_instances",
				Help: "Number of live component instances in the tree",
			},
		),
		crashRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "steward_crash_records",
				Help: "Number of held crash reports awaiting claim",
			},
		),
	}
}

// Registry returns the collector's prometheus registry, for the /metrics
// handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordActionStart implements model.MetricsCollector.
func (c *Collector) RecordActionStart(kind, moniker string) {
	c.actionStarts.WithLabelValues(kind).Inc()
}

// RecordActionComplete implements model.MetricsCollector.
func (c *Collector) RecordActionComplete(kind, moniker, status string, duration time.Duration) {
	c.actionDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// RecordCoalescedJoin implements model.MetricsCollector.
func (c *Collector) RecordCoalescedJoin(kind string) {
	c.coalescedJoins.WithLabelValues(kind).Inc()
}

// RecordEventDispatch implements model.MetricsCollector.
func (c *Collector) RecordEventDispatch(eventType string) {
	c.eventDispatch.WithLabelValues(eventType).Inc()
}

// AddLiveInstances implements model.MetricsCollector.
func (c *Collector) AddLiveInstances(delta int) {
	c.liveInstances.Add(float64(delta))
}

// SetCrashRecords sets the held crash report gauge.
func (c *Collector) SetCrashRecords(n int) {
	c.crashRecords.Set(float64(n))
}

var _ model.MetricsCollector = (*Collector)(nil)
