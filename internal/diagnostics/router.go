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

// Package diagnostics provides the daemon's local introspection HTTP API.
package diagnostics

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/steward/internal/crash"
	"github.com/tombee/steward/internal/events/storage"
	internallog "github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/model"
)

// RouterConfig holds the router's collaborators. Model is required; the
// others enable their endpoints when present.
type RouterConfig struct {
	Model    *model.Model
	Crashes  *crash.Records
	Events   *storage.Store
	Registry *prometheus.Registry
	Version  string
	Logger   *slog.Logger
}

// Router serves the diagnostics endpoints.
type Router struct {
	mux     *http.ServeMux
	model   *model.Model
	crashes *crash.Records
	events  *storage.Store
	version string
	logger  *slog.Logger
}

// NewRouter creates the diagnostics router and registers all endpoints.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		mux:     http.NewServeMux(),
		model:   cfg.Model,
		crashes: cfg.Crashes,
		events:  cfg.Events,
		version: cfg.Version,
		logger:  internallog.WithComponent(logger, "diagnostics"),
	}

	r.mux.HandleFunc("GET /healthz", r.handleHealth)
	r.mux.HandleFunc("GET /v1/instances", r.handleInstances)
	if r.crashes != nil {
		r.mux.HandleFunc("GET /v1/crashes/{koid}", r.handleTakeCrash)
	}
	if r.events != nil {
		r.mux.HandleFunc("GET /v1/events", r.handleEvents)
	}
	if cfg.Registry != nil {
		r.mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": r.version,
	})
}

func (r *Router) handleInstances(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, model.Describe(r.model.Root()))
}

// handleTakeCrash claims the crash report for a process koid. Claiming is
// destructive: the report is handed to exactly one caller.
func (r *Router) handleTakeCrash(w http.ResponseWriter, req *http.Request) {
	koid, err := strconv.ParseUint(req.PathValue("koid"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "koid must be an unsigned integer")
		return
	}

	info, err := r.crashes.TakeReport(koid)
	if err != nil {
		if errors.Is(err, crash.ErrReportNotFound) {
			writeError(w, http.StatusNotFound, "no crash report for koid")
			return
		}
		r.logger.Error("taking crash report", internallog.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to take crash report")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		evs []storage.StoredEvent
		err error
	)
	if mon := req.URL.Query().Get("moniker"); mon != "" {
		evs, err = r.events.ByMoniker(req.Context(), mon, limit)
	} else {
		evs, err = r.events.Recent(req.Context(), limit)
	}
	if err != nil {
		r.logger.Error("querying event log", internallog.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	if evs == nil {
		evs = []storage.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}
