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

// Package daemon assembles the steward lifecycle engine: the component
// model, the ELF runner, crash records, the event log and the diagnostics
// API, driven from a single configuration.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tombee/steward/internal/config"
	"github.com/tombee/steward/internal/crash"
	"github.com/tombee/steward/internal/diagnostics"
	"github.com/tombee/steward/internal/elfrunner"
	"github.com/tombee/steward/internal/events"
	"github.com/tombee/steward/internal/events/storage"
	"github.com/tombee/steward/internal/hooks"
	"github.com/tombee/steward/internal/lifecycle"
	internallog "github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/metrics"
	"github.com/tombee/steward/internal/model"
	"github.com/tombee/steward/internal/model/actions"
	"github.com/tombee/steward/internal/resolver"
)

// Options contains daemon options set at build time.
type Options struct {
	Version string
}

// Daemon is the main stewardd daemon.
type Daemon struct {
	cfg       *config.Config
	opts      Options
	logger    *slog.Logger
	model     *model.Model
	crashes   *crash.Records
	collector *metrics.Collector
	store     *storage.Store
	watcher   *resolver.CollectionWatcher
	pidFile   *lifecycle.PIDFileManager

	crashCancel context.CancelFunc

	server *http.Server
	ln     net.Listener

	mu             sync.Mutex
	started        bool
	watcherStarted bool
}

// New creates a daemon from the configuration. Nothing is started until
// Start is called.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := internallog.WithComponent(internallog.New(loggerConfig(cfg.Log)), "daemon")

	collector := metrics.NewCollector()
	registry := hooks.NewRegistry()

	var store *storage.Store
	if cfg.Daemon.EventDBPath != "" {
		s, err := storage.New(storage.Config{Path: cfg.Daemon.EventDBPath})
		if err != nil {
			return nil, fmt.Errorf("daemon: opening event log: %w", err)
		}
		store = s
		eventLog := events.NewLogger(store, logger)
		if err := registry.Install([]hooks.Registration{eventLog.Registration()}); err != nil {
			store.Close()
			return nil, fmt.Errorf("daemon: installing event log hook: %w", err)
		}
	}

	crashCtx, crashCancel := context.WithCancel(context.Background())
	crashes := crash.NewRecords(crashCtx, crash.Options{
		TTL:    cfg.Daemon.CrashRecordTTL,
		Logger: logger,
	})

	runner := elfrunner.NewRunner(logger).WithCrashReporter(crashes)

	m, err := model.New(model.Options{
		RootURL:        cfg.Daemon.RootURL,
		Resolver:       resolver.NewFileResolver(cfg.Daemon.ManifestDir),
		Runners:        map[string]model.Runner{"elf": runner},
		Hooks:          registry,
		Metrics:        collector,
		Logger:         logger,
		RuntimeDirBase: cfg.RuntimeDirBase(),
	})
	if err != nil {
		crashCancel()
		if store != nil {
			store.Close()
		}
		return nil, fmt.Errorf("daemon: creating model: %w", err)
	}

	var watcher *resolver.CollectionWatcher
	if cfg.Daemon.WatchCollection != "" {
		watcher, err = resolver.NewCollectionWatcher(m, cfg.Daemon.WatchCollection, cfg.Daemon.WatchDir)
		if err != nil {
			crashCancel()
			if store != nil {
				store.Close()
			}
			return nil, fmt.Errorf("daemon: watching %s: %w", cfg.Daemon.WatchDir, err)
		}
	}

	return &Daemon{
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		model:       m,
		crashes:     crashes,
		collector:   collector,
		store:       store,
		watcher:     watcher,
		crashCancel: crashCancel,
	}, nil
}

// Model returns the component model, for inspection in tests.
func (d *Daemon) Model() *model.Model { return d.model }

// Addr returns the diagnostics listener address once the daemon is started.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return nil
	}
	return d.ln.Addr()
}

// Start discovers and starts the root instance, serves the diagnostics API
// and blocks until the context is cancelled or the server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	if d.cfg.Daemon.PIDFile != "" {
		pf := lifecycle.NewPIDFileManager(d.cfg.Daemon.PIDFile)
		if err := pf.Create(os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		d.pidFile = pf
	}

	ln, err := newListener(d.cfg.Daemon)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	router := diagnostics.NewRouter(diagnostics.RouterConfig{
		Model:    d.model,
		Crashes:  d.crashes,
		Events:   d.store,
		Registry: d.collector.Registry(),
		Version:  d.opts.Version,
		Logger:   d.logger,
	})

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	d.mu.Lock()
	d.ln = ln
	d.server = server
	d.mu.Unlock()

	if err := d.model.DiscoverRoot(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("failed to discover root: %w", err)
	}
	if err := actions.Start(ctx, d.model.Root()); err != nil {
		ln.Close()
		return fmt.Errorf("failed to start root: %w", err)
	}

	if d.watcher != nil {
		d.watcher.Start(ctx)
		d.mu.Lock()
		d.watcherStarted = true
		d.mu.Unlock()
	}
	if d.store != nil && d.cfg.Daemon.EventRetention > 0 {
		go d.pruneLoop(ctx)
	}

	d.logger.Info("stewardd started",
		slog.String("version", d.opts.Version),
		slog.String("root_url", d.cfg.Daemon.RootURL),
		slog.String("listen_addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops every component, bounded by the configured shutdown
// timeout, then tears down the diagnostics server and the event log.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.logger.Info("graceful shutdown initiated",
		slog.Duration("timeout", d.cfg.Daemon.ShutdownTimeout))

	drainCtx := ctx
	if d.cfg.Daemon.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, d.cfg.Daemon.ShutdownTimeout)
		defer cancel()
	}
	if err := actions.Shutdown(drainCtx, d.model.Root()); err != nil {
		d.logger.Warn("component shutdown incomplete", internallog.Error(err))
	}

	if d.watcher != nil && d.watcherStarted {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("manifest watcher shutdown error", internallog.Error(err))
		}
		d.watcherStarted = false
	}

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", internallog.Error(err))
		}
	}

	d.crashCancel()

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error("failed to close event log", internallog.Error(err))
		}
	}

	if d.pidFile != nil {
		if err := d.pidFile.Remove(); err != nil {
			d.logger.Error("failed to remove PID file", internallog.Error(err))
		}
	}

	if d.cfg.Daemon.ListenAddr == "" && d.cfg.Daemon.SocketPath != "" {
		if err := os.Remove(d.cfg.Daemon.SocketPath); err != nil && !os.IsNotExist(err) {
			d.logger.Error("failed to remove socket file", internallog.Error(err))
		}
	}

	d.started = false
	d.logger.Info("daemon stopped")
	return nil
}

// pruneLoop periodically drops persisted events older than the retention
// window.
func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-d.cfg.Daemon.EventRetention)
			n, err := d.store.Prune(ctx, cutoff)
			if err != nil {
				d.logger.Warn("event log prune failed", internallog.Error(err))
				continue
			}
			if n > 0 {
				d.logger.Debug("pruned events", slog.Int64("count", n))
			}
		}
	}
}

// loggerConfig maps the daemon log configuration onto the logger package.
// Explicit config file settings override the environment defaults.
func loggerConfig(lc config.LogConfig) *internallog.Config {
	cfg := internallog.FromEnv()
	if lc.Level != "" {
		cfg.Level = lc.Level
	}
	if lc.Format != "" {
		cfg.Format = internallog.Format(lc.Format)
	}
	return cfg
}
