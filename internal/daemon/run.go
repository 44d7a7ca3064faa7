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

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/steward/internal/config"
	"github.com/tombee/steward/internal/log"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version string

	// ConfigPath overrides the default config file location.
	ConfigPath string

	// Config overrides
	RootURL     string
	SocketPath  string
	ListenAddr  string
	PIDFile     string
	AllowRemote bool
}

// Run starts the daemon and blocks until a termination signal or a fatal
// error. This is the entry point for both foreground mode
// (stewardd --foreground) and the detached child.
func Run(opts RunOptions) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	if opts.RootURL != "" {
		cfg.Daemon.RootURL = opts.RootURL
	}
	if opts.SocketPath != "" {
		cfg.Daemon.SocketPath = opts.SocketPath
	}
	if opts.ListenAddr != "" {
		cfg.Daemon.ListenAddr = opts.ListenAddr
	}
	if opts.PIDFile != "" {
		cfg.Daemon.PIDFile = opts.PIDFile
	}
	if opts.AllowRemote {
		cfg.Daemon.AllowRemote = true
		logger.Warn("allow_remote is enabled; the daemon will accept connections from any network address")
	}

	d, err := New(cfg, Options{Version: opts.Version})
	if err != nil {
		logger.Error("failed to create daemon", slog.Any("error", err))
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", slog.Any("error", err))
			return fmt.Errorf("daemon error: %w", err)
		}
		return nil
	}
}
