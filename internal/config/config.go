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

// Package config loads and validates the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete steward daemon configuration.
type Config struct {
	Daemon DaemonConfig `yaml:"daemon"`
	Log    LogConfig    `yaml:"log"`
}

// DaemonConfig configures the daemon process and the lifecycle engine.
type DaemonConfig struct {
	// RootURL is the component URL of the root instance.
	// Default: steward:///root
	RootURL string `yaml:"root_url,omitempty"`

	// ManifestDir is the directory holding component manifests resolved via
	// steward:/// URLs.
	// Default: <config dir>/manifests
	ManifestDir string `yaml:"manifest_dir,omitempty"`

	// DataDir is the directory for daemon state: the event log database and
	// per-instance runtime directories.
	// Default: ~/.local/share/steward
	DataDir string `yaml:"data_dir,omitempty"`

	// SocketPath is the Unix socket the diagnostics API listens on. If
	// ListenAddr is set it takes precedence.
	// Environment: STEWARD_SOCKET
	// Default: <runtime dir>/steward.sock
	SocketPath string `yaml:"socket_path,omitempty"`

	// ListenAddr is an optional TCP listen address for the diagnostics API,
	// e.g. "127.0.0.1:7733". Empty means Unix socket only.
	// Environment: STEWARD_LISTEN
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// AllowRemote permits ListenAddr to bind non-localhost interfaces.
	AllowRemote bool `yaml:"allow_remote,omitempty"`

	// PIDFile is the path to the PID file. Empty means no PID file.
	PIDFile string `yaml:"pid_file,omitempty"`

	// EventDBPath is the path of the lifecycle event log database.
	// Default: <data dir>/events.db
	EventDBPath string `yaml:"event_db_path,omitempty"`

	// EventRetention is how long persisted events are kept.
	// Default: 168h
	EventRetention time.Duration `yaml:"event_retention,omitempty"`

	// CrashRecordTTL is how long an unclaimed crash report stays claimable.
	// Default: 10m
	CrashRecordTTL time.Duration `yaml:"crash_record_ttl,omitempty"`

	// ShutdownTimeout bounds the graceful drain on SIGTERM: components get
	// this long to stop before their jobs are killed.
	// Environment: STEWARD_SHUTDOWN_TIMEOUT
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// WatchCollection, when set together with WatchDir, mirrors manifests
	// appearing in WatchDir into the named collection of the root instance.
	WatchCollection string `yaml:"watch_collection,omitempty"`
	WatchDir        string `yaml:"watch_dir,omitempty"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `yaml:"level,omitempty"`

	// Format is "json" or "text". Default: json.
	Format string `yaml:"format,omitempty"`
}

// Default returns the configuration defaults, with directories resolved for
// the current user.
func Default() (*Config, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Daemon: DaemonConfig{
			RootURL:         "steward:///root",
			ManifestDir:     filepath.Join(configDir, "manifests"),
			DataDir:         dataDir,
			SocketPath:      filepath.Join(dataDir, "steward.sock"),
			EventDBPath:     filepath.Join(dataDir, "events.db"),
			EventRetention:  7 * 24 * time.Hour,
			CrashRecordTTL:  10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
	return cfg, nil
}

// Load reads the config file at path, applies defaults for unset fields and
// environment overrides, and validates the result. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path, err = ConfigPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("STEWARD_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("STEWARD_LISTEN"); v != "" {
		c.Daemon.ListenAddr = v
	}
	if v := os.Getenv("STEWARD_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Daemon.ShutdownTimeout = d
		}
	}
}

// applyFallbacks fills derived fields that depend on other settings.
func (c *Config) applyFallbacks() {
	if c.Daemon.EventDBPath == "" && c.Daemon.DataDir != "" {
		c.Daemon.EventDBPath = filepath.Join(c.Daemon.DataDir, "events.db")
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Daemon.RootURL == "" {
		return fmt.Errorf("%w: daemon.root_url is required", ErrInvalidConfig)
	}
	if c.Daemon.SocketPath == "" && c.Daemon.ListenAddr == "" {
		return fmt.Errorf("%w: daemon needs a socket path or a listen address", ErrInvalidConfig)
	}
	if c.Daemon.CrashRecordTTL < 0 {
		return fmt.Errorf("%w: daemon.crash_record_ttl must not be negative", ErrInvalidConfig)
	}
	if c.Daemon.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: daemon.shutdown_timeout must not be negative", ErrInvalidConfig)
	}
	if (c.Daemon.WatchCollection == "") != (c.Daemon.WatchDir == "") {
		return fmt.Errorf("%w: daemon.watch_collection and daemon.watch_dir must be set together", ErrInvalidConfig)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q is not one of debug, info, warn, error", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: log.format %q is not json or text", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// RuntimeDirBase returns the base directory for per-instance runtime
// directories.
func (c *Config) RuntimeDirBase() string {
	if c.Daemon.DataDir == "" {
		return ""
	}
	return filepath.Join(c.Daemon.DataDir, "instances")
}
