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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "data"))
	t.Setenv("STEWARD_SOCKET", "")
	t.Setenv("STEWARD_LISTEN", "")
	t.Setenv("STEWARD_SHUTDOWN_TIMEOUT", "")
}

func TestDefaults(t *testing.T) {
	isolateHome(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "steward:///root", cfg.Daemon.RootURL)
	assert.NotEmpty(t, cfg.Daemon.SocketPath)
	assert.NotEmpty(t, cfg.Daemon.EventDBPath)
	assert.Equal(t, 10*time.Minute, cfg.Daemon.CrashRecordTTL)
	assert.Equal(t, 30*time.Second, cfg.Daemon.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFile(t *testing.T) {
	isolateHome(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
daemon:
  root_url: steward:///system
  crash_record_ttl: 5m
  shutdown_timeout: 10s
log:
  level: debug
  format: text
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "steward:///system", cfg.Daemon.RootURL)
	assert.Equal(t, 5*time.Minute, cfg.Daemon.CrashRecordTTL)
	assert.Equal(t, 10*time.Second, cfg.Daemon.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestEnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("STEWARD_SOCKET", "/tmp/custom.sock")
	t.Setenv("STEWARD_LISTEN", "127.0.0.1:7733")
	t.Setenv("STEWARD_SHUTDOWN_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", cfg.Daemon.SocketPath)
	assert.Equal(t, "127.0.0.1:7733", cfg.Daemon.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.Daemon.ShutdownTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"missing root url", func(c *Config) { c.Daemon.RootURL = "" }, true},
		{"no listener at all", func(c *Config) {
			c.Daemon.SocketPath = ""
			c.Daemon.ListenAddr = ""
		}, true},
		{"negative crash ttl", func(c *Config) { c.Daemon.CrashRecordTTL = -time.Second }, true},
		{"watch dir without collection", func(c *Config) { c.Daemon.WatchDir = "/tmp/w" }, true},
		{"watch pair set together", func(c *Config) {
			c.Daemon.WatchDir = "/tmp/w"
			c.Daemon.WatchCollection = "auto"
		}, false},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateHome(t)
			cfg, err := Default()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInvalidYAML(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daemon: [broken"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRuntimeDirBase(t *testing.T) {
	cfg := &Config{}
	assert.Empty(t, cfg.RuntimeDirBase())

	cfg.Daemon.DataDir = "/var/lib/steward"
	assert.Equal(t, filepath.Join("/var/lib/steward", "instances"), cfg.RuntimeDirBase())
}
