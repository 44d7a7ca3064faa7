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
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/steward/internal/config"
	"github.com/tombee/steward/internal/model"
)

const rootManifest = `
children:
  - name: worker
    url: steward:///worker
`

const workerManifest = `
program:
  binary: /bin/sh
  args: ["-c", "sleep 30"]
`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	manifestDir := filepath.Join(dir, "manifests")
	require.NoError(t, os.MkdirAll(manifestDir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(manifestDir, "root.yaml"), []byte(rootManifest), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(manifestDir, "worker.yaml"), []byte(workerManifest), 0600))

	return &config.Config{
		Daemon: config.DaemonConfig{
			RootURL:         "steward:///root",
			ManifestDir:     manifestDir,
			DataDir:         dir,
			SocketPath:      filepath.Join(dir, "steward.sock"),
			EventDBPath:     filepath.Join(dir, "events.db"),
			EventRetention:  time.Hour,
			CrashRecordTTL:  time.Minute,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: config.LogConfig{Level: "error", Format: "text"},
	}
}

func socketClient(socketPath string) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// startDaemon runs d.Start in the background and waits for the diagnostics
// API to answer. Shutdown is registered as cleanup.
func startDaemon(t *testing.T, d *Daemon, cfg *config.Config) (*http.Client, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		d.Shutdown(context.Background())
	})

	client := socketClient(cfg.Daemon.SocketPath)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get("http://steward/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return client, errCh
			}
		}
		select {
		case err := <-errCh:
			t.Fatalf("daemon exited before becoming ready: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("daemon never became ready")
	return nil, nil
}

func TestDaemonServesInstanceTree(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)

	client, _ := startDaemon(t, d, cfg)

	resp, err := client.Get("http://steward/v1/instances")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info model.InstanceInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "/", info.Moniker)
	require.Len(t, info.Children, 1)
	assert.Equal(t, "worker:0", info.Children[0].Moniker)
}

func TestDaemonPersistsLifecycleEvents(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)

	client, _ := startDaemon(t, d, cfg)

	// Starting the root dispatches discovery events that flow through the
	// event log hook into the store.
	resp, err := client.Get("http://steward/v1/events?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Events)
}

func TestDaemonRejectsDoubleStart(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)

	startDaemon(t, d, cfg)

	err = d.Start(context.Background())
	assert.Error(t, err)
}

func TestDaemonShutdownStopsComponentsAndSocket(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Daemon.PIDFile = filepath.Join(cfg.Daemon.DataDir, "stewardd.pid")
	d, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	client := socketClient(cfg.Daemon.SocketPath)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := client.Get("http://steward/healthz"); err == nil {
			resp.Body.Close()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	require.NoError(t, d.Shutdown(context.Background()))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start never returned after cancel")
	}

	_, err = os.Stat(cfg.Daemon.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket should be removed on shutdown")
	_, err = os.Stat(cfg.Daemon.PIDFile)
	assert.True(t, os.IsNotExist(err), "PID file should be removed on shutdown")

	// Shutdown is idempotent.
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestNewRequiresResolvableConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Daemon.RootURL = ""
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}
