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

package client

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/steward/internal/crash"
	"github.com/tombee/steward/internal/diagnostics"
	"github.com/tombee/steward/internal/model"
)

type staticResolver map[string]*model.Decl

func (r staticResolver) Resolve(ctx context.Context, url string) (*model.Decl, error) {
	decl, ok := r[url]
	if !ok {
		return nil, ErrNotFound
	}
	return decl, nil
}

// newTestServer serves a real diagnostics router over a Unix socket and
// returns a client connected to it.
func newTestServer(t *testing.T) (*Client, *crash.Records) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m, err := model.New(model.Options{
		RootURL: "steward:///root",
		Resolver: staticResolver{
			"steward:///root": {Children: []model.ChildDecl{{Name: "a", URL: "steward:///a"}}},
		},
	})
	require.NoError(t, err)
	_, err = m.Root().EnsureResolved(ctx)
	require.NoError(t, err)

	crashes := crash.NewRecords(ctx, crash.Options{})
	router := diagnostics.NewRouter(diagnostics.RouterConfig{
		Model:   m,
		Crashes: crashes,
		Version: "test",
	})

	socketPath := filepath.Join(t.TempDir(), "steward.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	server := &http.Server{Handler: router}
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })

	c, err := New(WithTransport(NewUnixTransport(socketPath)))
	require.NoError(t, err)
	return c, crashes
}

func TestClientHealth(t *testing.T) {
	c, _ := newTestServer(t)

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestClientInstances(t *testing.T) {
	c, _ := newTestServer(t)

	info, err := c.Instances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/", info.Moniker)
	require.Len(t, info.Children, 1)
	assert.Equal(t, "a:0", info.Children[0].Moniker)
}

func TestClientTakeCrash(t *testing.T) {
	c, crashes := newTestServer(t)
	crashes.AddReport(7, crash.Info{URL: "steward:///a", Moniker: "a:0"})

	info, err := c.TakeCrash(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "a:0", info.Moniker)

	_, err = c.TakeCrash(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientDaemonNotRunning(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "missing.sock")
	c, err := New(WithTransport(NewUnixTransport(socketPath)))
	require.NoError(t, err)

	err = c.Ping(context.Background())
	require.Error(t, err)

	var notRunning *DaemonNotRunningError
	assert.ErrorAs(t, err, &notRunning)
}

func TestParseStewardHost(t *testing.T) {
	tr, err := ParseStewardHost("unix:///tmp/s.sock")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/s.sock", tr.SocketPath)

	tr, err = ParseStewardHost("tcp://127.0.0.1:7733")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7733", tr.TCPAddr)

	_, err = ParseStewardHost("ftp://nope")
	assert.Error(t, err)
}
