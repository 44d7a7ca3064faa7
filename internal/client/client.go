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

// Package client is the HTTP client for the stewardd diagnostics API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/tombee/steward/internal/crash"
	"github.com/tombee/steward/internal/events/storage"
	"github.com/tombee/steward/internal/model"
)

// ErrNotFound is returned when the daemon has no record for the request.
var ErrNotFound = errors.New("not found")

// Client talks to the stewardd diagnostics API.
type Client struct {
	http       *http.Client
	socketPath string
}

// Option configures a Client.
type Option func(*Client) error

// WithTransport sets the transport used to reach the daemon.
func WithTransport(transport *Transport) Option {
	return func(c *Client) error {
		c.http.Transport = transport
		c.socketPath = transport.SocketPath
		return nil
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.http = hc
		return nil
	}
}

// New creates a client. Without options it connects to the default Unix
// socket.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.http.Transport == nil {
		transport, err := ParseStewardHost("")
		if err != nil {
			return nil, err
		}
		c.http.Transport = transport
		c.socketPath = transport.SocketPath
	}
	return c, nil
}

// HealthResponse is the daemon health report.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, "/healthz", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Instances returns a snapshot of the component instance tree.
func (c *Client) Instances(ctx context.Context) (*model.InstanceInfo, error) {
	var out model.InstanceInfo
	if err := c.getJSON(ctx, "/v1/instances", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns persisted lifecycle events, newest first. An empty
// moniker returns events for all instances.
func (c *Client) Events(ctx context.Context, moniker string, limit int) ([]storage.StoredEvent, error) {
	q := url.Values{}
	if moniker != "" {
		q.Set("moniker", moniker)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Events []storage.StoredEvent `json:"events"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// TakeCrash claims the crash report for a process koid. Claiming is
// destructive: a second call for the same koid returns ErrNotFound.
func (c *Client) TakeCrash(ctx context.Context, koid uint64) (*crash.Info, error) {
	var out crash.Info
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/crashes/%d", koid), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping verifies the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://steward"+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
			return &DaemonNotRunningError{SocketPath: c.socketPath, Err: err}
		}
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned %s: %s", resp.Status, body)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
