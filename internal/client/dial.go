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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/steward/internal/config"
)

// StewardHostEnv names the daemon address, e.g. unix:///run/steward.sock
// or tcp://127.0.0.1:7733.
const StewardHostEnv = "STEWARD_HOST"

// DefaultSocketPath returns the Unix socket the daemon listens on by
// default.
func DefaultSocketPath() (string, error) {
	if v := os.Getenv("STEWARD_SOCKET"); v != "" {
		return v, nil
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "steward.sock"), nil
}

// ParseStewardHost parses a STEWARD_HOST value into a transport. An empty
// host yields a transport for the default socket path.
func ParseStewardHost(host string) (*Transport, error) {
	if host == "" {
		socketPath, err := DefaultSocketPath()
		if err != nil {
			return nil, err
		}
		return NewUnixTransport(socketPath), nil
	}

	switch {
	case strings.HasPrefix(host, "unix://"):
		return NewUnixTransport(strings.TrimPrefix(host, "unix://")), nil
	case strings.HasPrefix(host, "tcp://"):
		return NewTCPTransport(strings.TrimPrefix(host, "tcp://")), nil
	default:
		return nil, fmt.Errorf("invalid %s format: %s (must start with unix:// or tcp://)", StewardHostEnv, host)
	}
}

// FromEnvironment creates a client configured from environment variables.
func FromEnvironment() (*Client, error) {
	transport, err := ParseStewardHost(os.Getenv(StewardHostEnv))
	if err != nil {
		return nil, err
	}
	return New(WithTransport(transport))
}

// DaemonNotRunningError indicates the daemon is not reachable.
type DaemonNotRunningError struct {
	SocketPath string
	Err        error
}

func (e *DaemonNotRunningError) Error() string {
	return fmt.Sprintf("steward daemon is not running (socket: %s)", e.SocketPath)
}

func (e *DaemonNotRunningError) Unwrap() error {
	return e.Err
}
