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

// Package commands implements the steward CLI, a thin client over the
// stewardd diagnostics API.
package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/steward/internal/client"
)

var hostFlag string

// NewRootCommand creates the steward root command.
func NewRootCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "steward",
		Short:   "Inspect and control the steward component daemon",
		Version: version,
		Long: `steward talks to a running stewardd daemon over its diagnostics API.

The daemon address is taken from --host, then the STEWARD_HOST
environment variable, then the default Unix socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&hostFlag, "host", "",
		"Daemon address (unix:///path or tcp://host:port)")

	cmd.AddCommand(
		newStatusCommand(),
		newTreeCommand(),
		newEventsCommand(),
		newCrashCommand(),
		newStopCommand(),
	)
	return cmd
}

// newClient builds a client for the configured daemon address.
func newClient() (*client.Client, error) {
	if hostFlag != "" {
		transport, err := client.ParseStewardHost(hostFlag)
		if err != nil {
			return nil, err
		}
		return client.New(client.WithTransport(transport))
	}
	return client.FromEnvironment()
}

// explainError rewrites daemon connectivity failures into guidance.
func explainError(err error) error {
	var notRunning *client.DaemonNotRunningError
	if errors.As(err, &notRunning) {
		return fmt.Errorf("%w\n\nStart the daemon with:\n  stewardd               # foreground\n  stewardd --background  # detached", err)
	}
	return err
}
