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

package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/steward/internal/config"
	"github.com/tombee/steward/internal/lifecycle"
)

var (
	stopPIDFile string
	stopTimeout time.Duration
	stopForce   bool
)

func newStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running stewardd daemon",
		Long: `Send SIGTERM to the daemon named by its PID file and wait for it
to exit. With --force, SIGKILL is sent if the daemon does not exit in
time.`,
		Args: cobra.NoArgs,
		RunE: runStop,
	}
	cmd.Flags().StringVar(&stopPIDFile, "pid-file", "", "Path to the daemon PID file")
	cmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "How long to wait for the daemon to exit")
	cmd.Flags().BoolVar(&stopForce, "force", false, "SIGKILL the daemon if it does not exit in time")
	return cmd
}

func runStop(cmd *cobra.Command, args []string) error {
	pidFile := stopPIDFile
	if pidFile == "" {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		pidFile = cfg.Daemon.PIDFile
	}
	if pidFile == "" {
		return fmt.Errorf("no PID file configured; pass --pid-file")
	}

	pid, err := lifecycle.NewPIDFileManager(pidFile).Read()
	if err != nil {
		return fmt.Errorf("reading PID file %s: %w", pidFile, err)
	}

	if !lifecycle.IsStewardProcess(pid) {
		return fmt.Errorf("pid %d is not a steward daemon; refusing to signal it", pid)
	}

	err = lifecycle.GracefulShutdown(pid, stopTimeout, stopForce)
	switch {
	case errors.Is(err, lifecycle.ErrProcessNotRunning):
		fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
		return nil
	case errors.Is(err, lifecycle.ErrShutdownTimeout):
		return fmt.Errorf("daemon did not exit within %s (retry with --force): %w", stopTimeout, err)
	case err != nil:
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "daemon stopped (pid %d)\n", pid)
	return nil
}
