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
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/steward/internal/client"
)

func newCrashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "crash <koid>",
		Short: "Claim the crash report for a process koid",
		Long: `Look up which component a crashed process belonged to.

Claiming is destructive: each report can be taken exactly once, and
unclaimed reports expire after the daemon's crash record TTL.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrash,
	}
}

func runCrash(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	koid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid koid %q: %w", args[0], err)
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	info, err := c.TakeCrash(ctx, koid)
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("no crash report for koid %d (already claimed or expired)", koid)
	}
	if err != nil {
		return explainError(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "moniker: %s\nurl:     %s\n", info.Moniker, info.URL)
	return nil
}
