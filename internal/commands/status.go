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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/steward/internal/model"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and component counts",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	c, err := newClient()
	if err != nil {
		return err
	}

	health, err := c.Health(ctx)
	if err != nil {
		return explainError(err)
	}

	info, err := c.Instances(ctx)
	if err != nil {
		return explainError(err)
	}

	total, running := countInstances(info)
	fmt.Fprintf(cmd.OutOrStdout(), "daemon:    %s (version %s)\n", health.Status, health.Version)
	fmt.Fprintf(cmd.OutOrStdout(), "instances: %d (%d running)\n", total, running)
	return nil
}

func countInstances(info *model.InstanceInfo) (total, running int) {
	total = 1
	if info.Running {
		running = 1
	}
	for i := range info.Children {
		t, r := countInstances(&info.Children[i])
		total += t
		running += r
	}
	return total, running
}
