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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/steward/internal/model"
)

var treeJSON bool

func newTreeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the component instance tree",
		Args:  cobra.NoArgs,
		RunE:  runTree,
	}
	cmd.Flags().BoolVar(&treeJSON, "json", false, "Output as JSON")
	return cmd
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	c, err := newClient()
	if err != nil {
		return err
	}

	info, err := c.Instances(ctx)
	if err != nil {
		return explainError(err)
	}

	if treeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	printInstance(cmd.OutOrStdout(), info, 0)
	return nil
}

func printInstance(w io.Writer, info *model.InstanceInfo, depth int) {
	state := info.State
	if info.Running {
		state = "running"
	}
	if info.ShutDown {
		state += " (shut down)"
	}
	fmt.Fprintf(w, "%s%s  [%s]  %s\n", strings.Repeat("  ", depth), info.Moniker, state, info.URL)
	for i := range info.Children {
		printInstance(w, &info.Children[i], depth+1)
	}
}
