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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var eventsLimit int

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events [moniker]",
		Short: "Show persisted lifecycle events, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEvents,
	}
	cmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum number of events")
	return cmd
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	c, err := newClient()
	if err != nil {
		return err
	}

	moniker := ""
	if len(args) > 0 {
		moniker = args[0]
	}

	evs, err := c.Events(ctx, moniker, eventsLimit)
	if err != nil {
		return explainError(err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tMONIKER\tERROR")
	for _, ev := range evs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Moniker, ev.Error)
	}
	return w.Flush()
}
