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

package actions

import (
	"context"

	"github.com/tombee/steward/internal/hooks"
	internallog "github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/model"
)

// ShutdownAction stops an instance's execution and latches its shutdown
// flag, permanently. Children are shut down before the instance itself, so
// dependents are gone before their environment.
type ShutdownAction struct{}

// NewShutdown creates a shutdown action.
func NewShutdown() *ShutdownAction { return &ShutdownAction{} }

// Key implements model.Action.
func (a *ShutdownAction) Key() model.ActionKey {
	return model.ActionKey{Kind: model.ActionShutdown}
}

// Handle implements model.Action. Idempotent: a second registration after
// completion finds the latch set and no runtime, and dispatches nothing.
func (a *ShutdownAction) Handle(ctx context.Context, inst *model.ComponentInstance) error {
	for _, child := range inst.LiveChildren() {
		if err := child.Actions().Register(ctx, child, NewShutdown()); err != nil {
			return err
		}
	}

	rt, first := inst.LatchShutdown()
	if rt != nil && rt.Program != nil {
		// Graceful stop; the program's own teardown handles criticality
		// and falls back to killing the job. Failures are best-effort.
		if err := rt.Program.Stop(ctx); err != nil {
			inst.Logger().Warn("graceful stop failed", internallog.Error(err))
		}
	}

	if first {
		ev := hooks.NewEvent(hooks.EventStopped, inst.Moniker(), inst.URL())
		if err := inst.Model().DispatchEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown registers a shutdown action on the instance and awaits its
// result.
func Shutdown(ctx context.Context, inst *model.ComponentInstance) error {
	return inst.Actions().Register(ctx, inst, NewShutdown())
}
