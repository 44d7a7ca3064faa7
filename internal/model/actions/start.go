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
	"errors"
	"fmt"
	"path/filepath"

	"github.com/tombee/steward/internal/hooks"
	internallog "github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/model"
)

// ErrNamespaceCreation is returned when routing the component's use
// declarations into a namespace fails.
var ErrNamespaceCreation = errors.New("namespace creation failed")

// StartAction drives an instance from resolved to started: resolve the
// declaration, select a runner, build the runtime, commit it under lock and
// hand the start info to the runner.
type StartAction struct{}

// NewStart creates a start action.
func NewStart() *StartAction { return &StartAction{} }

// Key implements model.Action.
func (a *StartAction) Key() model.ActionKey {
	return model.ActionKey{Kind: model.ActionStart}
}

// Handle implements model.Action.
//
// The Started event is dispatched, with a success or error payload, before
// the runtime is committed, so observers see exactly one notification per
// start attempt regardless of the commit outcome. Eligibility is
// re-validated at commit because a shutdown may have raced in while the
// resolver or router was awaited.
func (a *StartAction) Handle(ctx context.Context, inst *model.ComponentInstance) error {
	if err := inst.BeginStart(); err != nil {
		if errors.Is(err, model.ErrAlreadyStarted) {
			return nil
		}
		return err
	}

	m := inst.Model()
	rt, info, startErr := a.prepare(ctx, inst)

	if startErr != nil {
		// Observers are notified of failed starts too.
		ev := hooks.NewErrorEvent(hooks.EventStarted, inst.Moniker(), inst.URL(), startErr)
		if derr := m.DispatchEvent(ctx, ev); derr != nil {
			inst.Logger().Warn("failed-start notification not delivered", internallog.Error(derr))
		}
		return startErr
	}

	if err := m.DispatchEvent(ctx, hooks.NewEvent(hooks.EventStarted, inst.Moniker(), inst.URL())); err != nil {
		return err
	}

	if err := inst.CommitStart(rt); err != nil {
		if errors.Is(err, model.ErrAlreadyStarted) {
			return nil
		}
		return err
	}

	a.launch(ctx, inst, rt, info)
	a.startEagerChildren(ctx, inst)
	return nil
}

// prepare resolves the declaration and builds the runtime and start info.
// No instance lock is held. A nil start info means the component has no
// program and nothing to launch.
func (a *StartAction) prepare(ctx context.Context, inst *model.ComponentInstance) (*model.Runtime, *model.StartInfo, error) {
	m := inst.Model()

	decl, err := inst.EnsureResolved(ctx)
	if err != nil {
		return nil, nil, err
	}

	rt := &model.Runtime{URL: inst.URL()}
	if base := m.RuntimeDirBase(); base != "" {
		dir := filepath.Join(base, filepath.FromSlash(inst.Moniker().String()))
		rt.OutgoingDir = filepath.Join(dir, "out")
		rt.RuntimeDir = filepath.Join(dir, "runtime")
	}

	// Organizational components have no program; the start commits an
	// empty runtime so eager children still cascade.
	if decl.Program == nil {
		return rt, nil, nil
	}

	if _, err := m.RunnerFor(decl.Program.RunnerName()); err != nil {
		return nil, nil, err
	}

	ns, err := buildNamespace(ctx, m.Router(), decl.Uses, inst)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrNamespaceCreation, inst.Moniker(), err)
	}
	rt.Namespace = ns

	info := &model.StartInfo{
		ResolvedURL: inst.URL(),
		Moniker:     inst.Moniker(),
		Program:     *decl.Program,
		Namespace:   ns,
		OutgoingDir: rt.OutgoingDir,
		RuntimeDir:  rt.RuntimeDir,
	}
	return rt, info, nil
}

// buildNamespace routes each use declaration through the capability router.
// A nil router yields an empty namespace.
func buildNamespace(ctx context.Context, router model.CapabilityRouter, uses []model.UseDecl, inst *model.ComponentInstance) ([]model.NamespaceEntry, error) {
	if router == nil || len(uses) == 0 {
		return nil, nil
	}
	entries := make([]model.NamespaceEntry, 0, len(uses))
	for _, use := range uses {
		entry, err := router.Route(ctx, use, inst.Moniker())
		if err != nil {
			return nil, fmt.Errorf("routing %q: %w", use.Name, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// launch hands the start info to the runner. Launching is fire and forget
// from the action's perspective; failures surface through the stop
// notification and the exit watcher, not through the action's result.
func (a *StartAction) launch(ctx context.Context, inst *model.ComponentInstance, rt *model.Runtime, info *model.StartInfo) {
	if info == nil {
		return
	}
	m := inst.Model()
	runner, err := m.RunnerFor(info.Program.RunnerName())
	if err != nil {
		// Checked during prepare; a miss here means the registry changed
		// underneath us, which it never does in steady state.
		inst.Logger().Error("runner vanished between prepare and launch", internallog.Error(err))
		inst.AbortStart(rt)
		return
	}

	launchCtx := context.WithoutCancel(ctx)
	go func() {
		prog, err := runner.Start(launchCtx, *info)
		if err != nil {
			inst.Logger().Error("runner failed to start program", internallog.Error(err))
			inst.AbortStart(rt)
			ev := hooks.NewErrorEvent(hooks.EventStopped, inst.Moniker(), inst.URL(), err)
			if derr := m.DispatchEvent(launchCtx, ev); derr != nil {
				inst.Logger().Warn("stop notification failed", internallog.Error(derr))
			}
			return
		}
		if err := inst.AttachProgram(rt, prog); err != nil {
			// Torn down while launching: the program is ours to reap.
			if kerr := prog.Kill(); kerr != nil {
				inst.Logger().Warn("killing orphaned program", internallog.Error(kerr))
			}
			return
		}
		go func() {
			status := <-prog.Wait()
			inst.HandleProgramExit(launchCtx, rt, status)
		}()
	}()
}

// startEagerChildren registers start actions for eager static children.
// Eager starts are independent of the parent's action result.
func (a *StartAction) startEagerChildren(ctx context.Context, inst *model.ComponentInstance) {
	decl, err := inst.EnsureResolved(ctx)
	if err != nil {
		return
	}
	eagerCtx := context.WithoutCancel(ctx)
	for _, childDecl := range decl.Children {
		if childDecl.Startup != model.StartupEager {
			continue
		}
		child := inst.LiveChild(childDecl.Name)
		if child == nil {
			continue
		}
		go func(child *model.ComponentInstance) {
			if err := Start(eagerCtx, child); err != nil {
				child.Logger().Warn("eager start failed", internallog.Error(err))
			}
		}(child)
	}
}

// Start registers a start action on the instance and awaits its result.
func Start(ctx context.Context, inst *model.ComponentInstance) error {
	return inst.Actions().Register(ctx, inst, NewStart())
}
