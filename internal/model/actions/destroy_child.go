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

	"github.com/tombee/steward/internal/hooks"
	"github.com/tombee/steward/internal/model"
)

// DestroyChildAction removes a child from its parent: shut the child down
// first, then notify observers, then unlink it from the parent's children
// map. The shutdown-before-destroy ordering is a causal dependency between
// two distinct action keys, established by nested registration.
type DestroyChildAction struct {
	childName string
}

// NewDestroyChild creates a destroy action for the named child
// ("name" or "collection:name").
func NewDestroyChild(childName string) *DestroyChildAction {
	return &DestroyChildAction{childName: childName}
}

// Key implements model.Action. The key is scoped by child name so
// destroying different children of one parent proceeds independently.
func (a *DestroyChildAction) Key() model.ActionKey {
	return model.ActionKey{Kind: model.ActionDestroyChild, Child: a.childName}
}

// Handle implements model.Action. A child that is already gone makes the
// action an idempotent no-op with no further events.
func (a *DestroyChildAction) Handle(ctx context.Context, parent *model.ComponentInstance) error {
	child := parent.LiveChild(a.childName)
	if child == nil {
		return nil
	}

	if err := child.Actions().Register(ctx, child, NewShutdown()); err != nil {
		return err
	}

	m := parent.Model()
	ev := hooks.NewEvent(hooks.EventDestroyed, child.Moniker(), child.URL())
	if err := m.DispatchEvent(ctx, ev); err != nil {
		return err
	}

	removed, err := parent.RemoveChild(a.childName)
	if err != nil {
		// A concurrent destroy with a different key cannot exist, but a
		// raced removal still means the child is gone, which is the goal.
		if errors.Is(err, model.ErrInstanceNotFound) {
			return nil
		}
		return err
	}

	if leaf, ok := removed.Moniker().Leaf(); ok && leaf.Collection != "" {
		ev := hooks.NewEvent(hooks.EventDynamicChildRemoved, removed.Moniker(), removed.URL())
		if err := m.DispatchEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// DestroyChild registers a destroy-child action on the parent and awaits
// its result.
func DestroyChild(ctx context.Context, parent *model.ComponentInstance, childName string) error {
	return parent.Actions().Register(ctx, parent, NewDestroyChild(childName))
}
