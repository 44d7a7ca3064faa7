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

package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	internallog "github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/model"
	"github.com/tombee/steward/internal/model/actions"
)

// CollectionWatcher mirrors a manifest directory into one of the root
// instance's collections: a manifest appearing in the directory creates a
// child named after the file, and the manifest disappearing destroys it.
type CollectionWatcher struct {
	model      *model.Model
	collection string
	dir        string
	watcher    *fsnotify.Watcher
	logger     *slog.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewCollectionWatcher watches dir and manages children in the named
// collection of the model's root instance.
func NewCollectionWatcher(m *model.Model, collection, dir string) (*CollectionWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("resolver: creating watcher: %w", err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("resolver: resolving watch dir: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("resolver: watching %s: %w", absDir, err)
	}

	return &CollectionWatcher{
		model:      m,
		collection: collection,
		dir:        absDir,
		watcher:    fsw,
		logger:     internallog.WithComponent(m.Logger(), "collection-watcher").With("dir", absDir),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events until Stop is called or the
// context is cancelled.
func (w *CollectionWatcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Info("collection watcher started", "collection", w.collection)
}

// Stop stops the watcher and releases its resources.
func (w *CollectionWatcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

func (w *CollectionWatcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("collection watcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("collection watcher stopped")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("collection watcher error", internallog.Error(err))
		}
	}
}

func (w *CollectionWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	url, ok := URLForManifest(event.Name)
	if !ok {
		return
	}
	name := manifestName(event.Name)

	switch {
	case event.Op.Has(fsnotify.Create):
		child, err := w.model.AddDynamicChild(ctx, w.model.Root(), w.collection, name, url)
		if err != nil {
			if errors.Is(err, model.ErrChildExists) {
				return
			}
			w.logger.Warn("adding discovered child", "name", name, internallog.Error(err))
			return
		}
		w.logger.Info("discovered child", internallog.MonikerKey, child.Moniker().String())
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		childName := w.collection + ":" + name
		if err := actions.DestroyChild(ctx, w.model.Root(), childName); err != nil {
			w.logger.Warn("destroying removed child", "name", name, internallog.Error(err))
			return
		}
		w.logger.Info("destroyed child for removed manifest", "name", childName)
	}
}

func manifestName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(".yaml")]
}
