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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/steward/internal/model"
)

const sampleManifest = `
program:
  binary: /bin/worker
  args: ["--serve"]
  lifecycle: signal
children:
  - name: helper
    url: steward:///helper
collections:
  - name: jobs
`

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestResolve_FileURL(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "worker.yaml", sampleManifest)

	r := NewFileResolver("")
	decl, err := r.Resolve(context.Background(), "file://"+path)
	require.NoError(t, err)

	require.NotNil(t, decl.Program)
	assert.Equal(t, "/bin/worker", decl.Program.Binary)
	assert.Equal(t, []string{"--serve"}, decl.Program.Args)
	assert.Equal(t, model.LifecycleSignal, decl.Program.Lifecycle)
	require.Len(t, decl.Children, 1)
	assert.Equal(t, "helper", decl.Children[0].Name)
	require.Len(t, decl.Collections, 1)
	assert.Equal(t, "jobs", decl.Collections[0].Name)
}

func TestResolve_StewardURL(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "worker.yaml", sampleManifest)

	r := NewFileResolver(dir)
	decl, err := r.Resolve(context.Background(), "steward:///worker")
	require.NoError(t, err)
	require.NotNil(t, decl.Program)
	assert.Equal(t, "/bin/worker", decl.Program.Binary)
}

func TestResolve_NotFound(t *testing.T) {
	r := NewFileResolver(t.TempDir())
	_, err := r.Resolve(context.Background(), "steward:///missing")
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestResolve_UnsupportedScheme(t *testing.T) {
	r := NewFileResolver(t.TempDir())
	_, err := r.Resolve(context.Background(), "https://example.com/x.yaml")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestResolve_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad.yaml", "program: [not a mapping")

	r := NewFileResolver(dir)
	_, err := r.Resolve(context.Background(), "steward:///bad")
	assert.Error(t, err)
}

func TestURLForManifest(t *testing.T) {
	tests := []struct {
		path string
		url  string
		ok   bool
	}{
		{"/manifests/worker.yaml", "steward:///worker", true},
		{"worker.yaml", "steward:///worker", true},
		{"/manifests/notes.txt", "", false},
		{"/manifests/.yaml", "", false},
	}
	for _, tt := range tests {
		url, ok := URLForManifest(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.url, url, tt.path)
	}
}

func TestCollectionWatcher_AddsAndRemovesChildren(t *testing.T) {
	manifestDir := t.TempDir()
	writeManifest(t, manifestDir, "root.yaml", "collections:\n  - name: auto\n")

	m, err := model.New(model.Options{
		RootURL:  "steward:///root",
		Resolver: NewFileResolver(manifestDir),
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = m.Root().EnsureResolved(ctx)
	require.NoError(t, err)

	watchDir := t.TempDir()
	w, err := NewCollectionWatcher(m, "auto", watchDir)
	require.NoError(t, err)
	w.Start(ctx)
	defer w.Stop()

	path := writeManifest(t, watchDir, "svc.yaml", "{}\n")
	waitFor(t, func() bool { return m.Root().LiveChild("auto:svc") != nil },
		"child created for new manifest")

	require.NoError(t, os.Remove(path))
	waitFor(t, func() bool { return m.Root().LiveChild("auto:svc") == nil },
		"child destroyed for removed manifest")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}
