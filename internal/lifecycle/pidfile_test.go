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

package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFileCreateReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.pid")
	m := NewPIDFileManager(path)

	if err := m.Create(12345); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !m.Exists() {
		t.Error("Exists() = false after Create")
	}

	pid, err := m.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if pid != 12345 {
		t.Errorf("Read() = %d, want 12345", pid)
	}

	if err := m.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if m.Exists() {
		t.Error("Exists() = true after Remove")
	}
}

func TestPIDFileCreateTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.pid")
	m := NewPIDFileManager(path)

	if err := m.Create(1); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	defer m.Remove()

	if err := NewPIDFileManager(path).Create(2); err != ErrPIDFileExists {
		t.Errorf("second Create() error = %v, want ErrPIDFileExists", err)
	}
}

func TestPIDFileReadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"non-numeric", "not-a-pid\n"},
		{"negative", "-5\n"},
		{"zero", "0\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "steward.pid")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := NewPIDFileManager(path).Read(); err == nil {
				t.Errorf("Read() succeeded on %q", tt.content)
			}
		})
	}
}

func TestPIDFileReadMissing(t *testing.T) {
	m := NewPIDFileManager(filepath.Join(t.TempDir(), "missing.pid"))
	if _, err := m.Read(); !os.IsNotExist(err) {
		t.Errorf("Read() error = %v, want not-exist", err)
	}
}

func TestPIDFileUnsafeDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0777); err != nil {
		t.Fatal(err)
	}

	m := NewPIDFileManager(filepath.Join(dir, "steward.pid"))
	if err := m.Create(1); err == nil {
		m.Remove()
		t.Error("Create() succeeded in world-writable directory")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	m := NewPIDFileManager(filepath.Join(t.TempDir(), "steward.pid"))
	if err := m.Create(1); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(); err != nil {
		t.Fatalf("first Remove() error = %v", err)
	}
	if err := m.Remove(); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}
}
