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

// Package resolver loads component declarations from yaml manifests on the
// local filesystem.
//
// Two URL forms are supported: "file:///abs/path.yaml" names a manifest
// file directly, and "steward:///name" names a manifest called name.yaml in
// the configured manifest directory.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/steward/internal/model"
)

// Scheme is the URL scheme for manifests in the manifest directory.
const Scheme = "steward"

var (
	// ErrManifestNotFound is returned when the URL names no manifest.
	ErrManifestNotFound = errors.New("resolver: manifest not found")

	// ErrUnsupportedScheme is returned for URL schemes the resolver does
	// not handle.
	ErrUnsupportedScheme = errors.New("resolver: unsupported url scheme")
)

// FileResolver resolves component URLs against the local filesystem. It
// implements model.Resolver.
type FileResolver struct {
	manifestDir string
}

// NewFileResolver creates a resolver rooted at the given manifest directory.
// The directory may be empty if only file:/// URLs are used.
func NewFileResolver(manifestDir string) *FileResolver {
	return &FileResolver{manifestDir: manifestDir}
}

// ManifestDir returns the configured manifest directory.
func (r *FileResolver) ManifestDir() string { return r.manifestDir }

// Resolve loads and parses the manifest the URL names.
func (r *FileResolver) Resolve(ctx context.Context, rawURL string) (*model.Decl, error) {
	path, err := r.manifestPath(rawURL)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrManifestNotFound, rawURL, path)
		}
		return nil, fmt.Errorf("resolver: reading %s: %w", path, err)
	}

	var decl model.Decl
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("resolver: parsing %s: %w", path, err)
	}
	return &decl, nil
}

// manifestPath maps a component URL to a manifest file path.
func (r *FileResolver) manifestPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("resolver: invalid url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return "", fmt.Errorf("resolver: file url %q has no path", rawURL)
		}
		return u.Path, nil
	case Scheme:
		name := strings.TrimPrefix(u.Path, "/")
		if name == "" {
			name = u.Host
		}
		if name == "" {
			return "", fmt.Errorf("resolver: url %q names no manifest", rawURL)
		}
		if r.manifestDir == "" {
			return "", fmt.Errorf("resolver: %q requires a manifest directory", rawURL)
		}
		return filepath.Join(r.manifestDir, name+".yaml"), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// URLForManifest returns the steward:/// URL for a manifest file in the
// manifest directory, or false if the file is not a manifest.
func URLForManifest(path string) (string, bool) {
	base := filepath.Base(path)
	name, found := strings.CutSuffix(base, ".yaml")
	if !found || name == "" {
		return "", false
	}
	return Scheme + ":///" + name, true
}

var _ model.Resolver = (*FileResolver)(nil)
