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

package moniker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot(t *testing.T) {
	root := Root()
	assert.True(t, root.IsRoot())
	assert.Equal(t, "/", root.String())
	assert.Equal(t, 0, root.Depth())

	_, ok := root.Parent()
	assert.False(t, ok)
	_, ok = root.Leaf()
	assert.False(t, ok)
}

func TestChildAndParent(t *testing.T) {
	a := Root().Child(NewSegment("a", 0))
	b := a.Child(NewCollectionSegment("coll", "b", 1))

	assert.Equal(t, "a:0", a.String())
	assert.Equal(t, "a:0/coll:b:1", b.String())
	assert.Equal(t, 2, b.Depth())

	parent, ok := b.Parent()
	require.True(t, ok)
	assert.True(t, parent.Equal(a))

	leaf, ok := b.Leaf()
	require.True(t, ok)
	assert.Equal(t, "coll", leaf.Collection)
	assert.Equal(t, "b", leaf.Name)
	assert.Equal(t, uint32(1), leaf.InstanceID)
}

func TestChildDoesNotAliasParent(t *testing.T) {
	a := Root().Child(NewSegment("a", 0))
	b := a.Child(NewSegment("b", 0))
	c := a.Child(NewSegment("c", 0))

	// Appending two different children must not corrupt either moniker.
	assert.Equal(t, "a:0/b:0", b.String())
	assert.Equal(t, "a:0/c:0", c.String())
}

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"/", "/", false},
		{"", "/", false},
		{"a:0", "a:0", false},
		{"/a:0/b:12", "a:0/b:12", false},
		{"coll:a:3", "coll:a:3", false},
		{"a:0/coll:b:1", "a:0/coll:b:1", false},
		{"a", "", true},
		{"a:b", "", true},
		{":0", "", true},
		{"a:0:b:0", "", true},
	}

	for _, tt := range tests {
		m, err := Parse(tt.input)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidMoniker, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, m.String(), "input %q", tt.input)
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := Root().
		Child(NewSegment("core", 0)).
		Child(NewCollectionSegment("agents", "worker", 2))

	parsed, err := Parse(orig.String())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(orig))
}

func TestSegmentChildName(t *testing.T) {
	assert.Equal(t, "a", NewSegment("a", 4).ChildName())
	assert.Equal(t, "coll:a", NewCollectionSegment("coll", "a", 0).ChildName())
}

func TestEqual(t *testing.T) {
	a0 := Root().Child(NewSegment("a", 0))
	a1 := Root().Child(NewSegment("a", 1))

	assert.True(t, a0.Equal(Root().Child(NewSegment("a", 0))))
	assert.False(t, a0.Equal(a1), "instance ids distinguish incarnations")
	assert.False(t, a0.Equal(Root()))
}
