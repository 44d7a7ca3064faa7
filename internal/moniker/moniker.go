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

// Package moniker provides path-like identifiers for component instances.
//
// A moniker names an instance by its path from the root of the component
// tree. Each segment carries the child name, an optional collection name for
// dynamically created children, and an instance id that distinguishes
// successive incarnations of the same child.
package moniker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMoniker is returned when a moniker string cannot be parsed.
var ErrInvalidMoniker = errors.New("invalid moniker")

// Segment identifies one child within its parent.
type Segment struct {
	// Collection is the name of the collection the child lives in,
	// or empty for statically declared children.
	Collection string

	// Name is the child name declared by the parent.
	Name string

	// InstanceID distinguishes incarnations of the same child name.
	InstanceID uint32
}

// NewSegment creates a segment for a static child.
func NewSegment(name string, id uint32) Segment {
	return Segment{Name: name, InstanceID: id}
}

// NewCollectionSegment creates a segment for a dynamic child in a collection.
func NewCollectionSegment(collection, name string, id uint32) Segment {
	return Segment{Collection: collection, Name: name, InstanceID: id}
}

// String renders the segment as "name:id" or "collection:name:id".
func (s Segment) String() string {
	if s.Collection != "" {
		return fmt.Sprintf("%s:%s:%d", s.Collection, s.Name, s.InstanceID)
	}
	return fmt.Sprintf("%s:%d", s.Name, s.InstanceID)
}

// ChildName returns the name the parent uses to key this child, which is
// "collection:name" for dynamic children and "name" otherwise. The instance
// id is not part of the key: a parent has at most one live child per name.
func (s Segment) ChildName() string {
	if s.Collection != "" {
		return s.Collection + ":" + s.Name
	}
	return s.Name
}

// Moniker is the path of an instance from the root of the component tree.
// The zero value is the root moniker. Monikers are immutable values.
type Moniker struct {
	segments []Segment
}

// Root returns the root moniker.
func Root() Moniker {
	return Moniker{}
}

// New creates a moniker from the given segments.
func New(segments ...Segment) Moniker {
	segs := make([]Segment, len(segments))
	copy(segs, segments)
	return Moniker{segments: segs}
}

// Parse parses a moniker string as produced by String.
// "/" (or "") parses to the root moniker.
func Parse(s string) (Moniker, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return Root(), nil
	}

	parts := strings.Split(s, "/")
	segments := make([]Segment, 0, len(parts))
	for _, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return Moniker{}, err
		}
		segments = append(segments, seg)
	}
	return Moniker{segments: segments}, nil
}

func parseSegment(s string) (Segment, error) {
	fields := strings.Split(s, ":")

	var seg Segment
	switch len(fields) {
	case 2:
		seg.Name = fields[0]
	case 3:
		seg.Collection = fields[0]
		seg.Name = fields[1]
	default:
		return Segment{}, fmt.Errorf("%w: segment %q", ErrInvalidMoniker, s)
	}

	id, err := strconv.ParseUint(fields[len(fields)-1], 10, 32)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: instance id in %q", ErrInvalidMoniker, s)
	}
	seg.InstanceID = uint32(id)

	if seg.Name == "" {
		return Segment{}, fmt.Errorf("%w: empty name in %q", ErrInvalidMoniker, s)
	}
	return seg, nil
}

// IsRoot reports whether m is the root moniker.
func (m Moniker) IsRoot() bool {
	return len(m.segments) == 0
}

// Child returns the moniker of the given child of m.
func (m Moniker) Child(seg Segment) Moniker {
	segs := make([]Segment, len(m.segments)+1)
	copy(segs, m.segments)
	segs[len(m.segments)] = seg
	return Moniker{segments: segs}
}

// Parent returns the moniker of m's parent. The second return value is
// false if m is the root.
func (m Moniker) Parent() (Moniker, bool) {
	if m.IsRoot() {
		return Moniker{}, false
	}
	segs := make([]Segment, len(m.segments)-1)
	copy(segs, m.segments[:len(m.segments)-1])
	return Moniker{segments: segs}, true
}

// Leaf returns the last segment of m. The second return value is false if m
// is the root.
func (m Moniker) Leaf() (Segment, bool) {
	if m.IsRoot() {
		return Segment{}, false
	}
	return m.segments[len(m.segments)-1], true
}

// Depth returns the number of segments in m.
func (m Moniker) Depth() int {
	return len(m.segments)
}

// Segments returns a copy of m's segments, outermost first.
func (m Moniker) Segments() []Segment {
	segs := make([]Segment, len(m.segments))
	copy(segs, m.segments)
	return segs
}

// Equal reports whether two monikers name the same instance.
func (m Moniker) Equal(other Moniker) bool {
	if len(m.segments) != len(other.segments) {
		return false
	}
	for i := range m.segments {
		if m.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// String renders the moniker as "/" for the root or "a:0/coll:b:1" otherwise.
func (m Moniker) String() string {
	if m.IsRoot() {
		return "/"
	}
	parts := make([]string, len(m.segments))
	for i, seg := range m.segments {
		parts[i] = seg.String()
	}
	return strings.Join(parts, "/")
}
