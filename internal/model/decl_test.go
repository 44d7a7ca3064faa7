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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeclValidate(t *testing.T) {
	tests := []struct {
		name    string
		decl    Decl
		wantErr string
	}{
		{
			name: "valid",
			decl: Decl{
				Program: &ProgramDecl{Binary: "/bin/svc", Lifecycle: LifecycleSignal},
				Children: []ChildDecl{
					{Name: "a", URL: "steward:///a", Startup: StartupEager},
					{Name: "b", URL: "steward:///b"},
				},
				Collections: []CollectionDecl{{Name: "jobs"}},
			},
		},
		{
			name: "organizational component needs no program",
			decl: Decl{Children: []ChildDecl{{Name: "a", URL: "steward:///a"}}},
		},
		{
			name:    "child without name",
			decl:    Decl{Children: []ChildDecl{{URL: "steward:///a"}}},
			wantErr: "empty name",
		},
		{
			name:    "child without url",
			decl:    Decl{Children: []ChildDecl{{Name: "a"}}},
			wantErr: "no url",
		},
		{
			name: "duplicate child name",
			decl: Decl{Children: []ChildDecl{
				{Name: "a", URL: "steward:///a"},
				{Name: "a", URL: "steward:///other"},
			}},
			wantErr: "duplicate child name",
		},
		{
			name:    "invalid startup",
			decl:    Decl{Children: []ChildDecl{{Name: "a", URL: "steward:///a", Startup: "sometimes"}}},
			wantErr: "invalid startup",
		},
		{
			name:    "collection without name",
			decl:    Decl{Collections: []CollectionDecl{{}}},
			wantErr: "empty name",
		},
		{
			name: "collection colliding with child",
			decl: Decl{
				Children:    []ChildDecl{{Name: "jobs", URL: "steward:///jobs"}},
				Collections: []CollectionDecl{{Name: "jobs"}},
			},
			wantErr: "collides",
		},
		{
			name:    "program without binary",
			decl:    Decl{Program: &ProgramDecl{}},
			wantErr: "no binary",
		},
		{
			name:    "program with invalid lifecycle",
			decl:    Decl{Program: &ProgramDecl{Binary: "/bin/svc", Lifecycle: "polite"}},
			wantErr: "invalid lifecycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decl.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestProgramDeclRunnerName(t *testing.T) {
	assert.Equal(t, "elf", (&ProgramDecl{}).RunnerName())
	assert.Equal(t, "custom", (&ProgramDecl{Runner: "custom"}).RunnerName())
}

func TestDeclCollection(t *testing.T) {
	d := Decl{Collections: []CollectionDecl{{Name: "jobs"}}}

	coll, ok := d.Collection("jobs")
	assert.True(t, ok)
	assert.Equal(t, "jobs", coll.Name)

	_, ok = d.Collection("missing")
	assert.False(t, ok)
}
