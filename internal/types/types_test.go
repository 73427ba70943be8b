// Copyright 2026 The forkpilot Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepoNameParts(t *testing.T) {
	r := RepoName("acme/widget")
	assert.Equal(t, "acme", r.Owner())
	assert.Equal(t, "widget", r.Name())
	assert.True(t, r.Valid())
	assert.False(t, r.Empty())
}

func TestRepoNameValid(t *testing.T) {
	cases := map[RepoName]bool{
		"acme/widget":   true,
		"a/b":           true,
		"":              false,
		"acme":          false,
		"/widget":       false,
		"acme/":         false,
		"acme/w/idget":  false,
		"acme//widget":  false,
	}
	for name, want := range cases {
		assert.Equal(t, want, name.Valid(), "name %q", name)
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, RepoName("acme/widget"), Join("acme", "widget"))
}
