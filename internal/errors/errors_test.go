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

package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := E(Op("promote.sync"), types.RepoName("acme/widget"), Policy,
		fmt.Errorf("product has foreign commits"))
	assert.Equal(t,
		"promote.sync: repo acme/widget: policy violation: product has foreign commits",
		err.Error())
}

func TestNestedErrorsDedupeFields(t *testing.T) {
	inner := E(Op("githost.UpdateRef"), types.RepoName("acme/widget"), Policy,
		fmt.Errorf("non-fast-forward"))
	outer := E(Op("promote.sync"), types.RepoName("acme/widget"), inner)

	// The repeated repo is dropped from the inner error's rendering.
	s := outer.Error()
	assert.Equal(t, 1, strings.Count(s, "acme/widget"), "got: %s", s)
	assert.Contains(t, s, "githost.UpdateRef")
	assert.Contains(t, s, "non-fast-forward")
}

func TestKindOf(t *testing.T) {
	err := E(Op("outer"), E(Op("inner"), Transient, fmt.Errorf("502")))
	assert.Equal(t, Transient, KindOf(err))

	// The outermost classification wins.
	wrapped := E(Op("outer"), Credential, E(Op("inner"), Transient, fmt.Errorf("502")))
	assert.Equal(t, Credential, KindOf(wrapped))

	assert.Equal(t, Internal, KindOf(fmt.Errorf("plain")))
}

func TestIsKind(t *testing.T) {
	err := E(Op("outer"), E(Op("inner"), NotFound, fmt.Errorf("404")))
	assert.True(t, IsKind(err, NotFound))
	assert.False(t, IsKind(err, Credential))
	assert.False(t, IsKind(fmt.Errorf("plain"), NotFound))
	assert.False(t, IsKind(nil, NotFound))
}

func TestEAcceptsStrings(t *testing.T) {
	err := E(Op("config.Validate"), Validation, "auth.appID is required")
	require.Error(t, err)
	assert.True(t, IsKind(err, Validation))
	assert.Contains(t, err.Error(), "auth.appID is required")
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := E(Op("op"), Git, cause)

	var e *Error
	require.True(t, As(err, &e))
	assert.Equal(t, Git, e.Kind)
	assert.Equal(t, cause, e.Unwrap())
}
