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

package coordinator

import (
	"context"
	"testing"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/fork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorPassReadsLiveTips(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})
	mirror := &recordingMirror{}
	co.NewMirror = func(fork.OrgTarget, string) (RefMirror, error) { return mirror, nil }

	results, err := co.MirrorPass(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// No promotion ran; the tips are the branches as they stand.
	tips := mirror.tips[types.RepoName("acme/widget")]
	require.NotNil(t, tips)
	assert.Equal(t, "M1", tips["fp/product"])
	assert.Equal(t, "M0", tips["fp/staging"])
}

func TestMirrorPassSingleRepo(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})
	mirror := &recordingMirror{}
	co.NewMirror = func(fork.OrgTarget, string) (RefMirror, error) { return mirror, nil }

	results, err := co.MirrorPass(context.Background(), RunOptions{Repo: "gadget"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []types.RepoName{"acme/gadget"}, mirror.mirrored)
}

func TestMirrorPassWithoutSecondaryHost(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})
	co.NewMirror = nil

	_, err := co.MirrorPass(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.Validation))
}

func TestAnnounce(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})
	notifier := &recordingNotifier{}
	co.NewNotifier = func(string) Notifier { return notifier }

	err := co.Announce(context.Background(), "acme", "widget", []string{"fp/product"})
	require.NoError(t, err)
	assert.Equal(t, []types.RepoName{"acme/widget"}, notifier.notified)
}

func TestAnnounceRejectsMissingBranches(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})
	notifier := &recordingNotifier{}
	co.NewNotifier = func(string) Notifier { return notifier }

	err := co.Announce(context.Background(), "acme", "widget", []string{"fp/ghost"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.NotFound))
	assert.Empty(t, notifier.notified)
}

func TestAnnounceRequiresOrg(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})
	notifier := &recordingNotifier{}
	co.NewNotifier = func(string) Notifier { return notifier }

	err := co.Announce(context.Background(), "", "widget", nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.Validation))
}
