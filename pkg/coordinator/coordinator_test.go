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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/apptoken"
	"github.com/forkpilot/forkpilot/pkg/cache"
	"github.com/forkpilot/forkpilot/pkg/config"
	"github.com/forkpilot/forkpilot/pkg/dispatch"
	"github.com/forkpilot/forkpilot/pkg/fork"
	"github.com/forkpilot/forkpilot/pkg/githost"
)

type staticMinter struct {
	mu    sync.Mutex
	err   error
	mints int
}

func (m *staticMinter) Mint(_ context.Context, _ int64) (apptoken.Token, error) {
	m.mu.Lock()
	m.mints++
	m.mu.Unlock()
	if m.err != nil {
		return apptoken.Token{}, m.err
	}
	return apptoken.Token{Value: "ghs_test", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type recordingNotifier struct {
	notified []types.RepoName
}

func (n *recordingNotifier) Notify(_ context.Context, outcome fork.SyncOutcome) error {
	n.notified = append(n.notified, outcome.Repo)
	return nil
}

type recordingMirror struct {
	mirrored []types.RepoName
	tips     map[types.RepoName]map[string]string
}

func (m *recordingMirror) MirrorRepo(_ context.Context, repo types.RepoName, _ fork.BranchSet, tips map[string]string) (dispatch.MirrorResult, error) {
	m.mirrored = append(m.mirrored, repo)
	if m.tips == nil {
		m.tips = map[types.RepoName]map[string]string{}
	}
	m.tips[repo] = tips
	return dispatch.MirrorResult{Repo: repo}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Auth: config.AppAuth{
			AppID:         7,
			Installations: map[string]int64{"acme": 101},
		},
		Orgs: []fork.OrgTarget{
			{Org: "acme", MirrorGroup: "forks", MirrorSubgroup: "acme"},
		},
		Branches: config.Branches{
			Prefix:   "fp",
			Product:  "product",
			Staging:  "staging",
			Feature:  "feature",
			Release:  "release",
			Snapshot: "snapshot",
		},
	}
	cfg.Finalize()
	return cfg
}

// fleetHost builds two healthy forks and one with a conflicted product.
func fleetHost(t *testing.T) *githost.Fake {
	t.Helper()
	host := githost.NewFake()
	up := host.AddRepo(fork.Repository{
		FullName:      types.RepoName("upstream/widget"),
		DefaultBranch: "main",
	})
	up.Chain("M0", "M1", "M2")
	up.SetRef("main", "M2")

	for _, name := range []string{"widget", "gadget", "sprocket"} {
		meta := fork.Repository{
			FullName:            types.RepoName("acme/" + name),
			IsFork:              true,
			DefaultBranch:       "main",
			ParentFullName:      types.RepoName("upstream/widget"),
			ParentDefaultBranch: "main",
		}
		r := host.AddRepo(meta)
		r.Chain("M0", "M1")
		r.SetRef("main", "M1")
		r.SetRef("fp/product", "M1")
		r.SetRef("fp/staging", "M0")
		r.SetRef("fp/feature", "M0")
		r.SetRef("fp/release", "M1")
		r.SetRef("fp/snapshot", "M0")
	}
	// sprocket's product carries a foreign commit.
	sprocket := host.Repos[types.RepoName("acme/sprocket")]
	sprocket.AddCommit("F1", "M1")
	sprocket.SetRef("fp/product", "F1")
	return host
}

func newTestCoordinator(cfg *config.Config, host *githost.Fake, minter Minter) *Coordinator {
	c := cache.New(cache.Options{
		DiscoveryTTL: cfg.Cache.Discovery,
		MetadataTTL:  cfg.Cache.Metadata,
		NegativeTTL:  cfg.Cache.Negative,
	})
	co := New(cfg, c, minter, "run-1")
	co.NewHost = func(_ context.Context, _ string) (githost.Host, error) {
		return host, nil
	}
	return co
}

func TestRunEnumeratesEveryRepository(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})

	report, err := co.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, 2, report.Counts[fork.OutcomeSynced])
	assert.Equal(t, 1, report.Counts[fork.OutcomeConflicted])

	// Outcomes are ordered by repository for stable reports.
	assert.Equal(t, types.RepoName("acme/gadget"), report.Outcomes[0].Repo)
	assert.Equal(t, types.RepoName("acme/sprocket"), report.Outcomes[1].Repo)
	assert.Equal(t, types.RepoName("acme/widget"), report.Outcomes[2].Repo)
}

func TestRunReportsSetAsideRepositories(t *testing.T) {
	host := fleetHost(t)
	host.AddRepo(fork.Repository{
		FullName:       types.RepoName("acme/halfling"),
		IsFork:         true,
		DefaultBranch:  "main",
		ParentFullName: types.RepoName("upstream/widget"),
		// No parent default branch: discovery sets the fork aside.
	})
	co := newTestCoordinator(testConfig(), host, &staticMinter{})

	report, err := co.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 4, "set-aside repositories must appear in the report")
	assert.Equal(t, 1, report.Counts[fork.OutcomeSkipped])
	assert.Equal(t, types.RepoName("acme/halfling"), report.Outcomes[1].Repo)
	assert.Equal(t, fork.OutcomeSkipped, report.Outcomes[1].Kind)
	assert.NotEmpty(t, report.Outcomes[1].Err)
}

func TestRunConflictedRepoGetsIssueAndNoDispatch(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})
	notifier := &recordingNotifier{}
	co.NewNotifier = func(string) Notifier { return notifier }
	mirror := &recordingMirror{}
	co.NewMirror = func(fork.OrgTarget, string) (RefMirror, error) { return mirror, nil }

	_, err := co.Run(context.Background(), RunOptions{Webhooks: true, MirrorRefs: true})
	require.NoError(t, err)

	assert.NotContains(t, notifier.notified, types.RepoName("acme/sprocket"))
	assert.NotContains(t, mirror.mirrored, types.RepoName("acme/sprocket"))
	assert.Contains(t, notifier.notified, types.RepoName("acme/widget"))
	assert.Contains(t, mirror.mirrored, types.RepoName("acme/widget"))

	open, err := host.ListOpenIssues(context.Background(), types.RepoName("acme/sprocket"))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "[forkpilot] product-diverged", open[0].Title)
}

func TestRunMirrorReceivesPromotedTips(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})
	mirror := &recordingMirror{}
	co.NewMirror = func(fork.OrgTarget, string) (RefMirror, error) { return mirror, nil }

	_, err := co.Run(context.Background(), RunOptions{MirrorRefs: true})
	require.NoError(t, err)

	tips := mirror.tips[types.RepoName("acme/widget")]
	require.NotNil(t, tips)
	assert.Equal(t, "M2", tips["fp/product"])
}

func TestRunResolvesIssuesAfterCleanRun(t *testing.T) {
	host := fleetHost(t)
	widget := types.RepoName("acme/widget")
	_, err := host.CreateIssue(context.Background(), widget, "[forkpilot] mirror-diverged", "stale")
	require.NoError(t, err)

	co := newTestCoordinator(testConfig(), host, &staticMinter{})
	_, err = co.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	open, err := host.ListOpenIssues(context.Background(), widget)
	require.NoError(t, err)
	assert.Empty(t, open, "clean run closes stale canonical issues")
}

// selectiveMinter fails one installation and mints for the rest.
type selectiveMinter struct {
	failInstallation int64
}

func (m *selectiveMinter) Mint(_ context.Context, id int64) (apptoken.Token, error) {
	if id == m.failInstallation {
		return apptoken.Token{}, errors.E(errors.Op("apptoken.Mint"), errors.Credential, "key rejected")
	}
	return apptoken.Token{Value: "ghs_test", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func twoOrgConfig() *config.Config {
	cfg := testConfig()
	cfg.Auth.Installations["globex"] = 202
	cfg.Orgs = append(cfg.Orgs, fork.OrgTarget{Org: "globex"})
	return cfg
}

func TestRunCoversEveryOrganization(t *testing.T) {
	host := fleetHost(t)
	r := host.AddRepo(fork.Repository{
		FullName:            types.RepoName("globex/widget"),
		IsFork:              true,
		DefaultBranch:       "main",
		ParentFullName:      types.RepoName("upstream/widget"),
		ParentDefaultBranch: "main",
	})
	r.Chain("M0", "M1")
	r.SetRef("main", "M1")

	minter := &staticMinter{}
	co := newTestCoordinator(twoOrgConfig(), host, minter)

	report, err := co.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 4)
	assert.Equal(t, types.RepoName("globex/widget"), report.Outcomes[3].Repo)
	assert.Equal(t, 2, minter.mints, "each organization mints its own token")
}

func TestRunOrgCredentialFailureKeepsOtherOrgOutcomes(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(twoOrgConfig(), host, &selectiveMinter{failInstallation: 202})

	report, err := co.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.Credential))
	assert.Len(t, report.Outcomes, 3, "healthy organizations still report")
}

func TestRunCredentialFailureAbortsRun(t *testing.T) {
	host := fleetHost(t)
	minter := &staticMinter{err: errors.E(errors.Op("apptoken.Mint"), errors.Credential, "key rejected")}
	co := newTestCoordinator(testConfig(), host, minter)

	report, err := co.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.Credential))
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, 0, host.ListCalls["acme"], "no discovery without a credential")
}

func TestRunUnknownOrgFilterFailsClosed(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})

	_, err := co.Run(context.Background(), RunOptions{Org: "shadow-org"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.Validation))
}

func TestRunSingleRepoFilter(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})

	report, err := co.Run(context.Background(), RunOptions{Repo: "gadget"})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, types.RepoName("acme/gadget"), report.Outcomes[0].Repo)
}

func TestRunClearCacheForcesRediscovery(t *testing.T) {
	host := fleetHost(t)
	co := newTestCoordinator(testConfig(), host, &staticMinter{})

	_, err := co.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	_, err = co.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, host.ListCalls["acme"], "second run uses the discovery cache")

	_, err = co.Run(context.Background(), RunOptions{ClearCache: true})
	require.NoError(t, err)
	assert.Equal(t, 2, host.ListCalls["acme"])
}
