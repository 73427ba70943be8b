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

package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/cache"
	"github.com/forkpilot/forkpilot/pkg/fork"
	"github.com/forkpilot/forkpilot/pkg/githost"
)

func newCache() *cache.Cache {
	return cache.New(cache.Options{
		DiscoveryTTL: 30 * time.Minute,
		MetadataTTL:  10 * time.Minute,
		NegativeTTL:  5 * time.Minute,
	})
}

func seedFleet(t *testing.T, host *githost.Fake) {
	t.Helper()
	host.AddRepo(fork.Repository{
		FullName:      types.RepoName("upstream/widget"),
		DefaultBranch: "main",
	})
	host.AddRepo(fork.Repository{
		FullName:            types.RepoName("acme/widget"),
		IsFork:              true,
		DefaultBranch:       "main",
		ParentFullName:      types.RepoName("upstream/widget"),
		ParentDefaultBranch: "main",
	})
	host.AddRepo(fork.Repository{
		FullName:            types.RepoName("acme/gadget"),
		IsFork:              true,
		DefaultBranch:       "main",
		ParentFullName:      types.RepoName("upstream/gadget"),
		ParentDefaultBranch: "main",
	})
	host.AddRepo(fork.Repository{
		FullName:      types.RepoName("acme/not-a-fork"),
		DefaultBranch: "main",
	})
	host.AddRepo(fork.Repository{
		FullName:            types.RepoName("acme/mothballed"),
		IsFork:              true,
		Archived:            true,
		DefaultBranch:       "main",
		ParentFullName:      types.RepoName("upstream/mothballed"),
		ParentDefaultBranch: "main",
	})
}

func TestForksFiltersFleet(t *testing.T) {
	host := githost.NewFake()
	seedFleet(t, host)
	d := New(host, newCache())

	forks, skips, err := d.Forks(context.Background(), "acme")
	require.NoError(t, err)

	var names []string
	for _, f := range forks {
		names = append(names, string(f.FullName))
	}
	assert.Equal(t, []string{"acme/gadget", "acme/widget"}, names)

	// The archived fork is set aside, not dropped; plain repositories are
	// not part of the fleet at all.
	require.Len(t, skips, 1)
	assert.Equal(t, types.RepoName("acme/mothballed"), skips[0].Repo)
	assert.NotEmpty(t, skips[0].Reason)
}

func TestForksFlagsUnpromotableForks(t *testing.T) {
	host := githost.NewFake()
	seedFleet(t, host)
	host.AddRepo(fork.Repository{
		FullName:       types.RepoName("acme/halfling"),
		IsFork:         true,
		DefaultBranch:  "main",
		ParentFullName: types.RepoName("upstream/halfling"),
		// No parent default branch: the record is incomplete.
	})
	d := New(host, newCache())

	forks, skips, err := d.Forks(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, forks, 2)

	var skipped []types.RepoName
	for _, s := range skips {
		skipped = append(skipped, s.Repo)
	}
	assert.Contains(t, skipped, types.RepoName("acme/halfling"))
}

func TestForksServedFromCacheSkipsHost(t *testing.T) {
	host := githost.NewFake()
	seedFleet(t, host)
	d := New(host, newCache())

	first, firstSkips, err := d.Forks(context.Background(), "acme")
	require.NoError(t, err)
	second, secondSkips, err := d.Forks(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstSkips, secondSkips, "skips are cached with the fleet")
	assert.Equal(t, 1, host.ListCalls["acme"], "second call must be served from cache")
}

func TestForksClearForcesRefetch(t *testing.T) {
	host := githost.NewFake()
	seedFleet(t, host)
	c := newCache()
	d := New(host, c)

	_, _, err := d.Forks(context.Background(), "acme")
	require.NoError(t, err)
	c.Clear()
	_, _, err = d.Forks(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, 2, host.ListCalls["acme"])
}

func TestForksUnknownOrgIsNegativeCached(t *testing.T) {
	host := githost.NewFake()
	c := newCache()
	d := New(host, c)

	// The fake treats an org with no repositories as an empty fleet, so
	// drive the negative path through the cache directly.
	c.PutNegative(cache.Discovery, "ghost")

	_, _, err := d.Forks(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.Discovery))
	assert.Equal(t, 0, host.ListCalls["ghost"])
}

func TestFilterRepoDoesNotTouchCache(t *testing.T) {
	host := githost.NewFake()
	seedFleet(t, host)
	c := newCache()
	d := New(host, c)

	forks, _, err := d.Forks(context.Background(), "acme")
	require.NoError(t, err)

	only := FilterRepo(forks, "widget")
	require.Len(t, only, 1)
	assert.Equal(t, types.RepoName("acme/widget"), only[0].FullName)

	// The cached fleet is still the full fleet.
	again, _, err := d.Forks(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Equal(t, 1, host.ListCalls["acme"])
}

func TestFilterRepoAcceptsFullName(t *testing.T) {
	forks := []fork.Repository{
		{FullName: types.RepoName("acme/widget")},
		{FullName: types.RepoName("acme/gadget")},
	}
	assert.Len(t, FilterRepo(forks, "acme/gadget"), 1)
	assert.Len(t, FilterRepo(forks, ""), 2)
	assert.Empty(t, FilterRepo(forks, "nonesuch"))
}

func TestFilterSkips(t *testing.T) {
	skips := []Skip{
		{Repo: types.RepoName("acme/widget"), Reason: "repository is archived or disabled"},
		{Repo: types.RepoName("acme/gadget"), Reason: "no upstream to track"},
	}
	assert.Len(t, FilterSkips(skips, "widget"), 1)
	assert.Len(t, FilterSkips(skips, ""), 2)
	assert.Empty(t, FilterSkips(skips, "nonesuch"))
}
