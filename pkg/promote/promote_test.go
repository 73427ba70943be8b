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

package promote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/cache"
	"github.com/forkpilot/forkpilot/pkg/conflict"
	"github.com/forkpilot/forkpilot/pkg/fork"
	"github.com/forkpilot/forkpilot/pkg/githost"
)

const (
	upstreamName = types.RepoName("upstream/widget")
	forkName     = types.RepoName("acme/widget")
)

func testBranches(t *testing.T) fork.BranchSet {
	t.Helper()
	set, err := fork.NewBranchSet("fp", "main", map[fork.BranchRole]string{
		fork.RoleProduct:  "product",
		fork.RoleStaging:  "staging",
		fork.RoleFeature:  "feature",
		fork.RoleRelease:  "release",
		fork.RoleSnapshot: "snapshot",
	})
	require.NoError(t, err)
	return set
}

func testCache() *cache.Cache {
	return cache.New(cache.Options{
		DiscoveryTTL: 30 * time.Minute,
		MetadataTTL:  10 * time.Minute,
		NegativeTTL:  5 * time.Minute,
	})
}

// fleet builds an upstream at M0->M1->M2 and a fork whose mirror sits at M1.
func fleet(t *testing.T) (*githost.Fake, *githost.FakeRepo, *githost.FakeRepo, fork.Repository) {
	t.Helper()
	host := githost.NewFake()
	up := host.AddRepo(fork.Repository{
		FullName:      upstreamName,
		DefaultBranch: "main",
	})
	up.Chain("M0", "M1", "M2")
	up.SetRef("main", "M2")

	meta := fork.Repository{
		FullName:            forkName,
		IsFork:              true,
		DefaultBranch:       "main",
		ParentFullName:      upstreamName,
		ParentDefaultBranch: "main",
	}
	fk := host.AddRepo(meta)
	fk.Chain("M0", "M1")
	fk.SetRef("main", "M1")
	return host, up, fk, meta
}

func changeFor(t *testing.T, out fork.SyncOutcome, role fork.BranchRole) fork.BranchChange {
	t.Helper()
	for _, c := range out.Changes {
		if c.Role == role {
			return c
		}
	}
	t.Fatalf("no change recorded for role %s in %+v", role, out.Changes)
	return fork.BranchChange{}
}

func TestSyncFastForwardsWholeLadder(t *testing.T) {
	host, _, fk, meta := fleet(t)
	fk.SetRef("fp/product", "M1")
	fk.SetRef("fp/staging", "M0")
	fk.SetRef("fp/feature", "M0")
	fk.SetRef("fp/release", "M1")
	fk.SetRef("fp/snapshot", "M0")

	eng := New(host, testCache(), testBranches(t), 1)
	out := eng.Sync(context.Background(), meta)

	assert.Equal(t, fork.OutcomeSynced, out.Kind)
	assert.Empty(t, out.Err)

	mirror := changeFor(t, out, fork.RoleMirror)
	assert.Equal(t, fork.ActionFastForwarded, mirror.Action)
	assert.Equal(t, "M1", mirror.Before)
	assert.Equal(t, "M2", mirror.After)

	product := changeFor(t, out, fork.RoleProduct)
	assert.Equal(t, fork.ActionFastForwarded, product.Action)
	assert.Equal(t, "M2", product.After)

	// Lag one: staging and feature advance to product's parent, not its tip.
	assert.Equal(t, "M1", fk.Refs["fp/staging"])
	assert.Equal(t, "M1", fk.Refs["fp/feature"])
	assert.Equal(t, "M2", fk.Refs["fp/release"])
	assert.Equal(t, "M0", fk.Refs["fp/snapshot"], "snapshot never moves")
}

func TestSyncBootstrapsMissingBranches(t *testing.T) {
	host, _, fk, meta := fleet(t)

	eng := New(host, testCache(), testBranches(t), 1)
	out := eng.Sync(context.Background(), meta)

	assert.Equal(t, fork.OutcomeCreated, out.Kind)
	assert.Empty(t, out.Warnings, "bootstrap must not warn about its own branches")
	for _, ref := range []string{"fp/product", "fp/staging", "fp/feature", "fp/release", "fp/snapshot"} {
		assert.Equal(t, "M2", fk.Refs[ref], ref)
	}
	product := changeFor(t, out, fork.RoleProduct)
	assert.Equal(t, fork.ActionCreated, product.Action)
	assert.Empty(t, product.Before)
}

func TestSyncUpToDateIsUnchanged(t *testing.T) {
	host, _, fk, meta := fleet(t)
	fk.Chain("M0", "M1", "M2")
	fk.SetRef("main", "M2")
	fk.SetRef("fp/product", "M2")
	fk.SetRef("fp/staging", "M1")
	fk.SetRef("fp/feature", "M1")
	fk.SetRef("fp/release", "M2")
	fk.SetRef("fp/snapshot", "M0")

	eng := New(host, testCache(), testBranches(t), 1)
	out := eng.Sync(context.Background(), meta)

	assert.Equal(t, fork.OutcomeUnchanged, out.Kind)
	assert.Empty(t, out.ChangedRefs())
}

func TestSyncMirrorConflict(t *testing.T) {
	host, _, fk, meta := fleet(t)
	fk.MergeConflict = true
	fk.SetRef("fp/product", "M1")

	eng := New(host, testCache(), testBranches(t), 1)
	out := eng.Sync(context.Background(), meta)

	assert.Equal(t, fork.OutcomeConflicted, out.Kind)
	assert.Equal(t, string(conflict.MirrorDiverged), out.ConflictKind)
	// The ladder stopped before touching anything downstream.
	assert.Equal(t, "M1", fk.Refs["fp/product"])
}

func TestSyncProductDivergence(t *testing.T) {
	host, _, fk, meta := fleet(t)
	// Someone committed directly to product off M1.
	fk.AddCommit("F1", "M1")
	fk.SetRef("fp/product", "F1")
	fk.SetRef("fp/staging", "M0")
	fk.SetRef("fp/feature", "M0")
	fk.SetRef("fp/release", "M1")
	fk.SetRef("fp/snapshot", "M0")

	eng := New(host, testCache(), testBranches(t), 1)
	out := eng.Sync(context.Background(), meta)

	assert.Equal(t, fork.OutcomeConflicted, out.Kind)
	assert.Equal(t, string(conflict.ProductDiverged), out.ConflictKind)

	// Product keeps its foreign commit and nothing downstream moved.
	assert.Equal(t, "F1", fk.Refs["fp/product"])
	assert.Equal(t, "M0", fk.Refs["fp/staging"])
	assert.Equal(t, "M0", fk.Refs["fp/feature"])
	assert.Equal(t, "M1", fk.Refs["fp/release"])
}

func TestSyncResetsDivergedRelease(t *testing.T) {
	host, _, fk, meta := fleet(t)
	fk.AddCommit("R1", "M0")
	fk.SetRef("fp/product", "M1")
	fk.SetRef("fp/staging", "M0")
	fk.SetRef("fp/feature", "M0")
	fk.SetRef("fp/release", "R1")
	fk.SetRef("fp/snapshot", "M0")

	eng := New(host, testCache(), testBranches(t), 1)
	out := eng.Sync(context.Background(), meta)

	assert.Equal(t, fork.OutcomeDiverged, out.Kind)
	release := changeFor(t, out, fork.RoleRelease)
	assert.Equal(t, fork.ActionReset, release.Action)
	assert.Equal(t, "R1", release.Before)
	assert.Equal(t, "M2", release.After)
	assert.Equal(t, "M2", fk.Refs["fp/release"])
}

func TestSyncWarnsOnDevBranchAheadOfTarget(t *testing.T) {
	host, _, fk, meta := fleet(t)
	fk.Chain("M0", "M1", "M2")
	fk.SetRef("main", "M2")
	// Staging sits at product's tip, violating the lag guard.
	fk.SetRef("fp/product", "M2")
	fk.SetRef("fp/staging", "M2")
	fk.SetRef("fp/feature", "M1")
	fk.SetRef("fp/release", "M2")
	fk.SetRef("fp/snapshot", "M0")

	eng := New(host, testCache(), testBranches(t), 1)
	out := eng.Sync(context.Background(), meta)

	assert.Equal(t, fork.OutcomeUnchanged, out.Kind)
	require.NotEmpty(t, out.Warnings)
	assert.Contains(t, out.Warnings[0], "fp/staging")
	assert.Equal(t, "M2", fk.Refs["fp/staging"], "ahead branch is left alone")
}

func TestSyncLagWalksBackThroughShortHistory(t *testing.T) {
	host, up, fk, meta := fleet(t)
	// Upstream history is a single commit.
	up.Parents = map[string]string{"M0": ""}
	up.SetRef("main", "M0")
	fk.Parents = map[string]string{"M0": ""}
	fk.SetRef("main", "M0")

	eng := New(host, testCache(), testBranches(t), 3)
	out := eng.Sync(context.Background(), meta)

	// Everything bootstraps at the root commit; the lag walk stops there.
	assert.Equal(t, fork.OutcomeCreated, out.Kind)
	assert.Equal(t, "M0", fk.Refs["fp/staging"])
}

func TestSyncSnapshotIdempotence(t *testing.T) {
	host, up, fk, meta := fleet(t)
	eng := New(host, testCache(), testBranches(t), 1)

	first := eng.Sync(context.Background(), meta)
	require.Equal(t, fork.OutcomeCreated, first.Kind)
	snapshotSHA := fk.Refs["fp/snapshot"]

	// Upstream advances; a second run promotes everything but the snapshot.
	up.AddCommit("M3", "M2")
	up.SetRef("main", "M3")
	second := eng.Sync(context.Background(), meta)

	assert.Equal(t, fork.OutcomeSynced, second.Kind)
	assert.Equal(t, "M3", fk.Refs["fp/product"])
	assert.Equal(t, snapshotSHA, fk.Refs["fp/snapshot"])
}

func TestSyncSkipsNonPromotableRepo(t *testing.T) {
	host := githost.NewFake()
	meta := fork.Repository{FullName: forkName, DefaultBranch: "main"}
	host.AddRepo(meta)

	eng := New(host, testCache(), testBranches(t), 1)
	out := eng.Sync(context.Background(), meta)

	assert.Equal(t, fork.OutcomeSkipped, out.Kind)
	assert.NotEmpty(t, out.Err)
}

func TestSyncHonorsCancellation(t *testing.T) {
	host, _, _, meta := fleet(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := New(host, testCache(), testBranches(t), 1)
	out := eng.Sync(ctx, meta)

	assert.Equal(t, fork.OutcomeErrored, out.Kind)
}

func TestSyncStoresRefTips(t *testing.T) {
	host, _, _, meta := fleet(t)
	c := testCache()
	eng := New(host, c, testBranches(t), 1)

	out := eng.Sync(context.Background(), meta)
	require.NotEqual(t, fork.OutcomeErrored, out.Kind)

	var tips map[string]string
	hit := c.Get(cache.Metadata, "refs/acme/widget", &tips)
	require.True(t, hit.Found)
	assert.Equal(t, "M2", tips["fp/product"])
}
