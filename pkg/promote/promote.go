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

// Package promote drives one repository through the branch ladder: mirror
// sync, branch bootstrap, product fast-forward, lag-guarded dev promotion,
// release promotion and the one-shot snapshot.
package promote

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/pkg/cache"
	"github.com/forkpilot/forkpilot/pkg/conflict"
	"github.com/forkpilot/forkpilot/pkg/fork"
	"github.com/forkpilot/forkpilot/pkg/githost"
)

// State is the engine's position in the ladder. Conflicted is absorbing:
// once entered, the remaining steps are skipped for the repository.
type State string

const (
	StateUnsynced       State = "UNSYNCED"
	StateMirrorCurrent  State = "MIRROR_CURRENT"
	StateProductCurrent State = "PRODUCT_CURRENT"
	StatePromoted       State = "PROMOTED"
	StateDone           State = "DONE"
	StateConflicted     State = "CONFLICTED"
)

// Engine promotes one repository at a time. It is stateless between calls
// and safe for concurrent use across repositories.
type Engine struct {
	host     githost.Host
	cache    *cache.Cache
	branches fork.BranchSet
	lag      int
}

// New returns an Engine. lag is the minimum number of commits staging and
// feature are held behind product's tip; values below one are raised to one.
func New(host githost.Host, c *cache.Cache, branches fork.BranchSet, lag int) *Engine {
	if lag < 1 {
		lag = 1
	}
	return &Engine{host: host, cache: c, branches: branches, lag: lag}
}

// repoSync carries the per-repository working state of one Sync call.
type repoSync struct {
	*Engine
	repo     fork.Repository
	branches fork.BranchSet
	state    State
	outcome  *fork.SyncOutcome
	// tips tracks the current SHA of every ref the run has touched or read.
	tips map[string]string
	// created marks refs bootstrapped in this run. A freshly created dev
	// branch sits at product's tip and must not trip the ahead-of-target
	// warning meant for human pushes.
	created map[string]bool
}

// Sync runs the full ladder for repo and always returns an outcome, never a
// bare error: the caller's report must enumerate every repository.
func (e *Engine) Sync(ctx context.Context, repo fork.Repository) fork.SyncOutcome {
	outcome := fork.SyncOutcome{Repo: repo.FullName, Kind: fork.OutcomeUnchanged}
	if !repo.Promotable() {
		outcome.Kind = fork.OutcomeSkipped
		outcome.Err = "repository is not a promotable fork"
		return outcome
	}

	s := &repoSync{
		Engine:   e,
		repo:     repo,
		branches: e.branches,
		state:    StateUnsynced,
		outcome:  &outcome,
		tips:     map[string]string{},
		created:  map[string]bool{},
	}
	if repo.DefaultBranch != "" {
		s.branches = s.branches.WithMirror(repo.DefaultBranch)
	}

	steps := []struct {
		name string
		next State
		run  func(ctx context.Context) error
	}{
		{"mirror sync", StateMirrorCurrent, s.syncMirror},
		{"branch bootstrap", StateMirrorCurrent, s.ensureBranches},
		{"product promotion", StateProductCurrent, s.promoteProduct},
		{"dev promotion", StatePromoted, s.promoteDev},
		{"release promotion", StatePromoted, s.promoteRelease},
		{"snapshot", StateDone, s.ensureSnapshot},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			outcome.Kind = fork.OutcomeErrored
			outcome.Err = err.Error()
			return outcome
		}
		if err := step.run(ctx); err != nil {
			if s.state == StateConflicted {
				// The conflict kind and changes are already recorded.
				return outcome
			}
			outcome.Kind = fork.OutcomeErrored
			outcome.Err = fmt.Sprintf("%s: %v", step.name, err)
			return outcome
		}
		s.state = step.next
		klog.V(2).Infof("promote: %s: %s done, state %s", repo.FullName, step.name, s.state)
	}

	s.classify()
	s.storeTips()
	return outcome
}

// conflicted marks the outcome and flips the engine into its absorbing state.
func (s *repoSync) conflicted(kind conflict.Kind, err error) error {
	s.state = StateConflicted
	s.outcome.Kind = fork.OutcomeConflicted
	s.outcome.ConflictKind = string(kind)
	if err != nil {
		s.outcome.Err = err.Error()
	}
	return err
}

// syncMirror fast-forwards the mirror branch from the upstream parent.
func (s *repoSync) syncMirror(ctx context.Context) error {
	mirror := s.branches.Ref(fork.RoleMirror)
	before, err := s.host.GetRef(ctx, s.repo.FullName, mirror)
	if err != nil && !errors.IsKind(err, errors.NotFound) {
		return err
	}

	res, err := s.host.MergeUpstream(ctx, s.repo.FullName, mirror)
	if err != nil {
		if errors.IsKind(err, errors.Policy) {
			return s.conflicted(conflict.MirrorDiverged, err)
		}
		return err
	}

	after, err := s.host.GetRef(ctx, s.repo.FullName, mirror)
	if err != nil {
		return err
	}
	s.tips[mirror] = after

	action := fork.ActionFastForwarded
	if res.UpToDate || before == after {
		action = fork.ActionUnchanged
	}
	s.outcome.Record(fork.BranchChange{
		Role:   fork.RoleMirror,
		Ref:    mirror,
		Action: action,
		Before: before,
		After:  after,
	})
	return nil
}

// ensureBranches bootstraps missing managed branches. Creation only: an
// existing branch is never moved here. Product forks from the mirror tip,
// everything downstream from the product tip.
func (s *repoSync) ensureBranches(ctx context.Context) error {
	for _, role := range fork.PromotionOrder {
		if role == fork.RoleMirror {
			continue
		}
		ref := s.branches.Ref(role)
		if sha, err := s.host.GetRef(ctx, s.repo.FullName, ref); err == nil {
			s.tips[ref] = sha
			continue
		} else if !errors.IsKind(err, errors.NotFound) {
			return err
		}

		base := s.branches.Ref(fork.RoleProduct)
		if role == fork.RoleProduct {
			base = s.branches.Ref(fork.RoleMirror)
		}
		baseSHA, ok := s.tips[base]
		if !ok {
			return s.conflicted(conflict.BootstrapFailed,
				errors.E(errors.Op("promote.ensureBranches"), s.repo.FullName, errors.Internal,
					fmt.Errorf("base branch %q for %s has no known tip", base, role)))
		}

		err := s.host.CreateRef(ctx, s.repo.FullName, ref, baseSHA)
		switch {
		case err == nil:
			s.tips[ref] = baseSHA
			s.created[ref] = true
			s.outcome.Record(fork.BranchChange{
				Role: role, Ref: ref, Action: fork.ActionCreated, After: baseSHA,
			})
		case errors.IsKind(err, errors.Exist):
			// Lost a race with a concurrent run; the branch exists, which is
			// all this step guarantees.
			sha, getErr := s.host.GetRef(ctx, s.repo.FullName, ref)
			if getErr != nil {
				return getErr
			}
			s.tips[ref] = sha
		default:
			return err
		}
	}
	return nil
}

// promoteProduct fast-forwards product to the mirror tip. Product carrying
// commits that are not on the mirror is a policy violation, not a state to
// repair.
func (s *repoSync) promoteProduct(ctx context.Context) error {
	product := s.branches.Ref(fork.RoleProduct)
	mirrorTip := s.tips[s.branches.Ref(fork.RoleMirror)]
	before := s.tips[product]
	if s.created[product] {
		// Bootstrapped at the mirror tip earlier this run.
		return nil
	}

	cmp, err := s.host.Compare(ctx, s.repo.FullName, product, mirrorTip)
	if err != nil {
		return err
	}
	switch cmp.Status {
	case githost.StatusIdentical:
		s.outcome.Record(fork.BranchChange{
			Role: fork.RoleProduct, Ref: product, Action: fork.ActionUnchanged,
			Before: before, After: before,
		})
		return nil
	case githost.StatusAhead:
		if err := s.host.UpdateRef(ctx, s.repo.FullName, product, mirrorTip, false); err != nil {
			if errors.IsKind(err, errors.Policy) {
				return s.conflicted(conflict.ProductDiverged, err)
			}
			return err
		}
		s.tips[product] = mirrorTip
		s.outcome.Record(fork.BranchChange{
			Role: fork.RoleProduct, Ref: product, Action: fork.ActionFastForwarded,
			Before: before, After: mirrorTip,
		})
		return nil
	default:
		// behind or diverged: product holds commits the mirror does not.
		return s.conflicted(conflict.ProductDiverged,
			errors.E(errors.Op("promote.promoteProduct"), s.repo.FullName, errors.Policy,
				fmt.Errorf("branch %q holds commits not on %q (comparison %s)",
					product, s.branches.Ref(fork.RoleMirror), cmp.Status)))
	}
}

// lagTarget walks back lag first-parents from the product tip. A history
// shorter than the lag yields the root commit.
func (s *repoSync) lagTarget(ctx context.Context) (string, error) {
	sha := s.tips[s.branches.Ref(fork.RoleProduct)]
	for i := 0; i < s.lag; i++ {
		parent, err := s.host.CommitParent(ctx, s.repo.FullName, sha)
		if err != nil {
			return "", err
		}
		if parent == "" {
			break
		}
		sha = parent
	}
	return sha, nil
}

// promoteDev fast-forwards staging and feature to the lag-guarded target.
// A dev branch ahead of its target is someone's work in progress; it is
// warned about and left alone.
func (s *repoSync) promoteDev(ctx context.Context) error {
	target, err := s.lagTarget(ctx)
	if err != nil {
		return err
	}
	for _, role := range []fork.BranchRole{fork.RoleStaging, fork.RoleFeature} {
		ref := s.branches.Ref(role)
		before := s.tips[ref]
		if s.created[ref] {
			// Bootstrapped at product's tip earlier this run; the lag guard
			// applies from the next run on.
			continue
		}
		if before == target {
			s.outcome.Record(fork.BranchChange{
				Role: role, Ref: ref, Action: fork.ActionUnchanged,
				Before: before, After: before,
			})
			continue
		}
		cmp, err := s.host.Compare(ctx, s.repo.FullName, ref, target)
		if err != nil {
			return err
		}
		switch cmp.Status {
		case githost.StatusAhead:
			if err := s.host.UpdateRef(ctx, s.repo.FullName, ref, target, false); err != nil {
				return err
			}
			s.tips[ref] = target
			s.outcome.Record(fork.BranchChange{
				Role: role, Ref: ref, Action: fork.ActionFastForwarded,
				Before: before, After: target,
			})
		case githost.StatusIdentical, githost.StatusBehind:
			if cmp.Status == githost.StatusBehind {
				s.outcome.Warn(fmt.Sprintf("branch %q is ahead of its promotion target %.12s, leaving it alone", ref, target))
			}
			s.outcome.Record(fork.BranchChange{
				Role: role, Ref: ref, Action: fork.ActionUnchanged,
				Before: before, After: before,
			})
		default:
			s.outcome.Warn(fmt.Sprintf("branch %q has diverged from its promotion target %.12s, leaving it alone", ref, target))
			s.outcome.Record(fork.BranchChange{
				Role: role, Ref: ref, Action: fork.ActionSkipped,
				Before: before, After: before,
			})
		}
	}
	return nil
}

// promoteRelease fast-forwards release to the product tip and resets it when
// its history has diverged. Reset is this role's policy; the reset itself is
// recorded so the report shows the discarded tip.
func (s *repoSync) promoteRelease(ctx context.Context) error {
	ref := s.branches.Ref(fork.RoleRelease)
	target := s.tips[s.branches.Ref(fork.RoleProduct)]
	before := s.tips[ref]
	if s.created[ref] {
		return nil
	}
	if before == target {
		s.outcome.Record(fork.BranchChange{
			Role: fork.RoleRelease, Ref: ref, Action: fork.ActionUnchanged,
			Before: before, After: before,
		})
		return nil
	}
	cmp, err := s.host.Compare(ctx, s.repo.FullName, ref, target)
	if err != nil {
		return err
	}
	switch cmp.Status {
	case githost.StatusAhead:
		if err := s.host.UpdateRef(ctx, s.repo.FullName, ref, target, false); err != nil {
			return err
		}
		s.tips[ref] = target
		s.outcome.Record(fork.BranchChange{
			Role: fork.RoleRelease, Ref: ref, Action: fork.ActionFastForwarded,
			Before: before, After: target,
		})
	case githost.StatusIdentical, githost.StatusBehind:
		if cmp.Status == githost.StatusBehind {
			s.outcome.Warn(fmt.Sprintf("branch %q is ahead of %q, leaving it alone",
				ref, s.branches.Ref(fork.RoleProduct)))
		}
		s.outcome.Record(fork.BranchChange{
			Role: fork.RoleRelease, Ref: ref, Action: fork.ActionUnchanged,
			Before: before, After: before,
		})
	default:
		if err := s.host.UpdateRef(ctx, s.repo.FullName, ref, target, true); err != nil {
			return err
		}
		s.tips[ref] = target
		s.outcome.Record(fork.BranchChange{
			Role: fork.RoleRelease, Ref: ref, Action: fork.ActionReset,
			Before: before, After: target,
		})
	}
	return nil
}

// ensureSnapshot records the snapshot branch, which step two created if it
// was missing and which is never moved afterwards.
func (s *repoSync) ensureSnapshot(_ context.Context) error {
	ref := s.branches.Ref(fork.RoleSnapshot)
	for _, c := range s.outcome.Changes {
		if c.Role == fork.RoleSnapshot {
			return nil
		}
	}
	sha := s.tips[ref]
	s.outcome.Record(fork.BranchChange{
		Role: fork.RoleSnapshot, Ref: ref, Action: fork.ActionUnchanged,
		Before: sha, After: sha,
	})
	return nil
}

// classify reduces the recorded changes to the repository's outcome kind.
func (s *repoSync) classify() {
	var created, reset, moved bool
	for _, c := range s.outcome.Changes {
		switch c.Action {
		case fork.ActionCreated:
			created = true
		case fork.ActionReset:
			reset = true
		case fork.ActionFastForwarded:
			moved = true
		}
	}
	switch {
	case reset:
		s.outcome.Kind = fork.OutcomeDiverged
	case created:
		s.outcome.Kind = fork.OutcomeCreated
	case moved:
		s.outcome.Kind = fork.OutcomeSynced
	default:
		s.outcome.Kind = fork.OutcomeUnchanged
	}
}

// storeTips writes the final ref SHAs into the metadata cache so a closely
// following run can skip the per-ref reads.
func (s *repoSync) storeTips() {
	if s.cache == nil {
		return
	}
	key := "refs/" + string(s.repo.FullName)
	if err := s.cache.Put(cache.Metadata, key, s.tips); err != nil {
		klog.Warningf("promote: caching ref tips for %s: %v", s.repo.FullName, err)
	}
}
