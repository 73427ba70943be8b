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
	"fmt"
	"sort"
	gosync "sync"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/pkg/discovery"
	"github.com/forkpilot/forkpilot/pkg/dispatch"
	"github.com/forkpilot/forkpilot/pkg/fork"
	"github.com/forkpilot/forkpilot/pkg/githost"
	"golang.org/x/sync/errgroup"
)

// MirrorPass copies the managed refs of every discovered fork to the
// secondary host without promoting anything first. Ref tips are read live
// from the primary host, so the pass is usable on a fleet synced by an
// earlier run or by hand.
func (c *Coordinator) MirrorPass(ctx context.Context, opts RunOptions) ([]dispatch.MirrorResult, error) {
	const op errors.Op = "coordinator.MirrorPass"

	if c.NewMirror == nil {
		return nil, errors.E(op, errors.Validation,
			fmt.Errorf("no secondary host configured"))
	}
	matrix, err := c.cfg.Matrix()
	if err != nil {
		return nil, errors.E(op, err)
	}
	if opts.Org != "" {
		matrix, err = matrix.Filter(opts.Org)
		if err != nil {
			return nil, errors.E(op, err)
		}
	}
	branches, err := c.cfg.BranchSet()
	if err != nil {
		return nil, errors.E(op, err)
	}

	var (
		results  []dispatch.MirrorResult
		repoErrs []error
	)
	for _, target := range matrix.Targets() {
		host, mirror, forks, err := c.openOrg(ctx, target, opts.Repo)
		if err != nil {
			if errors.IsKind(err, errors.Credential) {
				return results, errors.E(op, err)
			}
			repoErrs = append(repoErrs, err)
			continue
		}

		var mu gosync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Concurrency)
		for _, repo := range forks {
			repo := repo
			g.Go(func() error {
				set := branches
				if repo.DefaultBranch != "" {
					set = set.WithMirror(repo.DefaultBranch)
				}
				res, err := mirror.MirrorRepo(gctx, repo.FullName, set, liveTips(gctx, host, repo, set))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					repoErrs = append(repoErrs, err)
					return nil
				}
				results = append(results, res)
				return nil
			})
		}
		g.Wait() //nolint:errcheck // workers record their own failures
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Repo < results[j].Repo })
	if len(repoErrs) > 0 {
		return results, errors.E(op, fmt.Errorf("%d mirror failure(s): %v", len(repoErrs), repoErrs))
	}
	return results, nil
}

// Announce dispatches push webhooks for the named branches of one
// repository, resolving their current tips from the primary host. With no
// branches given, every managed branch that exists is announced.
func (c *Coordinator) Announce(ctx context.Context, org string, repo string, refs []string) error {
	const op errors.Op = "coordinator.Announce"

	if c.NewNotifier == nil {
		return errors.E(op, errors.Validation, fmt.Errorf("no webhook receiver configured"))
	}
	if org == "" {
		return errors.E(op, errors.Validation, fmt.Errorf("an organization must be named"))
	}
	matrix, err := c.cfg.Matrix()
	if err != nil {
		return errors.E(op, err)
	}
	matrix, err = matrix.Filter(org)
	if err != nil {
		return errors.E(op, err)
	}
	branches, err := c.cfg.BranchSet()
	if err != nil {
		return errors.E(op, err)
	}

	target := matrix.Targets()[0]
	host, _, forks, err := c.openOrg(ctx, target, repo)
	if err != nil {
		return errors.E(op, err)
	}
	if len(forks) != 1 {
		return errors.E(op, errors.NotFound,
			fmt.Errorf("repository %q matched %d forks in org %q", repo, len(forks), org))
	}
	r := forks[0]

	set := branches
	if r.DefaultBranch != "" {
		set = set.WithMirror(r.DefaultBranch)
	}
	if len(refs) == 0 {
		refs = set.Refs(fork.PromotionOrder...)
	}

	outcome := fork.SyncOutcome{Repo: r.FullName, Kind: fork.OutcomeSynced}
	for _, ref := range refs {
		sha, err := host.GetRef(ctx, r.FullName, ref)
		if err != nil {
			if errors.IsKind(err, errors.NotFound) {
				continue
			}
			return errors.E(op, r.FullName, err)
		}
		outcome.Record(fork.BranchChange{
			Ref:    ref,
			Action: fork.ActionFastForwarded,
			After:  sha,
		})
	}
	if len(outcome.ChangedRefs()) == 0 {
		return errors.E(op, errors.NotFound,
			fmt.Errorf("none of the requested branches exist on %s", r.FullName))
	}
	if err := c.NewNotifier(c.runID).Notify(ctx, outcome); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// openOrg mints the org's token and returns its host client, mirror (nil
// when unconfigured) and filtered fork fleet.
func (c *Coordinator) openOrg(ctx context.Context, target fork.OrgTarget, repoFilter string) (githost.Host, RefMirror, []fork.Repository, error) {
	const op errors.Op = "coordinator.openOrg"

	installation, ok := c.cfg.Auth.Installations[target.Org]
	if !ok {
		return nil, nil, nil, errors.E(op, errors.Credential,
			fmt.Errorf("no installation configured for org %q", target.Org))
	}
	token, err := c.minter.Mint(ctx, installation)
	if err != nil {
		return nil, nil, nil, errors.E(op, err)
	}
	host, err := c.NewHost(ctx, token.Value)
	if err != nil {
		return nil, nil, nil, errors.E(op, errors.Credential, err)
	}
	// Skips are a promotion concern; standalone passes only touch the
	// promotable fleet.
	forks, _, err := discovery.New(host, c.cache).Forks(ctx, target.Org)
	if err != nil {
		return nil, nil, nil, errors.E(op, err)
	}
	var mirror RefMirror
	if c.NewMirror != nil {
		mirror, err = c.NewMirror(target, token.Value)
		if err != nil {
			return nil, nil, nil, errors.E(op, err)
		}
	}
	return host, mirror, discovery.FilterRepo(forks, repoFilter), nil
}

// liveTips reads the current SHAs of the branches the mirror pass pushes.
// Branches that do not exist are left out; the mirror skips them.
func liveTips(ctx context.Context, host githost.Host, repo fork.Repository, set fork.BranchSet) map[string]string {
	tips := map[string]string{}
	for _, role := range []fork.BranchRole{fork.RoleProduct, fork.RoleStaging, fork.RoleFeature} {
		ref := set.Ref(role)
		sha, err := host.GetRef(ctx, repo.FullName, ref)
		if err != nil {
			continue
		}
		tips[ref] = sha
	}
	return tips
}
