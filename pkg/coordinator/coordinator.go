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

// Package coordinator runs the whole fleet: per-org token minting,
// discovery, per-repository promotion with bounded concurrency, conflict
// reporting, and outbound dispatch of the results.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/apptoken"
	"github.com/forkpilot/forkpilot/pkg/cache"
	"github.com/forkpilot/forkpilot/pkg/config"
	"github.com/forkpilot/forkpilot/pkg/conflict"
	"github.com/forkpilot/forkpilot/pkg/discovery"
	"github.com/forkpilot/forkpilot/pkg/dispatch"
	"github.com/forkpilot/forkpilot/pkg/fork"
	"github.com/forkpilot/forkpilot/pkg/githost"
	"github.com/forkpilot/forkpilot/pkg/promote"
)

// Minter mints installation tokens. Satisfied by *apptoken.Minter.
type Minter interface {
	Mint(ctx context.Context, installationID int64) (apptoken.Token, error)
}

// Notifier posts outbound webhooks. Satisfied by *dispatch.Notifier.
type Notifier interface {
	Notify(ctx context.Context, outcome fork.SyncOutcome) error
}

// RefMirror copies refs to the secondary host. Satisfied by
// *dispatch.Mirror.
type RefMirror interface {
	MirrorRepo(ctx context.Context, repo types.RepoName, branches fork.BranchSet, tips map[string]string) (dispatch.MirrorResult, error)
}

// HostFactory builds a primary-host client for one freshly minted token.
type HostFactory func(ctx context.Context, token string) (githost.Host, error)

// MirrorFactory builds a secondary-host mirror for one org target, carrying
// the org's primary token for fetches.
type MirrorFactory func(target fork.OrgTarget, primaryToken string) (RefMirror, error)

// Coordinator owns one configuration and drives runs against it.
type Coordinator struct {
	cfg    *config.Config
	cache  *cache.Cache
	minter Minter
	runID  string

	// Factories are swappable for tests.
	NewHost     HostFactory
	NewNotifier func(runID string) Notifier
	NewMirror   MirrorFactory
}

// New returns a Coordinator with production factories wired from cfg.
func New(cfg *config.Config, c *cache.Cache, minter Minter, runID string) *Coordinator {
	co := &Coordinator{
		cfg:    cfg,
		cache:  c,
		minter: minter,
		runID:  runID,
	}
	co.NewHost = func(ctx context.Context, token string) (githost.Host, error) {
		return githost.NewGitHub(ctx, token, githost.Options{
			Timeout:     cfg.APITimeout,
			RetryBudget: cfg.RetryBudget,
		})
	}
	if cfg.Webhook.URL != "" {
		co.NewNotifier = func(runID string) Notifier {
			return dispatch.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, runID,
				dispatch.WithRetryBudget(cfg.RetryBudget))
		}
	}
	if cfg.Mirror.Token != "" {
		co.NewMirror = func(target fork.OrgTarget, primaryToken string) (RefMirror, error) {
			return dispatch.NewMirror(dispatch.MirrorOptions{
				Host:         cfg.Mirror.Host,
				Token:        cfg.Mirror.Token,
				PrimaryToken: primaryToken,
				Group:        target.MirrorGroup,
				Subgroup:     target.MirrorSubgroup,
				Cache:        c,
			})
		}
	}
	return co
}

// RunOptions select what one run covers.
type RunOptions struct {
	// Org restricts the run to one configured organization.
	Org string
	// Repo restricts the run to one repository (name or org/name).
	Repo string
	// ClearCache wipes every cache category before the run.
	ClearCache bool
	// Webhooks enables outbound webhook dispatch for changed repositories.
	Webhooks bool
	// MirrorRefs enables ref mirroring to the secondary host.
	MirrorRefs bool
}

// Run executes one full pass over the configured fleet. The returned report
// enumerates every repository that was considered, whatever its fate. The
// error is non-nil when the run as a whole cannot be trusted: bad
// configuration, a failed credential, or a failed org enumeration.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (fork.RunReport, error) {
	const op errors.Op = "coordinator.Run"

	matrix, err := c.cfg.Matrix()
	if err != nil {
		return fork.RunReport{}, errors.E(op, err)
	}
	if opts.Org != "" {
		matrix, err = matrix.Filter(opts.Org)
		if err != nil {
			return fork.RunReport{}, errors.E(op, err)
		}
	}
	branches, err := c.cfg.BranchSet()
	if err != nil {
		return fork.RunReport{}, errors.E(op, err)
	}

	if opts.ClearCache {
		c.cache.Clear()
		klog.V(1).Info("coordinator: cache cleared before run")
	}

	// Organizations are independent: each mints its own token and works its
	// own cache keys, so the matrix runs in parallel.
	var (
		mu       gosync.Mutex
		outcomes []fork.SyncOutcome
		orgErrs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range matrix.Targets() {
		target := target
		g.Go(func() error {
			orgOutcomes, err := c.runOrg(gctx, target, branches, opts)
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, orgOutcomes...)
			if err != nil {
				orgErrs = append(orgErrs, err)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // org failures are collected, not returned

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Repo < outcomes[j].Repo })
	report := fork.NewRunReport(outcomes)
	for _, err := range orgErrs {
		// A dead credential taints the run as a whole.
		if errors.IsKind(err, errors.Credential) {
			return report, errors.E(op, err)
		}
	}
	if len(orgErrs) > 0 {
		return report, errors.E(op, fmt.Errorf("%d organization(s) failed: %v", len(orgErrs), orgErrs))
	}
	return report, nil
}

func (c *Coordinator) runOrg(ctx context.Context, target fork.OrgTarget, branches fork.BranchSet, opts RunOptions) ([]fork.SyncOutcome, error) {
	const op errors.Op = "coordinator.runOrg"

	installation, ok := c.cfg.Auth.Installations[target.Org]
	if !ok {
		return nil, errors.E(op, errors.Credential,
			fmt.Errorf("no installation configured for org %q", target.Org))
	}
	token, err := c.minter.Mint(ctx, installation)
	if err != nil {
		return nil, errors.E(op, err)
	}

	host, err := c.NewHost(ctx, token.Value)
	if err != nil {
		return nil, errors.E(op, errors.Credential, err)
	}

	forks, skips, err := discovery.New(host, c.cache).Forks(ctx, target.Org)
	if err != nil {
		return nil, errors.E(op, err)
	}
	forks = discovery.FilterRepo(forks, opts.Repo)
	skips = discovery.FilterSkips(skips, opts.Repo)

	engine := promote.New(host, c.cache, branches, c.cfg.Branches.Lag)
	conflicts := conflict.New(host, c.runID)

	var notifier Notifier
	if opts.Webhooks && c.NewNotifier != nil {
		notifier = c.NewNotifier(c.runID)
	}
	var mirror RefMirror
	if opts.MirrorRefs && c.NewMirror != nil {
		mirror, err = c.NewMirror(target, token.Value)
		if err != nil {
			return nil, errors.E(op, err)
		}
	}

	var (
		mu       gosync.Mutex
		outcomes []fork.SyncOutcome
	)
	// Set-aside forks still get an outcome: the report enumerates every
	// repository of the fleet, skipped ones included.
	for _, s := range skips {
		outcomes = append(outcomes, fork.SyncOutcome{
			Repo: s.Repo,
			Kind: fork.OutcomeSkipped,
			Err:  s.Reason,
		})
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, repo := range forks {
		repo := repo
		g.Go(func() error {
			outcome := c.runRepo(gctx, engine, conflicts, notifier, mirror, branches, repo)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors, they record outcomes

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Repo < outcomes[j].Repo })
	return outcomes, nil
}

// runRepo promotes one repository and fans its result out. Dispatch and
// issue housekeeping failures degrade to warnings on the outcome; the
// promotion result itself stands.
func (c *Coordinator) runRepo(ctx context.Context, engine *promote.Engine, conflicts *conflict.Handler, notifier Notifier, mirror RefMirror, branches fork.BranchSet, repo fork.Repository) fork.SyncOutcome {
	outcome := engine.Sync(ctx, repo)

	switch outcome.Kind {
	case fork.OutcomeConflicted:
		body := conflictBody(outcome)
		if _, err := conflicts.Report(ctx, repo.FullName, conflict.Kind(outcome.ConflictKind), body); err != nil {
			outcome.Warn(fmt.Sprintf("recording conflict issue: %v", err))
		}
		// Conflicted repositories are excluded from dispatch; the next run
		// retries them from scratch.
		return outcome

	case fork.OutcomeErrored, fork.OutcomeSkipped:
		return outcome
	}

	// The repository went through cleanly; close any canonical issues left
	// over from earlier runs.
	if closed, err := conflicts.Resolve(ctx, repo.FullName); err != nil {
		outcome.Warn(fmt.Sprintf("resolving conflict issues: %v", err))
	} else if closed > 0 {
		klog.V(1).Infof("coordinator: closed %d conflict issue(s) on %s", closed, repo.FullName)
	}

	if notifier != nil && len(outcome.ChangedRefs()) > 0 {
		if err := notifier.Notify(ctx, outcome); err != nil {
			outcome.Warn(fmt.Sprintf("webhook dispatch: %v", err))
		}
	}
	if mirror != nil {
		set := branches
		if repo.DefaultBranch != "" {
			set = set.WithMirror(repo.DefaultBranch)
		}
		tips := c.refTips(repo.FullName)
		if _, err := mirror.MirrorRepo(ctx, repo.FullName, set, tips); err != nil {
			outcome.Warn(fmt.Sprintf("secondary mirror: %v", err))
		}
	}
	return outcome
}

// refTips reads the ref SHAs promotion cached for repo.
func (c *Coordinator) refTips(repo types.RepoName) map[string]string {
	var tips map[string]string
	hit := c.cache.Get(cache.Metadata, "refs/"+string(repo), &tips)
	if !hit.Found || hit.Negative {
		return map[string]string{}
	}
	return tips
}

// conflictBody renders the canonical issue body for a conflicted outcome.
func conflictBody(outcome fork.SyncOutcome) string {
	body := fmt.Sprintf("Automated branch synchronization stopped for `%s`.\n\n"+
		"Condition: `%s`\n\nDetail:\n\n```\n%s\n```\n\n"+
		"Resolve the divergence (rebase or drop the foreign commits), and the "+
		"next run will pick the repository up again and close this issue.",
		outcome.Repo, outcome.ConflictKind, outcome.Err)
	return body
}
