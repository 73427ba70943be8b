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

// Package discovery enumerates the fork fleet of an organization, with a
// cache in front of the host API so that rapid successive runs do not
// re-list unchanged orgs.
package discovery

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/cache"
	"github.com/forkpilot/forkpilot/pkg/fork"
	"github.com/forkpilot/forkpilot/pkg/githost"
)

// Discoverer lists promotable forks per org.
type Discoverer struct {
	host  githost.Host
	cache *cache.Cache
}

// Skip is a discovered fork excluded from promotion, with the reason. Skips
// still reach the run report so their exclusion is visible.
type Skip struct {
	Repo   types.RepoName `json:"repo"`
	Reason string         `json:"reason"`
}

// fleet is the cached discovery result for one org.
type fleet struct {
	Forks []fork.Repository `json:"forks"`
	Skips []Skip            `json:"skips,omitempty"`
}

// New returns a Discoverer backed by host and cache.
func New(host githost.Host, c *cache.Cache) *Discoverer {
	return &Discoverer{host: host, cache: c}
}

// Forks returns the promotable forks of org plus the forks it set aside,
// each with its reason. A failure to enumerate is fatal for the org: a
// partial fleet must never be mistaken for the whole fleet.
func (d *Discoverer) Forks(ctx context.Context, org string) ([]fork.Repository, []Skip, error) {
	const op errors.Op = "discovery.Forks"

	var cached fleet
	hit := d.cache.Get(cache.Discovery, org, &cached)
	if hit.Found {
		if hit.Negative {
			return nil, nil, errors.E(op, errors.Discovery,
				fmt.Errorf("org %q recently resolved to not found", org))
		}
		klog.V(2).Infof("discovery: org %s served from cache (%d forks, %d skipped)",
			org, len(cached.Forks), len(cached.Skips))
		return cached.Forks, cached.Skips, nil
	}

	repos, err := d.host.ListOrgRepos(ctx, org)
	if err != nil {
		if errors.IsKind(err, errors.NotFound) {
			d.cache.PutNegative(cache.Discovery, org)
			return nil, nil, errors.E(op, errors.Discovery, err)
		}
		return nil, nil, errors.E(op, errors.Discovery, err)
	}

	out := fleet{Forks: make([]fork.Repository, 0, len(repos))}
	for _, r := range repos {
		if !r.IsFork {
			continue
		}
		if r.Archived || r.Disabled {
			out.Skips = append(out.Skips, Skip{Repo: r.FullName, Reason: "repository is archived or disabled"})
			continue
		}
		// List responses omit the parent. Fill it from the repository
		// endpoint before the promotion engine ever sees the entry.
		if r.ParentFullName.Empty() {
			full, err := d.host.GetRepository(ctx, r.FullName)
			if err != nil {
				return nil, nil, errors.E(op, r.FullName, errors.Discovery, err)
			}
			r = full
		}
		if err := r.Validate(); err != nil {
			klog.Warningf("discovery: skipping %s: %v", r.FullName, err)
			out.Skips = append(out.Skips, Skip{Repo: r.FullName, Reason: err.Error()})
			continue
		}
		// A fork whose upstream was deleted still lists as a fork but has
		// no parent to track.
		if !r.Promotable() {
			out.Skips = append(out.Skips, Skip{Repo: r.FullName, Reason: "no upstream to track"})
			continue
		}
		out.Forks = append(out.Forks, r)
	}

	if err := d.cache.Put(cache.Discovery, org, out); err != nil {
		// A cache write failure degrades to uncached operation.
		klog.Warningf("discovery: caching org %s: %v", org, err)
	}
	return out.Forks, out.Skips, nil
}

// FilterRepo narrows forks to the single named repository. The filter runs
// on the already-retrieved fleet so that it never changes what gets cached.
func FilterRepo(forks []fork.Repository, repo string) []fork.Repository {
	if repo == "" {
		return forks
	}
	var out []fork.Repository
	for _, f := range forks {
		if f.FullName.Name() == repo || string(f.FullName) == repo {
			out = append(out, f)
		}
	}
	return out
}

// FilterSkips narrows skips the same way FilterRepo narrows the fleet.
func FilterSkips(skips []Skip, repo string) []Skip {
	if repo == "" {
		return skips
	}
	var out []Skip
	for _, s := range skips {
		if s.Repo.Name() == repo || string(s.Repo) == repo {
			out = append(out, s)
		}
	}
	return out
}
