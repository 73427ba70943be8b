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

package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"os"

	gitlab "github.com/xanzy/go-gitlab"
	"k8s.io/klog/v2"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/gitutil"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/cache"
	"github.com/forkpilot/forkpilot/pkg/fork"
)

// mirrorNamespace prefixes the fast-forward-only copies of primary branches
// on the secondary host, keeping them apart from the branches developers
// work on there.
const mirrorNamespace = "github/"

// MirrorOptions configure a Mirror.
type MirrorOptions struct {
	// Host is the secondary host, for example gitlab.com.
	Host string
	// Token authenticates against the secondary host's API and git remote.
	Token string
	// PrimaryToken authenticates git fetches from the primary host.
	PrimaryToken string
	// Group and Subgroup form the namespace projects are created under.
	Group    string
	Subgroup string
	// Cache, when set, remembers which projects already exist.
	Cache *cache.Cache
	// Workdir is the parent for per-repo scratch clones. Empty means the
	// system temp directory.
	Workdir string
}

// Mirror copies managed refs to projects on a secondary GitLab host.
type Mirror struct {
	client *gitlab.Client
	opts   MirrorOptions
}

// NewMirror returns a Mirror for the configured host.
func NewMirror(opts MirrorOptions) (*Mirror, error) {
	const op errors.Op = "dispatch.NewMirror"
	client, err := gitlab.NewClient(opts.Token,
		gitlab.WithBaseURL(fmt.Sprintf("https://%s/api/v4", opts.Host)))
	if err != nil {
		return nil, errors.E(op, errors.Credential, err)
	}
	return &Mirror{client: client, opts: opts}, nil
}

// RefStatus is the result of pushing one target branch.
type RefStatus string

const (
	RefCreated  RefStatus = "created"
	RefUpdated  RefStatus = "updated"
	RefExists   RefStatus = "exists"
	RefDiverged RefStatus = "skipped: diverged"
	RefNoSource RefStatus = "skipped: missing source"
)

// MirrorResult summarizes one repository's mirror pass.
type MirrorResult struct {
	Repo          types.RepoName       `json:"repo"`
	Project       string               `json:"project"`
	DefaultBranch string               `json:"defaultBranch,omitempty"`
	Refs          map[string]RefStatus `json:"refs"`
	Protected     []string             `json:"protected,omitempty"`
}

func (m *Mirror) projectPath(repo types.RepoName) string {
	return m.opts.Group + "/" + m.opts.Subgroup + "/" + repo.Name()
}

func (m *Mirror) remoteURL(repo types.RepoName) string {
	return fmt.Sprintf("https://%s/%s.git", m.opts.Host, m.projectPath(repo))
}

func primaryURL(repo types.RepoName) string {
	return fmt.Sprintf("https://github.com/%s.git", repo)
}

func statusOf(resp *gitlab.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// EnsureProject makes sure the secondary project for repo exists and returns
// its state. Existence is cached; a cached "exists" skips the API entirely.
func (m *Mirror) EnsureProject(ctx context.Context, repo types.RepoName) (RefStatus, error) {
	const op errors.Op = "dispatch.EnsureProject"
	path := m.projectPath(repo)
	cacheKey := "gitlab-project/" + path

	if m.opts.Cache != nil {
		var state string
		if hit := m.opts.Cache.Get(cache.Metadata, cacheKey, &state); hit.Found && !hit.Negative {
			return RefStatus(state), nil
		}
	}

	_, resp, err := m.client.Projects.GetProject(path, nil, gitlab.WithContext(ctx))
	switch {
	case err == nil:
		m.rememberProject(cacheKey, RefExists)
		return RefExists, nil
	case statusOf(resp) != http.StatusNotFound:
		return "", errors.E(op, repo, classifyGitLab(resp, err), err)
	}

	ns, resp, err := m.client.Namespaces.GetNamespace(
		m.opts.Group+"/"+m.opts.Subgroup, gitlab.WithContext(ctx))
	if err != nil {
		return "", errors.E(op, repo, classifyGitLab(resp, err),
			fmt.Errorf("resolving namespace %s/%s: %w", m.opts.Group, m.opts.Subgroup, err))
	}

	_, resp, err = m.client.Projects.CreateProject(&gitlab.CreateProjectOptions{
		Name:        gitlab.String(repo.Name()),
		Path:        gitlab.String(repo.Name()),
		NamespaceID: gitlab.Int(ns.ID),
		Visibility:  gitlab.Visibility(gitlab.PrivateVisibility),
	}, gitlab.WithContext(ctx))
	switch {
	case err == nil:
		m.rememberProject(cacheKey, RefCreated)
		return RefCreated, nil
	case statusOf(resp) == http.StatusConflict:
		// Another run created it first.
		m.rememberProject(cacheKey, RefExists)
		return RefExists, nil
	default:
		return "", errors.E(op, repo, classifyGitLab(resp, err), err)
	}
}

func (m *Mirror) rememberProject(key string, state RefStatus) {
	if m.opts.Cache == nil {
		return
	}
	if err := m.opts.Cache.Put(cache.Metadata, key, string(state)); err != nil {
		klog.Warningf("dispatch: caching project state: %v", err)
	}
}

// MirrorRepo copies repo's managed refs to the secondary host. tips maps
// branch name to SHA on the primary, as left behind by promotion. Mirror
// targets (namespaced copies of product and staging) are pushed
// fast-forward-only; dev targets are created once and then left to the
// developers on the secondary host.
func (m *Mirror) MirrorRepo(ctx context.Context, repo types.RepoName, branches fork.BranchSet, tips map[string]string) (MirrorResult, error) {
	const op errors.Op = "dispatch.MirrorRepo"
	result := MirrorResult{Repo: repo, Refs: map[string]RefStatus{}}

	state, err := m.EnsureProject(ctx, repo)
	if err != nil {
		return result, err
	}
	result.Project = string(state)

	dir, err := os.MkdirTemp(m.opts.Workdir, "forkpilot-mirror-")
	if err != nil {
		return result, errors.E(op, repo, errors.Internal, err)
	}
	defer os.RemoveAll(dir)

	base, err := gitutil.NewLocalGitRunner(dir)
	if err != nil {
		return result, errors.E(op, repo, err)
	}
	if err := base.InitBare(ctx); err != nil {
		return result, errors.E(op, repo, err)
	}
	primary := base.WithHTTPAuth("https://github.com/", "x-access-token", m.opts.PrimaryToken)
	secondary := base.WithHTTPAuth(fmt.Sprintf("https://%s/", m.opts.Host), "oauth2", m.opts.Token)

	productRef := branches.Ref(fork.RoleProduct)
	stagingRef := branches.Ref(fork.RoleStaging)
	featureRef := branches.Ref(fork.RoleFeature)
	releaseRef := branches.Ref(fork.RoleRelease)

	// Full-history fetch of every source commit, so pushes are never
	// rejected for shallowness.
	fetched := map[string]bool{}
	for _, ref := range []string{productRef, stagingRef, featureRef} {
		sha := tips[ref]
		if sha == "" || fetched[sha] {
			continue
		}
		if err := primary.FetchCommit(ctx, primaryURL(repo), sha); err != nil {
			return result, errors.E(op, repo, err)
		}
		fetched[sha] = true
	}

	remote := m.remoteURL(repo)

	// Fast-forward-only namespaced copies of the primary's state.
	for _, ref := range []string{productRef, stagingRef} {
		target := mirrorNamespace + ref
		result.Refs[target] = m.pushFFOnly(ctx, secondary, remote, tips[ref], target)
	}

	// Create-once working branches for the secondary host's developers.
	devTargets := []struct {
		branch string
		sha    string
	}{
		{productRef, tips[productRef]},
		{stagingRef, tips[stagingRef]},
		{featureRef, tips[featureRef]},
		{releaseRef, tips[productRef]},
	}
	for _, t := range devTargets {
		result.Refs[t.branch] = m.pushCreateOnce(ctx, secondary, remote, t.sha, t.branch)
	}

	if status, err := m.setDefaultBranch(ctx, repo, productRef); err != nil {
		klog.Warningf("dispatch: default branch on %s: %v", repo, err)
	} else {
		result.DefaultBranch = status
	}

	protected, err := m.protectBranches(ctx, repo, branches)
	if err != nil {
		klog.Warningf("dispatch: branch protection on %s: %v", repo, err)
	}
	result.Protected = protected
	return result, nil
}

// pushFFOnly pushes sha to branch only when the remote branch is absent or
// strictly behind sha. A diverged remote branch is reported, never clobbered.
func (m *Mirror) pushFFOnly(ctx context.Context, g *gitutil.GitLocalRunner, remote, sha, branch string) RefStatus {
	if sha == "" {
		return RefNoSource
	}
	remoteSHA, err := g.RemoteHead(ctx, remote, branch)
	if err != nil {
		return RefStatus(fmt.Sprintf("failed: %v", err))
	}
	if remoteSHA != "" {
		if err := g.FetchCommit(ctx, remote, remoteSHA); err != nil {
			return RefStatus(fmt.Sprintf("skipped: fetch failed (%v)", err))
		}
		ok, err := g.IsAncestor(ctx, remoteSHA, sha)
		if err != nil {
			return RefStatus(fmt.Sprintf("failed: %v", err))
		}
		if !ok {
			return RefDiverged
		}
		if remoteSHA == sha {
			return RefExists
		}
	}
	if err := g.PushCommit(ctx, remote, sha, branch, false); err != nil {
		return RefStatus(fmt.Sprintf("failed: %v", err))
	}
	if remoteSHA == "" {
		return RefCreated
	}
	return RefUpdated
}

// pushCreateOnce pushes sha to branch only when the branch does not exist
// on the remote yet.
func (m *Mirror) pushCreateOnce(ctx context.Context, g *gitutil.GitLocalRunner, remote, sha, branch string) RefStatus {
	if sha == "" {
		return RefNoSource
	}
	remoteSHA, err := g.RemoteHead(ctx, remote, branch)
	if err != nil {
		return RefStatus(fmt.Sprintf("failed: %v", err))
	}
	if remoteSHA != "" {
		return RefExists
	}
	if err := g.PushCommit(ctx, remote, sha, branch, false); err != nil {
		return RefStatus(fmt.Sprintf("failed: %v", err))
	}
	return RefCreated
}

// setDefaultBranch points the project's default branch at the product ref,
// once that branch exists on the secondary.
func (m *Mirror) setDefaultBranch(ctx context.Context, repo types.RepoName, branch string) (string, error) {
	const op errors.Op = "dispatch.setDefaultBranch"
	path := m.projectPath(repo)
	_, resp, err := m.client.Branches.GetBranch(path, branch, gitlab.WithContext(ctx))
	if err != nil {
		if statusOf(resp) == http.StatusNotFound {
			return "skipped: branch missing", nil
		}
		return "", errors.E(op, repo, classifyGitLab(resp, err), err)
	}
	_, resp, err = m.client.Projects.EditProject(path, &gitlab.EditProjectOptions{
		DefaultBranch: gitlab.String(branch),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", errors.E(op, repo, classifyGitLab(resp, err), err)
	}
	return branch, nil
}

// protectBranches applies maintainer-level protection to exactly the roles
// whose policy calls for it. Already-protected branches are left as they are.
func (m *Mirror) protectBranches(ctx context.Context, repo types.RepoName, branches fork.BranchSet) ([]string, error) {
	const op errors.Op = "dispatch.protectBranches"
	path := m.projectPath(repo)
	var protected []string
	for _, role := range fork.ProtectedRoles() {
		branch := branches.Ref(role)
		_, resp, err := m.client.ProtectedBranches.ProtectRepositoryBranches(path,
			&gitlab.ProtectRepositoryBranchesOptions{
				Name:                 gitlab.String(branch),
				PushAccessLevel:      gitlab.AccessLevel(gitlab.MaintainerPermissions),
				MergeAccessLevel:     gitlab.AccessLevel(gitlab.MaintainerPermissions),
				UnprotectAccessLevel: gitlab.AccessLevel(gitlab.MaintainerPermissions),
			}, gitlab.WithContext(ctx))
		switch {
		case err == nil:
			protected = append(protected, branch)
		case statusOf(resp) == http.StatusConflict || statusOf(resp) == http.StatusUnprocessableEntity:
			// Protection rule already present.
			protected = append(protected, branch)
		default:
			return protected, errors.E(op, repo, classifyGitLab(resp, err), err)
		}
	}
	return protected, nil
}

// classifyGitLab maps a secondary-host API failure onto the error taxonomy.
func classifyGitLab(resp *gitlab.Response, err error) errors.Kind {
	switch status := statusOf(resp); {
	case status == 0:
		return errors.Transient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Credential
	case status == http.StatusNotFound:
		return errors.NotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.Transient
	default:
		return errors.Internal
	}
}
