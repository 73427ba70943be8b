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

// Package githost abstracts the primary git-hosting API behind a capability
// interface. The engine depends on these capabilities, not on a concrete
// transport; the production implementation lives in github.go.
package githost

import (
	"context"

	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/fork"
)

// CompareStatus is the relation of head to base in a ref comparison.
type CompareStatus string

const (
	StatusIdentical CompareStatus = "identical"
	StatusAhead     CompareStatus = "ahead"
	StatusBehind    CompareStatus = "behind"
	StatusDiverged  CompareStatus = "diverged"
)

// Comparison is the result of comparing base...head.
type Comparison struct {
	Status  CompareStatus
	AheadBy int
}

// MergeResult reports the outcome of a merge-upstream call.
type MergeResult struct {
	// UpToDate is true when the branch already matched upstream.
	UpToDate bool
	Message  string
}

// Issue is the subset of issue state the conflict handler needs.
type Issue struct {
	Number int
	Title  string
	Body   string
	URL    string
}

// Host is the capability interface over the primary hosting API. Every call
// blocks until complete and respects the context; implementations classify
// failures with the internal errors kinds (Transient, NotFound, Exist,
// Policy) so that callers branch on kind, not on error strings.
type Host interface {
	// ListOrgRepos enumerates the organization's repositories with basic
	// fields (name, fork/archived/disabled flags, default branch), in API
	// order, paginating until exhausted.
	ListOrgRepos(ctx context.Context, org string) ([]fork.Repository, error)

	// GetRepository returns the full repository record including, for
	// forks, the parent's name and default branch.
	GetRepository(ctx context.Context, repo types.RepoName) (fork.Repository, error)

	// MergeUpstream fast-forwards the fork's branch from its recorded
	// parent. A genuine merge conflict is a Policy error.
	MergeUpstream(ctx context.Context, repo types.RepoName, branch string) (MergeResult, error)

	// GetRef returns the commit SHA at the tip of the branch, or a
	// NotFound error.
	GetRef(ctx context.Context, repo types.RepoName, branch string) (string, error)

	// CreateRef creates the branch at sha. An Exist error signals a race
	// with a concurrent run; callers treat it as success.
	CreateRef(ctx context.Context, repo types.RepoName, branch, sha string) error

	// UpdateRef moves the branch to sha. With force false the remote host
	// rejects non-fast-forward updates.
	UpdateRef(ctx context.Context, repo types.RepoName, branch, sha string, force bool) error

	// Compare relates base...head.
	Compare(ctx context.Context, repo types.RepoName, base, head string) (Comparison, error)

	// CommitParent returns the first parent of the commit, or "" for a
	// root commit.
	CommitParent(ctx context.Context, repo types.RepoName, sha string) (string, error)

	// ListOpenIssues returns the repository's open issues.
	ListOpenIssues(ctx context.Context, repo types.RepoName) ([]Issue, error)

	// CreateIssue opens an issue.
	CreateIssue(ctx context.Context, repo types.RepoName, title, body string) (Issue, error)

	// UpdateIssueBody replaces an issue's body.
	UpdateIssueBody(ctx context.Context, repo types.RepoName, number int, body string) error

	// CommentIssue appends a comment.
	CommentIssue(ctx context.Context, repo types.RepoName, number int, body string) error

	// CloseIssue closes an issue.
	CloseIssue(ctx context.Context, repo types.RepoName, number int) error
}
