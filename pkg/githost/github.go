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

package githost

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v48/github"
	"golang.org/x/oauth2"
	"k8s.io/klog/v2"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/fork"
)

const perPage = 100

// GitHub implements Host on the GitHub REST API.
type GitHub struct {
	client      *github.Client
	timeout     time.Duration
	retryBudget uint64
}

// Options tune the GitHub host client.
type Options struct {
	// Timeout bounds each individual API call.
	Timeout time.Duration
	// RetryBudget caps retries of transient failures.
	RetryBudget int
	// BaseURL overrides the API endpoint (tests, GHE).
	BaseURL string
}

// NewGitHub builds a Host authenticated with an installation token.
func NewGitHub(ctx context.Context, token string, opts Options) (*GitHub, error) {
	const op errors.Op = "githost.NewGitHub"
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	client := github.NewClient(httpClient)
	if opts.BaseURL != "" {
		var err error
		client, err = github.NewEnterpriseClient(opts.BaseURL, opts.BaseURL, httpClient)
		if err != nil {
			return nil, errors.E(op, errors.Internal, err)
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryBudget == 0 {
		opts.RetryBudget = 4
	}
	return &GitHub{
		client:      client,
		timeout:     opts.Timeout,
		retryBudget: uint64(opts.RetryBudget),
	}, nil
}

// classify maps a go-github failure to an error kind. Timeouts, rate limits
// and 5xx responses are Transient; authoritative 4xx rejections are not.
func classify(op errors.Op, repo types.RepoName, err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *github.RateLimitError, *github.AbuseRateLimitError:
		return errors.E(op, repo, errors.Transient, err)
	case *github.ErrorResponse:
		status := 0
		if e.Response != nil {
			status = e.Response.StatusCode
		}
		switch {
		case status == http.StatusNotFound:
			return errors.E(op, repo, errors.NotFound, err)
		case status == http.StatusConflict:
			return errors.E(op, repo, errors.Policy, err)
		case status == http.StatusUnprocessableEntity:
			// Non-fast-forward updates and already-existing refs both
			// surface as 422; CreateRef remaps its own case to Exist.
			return errors.E(op, repo, errors.Policy, err)
		case status == http.StatusGone:
			// The issues API answers 410 on repositories with the issue
			// tracker disabled.
			return errors.E(op, repo, errors.Unsupported, err)
		case status == http.StatusTooManyRequests || status >= 500:
			return errors.E(op, repo, errors.Transient, err)
		default:
			return errors.E(op, repo, errors.Internal, err)
		}
	}
	// Timeouts, cancellation and network errors without an HTTP status
	// are transient.
	return errors.E(op, repo, errors.Transient, err)
}

// do runs one API call with a per-call timeout, retrying transient failures
// with exponential backoff up to the retry budget.
func (g *GitHub) do(ctx context.Context, op errors.Op, repo types.RepoName, fn func(context.Context) error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.retryBudget), ctx)
	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		classified := classify(op, repo, err)
		if errors.IsKind(classified, errors.Transient) {
			klog.V(2).Infof("retrying %s for %s: %v", op, repo, err)
			return classified
		}
		return backoff.Permanent(classified)
	}, bo)
}

func repoFromGitHub(r *github.Repository) fork.Repository {
	out := fork.Repository{
		FullName:      types.RepoName(r.GetFullName()),
		IsFork:        r.GetFork(),
		Archived:      r.GetArchived(),
		Disabled:      r.GetDisabled(),
		DefaultBranch: r.GetDefaultBranch(),
	}
	if parent := r.GetParent(); parent != nil {
		out.ParentFullName = types.RepoName(parent.GetFullName())
		out.ParentDefaultBranch = parent.GetDefaultBranch()
	}
	return out
}

func (g *GitHub) ListOrgRepos(ctx context.Context, org string) ([]fork.Repository, error) {
	const op errors.Op = "githost.ListOrgRepos"
	var out []fork.Repository
	listOpts := &github.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	for {
		var (
			repos []*github.Repository
			resp  *github.Response
		)
		err := g.do(ctx, op, "", func(callCtx context.Context) error {
			var err error
			repos, resp, err = g.client.Repositories.ListByOrg(callCtx, org, listOpts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range repos {
			out = append(out, repoFromGitHub(r))
		}
		if resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}
	return out, nil
}

func (g *GitHub) GetRepository(ctx context.Context, repo types.RepoName) (fork.Repository, error) {
	const op errors.Op = "githost.GetRepository"
	var r *github.Repository
	err := g.do(ctx, op, repo, func(callCtx context.Context) error {
		var err error
		r, _, err = g.client.Repositories.Get(callCtx, repo.Owner(), repo.Name())
		return err
	})
	if err != nil {
		return fork.Repository{}, err
	}
	return repoFromGitHub(r), nil
}

func (g *GitHub) MergeUpstream(ctx context.Context, repo types.RepoName, branch string) (MergeResult, error) {
	const op errors.Op = "githost.MergeUpstream"
	var result *github.RepoMergeUpstreamResult
	err := g.do(ctx, op, repo, func(callCtx context.Context) error {
		var err error
		result, _, err = g.client.Repositories.MergeUpstream(callCtx, repo.Owner(), repo.Name(),
			&github.RepoMergeUpstreamRequest{Branch: github.String(branch)})
		return err
	})
	if err != nil {
		return MergeResult{}, err
	}
	return MergeResult{
		UpToDate: result.GetMergeType() == "none",
		Message:  result.GetMessage(),
	}, nil
}

func (g *GitHub) GetRef(ctx context.Context, repo types.RepoName, branch string) (string, error) {
	const op errors.Op = "githost.GetRef"
	var ref *github.Reference
	err := g.do(ctx, op, repo, func(callCtx context.Context) error {
		var err error
		ref, _, err = g.client.Git.GetRef(callCtx, repo.Owner(), repo.Name(), "heads/"+branch)
		return err
	})
	if err != nil {
		return "", err
	}
	return ref.GetObject().GetSHA(), nil
}

func (g *GitHub) CreateRef(ctx context.Context, repo types.RepoName, branch, sha string) error {
	const op errors.Op = "githost.CreateRef"
	err := g.do(ctx, op, repo, func(callCtx context.Context) error {
		_, _, err := g.client.Git.CreateRef(callCtx, repo.Owner(), repo.Name(), &github.Reference{
			Ref:    github.String("refs/heads/" + branch),
			Object: &github.GitObject{SHA: github.String(sha)},
		})
		return err
	})
	if errors.IsKind(err, errors.Policy) {
		// A 422 on ref creation means the ref already exists (a race with
		// a concurrent run).
		return errors.E(op, repo, errors.Exist, err)
	}
	return err
}

func (g *GitHub) UpdateRef(ctx context.Context, repo types.RepoName, branch, sha string, force bool) error {
	const op errors.Op = "githost.UpdateRef"
	return g.do(ctx, op, repo, func(callCtx context.Context) error {
		_, _, err := g.client.Git.UpdateRef(callCtx, repo.Owner(), repo.Name(), &github.Reference{
			Ref:    github.String("refs/heads/" + branch),
			Object: &github.GitObject{SHA: github.String(sha)},
		}, force)
		return err
	})
}

func (g *GitHub) Compare(ctx context.Context, repo types.RepoName, base, head string) (Comparison, error) {
	const op errors.Op = "githost.Compare"
	var cmp *github.CommitsComparison
	err := g.do(ctx, op, repo, func(callCtx context.Context) error {
		var err error
		cmp, _, err = g.client.Repositories.CompareCommits(callCtx, repo.Owner(), repo.Name(),
			base, head, &github.ListOptions{PerPage: 1})
		return err
	})
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		Status:  CompareStatus(cmp.GetStatus()),
		AheadBy: cmp.GetAheadBy(),
	}, nil
}

func (g *GitHub) CommitParent(ctx context.Context, repo types.RepoName, sha string) (string, error) {
	const op errors.Op = "githost.CommitParent"
	var commit *github.Commit
	err := g.do(ctx, op, repo, func(callCtx context.Context) error {
		var err error
		commit, _, err = g.client.Git.GetCommit(callCtx, repo.Owner(), repo.Name(), sha)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(commit.Parents) == 0 {
		return "", nil
	}
	return commit.Parents[0].GetSHA(), nil
}

func (g *GitHub) ListOpenIssues(ctx context.Context, repo types.RepoName) ([]Issue, error) {
	const op errors.Op = "githost.ListOpenIssues"
	var out []Issue
	listOpts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	for {
		var (
			issues []*github.Issue
			resp   *github.Response
		)
		err := g.do(ctx, op, repo, func(callCtx context.Context) error {
			var err error
			issues, resp, err = g.client.Issues.ListByRepo(callCtx, repo.Owner(), repo.Name(), listOpts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, Issue{
				Number: issue.GetNumber(),
				Title:  issue.GetTitle(),
				Body:   issue.GetBody(),
				URL:    issue.GetHTMLURL(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}
	return out, nil
}

func (g *GitHub) CreateIssue(ctx context.Context, repo types.RepoName, title, body string) (Issue, error) {
	const op errors.Op = "githost.CreateIssue"
	var issue *github.Issue
	err := g.do(ctx, op, repo, func(callCtx context.Context) error {
		var err error
		issue, _, err = g.client.Issues.Create(callCtx, repo.Owner(), repo.Name(), &github.IssueRequest{
			Title: github.String(title),
			Body:  github.String(body),
		})
		return err
	})
	if err != nil {
		return Issue{}, err
	}
	return Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		URL:    issue.GetHTMLURL(),
	}, nil
}

func (g *GitHub) UpdateIssueBody(ctx context.Context, repo types.RepoName, number int, body string) error {
	const op errors.Op = "githost.UpdateIssueBody"
	return g.do(ctx, op, repo, func(callCtx context.Context) error {
		_, _, err := g.client.Issues.Edit(callCtx, repo.Owner(), repo.Name(), number, &github.IssueRequest{
			Body: github.String(body),
		})
		return err
	})
}

func (g *GitHub) CommentIssue(ctx context.Context, repo types.RepoName, number int, body string) error {
	const op errors.Op = "githost.CommentIssue"
	return g.do(ctx, op, repo, func(callCtx context.Context) error {
		_, _, err := g.client.Issues.CreateComment(callCtx, repo.Owner(), repo.Name(), number,
			&github.IssueComment{Body: github.String(body)})
		return err
	})
}

func (g *GitHub) CloseIssue(ctx context.Context, repo types.RepoName, number int) error {
	const op errors.Op = "githost.CloseIssue"
	return g.do(ctx, op, repo, func(callCtx context.Context) error {
		_, _, err := g.client.Issues.Edit(callCtx, repo.Owner(), repo.Name(), number, &github.IssueRequest{
			State: github.String("closed"),
		})
		return err
	})
}
