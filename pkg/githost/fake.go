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
	"fmt"
	"sort"
	"sync"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/fork"
)

// FakeRepo is one repository's in-memory state.
type FakeRepo struct {
	Meta fork.Repository
	// Refs maps branch name to tip SHA.
	Refs map[string]string
	// Parents maps commit SHA to first-parent SHA ("" for a root commit).
	Parents map[string]string
	// MergeConflict makes MergeUpstream report a real conflict.
	MergeConflict bool
	// IssuesDisabled makes every issue call answer like a repository with
	// the issue tracker turned off.
	IssuesDisabled bool
	Issues         []Issue
	IssueState     map[int]string // "open" or "closed"
	nextIssue      int
}

// Fake is an in-memory Host for tests. All repositories (including upstream
// parents) live in one Fake so merge-upstream can see the parent tip.
type Fake struct {
	mu    sync.Mutex
	Repos map[types.RepoName]*FakeRepo
	// ListCalls counts ListOrgRepos invocations per org; discovery cache
	// tests observe it.
	ListCalls map[string]int
}

var _ Host = (*Fake)(nil)

// NewFake returns an empty fake host.
func NewFake() *Fake {
	return &Fake{
		Repos:     map[types.RepoName]*FakeRepo{},
		ListCalls: map[string]int{},
	}
}

// AddRepo registers a repository.
func (f *Fake) AddRepo(meta fork.Repository) *FakeRepo {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &FakeRepo{
		Meta:       meta,
		Refs:       map[string]string{},
		Parents:    map[string]string{},
		IssueState: map[int]string{},
	}
	f.Repos[meta.FullName] = r
	return r
}

// AddCommit records a commit with its first parent and returns its SHA.
func (r *FakeRepo) AddCommit(sha, parent string) string {
	r.Parents[sha] = parent
	return sha
}

// Chain records a linear history root-first and returns the tip.
func (r *FakeRepo) Chain(shas ...string) string {
	parent := ""
	for _, sha := range shas {
		r.Parents[sha] = parent
		parent = sha
	}
	return parent
}

// SetRef points a branch at a SHA.
func (r *FakeRepo) SetRef(branch, sha string) {
	r.Refs[branch] = sha
}

func (f *Fake) repo(op errors.Op, name types.RepoName) (*FakeRepo, error) {
	r, ok := f.Repos[name]
	if !ok {
		return nil, errors.E(op, name, errors.NotFound, fmt.Errorf("unknown repository"))
	}
	return r, nil
}

// isAncestor walks first-parents from descendant looking for ancestor.
func (r *FakeRepo) isAncestor(ancestor, descendant string) bool {
	for sha := descendant; sha != ""; sha = r.Parents[sha] {
		if sha == ancestor {
			return true
		}
	}
	return false
}

// distance counts commits from descendant back to ancestor.
func (r *FakeRepo) distance(ancestor, descendant string) int {
	n := 0
	for sha := descendant; sha != ""; sha = r.Parents[sha] {
		if sha == ancestor {
			return n
		}
		n++
	}
	return n
}

func (f *Fake) ListOrgRepos(_ context.Context, org string) ([]fork.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls[org]++
	var names []types.RepoName
	for name := range f.Repos {
		if name.Owner() == org {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	var out []fork.Repository
	for _, name := range names {
		out = append(out, f.Repos[name].Meta)
	}
	return out, nil
}

func (f *Fake) GetRepository(_ context.Context, name types.RepoName) (fork.Repository, error) {
	const op errors.Op = "fake.GetRepository"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return fork.Repository{}, err
	}
	return r.Meta, nil
}

func (f *Fake) MergeUpstream(_ context.Context, name types.RepoName, branch string) (MergeResult, error) {
	const op errors.Op = "fake.MergeUpstream"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return MergeResult{}, err
	}
	if r.MergeConflict {
		return MergeResult{}, errors.E(op, name, errors.Policy,
			fmt.Errorf("there are merge conflicts"))
	}
	parent, ok := f.Repos[r.Meta.ParentFullName]
	if !ok {
		return MergeResult{}, errors.E(op, name, errors.NotFound,
			fmt.Errorf("parent %q not registered", r.Meta.ParentFullName))
	}
	upstreamTip := parent.Refs[r.Meta.ParentDefaultBranch]
	if r.Refs[branch] == upstreamTip {
		return MergeResult{UpToDate: true, Message: "already up to date"}, nil
	}
	// The fake models a clean fast-forward: parent history is shared.
	for sha, p := range parent.Parents {
		if _, known := r.Parents[sha]; !known {
			r.Parents[sha] = p
		}
	}
	r.Refs[branch] = upstreamTip
	return MergeResult{Message: "fast-forwarded"}, nil
}

func (f *Fake) GetRef(_ context.Context, name types.RepoName, branch string) (string, error) {
	const op errors.Op = "fake.GetRef"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return "", err
	}
	sha, ok := r.Refs[branch]
	if !ok {
		return "", errors.E(op, name, errors.NotFound, fmt.Errorf("no ref %q", branch))
	}
	return sha, nil
}

func (f *Fake) CreateRef(_ context.Context, name types.RepoName, branch, sha string) error {
	const op errors.Op = "fake.CreateRef"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return err
	}
	if _, ok := r.Refs[branch]; ok {
		return errors.E(op, name, errors.Exist, fmt.Errorf("ref %q already exists", branch))
	}
	r.Refs[branch] = sha
	return nil
}

func (f *Fake) UpdateRef(_ context.Context, name types.RepoName, branch, sha string, force bool) error {
	const op errors.Op = "fake.UpdateRef"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return err
	}
	current, ok := r.Refs[branch]
	if !ok {
		return errors.E(op, name, errors.NotFound, fmt.Errorf("no ref %q", branch))
	}
	if !force && !r.isAncestor(current, sha) {
		return errors.E(op, name, errors.Policy,
			fmt.Errorf("update of %q is not a fast forward", branch))
	}
	r.Refs[branch] = sha
	return nil
}

func (f *Fake) Compare(_ context.Context, name types.RepoName, base, head string) (Comparison, error) {
	const op errors.Op = "fake.Compare"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return Comparison{}, err
	}
	resolve := func(ref string) (string, error) {
		if sha, ok := r.Refs[ref]; ok {
			return sha, nil
		}
		if _, ok := r.Parents[ref]; ok {
			return ref, nil
		}
		return "", errors.E(op, name, errors.NotFound, fmt.Errorf("unknown rev %q", ref))
	}
	baseSHA, err := resolve(base)
	if err != nil {
		return Comparison{}, err
	}
	headSHA, err := resolve(head)
	if err != nil {
		return Comparison{}, err
	}
	var cmp Comparison
	switch {
	case baseSHA == headSHA:
		cmp.Status = StatusIdentical
	case r.isAncestor(baseSHA, headSHA):
		cmp.Status = StatusAhead
		cmp.AheadBy = r.distance(baseSHA, headSHA)
	case r.isAncestor(headSHA, baseSHA):
		cmp.Status = StatusBehind
	default:
		cmp.Status = StatusDiverged
	}
	return cmp, nil
}

func (f *Fake) CommitParent(_ context.Context, name types.RepoName, sha string) (string, error) {
	const op errors.Op = "fake.CommitParent"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return "", err
	}
	parent, ok := r.Parents[sha]
	if !ok {
		return "", errors.E(op, name, errors.NotFound, fmt.Errorf("unknown commit %q", sha))
	}
	return parent, nil
}

func (f *Fake) ListOpenIssues(_ context.Context, name types.RepoName) ([]Issue, error) {
	const op errors.Op = "fake.ListOpenIssues"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return nil, err
	}
	if r.IssuesDisabled {
		return nil, errors.E(op, name, errors.Unsupported, fmt.Errorf("issues are disabled"))
	}
	var out []Issue
	for _, issue := range r.Issues {
		if r.IssueState[issue.Number] == "open" {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (f *Fake) CreateIssue(_ context.Context, name types.RepoName, title, body string) (Issue, error) {
	const op errors.Op = "fake.CreateIssue"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return Issue{}, err
	}
	if r.IssuesDisabled {
		return Issue{}, errors.E(op, name, errors.Unsupported, fmt.Errorf("issues are disabled"))
	}
	r.nextIssue++
	issue := Issue{Number: r.nextIssue, Title: title, Body: body}
	r.Issues = append(r.Issues, issue)
	r.IssueState[issue.Number] = "open"
	return issue, nil
}

func (f *Fake) UpdateIssueBody(_ context.Context, name types.RepoName, number int, body string) error {
	const op errors.Op = "fake.UpdateIssueBody"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return err
	}
	for i := range r.Issues {
		if r.Issues[i].Number == number {
			r.Issues[i].Body = body
			return nil
		}
	}
	return errors.E(op, name, errors.NotFound, fmt.Errorf("no issue #%d", number))
}

func (f *Fake) CommentIssue(_ context.Context, name types.RepoName, number int, body string) error {
	const op errors.Op = "fake.CommentIssue"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return err
	}
	if _, ok := r.IssueState[number]; !ok {
		return errors.E(op, name, errors.NotFound, fmt.Errorf("no issue #%d", number))
	}
	return nil
}

func (f *Fake) CloseIssue(_ context.Context, name types.RepoName, number int) error {
	const op errors.Op = "fake.CloseIssue"
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(op, name)
	if err != nil {
		return err
	}
	if _, ok := r.IssueState[number]; !ok {
		return errors.E(op, name, errors.NotFound, fmt.Errorf("no issue #%d", number))
	}
	r.IssueState[number] = "closed"
	return nil
}
