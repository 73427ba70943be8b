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

// Package conflict records divergence as canonical issues on the affected
// fork. One issue per conflict kind per repository: repeated runs update the
// existing issue instead of stacking duplicates.
package conflict

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/githost"
)

// Kind names one conflict condition. The kind is embedded in the issue
// title, which is the lookup key, so kinds must stay stable across releases.
type Kind string

const (
	// MirrorDiverged means merge-upstream reported a real merge conflict.
	MirrorDiverged Kind = "mirror-diverged"
	// ProductDiverged means the product branch holds commits that are not
	// on the mirror, so it cannot fast-forward.
	ProductDiverged Kind = "product-diverged"
	// BootstrapFailed means a managed branch could not be created.
	BootstrapFailed Kind = "bootstrap-failed"
)

// titlePrefix marks every issue this tool owns.
const titlePrefix = "[forkpilot] "

// Title is the canonical issue title for a kind.
func Title(kind Kind) string {
	return titlePrefix + string(kind)
}

// Handler raises and resolves canonical issues.
type Handler struct {
	host  githost.Host
	runID string
	now   func() time.Time
}

// New returns a Handler stamping updates with runID.
func New(host githost.Host, runID string) *Handler {
	return &Handler{host: host, runID: runID, now: time.Now}
}

// WithClock substitutes the clock; tests use it for stable comments.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

func (h *Handler) stamp() string {
	return fmt.Sprintf("Observed again in run %s at %s.", h.runID, h.now().UTC().Format(time.RFC3339))
}

// Report ensures the canonical issue for kind exists on repo with the given
// body. If the issue is already open its body is refreshed and a run-stamped
// comment added. A host that has issues disabled is tolerated: the conflict
// is still reported to the caller through the outcome, just not as an issue.
func (h *Handler) Report(ctx context.Context, repo types.RepoName, kind Kind, body string) (githost.Issue, error) {
	const op errors.Op = "conflict.Report"
	title := Title(kind)

	open, err := h.host.ListOpenIssues(ctx, repo)
	if err != nil {
		if issuesUnavailable(err) {
			klog.Warningf("conflict: issues unavailable on %s, %s not recorded", repo, kind)
			return githost.Issue{}, nil
		}
		return githost.Issue{}, errors.E(op, repo, err)
	}

	for _, issue := range open {
		if issue.Title != title {
			continue
		}
		if err := h.host.UpdateIssueBody(ctx, repo, issue.Number, body); err != nil {
			return githost.Issue{}, errors.E(op, repo, err)
		}
		if err := h.host.CommentIssue(ctx, repo, issue.Number, h.stamp()); err != nil {
			return githost.Issue{}, errors.E(op, repo, err)
		}
		issue.Body = body
		return issue, nil
	}

	issue, err := h.host.CreateIssue(ctx, repo, title, body)
	if err != nil {
		if issuesUnavailable(err) {
			klog.Warningf("conflict: issues unavailable on %s, %s not recorded", repo, kind)
			return githost.Issue{}, nil
		}
		return githost.Issue{}, errors.E(op, repo, err)
	}
	return issue, nil
}

// Resolve closes every canonical issue still open on repo. Called only after
// a run in which the repository synced cleanly end to end.
func (h *Handler) Resolve(ctx context.Context, repo types.RepoName) (int, error) {
	const op errors.Op = "conflict.Resolve"
	open, err := h.host.ListOpenIssues(ctx, repo)
	if err != nil {
		if issuesUnavailable(err) {
			return 0, nil
		}
		return 0, errors.E(op, repo, err)
	}
	closed := 0
	for _, issue := range open {
		if !strings.HasPrefix(issue.Title, titlePrefix) {
			continue
		}
		if err := h.host.CommentIssue(ctx, repo, issue.Number,
			fmt.Sprintf("Resolved in run %s.", h.runID)); err != nil {
			return closed, errors.E(op, repo, err)
		}
		if err := h.host.CloseIssue(ctx, repo, issue.Number); err != nil {
			return closed, errors.E(op, repo, err)
		}
		closed++
	}
	return closed, nil
}

// issuesUnavailable reports whether the error means the repository cannot
// carry issues at all, that is the issue tracker is disabled. Permission
// failures and other rejections are not matched and propagate to the caller.
func issuesUnavailable(err error) bool {
	return errors.IsKind(err, errors.Unsupported)
}
