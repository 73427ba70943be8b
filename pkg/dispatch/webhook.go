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

// Package dispatch propagates successful ref changes outward: signed
// webhooks to downstream workers and ref mirroring to a secondary git host.
// Dispatch runs after promotion and never rolls a ref back on failure.
package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/klog/v2"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
	"github.com/forkpilot/forkpilot/pkg/fork"
)

const userAgent = "forkpilot-webhook"

// pushEvent is the webhook body, shaped like a push event so existing
// GitHub-webhook consumers can ingest it unmodified.
type pushEvent struct {
	Ref        string    `json:"ref"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
	Repository eventRepo `json:"repository"`
}

type eventRepo struct {
	Name     string     `json:"name"`
	FullName string     `json:"full_name"`
	Owner    eventOwner `json:"owner"`
}

type eventOwner struct {
	Login string `json:"login"`
}

// Notifier posts one signed event per changed ref.
type Notifier struct {
	url    string
	secret []byte
	runID  string
	client *http.Client
	budget uint64
}

// NotifierOption adjusts a Notifier.
type NotifierOption func(*Notifier)

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(c *http.Client) NotifierOption {
	return func(n *Notifier) { n.client = c }
}

// WithRetryBudget caps retry attempts for transient delivery failures.
func WithRetryBudget(budget int) NotifierOption {
	return func(n *Notifier) { n.budget = uint64(budget) }
}

// NewNotifier returns a Notifier signing with secret and stamping deliveries
// with runID.
func NewNotifier(url string, secret []byte, runID string, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		url:    url,
		secret: secret,
		runID:  runID,
		client: &http.Client{Timeout: 20 * time.Second},
		budget: 4,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Sign computes the hex HMAC-SHA256 signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// DeliveryID is deterministic per (run, repo, ref) so that reruns of a run
// deduplicate on the receiver side.
func (n *Notifier) DeliveryID(repo types.RepoName, ref string) string {
	sum := sha256.Sum256([]byte(n.runID + ":" + string(repo) + ":" + ref))
	return "fp-" + hex.EncodeToString(sum[:])
}

// Notify posts one event per ref that actually moved in outcome. Errors are
// collected per ref: one undeliverable ref does not suppress the others.
func (n *Notifier) Notify(ctx context.Context, outcome fork.SyncOutcome) error {
	const op errors.Op = "dispatch.Notify"
	var failed []string
	for _, change := range outcome.ChangedRefs() {
		if err := n.send(ctx, outcome.Repo, change); err != nil {
			klog.Errorf("dispatch: webhook for %s %s: %v", outcome.Repo, change.Ref, err)
			failed = append(failed, change.Ref)
		}
	}
	if len(failed) > 0 {
		return errors.E(op, outcome.Repo,
			fmt.Errorf("webhook delivery failed for refs %v", failed))
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, repo types.RepoName, change fork.BranchChange) error {
	const op errors.Op = "dispatch.send"
	body, err := json.Marshal(pushEvent{
		Ref:    "refs/heads/" + change.Ref,
		Before: change.Before,
		After:  change.After,
		Repository: eventRepo{
			Name:     repo.Name(),
			FullName: string(repo),
			Owner:    eventOwner{Login: repo.Owner()},
		},
	})
	if err != nil {
		return errors.E(op, repo, errors.Internal, err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(errors.E(op, repo, errors.Internal, err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-GitHub-Delivery", n.DeliveryID(repo, change.Ref))
		req.Header.Set("X-Hub-Signature-256", Sign(n.secret, body))

		resp, err := n.client.Do(req)
		if err != nil {
			return errors.E(op, repo, errors.Transient, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return errors.E(op, repo, errors.Transient,
				fmt.Errorf("webhook endpoint returned %d", resp.StatusCode))
		default:
			// A 4xx is the receiver's authoritative answer; retrying cannot
			// change it.
			return backoff.Permanent(errors.E(op, repo, errors.Internal,
				fmt.Errorf("webhook endpoint rejected delivery with %d", resp.StatusCode)))
		}
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), n.budget), ctx)
	return backoff.Retry(operation, bo)
}
