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

package fork

import "github.com/forkpilot/forkpilot/internal/types"

// OutcomeKind is the final classification of one repository in one run.
type OutcomeKind string

const (
	// OutcomeSynced means at least one managed branch advanced.
	OutcomeSynced OutcomeKind = "synced"
	// OutcomeCreated means managed branches were bootstrapped this run.
	OutcomeCreated OutcomeKind = "created"
	// OutcomeUnchanged means every managed branch was already current.
	OutcomeUnchanged OutcomeKind = "unchanged"
	// OutcomeDiverged means a reset-permitting role was reset this run.
	OutcomeDiverged OutcomeKind = "diverged"
	// OutcomeConflicted means promotion stopped at a policy violation.
	OutcomeConflicted OutcomeKind = "conflicted"
	// OutcomeSkipped means the repository was not eligible for promotion.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeErrored means a transient failure exhausted its retry budget.
	OutcomeErrored OutcomeKind = "errored"
)

// BranchAction describes what happened to one managed branch.
type BranchAction string

const (
	ActionCreated       BranchAction = "created"
	ActionFastForwarded BranchAction = "fast-forwarded"
	ActionReset         BranchAction = "reset"
	ActionUnchanged     BranchAction = "unchanged"
	ActionSkipped       BranchAction = "skipped"
)

// BranchChange records one managed branch transition with its before/after
// commit identifiers. Before is empty for branch creation.
type BranchChange struct {
	Role   BranchRole   `json:"role"`
	Ref    string       `json:"ref"`
	Action BranchAction `json:"action"`
	Before string       `json:"before,omitempty"`
	After  string       `json:"after,omitempty"`
}

// Changed reports whether the transition moved the ref.
func (c BranchChange) Changed() bool {
	switch c.Action {
	case ActionCreated, ActionFastForwarded, ActionReset:
		return true
	}
	return false
}

// SyncOutcome is the per-repository result of one run.
type SyncOutcome struct {
	Repo     types.RepoName `json:"repo"`
	Kind     OutcomeKind    `json:"kind"`
	Changes  []BranchChange `json:"changes,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	// ConflictKind is set when Kind is conflicted; it keys the canonical
	// issue raised for the repository.
	ConflictKind string `json:"conflictKind,omitempty"`
	// Err carries the final error text for errored/skipped outcomes.
	Err string `json:"error,omitempty"`
}

// Record appends one branch transition.
func (o *SyncOutcome) Record(change BranchChange) {
	o.Changes = append(o.Changes, change)
}

// Warn appends a soft warning (for example a lag-guarded branch found ahead
// of its target).
func (o *SyncOutcome) Warn(msg string) {
	o.Warnings = append(o.Warnings, msg)
}

// ChangedRefs returns the refs that actually moved, with their transitions.
func (o *SyncOutcome) ChangedRefs() []BranchChange {
	var out []BranchChange
	for _, c := range o.Changes {
		if c.Changed() {
			out = append(out, c)
		}
	}
	return out
}

// RunReport aggregates the outcomes of one full run.
type RunReport struct {
	Outcomes []SyncOutcome       `json:"outcomes"`
	Counts   map[OutcomeKind]int `json:"counts"`
}

// NewRunReport builds a report over the given outcomes. Every repository's
// outcome is enumerated, including skipped and errored ones, so partial
// failure is always observable.
func NewRunReport(outcomes []SyncOutcome) RunReport {
	counts := map[OutcomeKind]int{}
	for _, o := range outcomes {
		counts[o.Kind]++
	}
	return RunReport{Outcomes: outcomes, Counts: counts}
}
