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

// Package fork defines the data model of the branch-synchronization engine:
// repositories, managed branch roles and their promotion policies, and
// per-run outcomes.
package fork

import (
	"fmt"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
)

// BranchRole identifies one of the fixed managed branch roles. Each role
// carries a promotion policy; see Policies.
type BranchRole string

const (
	// RoleMirror is the fork branch kept fast-forward-synced with its
	// parent's default branch. Externally owned; the engine only writes it
	// through the merge-upstream primitive.
	RoleMirror BranchRole = "mirror"
	// RoleProduct must always fast-forward to mirror's tip. Independent
	// commits on product are a policy violation.
	RoleProduct BranchRole = "product"
	// RoleStaging tracks product, held at least Lag commits behind its tip.
	RoleStaging BranchRole = "staging"
	// RoleFeature tracks product under the same lag guard as staging.
	RoleFeature BranchRole = "feature"
	// RoleRelease tracks product and is reset to product's tip when its
	// history has diverged.
	RoleRelease BranchRole = "release"
	// RoleSnapshot is created once and never updated again.
	RoleSnapshot BranchRole = "snapshot"
)

// RolePolicy is the per-role promotion policy table entry.
type RolePolicy struct {
	// Track is the role whose tip this role follows. Mirror tracks the
	// upstream parent and has no managed tracking target.
	Track BranchRole

	// Lag is the minimum number of commits this role is held behind its
	// tracking target's tip. Zero means promote to the tip itself.
	Lag int

	// CreateOnce marks roles that are bootstrapped once and never updated.
	CreateOnce bool

	// ResetOnDivergence permits resetting the ref to the target tip when
	// fast-forward is impossible. Roles without it raise a conflict instead.
	ResetOnDivergence bool

	// Protected marks roles that receive branch protection on the
	// secondary host. Mirror-sourced and staging "incoming" branches are
	// deliberately left unprotected.
	Protected bool
}

// Policies is the fixed policy table. The engine consults this table instead
// of scattering per-role conditionals.
var Policies = map[BranchRole]RolePolicy{
	RoleMirror:   {},
	RoleProduct:  {Track: RoleMirror, Protected: true},
	RoleStaging:  {Track: RoleProduct, Lag: 1},
	RoleFeature:  {Track: RoleProduct, Lag: 1},
	RoleRelease:  {Track: RoleProduct, ResetOnDivergence: true, Protected: true},
	RoleSnapshot: {Track: RoleProduct, CreateOnce: true},
}

// PromotionOrder is the order in which managed roles are processed within a
// repository. Mirror is synced first; downstream roles depend on the ref
// state their predecessors leave behind.
var PromotionOrder = []BranchRole{
	RoleMirror,
	RoleProduct,
	RoleStaging,
	RoleFeature,
	RoleRelease,
	RoleSnapshot,
}

// ProtectedRoles returns the roles whose secondary-host branches receive
// protection, in promotion order.
func ProtectedRoles() []BranchRole {
	var out []BranchRole
	for _, role := range PromotionOrder {
		if Policies[role].Protected {
			out = append(out, role)
		}
	}
	return out
}

// Repository is the engine's view of one fork on the primary host.
type Repository struct {
	FullName      types.RepoName
	IsFork        bool
	Archived      bool
	Disabled      bool
	DefaultBranch string

	// ParentFullName and ParentDefaultBranch are recorded together for
	// forks; one without the other is a validation error.
	ParentFullName      types.RepoName
	ParentDefaultBranch string
}

// Validate checks the structural invariants of a discovered repository.
func (r Repository) Validate() error {
	const op errors.Op = "fork.Validate"
	if !r.FullName.Valid() {
		return errors.E(op, errors.Validation, fmt.Errorf("malformed repository name %q", r.FullName))
	}
	if r.ParentFullName.Empty() != (r.ParentDefaultBranch == "") {
		return errors.E(op, r.FullName, errors.Validation,
			fmt.Errorf("parent %q and parent default branch %q must be recorded together",
				r.ParentFullName, r.ParentDefaultBranch))
	}
	if !r.ParentFullName.Empty() && !r.ParentFullName.Valid() {
		return errors.E(op, r.FullName, errors.Validation,
			fmt.Errorf("malformed parent name %q", r.ParentFullName))
	}
	return nil
}

// Promotable reports whether the engine may touch this repository at all.
// A non-fork repository is never promoted.
func (r Repository) Promotable() bool {
	return r.IsFork && !r.Archived && !r.Disabled && !r.ParentFullName.Empty()
}
