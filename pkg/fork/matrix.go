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

import (
	"fmt"
	"regexp"

	"github.com/forkpilot/forkpilot/internal/errors"
)

var orgNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// OrgTarget is one organization entry in the run matrix, optionally paired
// with the secondary-host group/subgroup its repositories mirror into.
type OrgTarget struct {
	Org string `yaml:"org" json:"org"`

	// MirrorGroup and MirrorSubgroup locate the secondary-host namespace.
	// Both empty means no mirroring for this organization.
	MirrorGroup    string `yaml:"mirrorGroup,omitempty" json:"mirrorGroup,omitempty"`
	MirrorSubgroup string `yaml:"mirrorSubgroup,omitempty" json:"mirrorSubgroup,omitempty"`
}

// OrgMatrix is the validated, ordered set of organizations for one run.
type OrgMatrix struct {
	targets []OrgTarget
}

// NewOrgMatrix validates the matrix and fails closed before any repository
// processing begins: duplicate or malformed organization entries reject the
// whole matrix.
func NewOrgMatrix(targets []OrgTarget) (OrgMatrix, error) {
	const op errors.Op = "fork.NewOrgMatrix"
	if len(targets) == 0 {
		return OrgMatrix{}, errors.E(op, errors.Validation, "organization matrix is empty")
	}
	seen := map[string]bool{}
	for _, t := range targets {
		if !orgNameRE.MatchString(t.Org) {
			return OrgMatrix{}, errors.E(op, errors.Validation,
				fmt.Errorf("invalid organization name %q", t.Org))
		}
		if seen[t.Org] {
			return OrgMatrix{}, errors.E(op, errors.Validation,
				fmt.Errorf("duplicate organization entry %q", t.Org))
		}
		if (t.MirrorGroup == "") != (t.MirrorSubgroup == "") {
			return OrgMatrix{}, errors.E(op, errors.Validation,
				fmt.Errorf("organization %q must set mirror group and subgroup together", t.Org))
		}
		seen[t.Org] = true
	}
	out := make([]OrgTarget, len(targets))
	copy(out, targets)
	return OrgMatrix{targets: out}, nil
}

// Targets returns the matrix entries in configured order.
func (m OrgMatrix) Targets() []OrgTarget {
	return m.targets
}

// Filter narrows the matrix to one organization. The organization must be
// part of the configured matrix; an unknown filter fails closed.
func (m OrgMatrix) Filter(org string) (OrgMatrix, error) {
	const op errors.Op = "fork.OrgMatrix.Filter"
	if org == "" {
		return m, nil
	}
	for _, t := range m.targets {
		if t.Org == org {
			return OrgMatrix{targets: []OrgTarget{t}}, nil
		}
	}
	return OrgMatrix{}, errors.E(op, errors.Validation,
		fmt.Errorf("requested organization %q is not configured", org))
}
