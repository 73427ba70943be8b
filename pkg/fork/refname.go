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
	"strings"

	"github.com/forkpilot/forkpilot/internal/errors"
)

// Characters git rejects anywhere in a ref name.
const disallowedRefChars = "~^:?*[\\"

// ValidateRefName applies git's check-ref-format rules to a branch name.
// The engine refuses to construct refs it could not later address.
func ValidateRefName(name string) error {
	const op errors.Op = "fork.ValidateRefName"
	fail := func(format string, args ...interface{}) error {
		return errors.E(op, errors.Validation, fmt.Errorf(format, args...))
	}
	if name == "" || strings.TrimSpace(name) != name {
		return fail("ref name is empty or has surrounding whitespace")
	}
	if name == "@" {
		return fail("ref name cannot be %q", "@")
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fail("ref name has leading/trailing slash: %q", name)
	}
	if strings.Contains(name, "//") {
		return fail("ref name contains %q: %q", "//", name)
	}
	if strings.Contains(name, "..") {
		return fail("ref name contains %q: %q", "..", name)
	}
	if strings.Contains(name, "@{") {
		return fail("ref name contains %q: %q", "@{", name)
	}
	if strings.HasSuffix(name, ".lock") {
		return fail("ref name ends with .lock: %q", name)
	}
	for _, ch := range name {
		if ch <= ' ' || ch == 0x7f {
			return fail("ref name contains whitespace or control chars: %q", name)
		}
		if strings.ContainsRune(disallowedRefChars, ch) {
			return fail("ref name contains invalid characters: %q", name)
		}
	}
	for _, component := range strings.Split(name, "/") {
		if component == "" ||
			strings.HasPrefix(component, ".") ||
			strings.HasSuffix(component, ".") {
			return fail("ref name has invalid path component: %q", name)
		}
	}
	return nil
}

// BranchSet maps each managed role to its concrete branch name on the host.
// All managed roles except mirror live under a shared prefix; the mirror
// branch is the fork's own default branch.
type BranchSet struct {
	prefix string
	mirror string
	names  map[BranchRole]string
}

// NewBranchSet builds and validates the branch names for one repository.
// names must carry an entry for every managed role except mirror.
func NewBranchSet(prefix, mirror string, names map[BranchRole]string) (BranchSet, error) {
	const op errors.Op = "fork.NewBranchSet"
	if err := ValidateRefName(prefix); err != nil {
		return BranchSet{}, errors.E(op, err)
	}
	if err := ValidateRefName(mirror); err != nil {
		return BranchSet{}, errors.E(op, err)
	}
	full := make(map[BranchRole]string, len(names))
	for _, role := range PromotionOrder {
		if role == RoleMirror {
			continue
		}
		name, ok := names[role]
		if !ok {
			return BranchSet{}, errors.E(op, errors.Validation,
				fmt.Errorf("missing branch name for role %q", role))
		}
		if err := ValidateRefName(name); err != nil {
			return BranchSet{}, errors.E(op, err)
		}
		ref := prefix + "/" + name
		if err := ValidateRefName(ref); err != nil {
			return BranchSet{}, errors.E(op, err)
		}
		full[role] = ref
	}
	return BranchSet{prefix: prefix, mirror: mirror, names: full}, nil
}

// Ref returns the branch name for a role.
func (b BranchSet) Ref(role BranchRole) string {
	if role == RoleMirror {
		return b.mirror
	}
	return b.names[role]
}

// WithMirror returns a copy of the set with a different mirror branch.
// Used when a fork's default branch differs from the configured default.
func (b BranchSet) WithMirror(mirror string) BranchSet {
	b.mirror = mirror
	return b
}

// Refs returns the branch names of the given roles, in order.
func (b BranchSet) Refs(roles ...BranchRole) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, b.Ref(role))
	}
	return out
}
