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

// Package types defines identifiers shared across the forkpilot codebase.
package types

import "strings"

// RepoName is the fully qualified "org/name" identifier of a repository on
// the primary host.
type RepoName string

// Empty returns true if the RepoName is unset.
func (r RepoName) Empty() bool {
	return string(r) == ""
}

// Owner returns the organization part of the name, or "" if the name is not
// fully qualified.
func (r RepoName) Owner() string {
	owner, _, ok := strings.Cut(string(r), "/")
	if !ok {
		return ""
	}
	return owner
}

// Name returns the repository part of the name, or "" if the name is not
// fully qualified.
func (r RepoName) Name() string {
	_, name, ok := strings.Cut(string(r), "/")
	if !ok {
		return ""
	}
	return name
}

// Valid reports whether the name has exactly one slash separating two
// non-empty components.
func (r RepoName) Valid() bool {
	owner, name, ok := strings.Cut(string(r), "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}

// Join builds a RepoName from its parts.
func Join(owner, name string) RepoName {
	return RepoName(owner + "/" + name)
}
