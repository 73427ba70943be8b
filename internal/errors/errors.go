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

// Package errors defines the error handling used by the forkpilot codebase.
package errors

import (
	standarderrors "errors"
	"fmt"
	"strings"

	"github.com/forkpilot/forkpilot/internal/types"
)

// Error is an implementation of the error interface used in the forkpilot
// codebase.
// It is based on the design in https://commandcenter.blogspot.com/2017/12/error-handling-in-upspin.html
type Error struct {
	// Repo is the repository involved in the operation, if any.
	Repo types.RepoName

	// Op is the operation being performed, for ex. promote.sync, cache.get
	Op Op

	// Kind refers to the class of error.
	Kind Kind

	// Err refers to the wrapped error (if any)
	Err error
}

func (e *Error) Error() string {
	b := new(strings.Builder)

	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(string(e.Op))
	}

	if e.Repo != "" {
		pad(b, ": ")
		b.WriteString("repo ")
		b.WriteString(string(e.Repo))
	}

	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}

	if e.Err != nil {
		if wrappedErr, ok := e.Err.(*Error); ok {
			if !wrappedErr.Zero() {
				pad(b, ":\n\t")
				b.WriteString(wrappedErr.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// pad appends given str to the string buffer.
func pad(b *strings.Builder, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Zero() bool {
	return e.Op == "" && e.Repo == "" && e.Kind == 0 && e.Err == nil
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Op describes the operation being performed.
type Op string

// Kind describes the class of errors encountered.
type Kind int

const (
	Other Kind = iota // Unclassified. Will not be printed.
	// Credential means no valid installation token could be obtained.
	// Fatal to the whole run.
	Credential
	// Discovery means repository enumeration for an organization failed.
	// Fatal to that organization's pass only.
	Discovery
	// Transient covers network failures, timeouts, 429s and 5xx responses.
	// Retried with bounded backoff before being downgraded to an errored
	// outcome.
	Transient
	// Policy means a managed branch violated its promotion policy
	// (divergence, foreign commits). Not retried within the run.
	Policy
	// Validation means a malformed identifier or configuration value.
	Validation
	// NotFound means the remote object does not exist (404).
	NotFound
	// Exist means the remote object already exists (ref-create races).
	Exist
	// Internal is an unclassified programming or protocol error.
	Internal
	// Git covers failures of the local git transport used for mirroring.
	Git
	// Unsupported means the repository has the requested feature disabled,
	// for example the issues API answering 410.
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case Credential:
		return "credential error"
	case Discovery:
		return "discovery error"
	case Transient:
		return "transient API error"
	case Policy:
		return "policy violation"
	case Validation:
		return "validation error"
	case NotFound:
		return "not found"
	case Exist:
		return "already exists"
	case Internal:
		return "internal error"
	case Git:
		return "git error"
	case Unsupported:
		return "feature disabled"
	}
	return "unknown kind"
}

func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("errors.E must have at least one argument")
	}

	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case types.RepoName:
			e.Repo = a
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case *Error:
			cp := *a
			e.Err = &cp
		case error:
			e.Err = a
		case string:
			e.Err = standarderrors.New(a)
		default:
			panic(fmt.Errorf("unknown type %T for value %v in call to errors.E", a, a))
		}
	}

	wrappedErr, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	if e.Repo == wrappedErr.Repo {
		wrappedErr.Repo = ""
	}

	if e.Op == wrappedErr.Op {
		wrappedErr.Op = ""
	}

	if e.Kind == wrappedErr.Kind {
		wrappedErr.Kind = 0
	}

	return e
}

// KindOf returns the outermost classified Kind in err's chain, or Internal
// if err carries no classification. Callers branch on the returned kind
// rather than on error strings.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !standarderrors.As(err, &e) {
			return Internal
		}
		if e.Kind != 0 {
			return e.Kind
		}
		err = e.Err
	}
	return Internal
}

// As delegates to the standard library so callers need only one errors
// import.
func As(err error, target interface{}) bool {
	return standarderrors.As(err, target)
}

// IsKind reports whether err's chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !standarderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
