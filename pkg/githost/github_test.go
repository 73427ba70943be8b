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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/types"
)

// newTestHost points a GitHub client at a stub API server. Enterprise
// clients prefix every path with /api/v3.
func newTestHost(t *testing.T, mux *http.ServeMux) *GitHub {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	g, err := NewGitHub(context.Background(), "ghs_test", Options{
		BaseURL:     srv.URL + "/",
		Timeout:     5 * time.Second,
		RetryBudget: 1,
	})
	require.NoError(t, err)
	return g
}

func TestCompare(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widget/compare/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"ahead","ahead_by":3,"commits":[{"sha":"abc"}]}`)
	})
	g := newTestHost(t, mux)

	cmp, err := g.Compare(context.Background(), types.RepoName("acme/widget"), "base", "head")
	require.NoError(t, err)
	assert.Equal(t, StatusAhead, cmp.Status)
	assert.Equal(t, 3, cmp.AheadBy)
}

func TestListOpenIssuesDisabledTracker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widget/issues", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		fmt.Fprint(w, `{"message":"Issues are disabled for this repo"}`)
	})
	g := newTestHost(t, mux)

	_, err := g.ListOpenIssues(context.Background(), types.RepoName("acme/widget"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.Unsupported), "got: %v", err)
}

func TestGetRefNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widget/git/ref/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	g := newTestHost(t, mux)

	_, err := g.GetRef(context.Background(), types.RepoName("acme/widget"), "fp/product")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.NotFound), "got: %v", err)
}
