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

// Package gitutil shells out to a local git for the operations the host APIs
// cannot do, chiefly moving objects between two different hosts.
package gitutil

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/forkpilot/forkpilot/internal/errors"
)

// NewLocalGitRunner returns a runner executing in dir.
func NewLocalGitRunner(dir string) (*GitLocalRunner, error) {
	const op errors.Op = "gitutil.NewLocalGitRunner"
	p, err := exec.LookPath("git")
	if err != nil {
		return nil, errors.E(op, errors.Git,
			fmt.Errorf("no 'git' program on path: %w", err))
	}
	return &GitLocalRunner{gitPath: p, Dir: dir}, nil
}

// GitLocalRunner runs git commands in a local directory.
type GitLocalRunner struct {
	// Path to the git executable.
	gitPath string

	// Dir is the directory the commands are run in.
	Dir string

	// config holds per-invocation -c key=value pairs, used to inject
	// credentials without writing them to disk.
	config []string

	// secrets are substrings scrubbed from command output and errors.
	secrets []string
}

// BasicAuthHeader encodes username:token as an HTTP basic Authorization
// header value.
func BasicAuthHeader(username, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+token))
}

// WithHTTPAuth returns a copy of the runner that sends the Authorization
// header on every request to urlPrefix. The header never appears in argv of
// a visible process listing longer than the git call itself, and it is
// scrubbed from any error this runner produces.
func (g *GitLocalRunner) WithHTTPAuth(urlPrefix, username, token string) *GitLocalRunner {
	header := BasicAuthHeader(username, token)
	clone := *g
	clone.config = append(append([]string{}, g.config...),
		fmt.Sprintf("http.%s.extraHeader=Authorization: %s", urlPrefix, header))
	clone.secrets = append(append([]string{}, g.secrets...), token, header)
	return &clone
}

type RunResult struct {
	Stdout string
	Stderr string
}

// Run runs a git command. Omit the 'git' part of the command.
func (g *GitLocalRunner) Run(ctx context.Context, args ...string) (RunResult, error) {
	const op errors.Op = "gitutil.run"

	argv := make([]string, 0, len(args)+2*len(g.config))
	for _, c := range g.config {
		argv = append(argv, "-c", c)
	}
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, g.gitPath, argv...)
	cmd.Dir = g.Dir
	cmd.Env = os.Environ()

	cmdStdout := &bytes.Buffer{}
	cmdStderr := &bytes.Buffer{}
	cmd.Stdout = cmdStdout
	cmd.Stderr = cmdStderr

	err := cmd.Run()
	if err != nil {
		return RunResult{}, errors.E(op, errors.Git, &GitExecError{
			Args:     args,
			Err:      err,
			StdOut:   g.scrub(cmdStdout.String()),
			StdErr:   g.scrub(cmdStderr.String()),
			ExitCode: cmd.ProcessState.ExitCode(),
		})
	}
	return RunResult{
		Stdout: g.scrub(cmdStdout.String()),
		Stderr: g.scrub(cmdStderr.String()),
	}, nil
}

func (g *GitLocalRunner) scrub(s string) string {
	for _, secret := range g.secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "<redacted>")
	}
	return s
}

type GitExecError struct {
	Args     []string
	Err      error
	StdErr   string
	StdOut   string
	ExitCode int
}

func (e *GitExecError) Error() string {
	b := new(strings.Builder)
	b.WriteString(e.Err.Error())
	b.WriteString(": ")
	b.WriteString(e.StdErr)
	return b.String()
}

// InitBare initializes the runner's directory as a bare repository.
func (g *GitLocalRunner) InitBare(ctx context.Context) error {
	_, err := g.Run(ctx, "init", "--bare", "--quiet")
	return err
}

// FetchCommit fetches a single commit by SHA from remote into the local
// object store. The remote must permit reachable-SHA fetches, which both
// supported hosts do.
func (g *GitLocalRunner) FetchCommit(ctx context.Context, remote, sha string) error {
	_, err := g.Run(ctx, "fetch", "--quiet", remote, sha)
	return err
}

// PushCommit pushes a locally held commit to branch on remote. With force
// the remote ref is overwritten regardless of ancestry.
func (g *GitLocalRunner) PushCommit(ctx context.Context, remote, sha, branch string, force bool) error {
	refspec := fmt.Sprintf("%s:refs/heads/%s", sha, branch)
	args := []string{"push", "--quiet"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, remote, refspec)
	_, err := g.Run(ctx, args...)
	return err
}

// RemoteHead resolves branch on remote to a SHA. Returns empty when the
// branch does not exist.
func (g *GitLocalRunner) RemoteHead(ctx context.Context, remote, branch string) (string, error) {
	rr, err := g.Run(ctx, "ls-remote", "--heads", remote, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(rr.Stdout)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

// IsAncestor reports whether ancestor is reachable from descendant in the
// local object store.
func (g *GitLocalRunner) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := g.Run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var ge *GitExecError
	if errors.As(err, &ge) && ge.ExitCode == 1 {
		return false, nil
	}
	return false, err
}
