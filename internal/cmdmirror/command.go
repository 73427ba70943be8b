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

package cmdmirror

import (
	"context"
	"fmt"
	"sort"

	"github.com/forkpilot/forkpilot/internal/cmdutil"
	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/printer"
	"github.com/forkpilot/forkpilot/pkg/apptoken"
	"github.com/forkpilot/forkpilot/pkg/coordinator"
	"github.com/spf13/cobra"
)

const (
	command = "cmdmirror"
	longMsg = `
forkpilot mirror [flags]

Copies the managed refs of every discovered fork to the secondary host.
Promotion does not run; ref tips are read as they currently stand on the
primary host.
`
)

func NewCommand(ctx context.Context, name string) *cobra.Command {
	return newRunner(ctx, name).Command
}

func newRunner(ctx context.Context, name string) *runner {
	r := &runner{ctx: ctx}
	c := &cobra.Command{
		Use:     "mirror",
		Short:   "Mirror managed refs to the secondary host",
		Long:    longMsg,
		Example: fmt.Sprintf("%s mirror --config forkpilot.yaml --repo acme/widget", name),
		PreRunE: r.preRunE,
		RunE:    r.runE,
	}
	r.Command = c

	c.Flags().StringVar(&r.configPath, "config", "forkpilot.yaml",
		"path to the run configuration file")
	c.Flags().StringVar(&r.org, "org", "", "restrict the pass to one organization")
	c.Flags().StringVar(&r.repo, "repo", "", "restrict the pass to one repository (name or org/name)")
	return r
}

type runner struct {
	ctx     context.Context
	Command *cobra.Command
	coord   *coordinator.Coordinator

	configPath string
	org        string
	repo       string
}

func (r *runner) preRunE(cmd *cobra.Command, args []string) error {
	const op errors.Op = command + ".preRunE"
	cfg, err := cmdutil.LoadConfig(r.configPath)
	if err != nil {
		return errors.E(op, err)
	}
	if cfg.Mirror.Token == "" {
		return errors.E(op, errors.Validation,
			fmt.Errorf("configuration carries no secondary host token"))
	}
	minter, err := apptoken.NewMinter(cfg.Auth.AppID, cfg.Auth.PrivateKeyPEM,
		apptoken.WithMinLife(cfg.MinTokenLife))
	if err != nil {
		return errors.E(op, err)
	}
	r.coord = coordinator.New(cfg, cmdutil.NewCache(cfg), minter, cmdutil.NewRunID())
	return nil
}

func (r *runner) runE(cmd *cobra.Command, args []string) error {
	const op errors.Op = command + ".runE"
	pr := printer.FromContextOrDie(r.ctx)

	results, err := r.coord.MirrorPass(r.ctx, coordinator.RunOptions{
		Org:  r.org,
		Repo: r.repo,
	})
	for _, res := range results {
		opt := printer.NewOpt().Scope(res.Repo)
		pr.OptPrintf(opt, "project %s (default branch: %s)\n", res.Project, res.DefaultBranch)
		refs := make([]string, 0, len(res.Refs))
		for ref := range res.Refs {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		for _, ref := range refs {
			pr.OptPrintf(opt, "  %s: %s\n", ref, res.Refs[ref])
		}
		for _, b := range res.Protected {
			pr.OptPrintf(opt, "  protected %s\n", b)
		}
	}
	if err != nil {
		return cmdutil.HandleError(cmd, errors.E(op, err))
	}
	return nil
}
