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

package cmdnotify

import (
	"context"
	"fmt"

	"github.com/forkpilot/forkpilot/internal/cmdutil"
	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/printer"
	"github.com/forkpilot/forkpilot/pkg/apptoken"
	"github.com/forkpilot/forkpilot/pkg/coordinator"
	"github.com/spf13/cobra"
)

const (
	command = "cmdnotify"
	longMsg = `
forkpilot notify --org ORG --repo REPO [--ref BRANCH]...

Dispatches signed push webhooks for the named branches of one repository at
their current tips. Useful to replay a delivery the receiver missed. With no
--ref, every managed branch that exists is announced.
`
)

func NewCommand(ctx context.Context, name string) *cobra.Command {
	return newRunner(ctx, name).Command
}

func newRunner(ctx context.Context, name string) *runner {
	r := &runner{ctx: ctx}
	c := &cobra.Command{
		Use:     "notify",
		Short:   "Replay push webhooks for a repository's managed branches",
		Long:    longMsg,
		Example: fmt.Sprintf("%s notify --config forkpilot.yaml --org acme --repo widget --ref fp/product", name),
		PreRunE: r.preRunE,
		RunE:    r.runE,
	}
	r.Command = c

	c.Flags().StringVar(&r.configPath, "config", "forkpilot.yaml",
		"path to the run configuration file")
	c.Flags().StringVar(&r.org, "org", "", "organization holding the repository")
	c.Flags().StringVar(&r.repo, "repo", "", "repository to announce (name or org/name)")
	c.Flags().StringArrayVar(&r.refs, "ref", nil, "branch to announce (repeatable)")
	_ = c.MarkFlagRequired("org")
	_ = c.MarkFlagRequired("repo")
	return r
}

type runner struct {
	ctx     context.Context
	Command *cobra.Command
	coord   *coordinator.Coordinator

	configPath string
	org        string
	repo       string
	refs       []string
}

func (r *runner) preRunE(cmd *cobra.Command, args []string) error {
	const op errors.Op = command + ".preRunE"
	cfg, err := cmdutil.LoadConfig(r.configPath)
	if err != nil {
		return errors.E(op, err)
	}
	if cfg.Webhook.URL == "" {
		return errors.E(op, errors.Validation,
			fmt.Errorf("configuration carries no webhook receiver"))
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

	if err := r.coord.Announce(r.ctx, r.org, r.repo, r.refs); err != nil {
		return cmdutil.HandleError(cmd, errors.E(op, err))
	}
	pr.Printf("announced %s\n", r.repo)
	return nil
}
