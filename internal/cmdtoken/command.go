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

package cmdtoken

import (
	"context"
	"fmt"
	"time"

	"github.com/forkpilot/forkpilot/internal/cmdutil"
	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/printer"
	"github.com/forkpilot/forkpilot/pkg/apptoken"
	"github.com/forkpilot/forkpilot/pkg/config"
	"github.com/spf13/cobra"
)

const (
	command = "cmdtoken"
	longMsg = `
forkpilot token --org ORG

Mints an installation token for the organization and reports its expiry.
The token itself is never printed; this command exists to verify the App
credential before a run.
`
)

func NewCommand(ctx context.Context, name string) *cobra.Command {
	return newRunner(ctx, name).Command
}

func newRunner(ctx context.Context, name string) *runner {
	r := &runner{ctx: ctx}
	c := &cobra.Command{
		Use:     "token",
		Short:   "Verify the App credential by minting an installation token",
		Long:    longMsg,
		Example: fmt.Sprintf("%s token --config forkpilot.yaml --org acme", name),
		PreRunE: r.preRunE,
		RunE:    r.runE,
	}
	r.Command = c

	c.Flags().StringVar(&r.configPath, "config", "forkpilot.yaml",
		"path to the run configuration file")
	c.Flags().StringVar(&r.org, "org", "", "organization whose installation to verify")
	_ = c.MarkFlagRequired("org")
	return r
}

type runner struct {
	ctx     context.Context
	Command *cobra.Command
	cfg     *config.Config
	minter  *apptoken.Minter

	configPath string
	org        string
}

func (r *runner) preRunE(cmd *cobra.Command, args []string) error {
	const op errors.Op = command + ".preRunE"
	cfg, err := cmdutil.LoadConfig(r.configPath)
	if err != nil {
		return errors.E(op, err)
	}
	minter, err := apptoken.NewMinter(cfg.Auth.AppID, cfg.Auth.PrivateKeyPEM,
		apptoken.WithMinLife(cfg.MinTokenLife))
	if err != nil {
		return errors.E(op, err)
	}
	r.cfg = cfg
	r.minter = minter
	return nil
}

func (r *runner) runE(cmd *cobra.Command, args []string) error {
	const op errors.Op = command + ".runE"
	pr := printer.FromContextOrDie(r.ctx)

	installation, ok := r.cfg.Auth.Installations[r.org]
	if !ok {
		return cmdutil.HandleError(cmd, errors.E(op, errors.Credential,
			fmt.Errorf("no installation configured for org %q", r.org)))
	}
	token, err := r.minter.Mint(r.ctx, installation)
	if err != nil {
		return cmdutil.HandleError(cmd, errors.E(op, err))
	}
	pr.Printf("installation %d: token valid for %s (expires %s)\n",
		installation,
		token.Remaining(time.Now()).Round(time.Second),
		token.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}
