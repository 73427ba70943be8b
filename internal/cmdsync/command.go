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

package cmdsync

import (
	"context"
	"fmt"

	"github.com/forkpilot/forkpilot/internal/cmdutil"
	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/internal/printer"
	"github.com/forkpilot/forkpilot/pkg/apptoken"
	"github.com/forkpilot/forkpilot/pkg/coordinator"
	"github.com/forkpilot/forkpilot/pkg/fork"
	"github.com/spf13/cobra"
)

const (
	command = "cmdsync"
	longMsg = `
forkpilot sync [flags]

Synchronizes every managed fork with its upstream and promotes the result
through the branch ladder. Conflicted repositories get a canonical issue and
are retried on the next run.
`
)

func NewCommand(ctx context.Context, name string) *cobra.Command {
	return newRunner(ctx, name).Command
}

func newRunner(ctx context.Context, name string) *runner {
	r := &runner{ctx: ctx}
	c := &cobra.Command{
		Use:     "sync",
		Short:   "Sync forks with their upstreams and promote the branch ladder",
		Long:    longMsg,
		Example: fmt.Sprintf("%s sync --config forkpilot.yaml --org acme", name),
		PreRunE: r.preRunE,
		RunE:    r.runE,
	}
	r.Command = c

	c.Flags().StringVar(&r.configPath, "config", "forkpilot.yaml",
		"path to the run configuration file")
	c.Flags().StringVar(&r.org, "org", "", "restrict the run to one organization")
	c.Flags().StringVar(&r.repo, "repo", "", "restrict the run to one repository (name or org/name)")
	c.Flags().BoolVar(&r.clearCache, "clear-cache", false, "discard cached discovery and metadata before the run")
	c.Flags().BoolVar(&r.webhooks, "webhooks", false, "dispatch webhooks for branches that moved")
	c.Flags().BoolVar(&r.mirror, "mirror", false, "mirror managed refs to the secondary host after promotion")
	return r
}

type runner struct {
	ctx     context.Context
	Command *cobra.Command
	coord   *coordinator.Coordinator

	configPath string
	org        string
	repo       string
	clearCache bool
	webhooks   bool
	mirror     bool
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
	r.coord = coordinator.New(cfg, cmdutil.NewCache(cfg), minter, cmdutil.NewRunID())
	return nil
}

func (r *runner) runE(cmd *cobra.Command, args []string) error {
	const op errors.Op = command + ".runE"
	pr := printer.FromContextOrDie(r.ctx)

	report, err := r.coord.Run(r.ctx, coordinator.RunOptions{
		Org:        r.org,
		Repo:       r.repo,
		ClearCache: r.clearCache,
		Webhooks:   r.webhooks,
		MirrorRefs: r.mirror,
	})
	printReport(pr, report)
	if err != nil {
		return cmdutil.HandleError(cmd, errors.E(op, err))
	}
	return nil
}

// printReport writes one line per repository plus a closing tally. All
// output goes through the run printer so library callers can capture it.
func printReport(pr printer.Printer, report fork.RunReport) {
	for _, o := range report.Outcomes {
		opt := printer.NewOpt().Scope(o.Repo)
		switch o.Kind {
		case fork.OutcomeConflicted:
			pr.OptPrintf(opt, "conflicted (%s): %s\n", o.ConflictKind, o.Err)
		case fork.OutcomeErrored:
			pr.OptPrintf(opt, "errored: %s\n", o.Err)
		case fork.OutcomeSkipped:
			pr.OptPrintf(opt, "skipped: %s\n", o.Err)
		default:
			pr.OptPrintf(opt, "%s\n", o.Kind)
			for _, c := range o.ChangedRefs() {
				if c.Before == "" {
					pr.OptPrintf(opt, "  %s %s at %.12s\n", c.Ref, c.Action, c.After)
					continue
				}
				pr.OptPrintf(opt, "  %s %s %.12s -> %.12s\n", c.Ref, c.Action, c.Before, c.After)
			}
		}
		for _, w := range o.Warnings {
			pr.OptPrintf(opt.Stderr(), "warning: %s\n", w)
		}
	}
	pr.Printf("%d repositories", len(report.Outcomes))
	for _, kind := range []fork.OutcomeKind{
		fork.OutcomeSynced, fork.OutcomeCreated, fork.OutcomeUnchanged,
		fork.OutcomeDiverged, fork.OutcomeConflicted, fork.OutcomeSkipped,
		fork.OutcomeErrored,
	} {
		if n := report.Counts[kind]; n > 0 {
			pr.Printf(", %d %s", n, kind)
		}
	}
	pr.Printf("\n")
}
