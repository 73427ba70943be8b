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

// Package config carries the injected configuration for a run. The engine
// packages receive a resolved Config and never read environment variables or
// files themselves; loading from disk is a CLI-layer concern.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forkpilot/forkpilot/internal/errors"
	"github.com/forkpilot/forkpilot/pkg/fork"
)

// Defaults applied by Finalize when the corresponding field is zero.
const (
	DefaultDiscoveryTTL  = 30 * time.Minute
	DefaultMetadataTTL   = 10 * time.Minute
	DefaultNegativeTTL   = 5 * time.Minute
	DefaultAPITimeout    = 30 * time.Second
	DefaultRetryBudget   = 4
	DefaultConcurrency   = 4
	DefaultLag           = 1
	DefaultMinTokenLife  = 5 * time.Minute
	DefaultMirrorBranch  = "main"
	DefaultSecondaryHost = "gitlab.com"
)

// Bytes is secret material carried in YAML as an ordinary string scalar,
// such as a PEM block or a webhook shared secret.
type Bytes []byte

func (b *Bytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	*b = Bytes(s)
	return nil
}

// AppAuth identifies the App installation used to mint tokens.
type AppAuth struct {
	// AppID is the App identifier, also the issuer and audience of the
	// signed assertion.
	AppID int64 `yaml:"appID"`

	// PrivateKeyPEM is the App's RSA signing key, already materialized by
	// the secret collaborator.
	PrivateKeyPEM Bytes `yaml:"privateKeyPEM"`

	// Installations maps organization login to installation ID.
	Installations map[string]int64 `yaml:"installations"`
}

// Branches names the managed branches. All roles except mirror live under
// Prefix.
type Branches struct {
	Prefix   string `yaml:"prefix"`
	Product  string `yaml:"product"`
	Staging  string `yaml:"staging"`
	Feature  string `yaml:"feature"`
	Release  string `yaml:"release"`
	Snapshot string `yaml:"snapshot"`

	// Mirror is the fallback mirror branch used when a fork's default
	// branch is unknown.
	Mirror string `yaml:"mirror"`

	// Lag is the minimum number of commits staging/feature stay behind
	// product.
	Lag int `yaml:"lag"`
}

// Webhook configures signed outbound notification.
type Webhook struct {
	URL    string `yaml:"url"`
	Secret Bytes  `yaml:"secret"`
}

// SecondaryHost configures ref mirroring to the secondary hosting system.
type SecondaryHost struct {
	Host  string `yaml:"host"`
	Token string `yaml:"token"`
}

// TTLs are the per-category cache lifetimes.
type TTLs struct {
	Discovery time.Duration `yaml:"discovery"`
	Metadata  time.Duration `yaml:"metadata"`
	// Negative is the (normally shorter) lifetime of not-found entries.
	Negative time.Duration `yaml:"negative"`
}

// Config is the complete injected configuration for a run.
type Config struct {
	Auth     AppAuth          `yaml:"auth"`
	Orgs     []fork.OrgTarget `yaml:"orgs"`
	Branches Branches         `yaml:"branches"`
	Webhook  Webhook          `yaml:"webhook"`
	Mirror   SecondaryHost    `yaml:"mirror"`
	Cache    TTLs             `yaml:"cache"`

	// APITimeout bounds every network call.
	APITimeout time.Duration `yaml:"apiTimeout"`
	// RetryBudget caps retries of transient failures per call.
	RetryBudget int `yaml:"retryBudget"`
	// Concurrency caps concurrent repository workers within one org.
	Concurrency int `yaml:"concurrency"`
	// MinTokenLife is the minimum remaining installation-token lifetime
	// considered usable for a run.
	MinTokenLife time.Duration `yaml:"minTokenLife"`
}

// Finalize fills zero fields with defaults.
func (c *Config) Finalize() {
	if c.Cache.Discovery == 0 {
		c.Cache.Discovery = DefaultDiscoveryTTL
	}
	if c.Cache.Metadata == 0 {
		c.Cache.Metadata = DefaultMetadataTTL
	}
	if c.Cache.Negative == 0 {
		c.Cache.Negative = DefaultNegativeTTL
	}
	if c.APITimeout == 0 {
		c.APITimeout = DefaultAPITimeout
	}
	if c.RetryBudget == 0 {
		c.RetryBudget = DefaultRetryBudget
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MinTokenLife == 0 {
		c.MinTokenLife = DefaultMinTokenLife
	}
	if c.Branches.Lag == 0 {
		c.Branches.Lag = DefaultLag
	}
	if c.Branches.Mirror == "" {
		c.Branches.Mirror = DefaultMirrorBranch
	}
	if c.Mirror.Host == "" {
		c.Mirror.Host = DefaultSecondaryHost
	}
}

// BranchSet builds the validated managed-branch names from the configured
// prefix and role names.
func (c *Config) BranchSet() (fork.BranchSet, error) {
	return fork.NewBranchSet(c.Branches.Prefix, c.Branches.Mirror, map[fork.BranchRole]string{
		fork.RoleProduct:  c.Branches.Product,
		fork.RoleStaging:  c.Branches.Staging,
		fork.RoleFeature:  c.Branches.Feature,
		fork.RoleRelease:  c.Branches.Release,
		fork.RoleSnapshot: c.Branches.Snapshot,
	})
}

// Matrix builds the validated organization matrix.
func (c *Config) Matrix() (fork.OrgMatrix, error) {
	return fork.NewOrgMatrix(c.Orgs)
}

// Validate checks the configuration for a runnable state. Unrecoverable
// configuration errors abort the full run before any repository is touched.
func (c *Config) Validate() error {
	const op errors.Op = "config.Validate"
	if c.Auth.AppID == 0 {
		return errors.E(op, errors.Validation, "auth.appID is required")
	}
	if len(c.Auth.PrivateKeyPEM) == 0 {
		return errors.E(op, errors.Validation, "auth.privateKeyPEM is required")
	}
	if _, err := c.BranchSet(); err != nil {
		return errors.E(op, err)
	}
	matrix, err := c.Matrix()
	if err != nil {
		return errors.E(op, err)
	}
	for _, t := range matrix.Targets() {
		if _, ok := c.Auth.Installations[t.Org]; !ok {
			return errors.E(op, errors.Validation,
				fmt.Errorf("no installation recorded for organization %q", t.Org))
		}
		if t.MirrorGroup != "" && c.Mirror.Token == "" {
			return errors.E(op, errors.Validation,
				fmt.Errorf("organization %q mirrors but mirror.token is empty", t.Org))
		}
	}
	if c.Webhook.URL != "" && len(c.Webhook.Secret) == 0 {
		return errors.E(op, errors.Validation, "webhook.url is set but webhook.secret is empty")
	}
	if c.Branches.Lag < 1 {
		return errors.E(op, errors.Validation, "branches.lag must be at least 1")
	}
	return nil
}

// Load reads, finalizes and validates a YAML config file. CLI use only.
func Load(path string) (*Config, error) {
	const op errors.Op = "config.Load"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E(op, errors.Validation, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.E(op, errors.Validation, err)
	}
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return nil, errors.E(op, err)
	}
	return &cfg, nil
}
