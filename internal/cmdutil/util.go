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

package cmdutil

import (
	standarderrors "errors"
	"fmt"
	"os"

	"github.com/forkpilot/forkpilot/pkg/cache"
	"github.com/forkpilot/forkpilot/pkg/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	StackTraceOnErrors = "FORKPILOT_STACK_TRACE_ON_ERRORS"
	trueString         = "true"
)

// StackOnError if true, will print the full error chain on failure.
var StackOnError bool

// ExitOnError if true, will cause commands to call os.Exit instead of
// returning an error. Used for skipping printing usage on failure.
var ExitOnError bool

func PrintErrorStacktrace() bool {
	e := os.Getenv(StackTraceOnErrors)
	if StackOnError || e == trueString || e == "1" {
		return true
	}
	return false
}

// HandleError prints err and, when ExitOnError is set, terminates the
// process. Returning the error lets cobra propagate it in library use.
func HandleError(c *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	if PrintErrorStacktrace() {
		depth := 0
		for e := err; e != nil; e = standarderrors.Unwrap(e) {
			fmt.Fprintf(os.Stderr, "%*s%v\n", depth*2, "", e)
			depth++
		}
	}
	if ExitOnError {
		fmt.Fprintf(c.ErrOrStderr(), "Error: %v\n", err)
		os.Exit(1)
	}
	return err
}

// LoadConfig reads, finalizes and validates the run configuration.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

// NewCache builds the run cache from the configured TTLs.
func NewCache(cfg *config.Config) *cache.Cache {
	return cache.New(cache.Options{
		DiscoveryTTL: cfg.Cache.Discovery,
		MetadataTTL:  cfg.Cache.Metadata,
		NegativeTTL:  cfg.Cache.Negative,
	})
}

// NewRunID returns the correlation identifier stamped on issues, webhook
// deliveries and log lines of one run.
func NewRunID() string {
	return uuid.NewString()
}
