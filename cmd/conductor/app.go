// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tombee/conductor/internal/config"
	conductorllm "github.com/tombee/conductor/internal/llm"
	clog "github.com/tombee/conductor/internal/log"
	"github.com/tombee/conductor/internal/tracing"
	wferrors "github.com/tombee/conductor/pkg/errors"
	"github.com/tombee/conductor/pkg/llm"
	"github.com/tombee/conductor/pkg/llm/cost"
	_ "github.com/tombee/conductor/pkg/llm/providers"
	"github.com/tombee/conductor/pkg/workflow"
)

// Exit codes, per the CLI's documented contract: 0 success, 1 workflow
// failure, 2 validation error, 3 permission denied, 4 budget exceeded, 5
// daemon not running.
const (
	exitSuccess          = 0
	exitWorkflowFailure  = 1
	exitValidationError  = 2
	exitPermissionDenied = 3
	exitBudgetExceeded   = 4
	exitDaemonNotRunning = 5
)

// app bundles the resolved workspace and config every subcommand needs.
type app struct {
	workspace *config.Workspace
	cfg       *config.Config
	log       *slog.Logger
	tracer    *tracing.Provider
}

func newApp(workspaceRoot string) (*app, error) {
	ws := config.NewWorkspace(workspaceRoot)

	cfgPath, err := config.ConfigPath()
	var cfg *config.Config
	if err != nil {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
	}

	tracerCfg := tracing.DefaultConfig()
	if !cfg.Tracing.Enabled {
		tracerCfg.Enabled = false
	} else if cfg.Tracing.Exporter != "" {
		tracerCfg.Exporter = tracing.Exporter(cfg.Tracing.Exporter)
		tracerCfg.Endpoint = cfg.Tracing.Endpoint
	}
	tracer, err := tracing.NewProvider(context.Background(), tracerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	return &app{
		workspace: ws,
		cfg:       cfg,
		log:       clog.New(clog.FromEnv()),
		tracer:    tracer,
	}, nil
}

// buildInvoker activates the named provider (or the config's default) from
// pkg/llm/providers' factory registry and adapts it to workflow.Invoker,
// recording cost records to store.
func (a *app) buildInvoker(providerName string, store cost.CostStore, runCtx conductorllm.RunContext) (workflow.Invoker, error) {
	if providerName == "" {
		providerName = a.cfg.DefaultProvider
	}
	if providerName == "" {
		return nil, fmt.Errorf("no provider configured: set default_provider in %s or pass --provider", mustConfigPath())
	}
	pc, ok := a.cfg.Providers[providerName]
	if !ok {
		return nil, &wferrors.ProfileNotFoundError{ProfileType: "provider", Name: providerName}
	}

	if !llm.IsActive(providerName) {
		creds := llm.APIKeyCredentials{APIKey: pc.ResolveAPIKey(), BaseURL: pc.BaseURL}
		if err := llm.Activate(providerName, creds); err != nil {
			return nil, fmt.Errorf("failed to activate provider %q: %w", providerName, err)
		}
	}
	provider, err := llm.Get(providerName)
	if err != nil {
		return nil, err
	}

	return conductorllm.NewProviderAdapter(provider, store, runCtx), nil
}

func mustConfigPath() string {
	p, err := config.ConfigPath()
	if err != nil {
		return "~/.config/conductor/config.yaml"
	}
	return p
}

// exitCodeFor maps a Runner/loader error to the CLI's documented exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}

	var validationErr *wferrors.ValidationError
	var profileErr *wferrors.ProfileNotFoundError
	var circularErr *wferrors.CircularInheritanceError
	var permErr *wferrors.PermissionDeniedError
	var budgetErr *wferrors.BudgetExceededError
	var stepErr *wferrors.StepExecutionError

	switch {
	case errors.As(err, &validationErr), errors.As(err, &profileErr), errors.As(err, &circularErr):
		return exitValidationError
	case errors.As(err, &permErr):
		return exitPermissionDenied
	case errors.As(err, &budgetErr):
		return exitBudgetExceeded
	case errors.As(err, &stepErr):
		return exitCodeForCause(stepErr.Unwrap())
	default:
		return exitWorkflowFailure
	}
}

func exitCodeForCause(cause error) int {
	if cause == nil {
		return exitWorkflowFailure
	}
	var permErr *wferrors.PermissionDeniedError
	var budgetErr *wferrors.BudgetExceededError
	switch {
	case errors.As(cause, &permErr):
		return exitPermissionDenied
	case errors.As(cause, &budgetErr):
		return exitBudgetExceeded
	default:
		return exitWorkflowFailure
	}
}
