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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/conductor/internal/controller/runner"
	conductorllm "github.com/tombee/conductor/internal/llm"
	"github.com/tombee/conductor/pkg/llm/cost"
	"github.com/tombee/conductor/pkg/tools/approval"
	"github.com/tombee/conductor/pkg/workflow"
	"github.com/tombee/conductor/pkg/workflow/loader"
)

// exitError lets a subcommand report a specific CLI exit code alongside the
// error cobra prints, instead of every failure collapsing to exit 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newRunCommand(a *app) *cobra.Command {
	var (
		vars     []string
		dryRun   bool
		resume   string
		provider string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Execute a workflow by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			inputs, err := parseVars(vars)
			if err != nil {
				return &exitError{exitValidationError, err}
			}

			def, err := loader.LoadWorkflow(a.workspace.DefinitionPath(name))
			if err != nil {
				return &exitError{exitValidationError, err}
			}
			if err := def.Validate(); err != nil {
				return &exitError{exitValidationError, err}
			}

			permDef, err := resolvePermissions(a, def)
			if err != nil {
				return &exitError{exitValidationError, err}
			}

			if dryRun {
				r, err := runner.New(runner.Config{Logger: a.log})
				if err != nil {
					return err
				}
				result := r.DryRun(def, inputs)
				return printResult(cmd, result)
			}

			costStore := cost.NewMemoryStore()
			invoker, err := a.buildInvoker(provider, costStore, conductorllm.RunContext{WorkflowID: def.Name})
			if err != nil {
				return &exitError{exitValidationError, err}
			}

			r, err := runner.New(runner.Config{
				LogsDir:         a.workspace.LogsDir(),
				CheckpointDir:   a.workspace.CheckpointsDir(),
				Approver:        approval.NewCLIApprover(),
				Invoker:         invoker,
				Logger:          a.log,
				Tracer:          a.tracer.Tracer(),
				AuditMirrorPath: a.workspace.AuditDBPath(),
			})
			if err != nil {
				return err
			}
			defer r.Close()

			result, runErr := r.Run(cmd.Context(), def, permDef, inputs, resume)
			if printErr := printResult(cmd, result); printErr != nil {
				return printErr
			}
			if runErr != nil {
				return &exitError{exitCodeFor(runErr), runErr}
			}
			if result != nil && result.Status == workflow.StepFailed {
				return &exitError{exitWorkflowFailure, fmt.Errorf("workflow %q failed", name)}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "set a workflow input as key=value (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview step plan without executing")
	cmd.Flags().StringVar(&resume, "resume", "", "resume from a checkpointed run ID")
	cmd.Flags().StringVar(&provider, "provider", "", "provider instance name (defaults to config's default_provider)")
	return cmd
}

func parseVars(vars []string) (map[string]interface{}, error) {
	inputs := make(map[string]interface{}, len(vars))
	for _, v := range vars {
		k, val, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("--var must be key=value, got %q", v)
		}
		inputs[k] = val
	}
	return inputs, nil
}

// resolvePermissions resolves def.Permissions against the workspace's
// permissions directory when it names a profile to extend; an inline,
// nameless definition is used as-is.
func resolvePermissions(a *app, def *workflow.WorkflowDefinition) (*workflow.PermissionDefinition, error) {
	if def.Permissions == nil || def.Permissions.Name == "" {
		return def.Permissions, nil
	}
	profiles, err := loader.LoadPermissionProfilesDir(a.workspace.PermissionsDir())
	if err != nil {
		return nil, err
	}
	return loader.ResolveProfile(def.Permissions.Name, profiles)
}

func printResult(cmd *cobra.Command, result *workflow.WorkflowResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
