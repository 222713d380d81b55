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

package workflow

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	wferrors "github.com/tombee/conductor/pkg/errors"
	"github.com/tombee/conductor/pkg/workflow/expression"
)

// ShellHandler runs shell_command steps via "sh -c", grounded on
// internal/action/shell's Execute. Before running, the handler checks the
// interpolated command with Perms.CheckShell and, when Perms also
// implements ConstraintChecker, with its tool_constraints query.
type ShellHandler struct {
	WorkingDir string
	Perms      PermissionChecker
}

// Handle interpolates step.ShellCommand against rc, checks it against
// Perms (if set), and runs it with a 30s default timeout.
func (h *ShellHandler) Handle(ctx context.Context, rc *Context, step *StepDefinition) (string, *int, int64, error) {
	command, err := interpolate(rc, step.ShellCommand)
	if err != nil {
		return "", nil, 0, err
	}

	if h.Perms != nil {
		if err := h.Perms.CheckShell(command); err != nil {
			return "", nil, 0, &wferrors.PermissionDeniedError{Tool: "shell_command", Resource: command, Reason: err.Error()}
		}
		if cc, ok := h.Perms.(ConstraintChecker); ok {
			if err := cc.CheckToolConstraint("shell_command", map[string]interface{}{"command": command}); err != nil {
				return "", nil, 0, &wferrors.PermissionDeniedError{Tool: "shell_command", Resource: command, Reason: err.Error()}
			}
		}
	}

	runCtx := ctx
	if timeout := parseStepTimeout(step.Timeout, 30*time.Second); timeout > 0 {
		var cancel func()
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if h.WorkingDir != "" {
		cmd.Dir = h.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", nil, 0, &wferrors.StepExecutionError{StepName: step.Name, Message: fmt.Sprintf("shell command failed: %s", msg), Cause: err}
	}

	return strings.TrimSpace(stdout.String()), nil, 0, nil
}

// ScriptHandler runs script_path steps: the file at the interpolated path
// is executed directly (its shebang selects the interpreter), mirroring
// pkg/tools/custom/script.go's direct-exec approach rather than
// ShellHandler's "sh -c" wrapping.
type ScriptHandler struct {
	WorkingDir string
	Perms      PermissionChecker
}

func (h *ScriptHandler) Handle(ctx context.Context, rc *Context, step *StepDefinition) (string, *int, int64, error) {
	path, err := interpolate(rc, step.ScriptPath)
	if err != nil {
		return "", nil, 0, err
	}

	if h.Perms != nil {
		if err := h.Perms.CheckFileRead(path); err != nil {
			return "", nil, 0, &wferrors.PermissionDeniedError{Tool: "script_path", Resource: path, Reason: err.Error()}
		}
		if cc, ok := h.Perms.(ConstraintChecker); ok {
			if err := cc.CheckToolConstraint("script_path", map[string]interface{}{"path": path}); err != nil {
				return "", nil, 0, &wferrors.PermissionDeniedError{Tool: "script_path", Resource: path, Reason: err.Error()}
			}
		}
	}

	if _, err := os.Stat(path); err != nil {
		return "", nil, 0, &wferrors.StepExecutionError{StepName: step.Name, Message: "script not found", Cause: err}
	}

	runCtx := ctx
	if timeout := parseStepTimeout(step.Timeout, 60*time.Second); timeout > 0 {
		var cancel func()
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path)
	if h.WorkingDir != "" {
		cmd.Dir = h.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", nil, 0, &wferrors.StepExecutionError{StepName: step.Name, Message: fmt.Sprintf("script failed: %s", msg), Cause: err}
	}

	return strings.TrimSpace(stdout.String()), nil, 0, nil
}

// TemplateHandler renders template_output steps: the string is purely
// interpolated, with no external process involved.
type TemplateHandler struct{}

func (h *TemplateHandler) Handle(ctx context.Context, rc *Context, step *StepDefinition) (string, *int, int64, error) {
	output, err := interpolate(rc, step.TemplateOutput)
	if err != nil {
		return "", nil, 0, err
	}
	return output, nil, 0, nil
}

func interpolate(rc *Context, s string) (string, error) {
	return expression.Interpolate(s, rc.InterpolationLookup())
}

func parseStepTimeout(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
