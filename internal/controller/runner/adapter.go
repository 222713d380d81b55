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

package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tombee/conductor/internal/metrics"
	"github.com/tombee/conductor/internal/permissions"
	secaudit "github.com/tombee/conductor/pkg/security/audit"
	"github.com/tombee/conductor/pkg/tools/approval"
)

// engineAdapter satisfies pkg/workflow.PermissionChecker by wrapping
// internal/permissions.Engine. It lives here, not in pkg/workflow or
// internal/permissions, because internal/permissions imports pkg/workflow
// for the PermissionDefinition types — a direct import the other way would
// cycle. This package can import both, so it is the adapter's home.
//
// Denials and ask_once decisions are also fanned out to a
// pkg/security/audit.Logger, when configured, so a SOC watching syslog or a
// webhook sees tool/file/shell denials as they happen — distinct from
// internal/audit's hash-chained per-run log, which records a workflow's own
// execution history rather than security decisions for external monitoring.
type engineAdapter struct {
	engine   *permissions.Engine
	approver approval.Approver
	secAudit *secaudit.Logger
	workflow string
	runID    string
	runCtx   context.Context
}

func (a *engineAdapter) CheckTool(tool string) error {
	decision, needsApproval, err := a.engine.CheckTool(tool)
	if err != nil {
		return err
	}
	if decision == permissions.DecisionDeny {
		a.logSecurityEvent("tool_denied", "tool", tool, "deny", "denied by permission profile")
		return fmt.Errorf("tool %q denied by permission profile", tool)
	}
	if needsApproval {
		return a.askOnce(tool)
	}
	return nil
}

// CheckToolConstraint implements pkg/workflow.ConstraintChecker.
func (a *engineAdapter) CheckToolConstraint(tool string, params map[string]interface{}) error {
	if err := a.engine.CheckToolConstraint(tool, params); err != nil {
		a.logSecurityEvent("tool_constraint_denied", "tool", tool, "deny", err.Error())
		return err
	}
	return nil
}

func (a *engineAdapter) CheckShell(command string) error {
	if err := a.engine.CheckShell(command); err != nil {
		a.logSecurityEvent("shell_denied", "shell", command, "deny", err.Error())
		return err
	}
	return nil
}

func (a *engineAdapter) CheckFileRead(path string) error {
	if err := a.engine.CheckFileRead(path); err != nil {
		a.logSecurityEvent("file_read_denied", "file", path, "deny", err.Error())
		return err
	}
	return nil
}

func (a *engineAdapter) CheckFileWrite(path string) error {
	if err := a.engine.CheckFileWrite(path); err != nil {
		a.logSecurityEvent("file_write_denied", "file", path, "deny", err.Error())
		return err
	}
	return nil
}

// logSecurityEvent is a no-op when no security.Logger is configured, so
// runners that don't set Config.SecurityAudit pay nothing for this.
func (a *engineAdapter) logSecurityEvent(eventType, resourceType, resource, decision, reason string) {
	if decision == "deny" {
		metrics.PermissionDenials.WithLabelValues(resourceType).Inc()
	}
	if a.secAudit == nil {
		return
	}
	a.secAudit.Log(secaudit.Event{
		Timestamp:    time.Now(),
		EventType:    eventType,
		WorkflowID:   a.workflow,
		StepID:       a.runID,
		Resource:     resource,
		ResourceType: resourceType,
		Decision:     decision,
		Reason:       reason,
	})
}

// askOnce asks the configured Approver once for resource, approving it for
// the rest of the run on "yes"/"always". With no approver configured
// (headless runs, daemon mode), ask_once resources are denied rather than
// silently auto-granted.
func (a *engineAdapter) askOnce(resource string) error {
	if a.approver == nil {
		a.logSecurityEvent("tool_ask_once", "tool", resource, "deny", "no approver configured")
		return fmt.Errorf("tool %q requires approval but no approver is configured", resource)
	}
	approved, err := a.approver.Approve(a.runCtx, resource, "workflow step requests ask_once tool access", nil)
	if err != nil {
		return fmt.Errorf("approval failed for %q: %w", resource, err)
	}
	if !approved {
		a.logSecurityEvent("tool_ask_once", "tool", resource, "deny", "denied by operator")
		return fmt.Errorf("tool %q denied by operator", resource)
	}
	a.logSecurityEvent("tool_ask_once", "tool", resource, "allow", "approved by operator")
	a.engine.Approve(resource)
	return nil
}
