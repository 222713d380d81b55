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
	"context"
	"fmt"
	"time"

	wferrors "github.com/tombee/conductor/pkg/errors"
	"github.com/tombee/conductor/pkg/workflow/expression"
)

// PermissionChecker is the narrow view of internal/permissions.Engine the
// executor needs. It lives here, rather than importing internal/permissions
// directly, because internal/permissions imports this package for its
// PathPermissions/ToolPermissions/... types — importing it back would be a
// cycle. The runner supplies the concrete adapter.
type PermissionChecker interface {
	CheckTool(tool string) error
	CheckShell(command string) error
	CheckFileRead(path string) error
	CheckFileWrite(path string) error
}

// ConstraintChecker is an optional capability a PermissionChecker may also
// implement: a structural, per-call check of a tool's parameters against a
// profile's tool_constraints query, beyond the plain allow/deny the
// PermissionChecker methods give. Handlers type-assert for it since most
// PermissionChecker implementations (including tests' fakes) have no need
// to implement it.
type ConstraintChecker interface {
	CheckToolConstraint(tool string, params map[string]interface{}) error
}

// Handler runs one step kind and returns its raw output and, for kinds that
// self-report one, a confidence score in [0,100].
type Handler interface {
	Handle(ctx context.Context, rc *Context, step *StepDefinition) (output string, confidence *int, tokens int64, err error)
}

// AuditSink receives lifecycle notifications from the executor. The runner
// wires this to internal/audit.Logger; a nil sink is silently skipped.
type AuditSink interface {
	LogStepStart(stepName string, data map[string]interface{}) error
	LogStepComplete(stepName string, data map[string]interface{}) error
	LogStepFailed(stepName, reason string, data map[string]interface{}) error
	LogStepSkipped(stepName, reason string) error
	LogStepRetried(stepName string, attempt int, reason string) error
	LogLowConfidence(stepName string, confidence, threshold int) error
}

// StepExecutor dispatches each step to its kind's Handler, applying the
// condition, loop, branch, model-selection, retry, and confidence-gate
// machinery shared across all eight execution kinds, per
// original_source/workflows/engine/executor.py.
type StepExecutor struct {
	handlers   map[StepKind]Handler
	eval       *expression.Evaluator
	perms      PermissionChecker
	audit      AuditSink
	defaultRetryCount int
	defaultOnError    ErrorAction
}

// ExecutorOption configures a StepExecutor.
type ExecutorOption func(*StepExecutor)

// WithHandler registers the Handler used for a given step kind.
func WithHandler(kind StepKind, h Handler) ExecutorOption {
	return func(e *StepExecutor) { e.handlers[kind] = h }
}

// WithPermissionChecker sets the permission authority consulted by handlers
// that touch files, shell commands, or tools.
func WithPermissionChecker(p PermissionChecker) ExecutorOption {
	return func(e *StepExecutor) { e.perms = p }
}

// WithAuditSink sets the lifecycle event sink.
func WithAuditSink(a AuditSink) ExecutorOption {
	return func(e *StepExecutor) { e.audit = a }
}

// WithDefaults sets the workflow-level retry count and on_error policy
// steps fall back to when they don't set their own.
func WithDefaults(retryCount int, onError ErrorAction) ExecutorOption {
	return func(e *StepExecutor) {
		e.defaultRetryCount = retryCount
		e.defaultOnError = onError
	}
}

// NewStepExecutor builds an executor with the given options applied.
func NewStepExecutor(opts ...ExecutorOption) *StepExecutor {
	e := &StepExecutor{
		handlers: make(map[StepKind]Handler),
		eval:     expression.New(),
		audit:    noopAuditSink{},
		defaultOnError: OnErrorAbort,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PermissionChecker returns the executor's configured permission authority,
// for handlers constructed outside WithHandler to share it.
func (e *StepExecutor) PermissionChecker() PermissionChecker {
	return e.perms
}

type noopAuditSink struct{}

func (noopAuditSink) LogStepStart(string, map[string]interface{}) error             { return nil }
func (noopAuditSink) LogStepComplete(string, map[string]interface{}) error          { return nil }
func (noopAuditSink) LogStepFailed(string, string, map[string]interface{}) error    { return nil }
func (noopAuditSink) LogStepSkipped(string, string) error                           { return nil }
func (noopAuditSink) LogStepRetried(string, int, string) error                      { return nil }
func (noopAuditSink) LogLowConfidence(string, int, int) error                       { return nil }

// ExecuteStep runs one step (and, for branch_block, its selected arm)
// against rc, in this order: condition check, loop expansion, branch arm
// selection, model selection, handler dispatch inside a retry loop that
// also re-checks the confidence gate on every attempt, then store_as.
func (e *StepExecutor) ExecuteStep(ctx context.Context, rc *Context, step *StepDefinition) (*StepResult, error) {
	if step.Condition != "" {
		ok, err := e.eval.EvaluateCondition(step.Condition, rc.ExpressionContext())
		if err != nil {
			return nil, &wferrors.ConditionEvaluationError{Condition: step.Condition, Reason: err.Error()}
		}
		if !ok {
			_ = e.audit.LogStepSkipped(step.Name, "condition evaluated false")
			result := &StepResult{StepName: step.Name, Status: StepSkipped}
			rc.StoreStepResult(result)
			return result, nil
		}
	}

	if step.Foreach != "" || step.Until != "" {
		return e.executeLoop(ctx, rc, step)
	}

	return e.executeOnce(ctx, rc, step)
}

// executeOnce runs a single (non-looped) step to completion, including its
// retry loop and store_as persistence.
func (e *StepExecutor) executeOnce(ctx context.Context, rc *Context, step *StepDefinition) (*StepResult, error) {
	if step.Kind() == KindBranchBlock {
		return e.executeBranch(ctx, rc, step)
	}

	handler, ok := e.handlers[step.Kind()]
	if !ok {
		return nil, fmt.Errorf("step %q: no handler registered for kind %q", step.Name, step.Kind())
	}

	retries := step.RetryCount
	if retries == 0 {
		retries = e.defaultRetryCount
	}
	onError := step.OnError
	if onError == "" {
		onError = e.defaultOnError
	}

	_ = e.audit.LogStepStart(step.Name, nil)

	model := SelectModel(step)

	var (
		output     string
		confidence *int
		tokens     int64
		handlerErr error
		attempt    int
	)

	start := time.Now()
	for attempt = 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			_ = e.audit.LogStepRetried(step.Name, attempt, handlerErr.Error())
		}

		output, confidence, tokens, handlerErr = handler.Handle(ctx, rc, step)
		if handlerErr != nil {
			continue
		}

		if step.ConfidenceGate != nil && confidence != nil && *confidence < *step.ConfidenceGate {
			_ = e.audit.LogLowConfidence(step.Name, *confidence, *step.ConfidenceGate)
			switch step.OnLowConfidence {
			case OnLowConfidenceRetry:
				handlerErr = &wferrors.LowConfidenceError{StepName: step.Name, Confidence: *confidence, Threshold: *step.ConfidenceGate}
				continue
			case OnLowConfidenceAbort:
				handlerErr = &wferrors.LowConfidenceError{StepName: step.Name, Confidence: *confidence, Threshold: *step.ConfidenceGate}
			}
			// OnLowConfidenceWarn (or unset): accept the output, just logged above.
		}
		break
	}
	if attempt > retries {
		// Loop exited by exhausting retries rather than by break: the loop
		// variable overshoots by one past the last attempt actually made.
		attempt = retries
	}

	rc.AddUsage(model, tokens)
	duration := time.Since(start)

	result := &StepResult{
		StepName:   step.Name,
		Output:     output,
		Confidence: confidence,
		Attempts:   attempt + 1,
		Duration:   duration,
		Tokens:     tokens,
		Cost:       EstimateCost(model, tokens),
	}

	if handlerErr != nil {
		result.Status = StepFailed
		result.Error = handlerErr.Error()
		_ = e.audit.LogStepFailed(step.Name, handlerErr.Error(), map[string]interface{}{"attempts": result.Attempts})
		rc.StoreStepResult(result)

		switch onError {
		case OnErrorSkip:
			result.Status = StepSkipped
			return result, nil
		case OnErrorContinue:
			return result, nil
		case OnErrorPause:
			return result, &wferrors.StepExecutionError{StepName: step.Name, Message: "paused after failure", Cause: handlerErr}
		default: // OnErrorAbort
			return result, &wferrors.StepExecutionError{StepName: step.Name, Message: "step failed", Cause: handlerErr}
		}
	}

	result.Status = StepSuccess
	_ = e.audit.LogStepComplete(step.Name, map[string]interface{}{"attempts": result.Attempts, "tokens": tokens})

	if step.StoreAs != "" {
		rc.Set(step.StoreAs, output)
	}
	rc.StoreStepResult(result)

	return result, nil
}

// executeBranch evaluates a branch_block's arms in order, running the
// first whose condition is true (or which has no condition, used as a
// default arm). If no arm matches, the step is skipped.
func (e *StepExecutor) executeBranch(ctx context.Context, rc *Context, step *StepDefinition) (*StepResult, error) {
	for _, arm := range step.Branch {
		matched := arm.Condition == ""
		if !matched {
			ok, err := e.eval.EvaluateCondition(arm.Condition, rc.ExpressionContext())
			if err != nil {
				return nil, &wferrors.ConditionEvaluationError{Condition: arm.Condition, Reason: err.Error()}
			}
			matched = ok
		}
		if !matched {
			continue
		}

		for _, sub := range arm.Steps {
			if _, err := e.ExecuteStep(ctx, rc, sub); err != nil {
				return nil, err
			}
		}

		result := &StepResult{StepName: step.Name, Status: StepSuccess}
		rc.StoreStepResult(result)
		return result, nil
	}

	_ = e.audit.LogStepSkipped(step.Name, "no branch arm matched")
	result := &StepResult{StepName: step.Name, Status: StepSkipped}
	rc.StoreStepResult(result)
	return result, nil
}
