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

package errors

import "fmt"

// ProfileNotFoundError reports a missing permissions or preferences profile.
type ProfileNotFoundError struct {
	ProfileType string // "permissions" or "preferences"
	Name        string
}

func (e *ProfileNotFoundError) Error() string {
	return fmt.Sprintf("%s profile not found: %s", e.ProfileType, e.Name)
}

// CircularInheritanceError reports a cycle in permissions profile inheritance.
type CircularInheritanceError struct {
	Chain []string
}

func (e *CircularInheritanceError) Error() string {
	msg := "circular profile inheritance"
	for i, name := range e.Chain {
		if i > 0 {
			msg += " -> "
		} else {
			msg += ": "
		}
		msg += name
	}
	return msg
}

// InterpolationError reports a failure resolving a `{{ expr }}` token.
type InterpolationError struct {
	Expression string
	Reason     string
}

func (e *InterpolationError) Error() string {
	return fmt.Sprintf("failed to interpolate %q: %s", e.Expression, e.Reason)
}

// ConditionEvaluationError reports a condition expression that could not be parsed or evaluated.
type ConditionEvaluationError struct {
	Condition string
	Reason    string
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("failed to evaluate condition %q: %s", e.Condition, e.Reason)
}

// PermissionDeniedError reports a policy violation for a tool/path/command/env access.
type PermissionDeniedError struct {
	Tool     string
	Resource string
	Reason   string
}

func (e *PermissionDeniedError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("permission denied for %s (%s): %s", e.Tool, e.Resource, e.Reason)
	}
	return fmt.Sprintf("permission denied for %s: %s", e.Tool, e.Reason)
}

// BudgetExceededError reports a crossed resource cap.
type BudgetExceededError struct {
	Dimension string // "tokens", "cost", "max_file_size", "max_files_per_step", "max_api_calls", "max_steps"
	Current   float64
	Maximum   float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s (%.4g > %.4g)", e.Dimension, e.Current, e.Maximum)
}

// StepExecutionError wraps a handler failure for a named step.
type StepExecutionError struct {
	StepName string
	Message  string
	Cause    error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %s", e.StepName, e.Message)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// LowConfidenceError reports a step's self-reported confidence below its gate.
type LowConfidenceError struct {
	StepName   string
	Confidence int
	Threshold  int
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("step %q confidence (%d) below threshold (%d)", e.StepName, e.Confidence, e.Threshold)
}

// CheckpointMissingError reports a resume request for a non-existent run.
type CheckpointMissingError struct {
	Workflow string
	RunID    string
}

func (e *CheckpointMissingError) Error() string {
	return fmt.Sprintf("no checkpoint found for %s run %s", e.Workflow, e.RunID)
}
