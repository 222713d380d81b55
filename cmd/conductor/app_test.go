package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	wferrors "github.com/tombee/conductor/pkg/errors"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitSuccess},
		{"validation", &wferrors.ValidationError{Field: "x"}, exitValidationError},
		{"profile not found", &wferrors.ProfileNotFoundError{ProfileType: "permissions", Name: "x"}, exitValidationError},
		{"circular inheritance", &wferrors.CircularInheritanceError{Chain: []string{"a", "b"}}, exitValidationError},
		{"permission denied", &wferrors.PermissionDeniedError{Tool: "shell", Reason: "denied"}, exitPermissionDenied},
		{"budget exceeded", &wferrors.BudgetExceededError{Dimension: "tokens"}, exitBudgetExceeded},
		{"generic", assert.AnError, exitWorkflowFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestExitCodeFor_StepExecutionErrorUnwrapsCause(t *testing.T) {
	wrapped := &wferrors.StepExecutionError{
		StepName: "deploy",
		Message:  "denied",
		Cause:    &wferrors.PermissionDeniedError{Tool: "shell", Reason: "no"},
	}
	assert.Equal(t, exitPermissionDenied, exitCodeFor(wrapped))

	wrapped.Cause = &wferrors.BudgetExceededError{Dimension: "cost"}
	assert.Equal(t, exitBudgetExceeded, exitCodeFor(wrapped))

	wrapped.Cause = assert.AnError
	assert.Equal(t, exitWorkflowFailure, exitCodeFor(wrapped))
}

func TestExitCodeForCause_NilCause(t *testing.T) {
	assert.Equal(t, exitWorkflowFailure, exitCodeForCause(nil))
}
