package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellHandler_RunsCommandAndCapturesOutput(t *testing.T) {
	h := &ShellHandler{}
	rc := newTestContext()
	rc.Set("name", "world")

	step := &StepDefinition{Name: "greet", ShellCommand: "echo hello {{ name }}"}
	output, confidence, tokens, err := h.Handle(context.Background(), rc, step)
	require.NoError(t, err)
	assert.Equal(t, "hello world", output)
	assert.Nil(t, confidence)
	assert.Equal(t, int64(0), tokens)
}

func TestShellHandler_ReturnsErrorOnNonZeroExit(t *testing.T) {
	h := &ShellHandler{}
	rc := newTestContext()

	step := &StepDefinition{Name: "fail", ShellCommand: "exit 1"}
	_, _, _, err := h.Handle(context.Background(), rc, step)
	assert.Error(t, err)
}

type denyAllPerms struct{ denyReason string }

func (d denyAllPerms) CheckTool(string) error      { return assert.AnError }
func (d denyAllPerms) CheckShell(string) error     { return assert.AnError }
func (d denyAllPerms) CheckFileRead(string) error  { return assert.AnError }
func (d denyAllPerms) CheckFileWrite(string) error { return assert.AnError }

func TestShellHandler_DeniedByPermissionChecker(t *testing.T) {
	h := &ShellHandler{Perms: denyAllPerms{}}
	rc := newTestContext()

	step := &StepDefinition{Name: "blocked", ShellCommand: "echo hi"}
	_, _, _, err := h.Handle(context.Background(), rc, step)
	assert.Error(t, err)
}

func TestTemplateHandler_Interpolates(t *testing.T) {
	h := &TemplateHandler{}
	rc := newTestContext()
	rc.Set("env", "prod")

	step := &StepDefinition{Name: "render", TemplateOutput: "Deploying to {{ env }}"}
	output, _, _, err := h.Handle(context.Background(), rc, step)
	require.NoError(t, err)
	assert.Equal(t, "Deploying to prod", output)
}

type stubInvoker struct {
	result *CompletionResult
	err    error
	req    CompletionRequest
}

func (s *stubInvoker) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestLLMHandler_PassesInterpolatedPromptAndModel(t *testing.T) {
	conf := 85
	inv := &stubInvoker{result: &CompletionResult{Output: "answer", Confidence: &conf, Tokens: 42}}
	h := &LLMHandler{Invoker: inv}
	rc := newTestContext()
	rc.Set("topic", "rollback")

	step := &StepDefinition{Name: "ask", LLMPrompt: "Explain the {{ topic }} plan", Model: ModelOpus}
	output, confidence, tokens, err := h.Handle(context.Background(), rc, step)
	require.NoError(t, err)
	assert.Equal(t, "answer", output)
	require.NotNil(t, confidence)
	assert.Equal(t, 85, *confidence)
	assert.Equal(t, int64(42), tokens)
	assert.Equal(t, "Explain the rollback plan", inv.req.Prompt)
	assert.Equal(t, ModeLLMPrompt, inv.req.Mode)
	assert.Equal(t, ModelOpus, inv.req.Model)
}

func TestAgentHandler_PassesTarget(t *testing.T) {
	inv := &stubInvoker{result: &CompletionResult{Output: "done", Tokens: 5}}
	h := &AgentHandler{Invoker: inv}
	rc := newTestContext()

	step := &StepDefinition{Name: "delegate", AgentInvocation: "reviewer"}
	_, _, _, err := h.Handle(context.Background(), rc, step)
	require.NoError(t, err)
	assert.Equal(t, "reviewer", inv.req.Target)
	assert.Equal(t, ModeAgentInvocation, inv.req.Mode)
}

func TestLLMHandler_NoInvokerConfiguredFails(t *testing.T) {
	h := &LLMHandler{}
	rc := newTestContext()
	step := &StepDefinition{Name: "ask", LLMPrompt: "hi"}
	_, _, _, err := h.Handle(context.Background(), rc, step)
	assert.Error(t, err)
}
