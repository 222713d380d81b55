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

	wferrors "github.com/tombee/conductor/pkg/errors"
)

// CompletionRequest is the narrow request shape the step executor's LLM
// handlers build — a single prompt under one of three invocation modes,
// plus the model SelectModel resolved for the step. It deliberately omits
// the multi-turn/streaming/tool-calling surface of pkg/llm.Provider: a
// workflow step issues one prompt and reads back one answer.
type CompletionRequest struct {
	Mode   InvocationMode
	Prompt string
	Model  Model
	// Target names the agent (AgentInvocation) or framework command
	// (FrameworkInvocation) being invoked; empty for plain LLMPrompt.
	Target string
}

// InvocationMode distinguishes the three step kinds an Invoker serves.
type InvocationMode string

const (
	ModeLLMPrompt       InvocationMode = "llm_prompt"
	ModeAgentInvocation InvocationMode = "agent_invocation"
	ModeFramework       InvocationMode = "framework_invocation"
)

// CompletionResult is what an Invoker hands back to the executor.
type CompletionResult struct {
	Output     string
	Confidence *int
	Tokens     int64
}

// Invoker is the pluggable client the executor's LLM-backed handlers call
// through. A concrete implementation adapts a real pkg/llm.Provider (or an
// agent/framework-invocation transport); tests supply a stub.
type Invoker interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// LLMHandler runs llm_prompt steps: interpolate the prompt, dispatch to
// Invoker, report back the model's self-assessed confidence (if any) for
// the confidence-gate/retry machinery in executor.go to act on.
type LLMHandler struct {
	Invoker Invoker
}

func (h *LLMHandler) Handle(ctx context.Context, rc *Context, step *StepDefinition) (string, *int, int64, error) {
	return h.invoke(ctx, rc, step, ModeLLMPrompt, step.LLMPrompt, "")
}

// AgentHandler runs agent_invocation steps: the interpolated string names
// the agent to invoke and is sent as the request's Target. The request
// carries no prompt and none of the run's variables or step results.
type AgentHandler struct {
	Invoker Invoker
}

func (h *AgentHandler) Handle(ctx context.Context, rc *Context, step *StepDefinition) (string, *int, int64, error) {
	return h.invoke(ctx, rc, step, ModeAgentInvocation, "", step.AgentInvocation)
}

// FrameworkHandler runs framework_invocation steps: the interpolated string
// names a host-framework command (e.g. a slash-command-like integration
// distinct from SlashCommand, which targets the CLI's own command set).
type FrameworkHandler struct {
	Invoker Invoker
}

func (h *FrameworkHandler) Handle(ctx context.Context, rc *Context, step *StepDefinition) (string, *int, int64, error) {
	return h.invoke(ctx, rc, step, ModeFramework, "", step.FrameworkInvocation)
}

func (h *LLMHandler) invoke(ctx context.Context, rc *Context, step *StepDefinition, mode InvocationMode, promptField, targetField string) (string, *int, int64, error) {
	return runInvoker(ctx, rc, step, h.Invoker, mode, promptField, targetField)
}

func (h *AgentHandler) invoke(ctx context.Context, rc *Context, step *StepDefinition, mode InvocationMode, promptField, targetField string) (string, *int, int64, error) {
	return runInvoker(ctx, rc, step, h.Invoker, mode, promptField, targetField)
}

func (h *FrameworkHandler) invoke(ctx context.Context, rc *Context, step *StepDefinition, mode InvocationMode, promptField, targetField string) (string, *int, int64, error) {
	return runInvoker(ctx, rc, step, h.Invoker, mode, promptField, targetField)
}

func runInvoker(ctx context.Context, rc *Context, step *StepDefinition, inv Invoker, mode InvocationMode, promptField, targetField string) (string, *int, int64, error) {
	if inv == nil {
		return "", nil, 0, &wferrors.StepExecutionError{StepName: step.Name, Message: "no invoker configured for " + string(mode)}
	}

	prompt, err := interpolate(rc, promptField)
	if err != nil {
		return "", nil, 0, err
	}
	target, err := interpolate(rc, targetField)
	if err != nil {
		return "", nil, 0, err
	}

	result, err := inv.Complete(ctx, CompletionRequest{
		Mode:   mode,
		Prompt: prompt,
		Model:  SelectModel(step),
		Target: target,
	})
	if err != nil {
		return "", nil, 0, &wferrors.StepExecutionError{StepName: step.Name, Message: "invocation failed", Cause: err}
	}

	return result.Output, result.Confidence, result.Tokens, nil
}

// SlashHandler runs slash_command steps by invoking the named CLI/framework
// slash command through the same Invoker surface as the other LLM-backed
// kinds, under ModeFramework semantics (a slash command is a framework
// invocation by another name).
type SlashHandler struct {
	Invoker Invoker
}

func (h *SlashHandler) Handle(ctx context.Context, rc *Context, step *StepDefinition) (string, *int, int64, error) {
	target, err := interpolate(rc, step.SlashCommand)
	if err != nil {
		return "", nil, 0, err
	}
	if h.Invoker == nil {
		return "", nil, 0, &wferrors.StepExecutionError{StepName: step.Name, Message: "no invoker configured for slash_command"}
	}

	result, err := h.Invoker.Complete(ctx, CompletionRequest{
		Mode:   ModeFramework,
		Model:  SelectModel(step),
		Target: target,
	})
	if err != nil {
		return "", nil, 0, &wferrors.StepExecutionError{StepName: step.Name, Message: "slash command failed", Cause: err}
	}
	return result.Output, result.Confidence, result.Tokens, nil
}
