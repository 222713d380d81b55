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

// Package llm adapts a real pkg/llm.Provider to the narrow
// pkg/workflow.Invoker interface the step executor calls through, and
// records each call's token usage to a pkg/llm/cost.CostStore.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/conductor/pkg/llm"
	"github.com/tombee/conductor/pkg/llm/cost"
	"github.com/tombee/conductor/pkg/workflow"
)

// confidenceLine matches a trailing self-assessed confidence footer, e.g.
// "Confidence: 85". ProviderAdapter appends the instruction that elicits it
// and strips it back out of the reported output.
var confidenceLine = regexp.MustCompile(`(?im)^\s*confidence:\s*(\d{1,3})\s*$`)

// ProviderAdapter implements workflow.Invoker over a real llm.Provider.
// agent_invocation and framework_invocation steps are dispatched as plain
// prompts naming their target, since this engine has no separate agent or
// framework transport — only direct model completions.
type ProviderAdapter struct {
	Provider llm.Provider
	CostRun  RunContext
	costs    cost.CostStore
}

// RunContext carries the run/workflow identifiers cost records are tagged
// with; set per-run by the caller that constructs the adapter.
type RunContext struct {
	RunID      string
	WorkflowID string
}

// NewProviderAdapter builds an adapter over provider, recording cost records
// to store when non-nil.
func NewProviderAdapter(provider llm.Provider, store cost.CostStore, runCtx RunContext) *ProviderAdapter {
	return &ProviderAdapter{Provider: provider, CostRun: runCtx, costs: store}
}

// Complete implements workflow.Invoker.
func (a *ProviderAdapter) Complete(ctx context.Context, req workflow.CompletionRequest) (*workflow.CompletionResult, error) {
	prompt := req.Prompt
	switch req.Mode {
	case workflow.ModeAgentInvocation:
		prompt = fmt.Sprintf("You are acting as the %q agent. %s", req.Target, req.Prompt)
	case workflow.ModeFramework:
		prompt = fmt.Sprintf("Invoke framework command %q with the following context:\n%s", req.Target, req.Prompt)
	}
	prompt += "\n\nEnd your answer with a line of the exact form \"Confidence: N\" where N is 0-100, your self-assessed confidence in this answer."

	ccReq := llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: prompt}},
		Model:    string(req.Model),
	}

	start := time.Now()
	resp, err := a.Provider.Complete(ctx, ccReq)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("llm completion failed: %w", err)
	}

	a.recordCost(req, resp, duration)

	output, confidence := stripConfidence(resp.Content)
	return &workflow.CompletionResult{
		Output:     output,
		Confidence: confidence,
		Tokens:     int64(resp.Usage.TotalTokens),
	}, nil
}

func stripConfidence(content string) (string, *int) {
	loc := confidenceLine.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, nil
	}
	value, err := strconv.Atoi(content[loc[2]:loc[3]])
	if err != nil {
		return content, nil
	}
	if value > 100 {
		value = 100
	}
	cleaned := strings.TrimSpace(content[:loc[0]] + content[loc[1]:])
	return cleaned, &value
}

func (a *ProviderAdapter) recordCost(req workflow.CompletionRequest, resp *llm.CompletionResponse, duration time.Duration) {
	if a.costs == nil {
		return
	}
	record := llm.CostRecord{
		ID:         uuid.New().String(),
		RequestID:  resp.RequestID,
		RunID:      a.CostRun.RunID,
		WorkflowID: a.CostRun.WorkflowID,
		Provider:   a.Provider.Name(),
		Model:      resp.Model,
		Timestamp:  time.Now(),
		Duration:   duration,
		Usage:      resp.Usage,
	}
	go func() {
		if err := a.costs.Store(context.Background(), record); err != nil {
			slog.Warn("failed to store cost record", "error", err, "run_id", a.CostRun.RunID)
		}
	}()
}
