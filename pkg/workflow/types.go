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

// Package workflow defines the declarative workflow model: triggers,
// variables, steps, and the context and executor that run them.
package workflow

import "time"

// StepStatus is the terminal state of a single step execution.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// ErrorAction is the on_error policy applied once a step's retries are
// exhausted.
type ErrorAction string

const (
	OnErrorAbort    ErrorAction = "abort"
	OnErrorSkip     ErrorAction = "skip"
	OnErrorContinue ErrorAction = "continue"
	OnErrorPause    ErrorAction = "pause"
)

// LowConfidenceAction is the on_low_confidence policy applied when a step's
// self-reported confidence falls below its confidence_gate.
type LowConfidenceAction string

const (
	OnLowConfidenceWarn  LowConfidenceAction = "warn"
	OnLowConfidenceRetry LowConfidenceAction = "retry"
	OnLowConfidenceAbort LowConfidenceAction = "abort"
)

// Model is an LLM model identifier used for cost-rate lookup.
type Model string

const (
	ModelHaiku  Model = "haiku"
	ModelSonnet Model = "sonnet"
	ModelOpus   Model = "opus"
)

// Complexity drives model auto-selection when a step omits an explicit
// model.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// defaultComplexity maps a step's execution kind to the complexity used for
// model auto-selection when the step has no explicit model or complexity.
var defaultComplexity = map[StepKind]Complexity{
	KindShellCommand:    ComplexityLow,
	KindSlashCommand:    ComplexityMedium,
	KindLLMPrompt:       ComplexityMedium,
	KindAgentInvocation: ComplexityHigh,
	KindFrameworkInvoke: ComplexityHigh,
	KindScriptPath:      ComplexityLow,
	KindTemplateOutput:  ComplexityLow,
	KindBranchBlock:     ComplexityLow,
}

// complexityModel maps a resolved complexity to the model used to run the
// step.
var complexityModel = map[Complexity]Model{
	ComplexityLow:    ModelHaiku,
	ComplexityMedium: ModelSonnet,
	ComplexityHigh:   ModelOpus,
}

// SelectModel resolves the model a step should run under: an explicit model
// always wins; otherwise an explicit complexity is mapped; otherwise the
// step kind's default complexity is used, upgraded to high when the step
// has a demanding confidence gate or branches.
func SelectModel(step *StepDefinition) Model {
	if step.Model != "" {
		return step.Model
	}

	complexity := step.Complexity
	if complexity == "" {
		complexity = defaultComplexity[step.Kind()]
	}
	if complexity == "" {
		complexity = ComplexityMedium
	}

	if (step.ConfidenceGate != nil && *step.ConfidenceGate > 80) || step.Kind() == KindBranchBlock {
		complexity = ComplexityHigh
	}

	model, ok := complexityModel[complexity]
	if !ok {
		return ModelSonnet
	}
	return model
}

// costPerMillionTokens are fixed USD rates per 1M tokens. Unknown models
// default to the sonnet rate.
var costPerMillionTokens = map[Model]float64{
	ModelHaiku:  0.00025,
	ModelSonnet: 0.003,
	ModelOpus:   0.015,
}

// EstimateCost returns the USD cost of consuming tokens tokens under model.
func EstimateCost(model Model, tokens int64) float64 {
	rate, ok := costPerMillionTokens[model]
	if !ok {
		rate = costPerMillionTokens[ModelSonnet]
	}
	return float64(tokens) * rate / 1_000_000
}

// StepResult is the recorded outcome of one step execution, stored in the
// run's context under the step's name.
type StepResult struct {
	StepName   string        `json:"step_name"`
	Status     StepStatus    `json:"status"`
	Output     string        `json:"output"`
	Confidence *int          `json:"confidence,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	Tokens     int64         `json:"tokens"`
	Cost       float64       `json:"cost"`
}

// WorkflowResult is the final outcome of a run, returned by the runner and
// recorded in the last checkpoint before it is deleted.
type WorkflowResult struct {
	RunID       string                 `json:"run_id"`
	Workflow    string                 `json:"workflow"`
	Status      StepStatus             `json:"status"`
	StepResults map[string]*StepResult `json:"step_results"`
	Variables   map[string]interface{} `json:"variables"`
	TotalTokens int64                  `json:"total_tokens"`
	TotalCost   float64                `json:"total_cost"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Error       string                 `json:"error,omitempty"`
}
