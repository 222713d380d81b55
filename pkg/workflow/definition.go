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
	"fmt"

	wferrors "github.com/tombee/conductor/pkg/errors"
	"github.com/tombee/conductor/pkg/workflow/expression"
)

// StepKind identifies which of the eight execution kinds a step carries.
// Exactly one of the corresponding fields on StepDefinition must be set.
type StepKind string

const (
	KindShellCommand    StepKind = "shell_command"
	KindSlashCommand    StepKind = "slash_command"
	KindLLMPrompt       StepKind = "llm_prompt"
	KindAgentInvocation StepKind = "agent_invocation"
	KindFrameworkInvoke StepKind = "framework_invocation"
	KindScriptPath      StepKind = "script_path"
	KindTemplateOutput  StepKind = "template_output"
	KindBranchBlock     StepKind = "branch_block"
)

// TriggerType identifies how a workflow is started.
type TriggerType string

const (
	TriggerManual TriggerType = "manual"
	TriggerCron   TriggerType = "cron"
	TriggerWatch  TriggerType = "watch"
	TriggerEvent  TriggerType = "event"
)

// TriggerDefinition configures how a workflow is invoked.
type TriggerDefinition struct {
	Type TriggerType `yaml:"type"`

	// Cron: a standard 5-field cron expression.
	Schedule string `yaml:"schedule,omitempty"`

	// Watch: glob patterns watched for file-system events, and the debounce
	// window (default 1000ms) before a matching change fires the workflow.
	Paths         []string `yaml:"paths,omitempty"`
	DebounceMillis int     `yaml:"debounce_ms,omitempty"`

	// Event: the event name this workflow subscribes to. "*" subscribes to
	// all events.
	Event string `yaml:"event,omitempty"`
}

// VariableDeclaration declares one workflow-scoped variable and its default.
type VariableDeclaration struct {
	Name     string      `yaml:"name"`
	Type     string      `yaml:"type,omitempty"`
	Default  interface{} `yaml:"default,omitempty"`
	Required bool        `yaml:"required,omitempty"`
}

// BranchArm is one arm of a branch_block step: a condition and the steps to
// run when it matches. The first arm whose condition is true (or whose
// condition is empty, used as an else/default arm) executes; if none match,
// the branch step is SKIPPED.
type BranchArm struct {
	Condition string           `yaml:"condition,omitempty"`
	Steps     []*StepDefinition `yaml:"steps"`
}

// PathPermissions restricts which paths a step may read or write.
type PathPermissions struct {
	Read  []string `yaml:"read,omitempty"`
	Write []string `yaml:"write,omitempty"`
}

// NetworkPermissions restricts which hosts a step may contact.
type NetworkPermissions struct {
	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`
	BlockedHosts []string `yaml:"blocked_hosts,omitempty"`
}

// SecretPermissions restricts which named secrets a step may read.
type SecretPermissions struct {
	Allowed []string `yaml:"allowed,omitempty"`
}

// ToolPermissions restricts which tools a step may invoke.
type ToolPermissions struct {
	Allowed []string `yaml:"allowed,omitempty"`
	Blocked []string `yaml:"blocked,omitempty"`
}

// ShellPermissions governs raw shell command execution.
type ShellPermissions struct {
	Enabled         *bool    `yaml:"enabled,omitempty"`
	AllowedCommands []string `yaml:"allowed_commands,omitempty"`
	DeniedCommands  []string `yaml:"denied_commands,omitempty"`
}

// EnvPermissions governs environment variable inheritance.
type EnvPermissions struct {
	Inherit bool     `yaml:"inherit,omitempty"`
	Allowed []string `yaml:"allowed,omitempty"`
}

// PermissionDefinition is a named, inheritable bundle of the permission
// dimensions above, along with the tool-approval buckets the permission
// engine consults in order: never_allow, always_allow, allow_with_constraints,
// ask_once.
type PermissionDefinition struct {
	Name    string `yaml:"name,omitempty"`
	Extends string `yaml:"extends,omitempty"`

	NeverAllow           []string `yaml:"never_allow,omitempty"`
	AlwaysAllow          []string `yaml:"always_allow,omitempty"`
	AllowWithConstraints []string `yaml:"allow_with_constraints,omitempty"`
	AskOnce              []string `yaml:"ask_once,omitempty"`

	// ToolConstraints maps a tool name already present in
	// AllowWithConstraints to a gojq filter expression evaluated against
	// that tool call's structured parameters (e.g. {"command": "..."} for
	// a shell_command step); the tool is only allowed when the query
	// yields a truthy result. This lets a profile express structural
	// limits — "only within /tmp", "only git subcommands" — beyond what a
	// plain name glob can check.
	ToolConstraints map[string]string `yaml:"tool_constraints,omitempty"`

	Paths   *PathPermissions    `yaml:"paths,omitempty"`
	Network *NetworkPermissions `yaml:"network,omitempty"`
	Secrets *SecretPermissions  `yaml:"secrets,omitempty"`
	Tools   *ToolPermissions    `yaml:"tools,omitempty"`
	Shell   *ShellPermissions   `yaml:"shell,omitempty"`
	Env     *EnvPermissions     `yaml:"env,omitempty"`

	ResourceLimits *ResourceLimits `yaml:"resource_limits,omitempty"`
}

// ResourceLimits caps consumption for a run or a single step.
type ResourceLimits struct {
	MaxFileSize     string `yaml:"max_file_size,omitempty"` // e.g. "10MB"
	MaxFilesPerStep int    `yaml:"max_files_per_step,omitempty"`
	MaxAPICalls     int    `yaml:"max_api_calls,omitempty"`
	MaxSteps        int    `yaml:"max_steps,omitempty"`
}

// BudgetConfig caps total tokens/cost for a run.
type BudgetConfig struct {
	MaxTokens float64 `yaml:"max_tokens,omitempty"`
	MaxCost   float64 `yaml:"max_cost,omitempty"`
}

// AuditConfig configures the hash-chained audit log for a run.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// NotifyConfig configures end-of-run notifications.
type NotifyConfig struct {
	OnSuccess []string `yaml:"on_success,omitempty"`
	OnFailure []string `yaml:"on_failure,omitempty"`
}

// WorkflowSettings are run-wide defaults applied when a step omits them.
type WorkflowSettings struct {
	DefaultRetryCount int    `yaml:"default_retry_count,omitempty"`
	DefaultOnError    string `yaml:"default_on_error,omitempty"`
	CheckpointDir     string `yaml:"checkpoint_dir,omitempty"`
}

// StepDefinition is one step in a workflow. Exactly one execution-kind
// field must be set; Validate enforces this.
type StepDefinition struct {
	Name string `yaml:"name"`

	// Execution kinds — exactly one must be non-empty/non-nil.
	ShellCommand        string     `yaml:"shell_command,omitempty"`
	SlashCommand        string     `yaml:"slash_command,omitempty"`
	LLMPrompt           string     `yaml:"llm_prompt,omitempty"`
	AgentInvocation     string     `yaml:"agent_invocation,omitempty"`
	FrameworkInvocation string     `yaml:"framework_invocation,omitempty"`
	ScriptPath          string     `yaml:"script_path,omitempty"`
	TemplateOutput      string     `yaml:"template_output,omitempty"`
	Branch              []BranchArm `yaml:"branch,omitempty"`

	Condition string `yaml:"condition,omitempty"`

	// Loop, applies to any step kind: the step (or its branch arms) runs
	// once per item in Foreach, or until Until evaluates true, up to
	// MaxIterations times. Parallel starts each foreach iteration in its own
	// goroutine; the iterations still execute one at a time, in no defined
	// order. It does not affect ordering between steps.
	Foreach       string `yaml:"foreach,omitempty"`
	Until         string `yaml:"until,omitempty"`
	MaxIterations int    `yaml:"max_iterations,omitempty"`
	Parallel      bool   `yaml:"parallel,omitempty"`

	Model      Model      `yaml:"model,omitempty"`
	Complexity Complexity `yaml:"complexity,omitempty"`

	RetryCount int         `yaml:"retry_count,omitempty"`
	OnError    ErrorAction `yaml:"on_error,omitempty"`

	ConfidenceGate     *int                `yaml:"confidence_gate,omitempty"`
	OnLowConfidence    LowConfidenceAction `yaml:"on_low_confidence,omitempty"`

	StoreAs string `yaml:"store_as,omitempty"`

	Permissions *PermissionDefinition `yaml:"permissions,omitempty"`
	Timeout     string                `yaml:"timeout,omitempty"`
}

// Kind returns the single execution kind this step carries. It assumes
// Validate has already confirmed exactly one is set. On a step with none
// set it returns ""; with several set it returns the first in the order
// checked below.
func (s *StepDefinition) Kind() StepKind {
	switch {
	case s.ShellCommand != "":
		return KindShellCommand
	case s.SlashCommand != "":
		return KindSlashCommand
	case s.LLMPrompt != "":
		return KindLLMPrompt
	case s.AgentInvocation != "":
		return KindAgentInvocation
	case s.FrameworkInvocation != "":
		return KindFrameworkInvoke
	case s.ScriptPath != "":
		return KindScriptPath
	case s.TemplateOutput != "":
		return KindTemplateOutput
	case len(s.Branch) > 0:
		return KindBranchBlock
	default:
		return ""
	}
}

// Validate checks the exactly-one-execution-kind invariant and other
// structural constraints that don't require workflow-wide context (that is
// the loader's job, for things like duplicate step names and unknown step
// references in conditions).
func (s *StepDefinition) Validate() error {
	if s.Name == "" {
		return &wferrors.ConditionEvaluationError{Condition: "", Reason: "step is missing a name"}
	}

	kinds := 0
	for _, set := range []bool{
		s.ShellCommand != "",
		s.SlashCommand != "",
		s.LLMPrompt != "",
		s.AgentInvocation != "",
		s.FrameworkInvocation != "",
		s.ScriptPath != "",
		s.TemplateOutput != "",
		len(s.Branch) > 0,
	} {
		if set {
			kinds++
		}
	}

	if kinds == 0 {
		return fmt.Errorf("step %q: must set exactly one execution kind, found none", s.Name)
	}
	if kinds > 1 {
		return fmt.Errorf("step %q: must set exactly one execution kind, found %d", s.Name, kinds)
	}

	if s.ConfidenceGate != nil && (*s.ConfidenceGate < 0 || *s.ConfidenceGate > 100) {
		return fmt.Errorf("step %q: confidence_gate must be between 0 and 100", s.Name)
	}

	if s.Kind() == KindBranchBlock {
		for i, arm := range s.Branch {
			if arm.Condition != "" {
				if err := expression.ValidateConditionGrammar(arm.Condition); err != nil {
					return fmt.Errorf("step %q: branch arm %d: %w", s.Name, i, err)
				}
			}
		}
	}

	return nil
}

// WorkflowDefinition is a complete, parsed workflow: its trigger, variables,
// ordered steps, and run-wide settings.
type WorkflowDefinition struct {
	Name      string                 `yaml:"name"`
	Trigger   TriggerDefinition      `yaml:"trigger"`
	Variables []VariableDeclaration  `yaml:"variables,omitempty"`
	Steps     []*StepDefinition      `yaml:"steps"`
	Budget    *BudgetConfig          `yaml:"budget,omitempty"`
	Audit     *AuditConfig           `yaml:"audit,omitempty"`
	Notify    *NotifyConfig          `yaml:"notify,omitempty"`
	Settings  *WorkflowSettings      `yaml:"settings,omitempty"`
	Permissions *PermissionDefinition `yaml:"permissions,omitempty"`
}

// Validate checks the workflow has a name, at least one step, unique step
// names, and that every step individually validates.
func (w *WorkflowDefinition) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow is missing a name")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q: must declare at least one step", w.Name)
	}

	seen := make(map[string]bool, len(w.Steps))
	for _, step := range w.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("workflow %q: %w", w.Name, err)
		}
		if seen[step.Name] {
			return fmt.Errorf("workflow %q: duplicate step name %q", w.Name, step.Name)
		}
		seen[step.Name] = true
	}

	switch w.Trigger.Type {
	case TriggerManual, "":
	case TriggerCron:
		if w.Trigger.Schedule == "" {
			return fmt.Errorf("workflow %q: cron trigger requires a schedule", w.Name)
		}
	case TriggerWatch:
		if len(w.Trigger.Paths) == 0 {
			return fmt.Errorf("workflow %q: watch trigger requires at least one path", w.Name)
		}
	case TriggerEvent:
		if w.Trigger.Event == "" {
			return fmt.Errorf("workflow %q: event trigger requires an event name", w.Name)
		}
	default:
		return fmt.Errorf("workflow %q: unknown trigger type %q", w.Name, w.Trigger.Type)
	}

	return nil
}
