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

// Package runner is the top-level workflow orchestrator: it loads a
// workflow and its resolved permission profile, wires the step executor,
// checkpoints after every step, emits the hash-chained audit log, and
// enforces the run's token/cost budget — mirroring
// original_source/workflows/engine/runner.py.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/conductor/internal/audit"
	"github.com/tombee/conductor/internal/audit/sqlitestore"
	"github.com/tombee/conductor/internal/controller/checkpoint"
	clog "github.com/tombee/conductor/internal/log"
	"github.com/tombee/conductor/internal/metrics"
	"github.com/tombee/conductor/internal/permissions"
	"github.com/tombee/conductor/internal/tracing"
	wferrors "github.com/tombee/conductor/pkg/errors"
	secaudit "github.com/tombee/conductor/pkg/security/audit"
	"github.com/tombee/conductor/pkg/tools/approval"
	"github.com/tombee/conductor/pkg/workflow"
	"github.com/tombee/conductor/pkg/workflow/loader"
	"go.opentelemetry.io/otel/trace"
)

// Config configures a Runner.
type Config struct {
	LogsDir       string
	CheckpointDir string
	Approver      approval.Approver
	Invoker       workflow.Invoker
	Logger        *slog.Logger

	// SecurityAudit, when set, receives tool/file/shell denial and
	// ask_once decisions for fan-out to syslog, a webhook, or a rotating
	// file — separate from the per-run audit log under LogsDir.
	SecurityAudit *secaudit.Logger

	// Tracer, when set, opens one span per run and one per step. A nil
	// Tracer disables tracing without the caller needing a no-op Provider.
	Tracer trace.Tracer

	// AuditMirrorPath, when set, opens a SQLite mirror of every run's audit
	// chain at this path so `conductor verify query` can filter by run/time/event
	// without re-parsing every .jsonl file. Empty disables the mirror.
	AuditMirrorPath string
}

// Runner executes WorkflowDefinitions end to end.
type Runner struct {
	logsDir       string
	checkpoints   *checkpoint.Manager
	approver      approval.Approver
	invoker       workflow.Invoker
	log           *slog.Logger
	securityAudit *secaudit.Logger
	tracer        trace.Tracer
	auditMirror   *sqlitestore.Store
}

// New builds a Runner, creating its checkpoint directory if configured.
func New(cfg Config) (*Runner, error) {
	mgr, err := checkpoint.NewManager(checkpoint.ManagerConfig{Dir: cfg.CheckpointDir})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize checkpoint manager: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = clog.New(clog.FromEnv())
	}

	var mirror *sqlitestore.Store
	if cfg.AuditMirrorPath != "" {
		mirror, err = sqlitestore.Open(cfg.AuditMirrorPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit mirror: %w", err)
		}
	}

	return &Runner{
		logsDir:       cfg.LogsDir,
		checkpoints:   mgr,
		approver:      cfg.Approver,
		invoker:       cfg.Invoker,
		log:           log,
		securityAudit: cfg.SecurityAudit,
		tracer:        cfg.Tracer,
		auditMirror:   mirror,
	}, nil
}

// Close releases the audit mirror's database handle, if one was opened.
func (r *Runner) Close() error {
	if r.auditMirror == nil {
		return nil
	}
	return r.auditMirror.Close()
}

// Run executes def from scratch (or resumes from a checkpoint, if resumeRunID
// is non-empty), applying def.Settings, def.Budget, and def.Permissions, and
// returns the final WorkflowResult.
func (r *Runner) Run(ctx context.Context, def *workflow.WorkflowDefinition, permDef *workflow.PermissionDefinition, inputs map[string]interface{}, resumeRunID string) (*workflow.WorkflowResult, error) {
	var rc *workflow.Context
	startIndex := 0

	if resumeRunID != "" {
		cp, err := r.checkpoints.Load(ctx, def.Name, resumeRunID)
		if err != nil {
			return nil, err
		}
		if cp == nil {
			return nil, &wferrors.CheckpointMissingError{Workflow: def.Name, RunID: resumeRunID}
		}
		rc = workflow.Restore(cp)
		startIndex = cp.CurrentStepIndex + 1
		rc.Log("info", fmt.Sprintf("resumed from checkpoint at step %d", cp.CurrentStepIndex))
	} else {
		rc = workflow.NewContext(uuid.NewString(), def.Name, def.Variables, inputs)
	}

	auditPath := r.logsDir
	if def.Audit != nil {
		if def.Audit.Path != "" {
			auditPath = def.Audit.Path
		}
		if !def.Audit.Enabled {
			auditPath = ""
		}
	}
	auditLogger, err := audit.NewLogger(auditPath, def.Name, rc.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer auditLogger.Close()
	if r.auditMirror != nil {
		auditLogger.SetMirror(r.auditMirror)
	}

	engine := permissions.NewEngine(permDef)
	checker := &engineAdapter{
		engine:   engine,
		approver: r.approver,
		secAudit: r.securityAudit,
		workflow: def.Name,
		runID:    rc.RunID,
		runCtx:   ctx,
	}

	var defaultRetry int
	var defaultOnError workflow.ErrorAction
	if def.Settings != nil {
		defaultRetry = def.Settings.DefaultRetryCount
		defaultOnError = workflow.ErrorAction(def.Settings.DefaultOnError)
	}

	exec := workflow.NewStepExecutor(
		workflow.WithHandler(workflow.KindShellCommand, &workflow.ShellHandler{Perms: checker}),
		workflow.WithHandler(workflow.KindScriptPath, &workflow.ScriptHandler{Perms: checker}),
		workflow.WithHandler(workflow.KindTemplateOutput, &workflow.TemplateHandler{}),
		workflow.WithHandler(workflow.KindLLMPrompt, &workflow.LLMHandler{Invoker: r.invoker}),
		workflow.WithHandler(workflow.KindAgentInvocation, &workflow.AgentHandler{Invoker: r.invoker}),
		workflow.WithHandler(workflow.KindFrameworkInvoke, &workflow.FrameworkHandler{Invoker: r.invoker}),
		workflow.WithHandler(workflow.KindSlashCommand, &workflow.SlashHandler{Invoker: r.invoker}),
		workflow.WithPermissionChecker(checker),
		workflow.WithAuditSink(auditLogger),
		workflow.WithDefaults(defaultRetry, defaultOnError),
	)

	_ = auditLogger.LogWorkflowStart(map[string]interface{}{"run_id": rc.RunID, "resumed": resumeRunID != ""})
	r.log.Info("workflow started", "workflow", def.Name, "run_id", rc.RunID)
	metrics.RunsStarted.WithLabelValues(def.Name).Inc()
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	var runSpan *tracing.RunSpan
	if r.tracer != nil {
		ctx, runSpan = tracing.StartRun(ctx, r.tracer, rc.RunID, def.Name)
		defer runSpan.End()
	}

	result := &workflow.WorkflowResult{
		RunID:       rc.RunID,
		Workflow:    def.Name,
		StepResults: rc.StepResults(),
		Variables:   rc.Variables(),
		StartedAt:   time.Now(),
	}

	for i := startIndex; i < len(def.Steps); i++ {
		step := def.Steps[i]

		if err := r.checkBudget(def, rc); err != nil {
			runSpan.RecordError(err)
			return r.finish(ctx, def, rc, result, workflow.StepFailed, err, auditLogger)
		}

		engine.RecordStep()

		var stepSpan *tracing.RunSpan
		stepCtx := ctx
		if r.tracer != nil {
			stepCtx, stepSpan = tracing.StartStep(ctx, r.tracer, step.Name, string(step.Kind()))
		}
		_, stepErr := exec.ExecuteStep(stepCtx, rc, step)
		if stepSpan != nil {
			if stepErr != nil {
				stepSpan.RecordError(stepErr)
			} else {
				stepSpan.SetOK()
			}
			stepSpan.End()
		}
		if stepErr != nil {
			if cp := rc.Snapshot(i); r.checkpoints.Enabled() {
				_ = r.checkpoints.Save(ctx, cp)
				_ = auditLogger.LogCheckpointSaved(i)
			}

			var pauseErr *wferrors.StepExecutionError
			if isPauseError(stepErr, &pauseErr) {
				runSpan.RecordError(stepErr)
				return r.finish(ctx, def, rc, result, workflow.StepPending, stepErr, auditLogger)
			}
			runSpan.RecordError(stepErr)
			return r.finish(ctx, def, rc, result, workflow.StepFailed, stepErr, auditLogger)
		}

		if cp := rc.Snapshot(i); r.checkpoints.Enabled() {
			if err := r.checkpoints.Save(ctx, cp); err != nil {
				r.log.Warn("failed to save checkpoint", "error", err)
			} else {
				_ = auditLogger.LogCheckpointSaved(i)
			}
		}
	}

	_ = r.checkpoints.Delete(ctx, def.Name, rc.RunID)
	runSpan.SetOK()
	return r.finish(ctx, def, rc, result, workflow.StepSuccess, nil, auditLogger)
}

// SubmitRequest asks the Runner to parse and run a workflow fire-and-forget,
// for callers — the trigger daemon's cron/watch/event handlers — that have
// raw workflow YAML and no interest in blocking on the result.
type SubmitRequest struct {
	WorkflowYAML []byte
	Inputs       map[string]interface{}
	Permissions  *workflow.PermissionDefinition
}

// SubmitResult acknowledges a submission. RunID is a label generated for
// logging before the run starts; the context's own run ID (visible in the
// audit log and structured logs) is the authoritative identifier for a run,
// since Submit does not block on completion.
type SubmitResult struct {
	RunID string
}

// Submit parses req.WorkflowYAML and runs it in the background, logging (but
// not returning) any failure, mirroring
// original_source/workflows/engine/triggers.py's fire-and-forget trigger
// dispatch.
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	def, err := loader.ParseWorkflow(req.WorkflowYAML, "triggered-workflow")
	if err != nil {
		return nil, fmt.Errorf("failed to parse triggered workflow: %w", err)
	}

	label := uuid.NewString()
	r.log.Info("workflow submitted", "workflow", def.Name, "label", label)

	go func() {
		if _, err := r.Run(context.Background(), def, req.Permissions, req.Inputs, ""); err != nil {
			r.log.Error("triggered workflow run failed", "workflow", def.Name, "label", label, "error", err)
		}
	}()

	return &SubmitResult{RunID: label}, nil
}

// DryRun previews a workflow's steps (each step's kind and selected model,
// plus a token and cost estimate) without executing any of them, mirroring
// original_source/workflows/engine/runner.py's dry_run. Prompts and
// conditions are not interpolated, and the estimate is a flat 1000 tokens
// per LLM-backed step and zero for every other step kind.
func (r *Runner) DryRun(def *workflow.WorkflowDefinition, inputs map[string]interface{}) *workflow.WorkflowResult {
	rc := workflow.NewContext("dry-run-"+uuid.NewString(), def.Name, def.Variables, inputs)

	var estimatedTokens int64
	for _, step := range def.Steps {
		model := workflow.SelectModel(step)
		estimatedTokens += estimateStepTokens(step)
		rc.Log("info", fmt.Sprintf("would run %q as %s under model %s", step.Name, step.Kind(), model))
	}

	return &workflow.WorkflowResult{
		RunID:       rc.RunID,
		Workflow:    def.Name,
		Status:      workflow.StepSuccess,
		StepResults: map[string]*workflow.StepResult{},
		Variables:   rc.Variables(),
		TotalTokens: estimatedTokens,
		TotalCost:   estimateCostForTokens(def.Steps, estimatedTokens),
		StartedAt:   time.Now(),
		FinishedAt:  time.Now(),
	}
}

func estimateStepTokens(step *workflow.StepDefinition) int64 {
	switch step.Kind() {
	case workflow.KindLLMPrompt, workflow.KindAgentInvocation, workflow.KindFrameworkInvoke, workflow.KindSlashCommand:
		return 1000
	default:
		return 0
	}
}

func estimateCostForTokens(steps []*workflow.StepDefinition, totalTokens int64) float64 {
	var cost float64
	for _, step := range steps {
		cost += workflow.EstimateCost(workflow.SelectModel(step), estimateStepTokens(step))
	}
	return cost
}

func (r *Runner) checkBudget(def *workflow.WorkflowDefinition, rc *workflow.Context) error {
	if def.Budget == nil {
		return nil
	}
	tokens, cost := rc.Totals()
	if def.Budget.MaxTokens > 0 && float64(tokens) > def.Budget.MaxTokens {
		metrics.BudgetRejections.WithLabelValues(def.Name, "tokens").Inc()
		return &wferrors.BudgetExceededError{Dimension: "tokens", Current: float64(tokens), Maximum: def.Budget.MaxTokens}
	}
	if def.Budget.MaxCost > 0 && cost > def.Budget.MaxCost {
		metrics.BudgetRejections.WithLabelValues(def.Name, "cost").Inc()
		return &wferrors.BudgetExceededError{Dimension: "cost", Current: cost, Maximum: def.Budget.MaxCost}
	}
	return nil
}

func (r *Runner) finish(ctx context.Context, def *workflow.WorkflowDefinition, rc *workflow.Context, result *workflow.WorkflowResult, status workflow.StepStatus, runErr error, auditLogger *audit.Logger) (*workflow.WorkflowResult, error) {
	tokens, cost := rc.Totals()
	result.Status = status
	result.StepResults = rc.StepResults()
	result.Variables = rc.Variables()
	result.TotalTokens = tokens
	result.TotalCost = cost
	result.FinishedAt = time.Now()

	switch status {
	case workflow.StepSuccess:
		_ = auditLogger.LogWorkflowComplete(map[string]interface{}{"tokens": tokens, "cost": cost})
		r.log.Info("workflow completed", "workflow", def.Name, "run_id", rc.RunID)
	case workflow.StepPending:
		_ = auditLogger.LogWorkflowPaused(runErr.Error(), nil)
		r.log.Warn("workflow paused", "workflow", def.Name, "run_id", rc.RunID, "reason", runErr)
	default:
		result.Error = runErr.Error()
		_ = auditLogger.LogWorkflowFailed(runErr.Error(), nil)
		r.log.Error("workflow failed", "workflow", def.Name, "run_id", rc.RunID, "error", runErr)
	}
	metrics.RunsCompleted.WithLabelValues(def.Name, string(status)).Inc()
	metrics.AuditChainLength.WithLabelValues(def.Name).Set(float64(auditLogger.EntryCount()))

	return result, runErr
}

func isPauseError(err error, target **wferrors.StepExecutionError) bool {
	se, ok := err.(*wferrors.StepExecutionError)
	if !ok {
		return false
	}
	*target = se
	return se.Message == "paused after failure"
}
