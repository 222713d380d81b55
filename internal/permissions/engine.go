package permissions

import (
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tombee/conductor/pkg/errors"
	"github.com/tombee/conductor/pkg/workflow"
	"github.com/tombee/conductor/pkg/workflow/expression"
)

// Decision is the outcome of a PermissionEngine check.
type Decision string

const (
	// DecisionAllow grants the request outright.
	DecisionAllow Decision = "allow"
	// DecisionAskOnce grants the request only after the caller has recorded
	// a user approval for it this run, via Approve.
	DecisionAskOnce Decision = "ask_once"
	// DecisionDeny refuses the request.
	DecisionDeny Decision = "deny"
)

// Engine is the authority original_source/workflows/engine/permissions.py
// calls PermissionEngine: it resolves a tool request against a
// PermissionDefinition's four buckets, in strict precedence — never_allow,
// then always_allow, then allow_with_constraints, then ask_once — before
// falling back to the per-dimension allow/block lists (CheckTool,
// CheckPathRead, ...) that remain the default-deny tail. Path, command and
// secret requests consult only never_allow and always_allow before that
// fallback.
//
// An Engine is scoped to one run: ask_once approvals and resource usage
// counters reset with every new Engine.
type Engine struct {
	mu sync.Mutex

	def *workflow.PermissionDefinition
	ctx *PermissionContext

	approved map[string]bool

	maxFileSize     int64
	maxFilesPerStep int
	maxAPICalls     int
	maxSteps        int

	filesThisStep map[string]int
	apiCalls      int
	stepsRun      int
}

// NewEngine builds a permission engine from a resolved PermissionDefinition
// (already profile-inheritance-merged by pkg/workflow/loader). A nil def
// falls back to NewPermissionContext's permissive defaults with no
// never_allow/always_allow/ask_once buckets.
func NewEngine(def *workflow.PermissionDefinition) *Engine {
	e := &Engine{
		def:           def,
		ctx:           NewPermissionContext(def),
		approved:      make(map[string]bool),
		filesThisStep: make(map[string]int),
	}

	if def != nil && def.ResourceLimits != nil {
		e.maxFileSize = parseSize(def.ResourceLimits.MaxFileSize)
		e.maxFilesPerStep = def.ResourceLimits.MaxFilesPerStep
		e.maxAPICalls = def.ResourceLimits.MaxAPICalls
		e.maxSteps = def.ResourceLimits.MaxSteps
	}

	return e
}

// CheckTool resolves whether toolName may be invoked, in bucket-then-dimension
// order. needsApproval is true only for DecisionAskOnce when the tool has not
// yet been approved this run — the caller must prompt the user and call
// Approve before retrying.
func (e *Engine) CheckTool(toolName string) (decision Decision, needsApproval bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.matchesBucket(e.bucket().NeverAllow, toolName) {
		return DecisionDeny, false, &errors.PermissionDeniedError{
			Tool:   toolName,
			Reason: "matches never_allow",
		}
	}

	if e.matchesBucket(e.bucket().AlwaysAllow, toolName) {
		return DecisionAllow, false, nil
	}

	if e.matchesBucket(e.bucket().AllowWithConstraints, toolName) {
		if cerr := CheckTool(e.ctx, toolName); cerr != nil {
			return DecisionDeny, false, cerr
		}
		return DecisionAllow, false, nil
	}

	if e.matchesBucket(e.bucket().AskOnce, toolName) {
		if e.approved[toolName] {
			return DecisionAskOnce, false, nil
		}
		return DecisionAskOnce, true, nil
	}

	if cerr := CheckTool(e.ctx, toolName); cerr != nil {
		return DecisionDeny, false, cerr
	}
	return DecisionAllow, false, nil
}

// CheckToolConstraint evaluates tool's tool_constraints query (if the
// profile defines one) against params, denying the call when the query
// yields a falsy result. A tool with no registered constraint passes
// through unchecked — CheckTool's bucket match already decided whether it
// may run at all; this only adds the optional structural narrowing.
func (e *Engine) CheckToolConstraint(tool string, params map[string]interface{}) error {
	e.mu.Lock()
	def := e.def
	e.mu.Unlock()

	if def == nil || def.ToolConstraints == nil {
		return nil
	}
	query, ok := def.ToolConstraints[tool]
	if !ok || query == "" {
		return nil
	}

	allowed, err := expression.EvaluateToolConstraint(query, params)
	if err != nil {
		return &errors.PermissionDeniedError{Tool: tool, Reason: err.Error()}
	}
	if !allowed {
		return &errors.PermissionDeniedError{Tool: tool, Reason: "violates tool_constraints: " + query}
	}
	return nil
}

// Approve records a user's one-time approval for an ask_once resource,
// so later CheckTool calls in the same run allow it without re-prompting.
func (e *Engine) Approve(resource string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approved[resource] = true
}

// CheckFileRead applies the never_allow and always_allow buckets to a file
// read, falling back to the path dimension's allow-list. The
// allow_with_constraints and ask_once buckets are not consulted.
func (e *Engine) CheckFileRead(path string) error {
	return e.checkBucketed(path, func() error { return CheckPathRead(e.ctx, path) })
}

// CheckFileWrite applies the never_allow and always_allow buckets to a file
// write, falling back to the path dimension's allow-list. The
// allow_with_constraints and ask_once buckets are not consulted.
func (e *Engine) CheckFileWrite(path string) error {
	return e.checkBucketed(path, func() error { return CheckPathWrite(e.ctx, path) })
}

// CheckShell applies the never_allow and always_allow buckets to a shell
// command, falling back to the shell dimension's allow-list. The
// allow_with_constraints and ask_once buckets are not consulted.
func (e *Engine) CheckShell(command string) error {
	return e.checkBucketed(command, func() error { return CheckShell(e.ctx, command) })
}

// CheckSecret applies the never_allow and always_allow buckets to a secret
// access, falling back to the secrets dimension's allow-list. The
// allow_with_constraints and ask_once buckets are not consulted.
func (e *Engine) CheckSecret(name string) error {
	return e.checkBucketed(name, func() error { return CheckSecret(e.ctx, name) })
}

func (e *Engine) checkBucketed(resource string, dimensionCheck func() error) error {
	e.mu.Lock()
	b := e.bucket()
	switch {
	case e.matchesBucket(b.NeverAllow, resource):
		e.mu.Unlock()
		return &errors.PermissionDeniedError{Resource: resource, Reason: "matches never_allow"}
	case e.matchesBucket(b.AlwaysAllow, resource):
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return dimensionCheck()
}

func (e *Engine) bucket() *workflow.PermissionDefinition {
	if e.def == nil {
		return &workflow.PermissionDefinition{}
	}
	return e.def
}

func (e *Engine) matchesBucket(patterns []string, resource string) bool {
	for _, pattern := range patterns {
		if resource == pattern {
			return true
		}
		if matched, err := doublestar.Match(pattern, resource); err == nil && matched {
			return true
		}
	}
	return false
}

// CheckResourceLimits enforces per-step and per-run caps (file size, files
// per step, API calls, total steps) before an operation proceeds.
func (e *Engine) CheckResourceLimits(stepName string, fileSize int64, isAPICall bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.maxFileSize > 0 && fileSize > e.maxFileSize {
		return &errors.BudgetExceededError{
			Dimension: "max_file_size",
			Current:   float64(fileSize),
			Maximum:   float64(e.maxFileSize),
		}
	}

	if e.maxFilesPerStep > 0 {
		count := e.filesThisStep[stepName] + 1
		if count > e.maxFilesPerStep {
			return &errors.BudgetExceededError{
				Dimension: "max_files_per_step",
				Current:   float64(count),
				Maximum:   float64(e.maxFilesPerStep),
			}
		}
	}

	if isAPICall && e.maxAPICalls > 0 && e.apiCalls+1 > e.maxAPICalls {
		return &errors.BudgetExceededError{
			Dimension: "max_api_calls",
			Current:   float64(e.apiCalls + 1),
			Maximum:   float64(e.maxAPICalls),
		}
	}

	if e.maxSteps > 0 && e.stepsRun+1 > e.maxSteps {
		return &errors.BudgetExceededError{
			Dimension: "max_steps",
			Current:   float64(e.stepsRun + 1),
			Maximum:   float64(e.maxSteps),
		}
	}

	return nil
}

// RecordFileAccess updates the per-step file-access counter after a
// CheckResourceLimits call for a file operation has passed.
func (e *Engine) RecordFileAccess(stepName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filesThisStep[stepName]++
}

// RecordAPICall updates the run's API-call counter after a
// CheckResourceLimits call for an API call has passed.
func (e *Engine) RecordAPICall() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apiCalls++
}

// RecordStep updates the run's step counter after a step has started.
func (e *Engine) RecordStep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stepsRun++
}

// sizeSuffixes maps longest-first so "10MB" isn't mistaken for "10B" by a
// naive single-character suffix strip.
var sizeSuffixes = []struct {
	suffix string
	factor int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseSize parses a human size string like "10MB" into bytes. An empty or
// unparseable string returns 0 (no limit).
func parseSize(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	upper := strings.ToUpper(s)
	for _, suf := range sizeSuffixes {
		if strings.HasSuffix(upper, suf.suffix) {
			numPart := strings.TrimSpace(upper[:len(upper)-len(suf.suffix)])
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0
			}
			return int64(n * float64(suf.factor))
		}
	}
	n, err := strconv.ParseInt(upper, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// RedactSecrets replaces values of keys that look like secrets (case
// insensitive match on *_key, *_secret, *_token, *password*) with a
// placeholder, for safe inclusion in logs or step output. Mirrors
// original_source/workflows/engine/permissions.py's redact_secrets.
func RedactSecrets(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if looksLikeSecretKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = RedactSecrets(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func looksLikeSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, suffix := range []string{"_key", "_secret", "_token"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return strings.Contains(lower, "password")
}

// String renders a Decision for logging.
func (d Decision) String() string {
	return string(d)
}
