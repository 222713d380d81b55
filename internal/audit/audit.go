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

// Package audit implements the hash-chained, tamper-evident audit log for a
// workflow run. Every lifecycle event (workflow/step start-complete-fail,
// tool use, permission decisions, budget and checkpoint events) is appended
// as one AuditEntry, each entry's hash folding in the previous entry's hash
// so the whole run forms a verifiable chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventType identifies the kind of lifecycle event an AuditEntry records.
type EventType string

const (
	EventWorkflowStart    EventType = "workflow_start"
	EventWorkflowComplete EventType = "workflow_complete"
	EventWorkflowFailed   EventType = "workflow_failed"
	EventWorkflowPaused   EventType = "workflow_paused"
	EventWorkflowResumed  EventType = "workflow_resumed"

	EventStepStart     EventType = "step_start"
	EventStepComplete  EventType = "step_complete"
	EventStepFailed    EventType = "step_failed"
	EventStepSkipped   EventType = "step_skipped"
	EventStepRetried   EventType = "step_retried"
	EventLowConfidence EventType = "step_low_confidence"

	EventToolUse        EventType = "tool_use"
	EventToolDenied     EventType = "tool_denied"
	EventShellExecuted  EventType = "shell_executed"
	EventFileRead       EventType = "file_read"
	EventFileWritten    EventType = "file_written"

	EventPermissionGranted EventType = "permission_granted"
	EventPermissionAsked   EventType = "permission_asked"
	EventPermissionDenied  EventType = "permission_denied"

	EventBudgetWarning  EventType = "budget_warning"
	EventBudgetExceeded EventType = "budget_exceeded"

	EventCheckpointSaved EventType = "checkpoint_saved"

	EventError   EventType = "error"
	EventWarning EventType = "warning"
)

// Entry is one hash-chained audit record.
type Entry struct {
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"event_type"`
	Workflow     string                 `json:"workflow_name"`
	RunID        string                 `json:"run_id"`
	StepName     string                 `json:"step_name,omitempty"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data,omitempty"`
	PreviousHash string                 `json:"previous_hash"`
	EntryHash    string                 `json:"entry_hash"`
}

// hashInput mirrors the fields original_source/workflows/engine/audit.py
// folds into each entry's hash. workflow_name, run_id, step_name, and the
// entry's own hash are deliberately excluded: they're not security-relevant
// to the chain and would make otherwise-identical entries from replayed
// runs hash differently for no reason.
type hashInput struct {
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"event_type"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data,omitempty"`
	PreviousHash string                 `json:"previous_hash"`
}

func computeHash(e *Entry) (string, error) {
	canonical, err := json.Marshal(hashInput{
		Timestamp:    e.Timestamp,
		EventType:    e.EventType,
		Message:      e.Message,
		Data:         e.Data,
		PreviousHash: e.PreviousHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}

// redactPatterns are case-insensitive glob suffixes/substrings applied to
// data keys before an entry is written, matching the defaults in
// original_source/workflows/engine/audit.py's _redact_secrets.
var redactPatterns = []string{"*_key", "*_secret", "*_token", "*password*"}

const maxFieldLen = 10000

func redactKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pat := range redactPatterns {
		trimmed := strings.Trim(pat, "*")
		switch {
		case strings.HasPrefix(pat, "*") && strings.HasSuffix(pat, "*"):
			if strings.Contains(lower, trimmed) {
				return true
			}
		case strings.HasPrefix(pat, "*"):
			if strings.HasSuffix(lower, trimmed) {
				return true
			}
		case strings.HasSuffix(pat, "*"):
			if strings.HasPrefix(lower, trimmed) {
				return true
			}
		default:
			if lower == pat {
				return true
			}
		}
	}
	return false
}

// filterValue redacts secret-shaped keys and truncates long strings so
// neither leaks into the on-disk log.
func filterValue(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if redactKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case string:
			if len(val) > maxFieldLen {
				out[k] = val[:maxFieldLen] + "...[truncated]"
			} else {
				out[k] = val
			}
		case map[string]interface{}:
			out[k] = filterValue(val)
		default:
			out[k] = v
		}
	}
	return out
}

// Mirror receives a copy of every appended Entry, off the hot path. It is
// satisfied by internal/audit/sqlitestore.Store; kept as an interface here
// (rather than importing that package directly) so the canonical chain
// writer never depends on the optional query-side mirror.
type Mirror interface {
	Append(ctx context.Context, e Entry) error
}

// Logger appends hash-chained entries to an append-only JSON-lines file at
// <dir>/<workflow>-<runID>.audit.jsonl, per the filesystem layout in
// SPEC_FULL.md §5. This departs deliberately from the Python original, which
// rewrites one JSON document on every event; an append-only log survives a
// crash mid-run without corrupting prior entries and never needs to hold
// the whole run's history in memory to persist one more event.
type Logger struct {
	mu          sync.Mutex
	workflow    string
	runID       string
	path        string
	file        *os.File
	lastHash    string
	entries     []Entry
	eventCounts map[EventType]int

	mirror   Mirror
	mirrorCh chan Entry
	mirrorWG sync.WaitGroup
}

// mirrorQueueSize bounds how many unmirrored entries can queue up; once the
// queue is full, further entries are not mirrored (the caller never blocks,
// and the JSON-lines file still records them). A single workflow run's entry
// count is normally a few dozen to a few hundred, so this drains promptly in
// practice.
const mirrorQueueSize = 256

// SetMirror attaches m so every future logged entry is also asynchronously
// appended to it. Mirroring failures are swallowed (the JSON-lines chain
// remains the source of truth); a nil m disables mirroring.
func (l *Logger) SetMirror(m Mirror) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mirror != nil {
		close(l.mirrorCh)
		l.mirrorWG.Wait()
	}
	l.mirror = m
	if m == nil {
		return
	}

	l.mirrorCh = make(chan Entry, mirrorQueueSize)
	l.mirrorWG.Add(1)
	go func(ch chan Entry, mirror Mirror) {
		defer l.mirrorWG.Done()
		for entry := range ch {
			_ = mirror.Append(context.Background(), entry)
		}
	}(l.mirrorCh, m)
}

// NewLogger opens (creating if necessary) the audit log for a run. If dir is
// empty, logging is disabled and all methods are no-ops.
func NewLogger(dir, workflowName, runID string) (*Logger, error) {
	l := &Logger{
		workflow:    workflowName,
		runID:       runID,
		eventCounts: make(map[EventType]int),
	}
	if dir == "" {
		return l, nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	l.path = filepath.Join(dir, fmt.Sprintf("%s-%s.audit.jsonl", workflowName, runID))

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	l.file = f

	existing, err := readEntries(l.path)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.entries = existing
	for _, e := range existing {
		l.eventCounts[e.EventType]++
		l.lastHash = e.EntryHash
	}

	return l, nil
}

// Enabled reports whether this logger persists to disk.
func (l *Logger) Enabled() bool {
	return l.file != nil
}

// Path returns the audit log's file path, or "" if logging is disabled.
func (l *Logger) Path() string {
	return l.path
}

// EntryCount returns the number of entries appended to the chain so far,
// for gauging the chain's length without re-reading the file.
func (l *Logger) EntryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close releases the underlying file handle, waiting for any queued mirror
// writes to drain first.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.mirror != nil {
		close(l.mirrorCh)
		l.mirror = nil
	}
	l.mu.Unlock()
	l.mirrorWG.Wait()

	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) log(eventType EventType, stepName, message string, data map[string]interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp:    time.Now(),
		EventType:    eventType,
		Workflow:     l.workflow,
		RunID:        l.runID,
		StepName:     stepName,
		Message:      message,
		Data:         filterValue(data),
		PreviousHash: l.lastHash,
	}

	hash, err := computeHash(&entry)
	if err != nil {
		return err
	}
	entry.EntryHash = hash

	l.entries = append(l.entries, entry)
	l.eventCounts[eventType]++
	l.lastHash = hash

	if l.mirror != nil {
		select {
		case l.mirrorCh <- entry:
		default:
			// Mirror is backlogged; drop rather than block the canonical
			// chain write below on a slow or stalled SQLite writer.
		}
	}

	if l.file == nil {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return l.file.Sync()
}

// LogWorkflowStart records the beginning of a run.
func (l *Logger) LogWorkflowStart(data map[string]interface{}) error {
	return l.log(EventWorkflowStart, "", fmt.Sprintf("workflow %q started", l.workflow), data)
}

// LogWorkflowComplete records a successful run.
func (l *Logger) LogWorkflowComplete(data map[string]interface{}) error {
	return l.log(EventWorkflowComplete, "", fmt.Sprintf("workflow %q completed", l.workflow), data)
}

// LogWorkflowFailed records a run that ended in failure.
func (l *Logger) LogWorkflowFailed(reason string, data map[string]interface{}) error {
	return l.log(EventWorkflowFailed, "", reason, data)
}

// LogWorkflowPaused records a run suspended awaiting user approval or input.
func (l *Logger) LogWorkflowPaused(reason string, data map[string]interface{}) error {
	return l.log(EventWorkflowPaused, "", reason, data)
}

// LogWorkflowResumed records a run resumed from a checkpoint.
func (l *Logger) LogWorkflowResumed(data map[string]interface{}) error {
	return l.log(EventWorkflowResumed, "", "workflow resumed from checkpoint", data)
}

// LogStepStart records a step beginning execution.
func (l *Logger) LogStepStart(stepName string, data map[string]interface{}) error {
	return l.log(EventStepStart, stepName, fmt.Sprintf("step %q started", stepName), data)
}

// LogStepComplete records a step's successful completion.
func (l *Logger) LogStepComplete(stepName string, data map[string]interface{}) error {
	return l.log(EventStepComplete, stepName, fmt.Sprintf("step %q completed", stepName), data)
}

// LogStepFailed records a step's terminal failure.
func (l *Logger) LogStepFailed(stepName, reason string, data map[string]interface{}) error {
	return l.log(EventStepFailed, stepName, reason, data)
}

// LogStepSkipped records a step skipped by its condition.
func (l *Logger) LogStepSkipped(stepName, reason string) error {
	return l.log(EventStepSkipped, stepName, reason, nil)
}

// LogStepRetried records a retry attempt.
func (l *Logger) LogStepRetried(stepName string, attempt int, reason string) error {
	return l.log(EventStepRetried, stepName, reason, map[string]interface{}{"attempt": attempt})
}

// LogLowConfidence records a step whose self-reported confidence fell
// below its gate.
func (l *Logger) LogLowConfidence(stepName string, confidence, threshold int) error {
	return l.log(EventLowConfidence, stepName,
		fmt.Sprintf("confidence %d below threshold %d", confidence, threshold),
		map[string]interface{}{"confidence": confidence, "threshold": threshold})
}

// LogToolUse records a permitted tool invocation.
func (l *Logger) LogToolUse(stepName, tool string, data map[string]interface{}) error {
	return l.log(EventToolUse, stepName, fmt.Sprintf("used tool %q", tool), data)
}

// LogToolDenied records a tool invocation blocked by permission policy.
func (l *Logger) LogToolDenied(stepName, tool, reason string) error {
	return l.log(EventToolDenied, stepName, reason, map[string]interface{}{"tool": tool})
}

// LogShellExecuted records a shell command run by a step.
func (l *Logger) LogShellExecuted(stepName, command string, exitCode int) error {
	return l.log(EventShellExecuted, stepName, "shell command executed",
		map[string]interface{}{"command": command, "exit_code": exitCode})
}

// LogFileRead records a file read by a step.
func (l *Logger) LogFileRead(stepName, path string) error {
	return l.log(EventFileRead, stepName, "file read", map[string]interface{}{"path": path})
}

// LogFileWritten records a file write by a step.
func (l *Logger) LogFileWritten(stepName, path string) error {
	return l.log(EventFileWritten, stepName, "file written", map[string]interface{}{"path": path})
}

// LogPermissionGranted records a permission decision resolving to allow.
func (l *Logger) LogPermissionGranted(stepName, resource, decision string) error {
	return l.log(EventPermissionGranted, stepName, fmt.Sprintf("permission granted: %s", resource),
		map[string]interface{}{"decision": decision})
}

// LogPermissionAsked records an ask_once prompt shown to the user.
func (l *Logger) LogPermissionAsked(stepName, resource string, approved bool) error {
	return l.log(EventPermissionAsked, stepName, fmt.Sprintf("permission asked: %s", resource),
		map[string]interface{}{"approved": approved})
}

// LogPermissionDenied records a permission decision resolving to deny.
func (l *Logger) LogPermissionDenied(stepName, resource, reason string) error {
	return l.log(EventPermissionDenied, stepName, reason, map[string]interface{}{"resource": resource})
}

// LogBudgetWarning records usage crossing a soft warning threshold.
func (l *Logger) LogBudgetWarning(dimension string, current, maximum float64) error {
	return l.log(EventBudgetWarning, "", fmt.Sprintf("%s approaching limit", dimension),
		map[string]interface{}{"current": current, "maximum": maximum})
}

// LogBudgetExceeded records usage crossing a hard limit.
func (l *Logger) LogBudgetExceeded(dimension string, current, maximum float64) error {
	return l.log(EventBudgetExceeded, "", fmt.Sprintf("%s limit exceeded", dimension),
		map[string]interface{}{"current": current, "maximum": maximum})
}

// LogCheckpointSaved records a checkpoint write.
func (l *Logger) LogCheckpointSaved(stepIndex int) error {
	return l.log(EventCheckpointSaved, "", "checkpoint saved", map[string]interface{}{"step_index": stepIndex})
}

// LogError records an unstructured error event outside a specific step.
func (l *Logger) LogError(message string, data map[string]interface{}) error {
	return l.log(EventError, "", message, data)
}

// LogWarning records an unstructured warning event.
func (l *Logger) LogWarning(message string, data map[string]interface{}) error {
	return l.log(EventWarning, "", message, data)
}

// Entries returns the run's entries in append order.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// VerifyIntegrity walks the chain forward, confirming every entry's
// previous_hash links to the prior entry's hash and that no entry's
// recorded hash diverges from its recomputed value. An empty chain is
// trivially valid.
func VerifyIntegrity(entries []Entry) (bool, error) {
	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev {
			return false, fmt.Errorf("entry %d: previous_hash %q does not match prior entry hash %q", i, e.PreviousHash, prev)
		}
		want, err := computeHash(&e)
		if err != nil {
			return false, err
		}
		if want != e.EntryHash {
			return false, fmt.Errorf("entry %d: recorded hash %q does not match recomputed hash %q", i, e.EntryHash, want)
		}
		prev = e.EntryHash
	}
	return true, nil
}

// Summary aggregates a run's audit entries for reporting.
type Summary struct {
	Workflow       string           `json:"workflow"`
	RunID          string           `json:"run_id"`
	Status         string           `json:"status"`
	EventCounts    map[string]int   `json:"event_counts"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Duration       time.Duration    `json:"duration_ns,omitempty"`
	IntegrityValid bool             `json:"integrity_valid"`
}

// Summarize derives a Summary from the run's entries.
func Summarize(workflowName, runID string, entries []Entry) Summary {
	s := Summary{
		Workflow:    workflowName,
		RunID:       runID,
		Status:      "unknown",
		EventCounts: make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		s.EventCounts[string(e.EventType)]++
		switch e.EventType {
		case EventWorkflowStart:
			t := e.Timestamp
			s.StartedAt = &t
			s.Status = "running"
		case EventWorkflowComplete:
			t := e.Timestamp
			s.CompletedAt = &t
			s.Status = "completed"
		case EventWorkflowFailed:
			t := e.Timestamp
			s.CompletedAt = &t
			s.Status = "failed"
		case EventWorkflowPaused:
			t := e.Timestamp
			s.CompletedAt = &t
			s.Status = "paused"
		}
	}

	if s.StartedAt != nil && s.CompletedAt != nil {
		s.Duration = s.CompletedAt.Sub(*s.StartedAt)
	}

	valid, err := VerifyIntegrity(entries)
	s.IntegrityValid = err == nil && valid

	return s
}

// Load reads an existing audit log's entries from path.
func Load(path string) ([]Entry, error) {
	return readEntries(path)
}

func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("failed to parse audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
