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

// Package trigger is the always-on counterpart to internal/controller/runner:
// it watches cron schedules, file paths, and emitted events, and submits the
// workflow they're attached to when one fires. Grounded on
// original_source/workflows/engine/triggers.py's TriggerManager/WorkflowDaemon,
// reshaped around this module's synchronous Runner and the kept, fsnotify-
// backed internal/controller/filewatcher.Service rather than the Python
// original's 2-second mtime-polling loop.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tombee/conductor/internal/controller/filewatcher"
	"github.com/tombee/conductor/internal/controller/runner"
	"github.com/tombee/conductor/internal/metrics"
	"github.com/tombee/conductor/pkg/workflow"
	"github.com/tombee/conductor/pkg/workflow/loader"
)

// registeredWorkflow pairs a parsed definition with the file it came from,
// since file-watch registration needs the path and cron/event registration
// needs the parsed trigger.
type registeredWorkflow struct {
	path string
	def  *workflow.WorkflowDefinition
}

// Manager owns every trigger mechanism for one workflows directory and
// submits a workflow's run through Runner.Submit when its trigger fires.
type Manager struct {
	workflowsDir string
	runner       *runner.Runner
	log          *slog.Logger

	cron      *CronScheduler
	events    *EventBus
	filewatch *filewatcher.Service

	mu        sync.Mutex
	workflows map[string]*registeredWorkflow
}

// NewManager builds a Manager over workflowsDir, submitting fired runs
// through r.
func NewManager(workflowsDir string, r *runner.Runner, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		workflowsDir: workflowsDir,
		runner:       r,
		log:          log,
		events:       NewEventBus(),
		workflows:    make(map[string]*registeredWorkflow),
	}
	m.cron = NewCronScheduler(m.fireCron)
	m.filewatch = filewatcher.NewService(workflowsDir, r)
	return m
}

// LoadAll reads every *.yaml/*.yml workflow in the manager's directory and
// registers each with the trigger mechanism its trigger.type names. Manual
// triggers are loaded but never fire on their own.
func (m *Manager) LoadAll() error {
	entries, err := os.ReadDir(m.workflowsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read workflows directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(m.workflowsDir, entry.Name())
		def, err := loader.LoadWorkflow(path)
		if err != nil {
			m.log.Error("failed to load workflow for trigger registration", "path", path, "error", err)
			continue
		}

		if err := m.register(path, def); err != nil {
			m.log.Error("failed to register workflow trigger", "workflow", def.Name, "error", err)
		}
	}
	return nil
}

func (m *Manager) register(path string, def *workflow.WorkflowDefinition) error {
	m.mu.Lock()
	m.workflows[def.Name] = &registeredWorkflow{path: path, def: def}
	m.mu.Unlock()

	switch def.Trigger.Type {
	case workflow.TriggerCron:
		if def.Trigger.Schedule == "" {
			return fmt.Errorf("cron trigger requires a schedule")
		}
		if err := m.cron.Register(def.Name, def.Trigger.Schedule); err != nil {
			return err
		}
		metrics.TriggerQueueDepth.WithLabelValues("cron").Set(float64(len(m.cron.Schedule())))
		return nil

	case workflow.TriggerWatch:
		if len(def.Trigger.Paths) == 0 {
			return fmt.Errorf("watch trigger requires at least one path")
		}
		debounce := time.Duration(def.Trigger.DebounceMillis) * time.Millisecond
		if debounce <= 0 {
			debounce = time.Second
		}
		for i, p := range def.Trigger.Paths {
			name := def.Name
			if len(def.Trigger.Paths) > 1 {
				name = fmt.Sprintf("%s[%d]", def.Name, i)
			}
			if err := m.filewatch.AddWatcher(filewatcher.WatchConfig{
				Name:           name,
				Workflow:       path,
				Paths:          []string{p},
				DebounceWindow: debounce,
			}); err != nil {
				return err
			}
		}
		metrics.TriggerQueueDepth.WithLabelValues("watch").Set(float64(len(m.filewatch.ListWatchers())))
		return nil

	case workflow.TriggerEvent:
		if def.Trigger.Event == "" {
			return fmt.Errorf("event trigger requires an event name")
		}
		m.events.Subscribe(def.Name, def.Trigger.Event)
		var subs int
		for _, n := range m.events.Status() {
			subs += n
		}
		metrics.TriggerQueueDepth.WithLabelValues("event").Set(float64(subs))
		return nil

	case workflow.TriggerManual:
		return nil

	default:
		return fmt.Errorf("unknown trigger type %q", def.Trigger.Type)
	}
}

// Start starts the cron scheduler and the file-watch service. The event bus
// needs no starting: Emit dispatches to subscribers whether or not Start has
// been called.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.filewatch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher service: %w", err)
	}
	m.cron.Start()
	m.log.Info("trigger manager started", "workflows_dir", m.workflowsDir)
	return nil
}

// Stop stops every trigger mechanism.
func (m *Manager) Stop() error {
	m.cron.Stop()
	err := m.filewatch.Stop()
	m.log.Info("trigger manager stopped")
	return err
}

// Emit fires every workflow subscribed to eventName.
func (m *Manager) Emit(ctx context.Context, eventName string, data map[string]interface{}) {
	for _, workflowName := range m.events.Matching(eventName) {
		m.submit(ctx, workflowName, mergeEventData(eventName, data))
	}
}

func (m *Manager) fireCron(workflowName string, data map[string]interface{}) {
	m.submit(context.Background(), workflowName, data)
}

func (m *Manager) submit(ctx context.Context, workflowName string, data map[string]interface{}) {
	m.mu.Lock()
	rw, ok := m.workflows[workflowName]
	m.mu.Unlock()
	if !ok {
		m.log.Warn("trigger fired for unregistered workflow", "workflow", workflowName)
		return
	}

	yamlData, err := os.ReadFile(rw.path)
	if err != nil {
		m.log.Error("failed to read triggered workflow file", "workflow", workflowName, "path", rw.path, "error", err)
		return
	}

	if _, err := m.runner.Submit(ctx, runner.SubmitRequest{WorkflowYAML: yamlData, Inputs: data}); err != nil {
		m.log.Error("failed to submit triggered workflow", "workflow", workflowName, "error", err)
	}
}

func mergeEventData(eventName string, data map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		merged[k] = v
	}
	merged["event"] = eventName
	return merged
}

// Status summarizes the manager's registered triggers, for `conductor
// daemon status`.
type Status struct {
	WorkflowsDir     string         `json:"workflows_dir"`
	CronJobs         []CronJob      `json:"cron_jobs"`
	FileWatchers     int            `json:"file_watchers"`
	EventSubscribers map[string]int `json:"event_subscribers"`
}

// Status returns a snapshot of the manager's registered triggers.
func (m *Manager) Status() Status {
	return Status{
		WorkflowsDir:     m.workflowsDir,
		CronJobs:         m.cron.Schedule(),
		FileWatchers:     len(m.filewatch.ListWatchers()),
		EventSubscribers: m.events.Status(),
	}
}
