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

// Package checkpoint persists per-step snapshots of a workflow run so an
// interrupted run can be resumed from its last completed step.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tombee/conductor/pkg/workflow"
)

// Checkpoint is an alias for the workflow package's snapshot shape, kept
// here so callers that only need persistence don't have to import
// pkg/workflow directly.
type Checkpoint = workflow.Checkpoint

// Manager handles checkpoint storage and retrieval.
type Manager struct {
	mu       sync.RWMutex
	dir      string
	enabled  bool
	interval time.Duration
}

// ManagerConfig contains checkpoint manager configuration.
type ManagerConfig struct {
	// Dir is the directory to store checkpoint files.
	// If empty, checkpointing is disabled.
	Dir string

	// Interval is how often to save checkpoints during execution.
	// Default is after each step.
	Interval time.Duration
}

// NewManager creates a new checkpoint manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		dir:      cfg.Dir,
		enabled:  cfg.Dir != "",
		interval: cfg.Interval,
	}

	if m.enabled {
		if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	return m, nil
}

// Save saves a checkpoint for a run.
func (m *Manager) Save(ctx context.Context, cp *Checkpoint) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp.Timestamp = time.Now()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := m.checkpointPath(cp.Workflow, cp.RunID)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	return nil
}

// Load loads a checkpoint for a run of workflow.
func (m *Manager) Load(ctx context.Context, workflowName, runID string) (*Checkpoint, error) {
	if !m.enabled {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	path := m.checkpointPath(workflowName, runID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	return &cp, nil
}

// Delete removes a checkpoint for a run of workflow. Called only on
// successful completion — a checkpoint left on disk after a failed or
// paused run is what makes it resumable.
func (m *Manager) Delete(ctx context.Context, workflowName, runID string) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.checkpointPath(workflowName, runID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	return nil
}

// ListInterrupted returns every checkpoint on disk, decoded, each one
// indicating an interrupted run that may be resumed.
func (m *Manager) ListInterrupted(ctx context.Context) ([]Checkpoint, error) {
	if !m.enabled {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var checkpoints []Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		checkpoints = append(checkpoints, cp)
	}

	return checkpoints, nil
}

// Enabled returns whether checkpointing is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// checkpointPath returns the file path for a run's checkpoint, named
// "<workflow>-<runID>.json" so a checkpoint directory scan can recover
// which workflow an interrupted run belongs to without reading the file.
func (m *Manager) checkpointPath(workflowName, runID string) string {
	return filepath.Join(m.dir, workflowName+"-"+runID+".json")
}
