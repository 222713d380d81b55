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

package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/conductor/pkg/workflow"
)

func TestManager_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	m, err := NewManager(ManagerConfig{Dir: tmpDir})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()

	cp := &Checkpoint{
		RunID:            "run-123",
		Workflow:         "test-workflow",
		CurrentStepIndex: 0,
		Variables:        map[string]interface{}{"foo": "bar"},
		StepResults:      map[string]*workflow.StepResult{},
	}

	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cpPath := filepath.Join(tmpDir, "test-workflow-run-123.json")
	if _, err := os.Stat(cpPath); os.IsNotExist(err) {
		t.Error("Checkpoint file was not created")
	}

	loaded, err := m.Load(ctx, "test-workflow", "run-123")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.RunID != cp.RunID {
		t.Errorf("Expected RunID %s, got %s", cp.RunID, loaded.RunID)
	}
	if loaded.Workflow != cp.Workflow {
		t.Errorf("Expected Workflow %s, got %s", cp.Workflow, loaded.Workflow)
	}
	if loaded.CurrentStepIndex != cp.CurrentStepIndex {
		t.Errorf("Expected CurrentStepIndex %d, got %d", cp.CurrentStepIndex, loaded.CurrentStepIndex)
	}
}

func TestManager_LoadNonExistent(t *testing.T) {
	tmpDir := t.TempDir()

	m, err := NewManager(ManagerConfig{Dir: tmpDir})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()

	loaded, err := m.Load(ctx, "test-workflow", "non-existent")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("Expected nil for non-existent checkpoint, got %v", loaded)
	}
}

func TestManager_Delete(t *testing.T) {
	tmpDir := t.TempDir()

	m, err := NewManager(ManagerConfig{Dir: tmpDir})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()

	cp := &Checkpoint{RunID: "run-456", Workflow: "test-workflow"}
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := m.Delete(ctx, "test-workflow", "run-456"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	loaded, _ := m.Load(ctx, "test-workflow", "run-456")
	if loaded != nil {
		t.Error("Checkpoint should have been deleted")
	}
}

func TestManager_ListInterrupted(t *testing.T) {
	tmpDir := t.TempDir()

	m, err := NewManager(ManagerConfig{Dir: tmpDir})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()

	for _, runID := range []string{"run-1", "run-2", "run-3"} {
		cp := &Checkpoint{RunID: runID, Workflow: "test-workflow"}
		if err := m.Save(ctx, cp); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	runs, err := m.ListInterrupted(ctx)
	if err != nil {
		t.Fatalf("ListInterrupted failed: %v", err)
	}

	if len(runs) != 3 {
		t.Errorf("Expected 3 interrupted runs, got %d", len(runs))
	}
}

func TestManager_Disabled(t *testing.T) {
	m, err := NewManager(ManagerConfig{Dir: ""})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if m.Enabled() {
		t.Error("Manager should be disabled with empty dir")
	}

	ctx := context.Background()

	if err := m.Save(ctx, &Checkpoint{RunID: "test"}); err != nil {
		t.Errorf("Save should be no-op when disabled, got error: %v", err)
	}

	loaded, err := m.Load(ctx, "test-workflow", "test")
	if err != nil {
		t.Errorf("Load should be no-op when disabled, got error: %v", err)
	}
	if loaded != nil {
		t.Error("Load should return nil when disabled")
	}

	runs, err := m.ListInterrupted(ctx)
	if err != nil {
		t.Errorf("ListInterrupted should be no-op when disabled, got error: %v", err)
	}
	if runs != nil {
		t.Error("ListInterrupted should return nil when disabled")
	}
}
