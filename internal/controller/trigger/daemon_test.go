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

package trigger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/conductor/internal/controller/runner"
)

func TestEmitEvent_WritesReadableEventFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EmitEvent(dir, "data.ready", map[string]interface{}{"source": "test"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var ev emittedEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "data.ready", ev.Name)
	assert.Equal(t, "test", ev.Data["source"])
}

func TestDaemon_RunWritesPIDAndStatusFiles(t *testing.T) {
	workflowsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workflowsDir, "event.yaml"), []byte(eventWorkflowYAML), 0o644))

	r, err := runner.New(runner.Config{LogsDir: t.TempDir(), CheckpointDir: t.TempDir()})
	require.NoError(t, err)
	m := NewManager(workflowsDir, r, nil)

	stateDir := t.TempDir()
	cfg := DaemonConfig{
		PIDFile:    filepath.Join(stateDir, "conductor.pid"),
		StatusFile: filepath.Join(stateDir, "status.json"),
		EventsDir:  filepath.Join(stateDir, "events"),
	}
	d := NewDaemon(cfg, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.StatusFile)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	pidBytes, err := os.ReadFile(cfg.PIDFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(pidBytes))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	cancel()
	<-done

	_, err = os.Stat(cfg.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestDaemon_DrainsEventsDirectory(t *testing.T) {
	workflowsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workflowsDir, "event.yaml"), []byte(eventWorkflowYAML), 0o644))

	r, err := runner.New(runner.Config{LogsDir: t.TempDir(), CheckpointDir: t.TempDir()})
	require.NoError(t, err)
	m := NewManager(workflowsDir, r, nil)

	stateDir := t.TempDir()
	eventsDir := filepath.Join(stateDir, "events")
	cfg := DaemonConfig{EventsDir: eventsDir}
	d := NewDaemon(cfg, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(eventsDir)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, EmitEvent(eventsDir, "data.ready", nil))

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(eventsDir)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
