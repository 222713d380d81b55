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

package config

import (
	"os"
	"path/filepath"
)

// Workspace resolves every well-known path under a workflow root:
// definitions/permissions/preferences documents, logs, checkpoints, and the
// daemon's PID/status/event-spool files.
type Workspace struct {
	Root string
}

// NewWorkspace resolves root from $CONDUCTOR_HOME, falling back to
// ./workflows when unset, matching the fixed layout this engine targets.
func NewWorkspace(root string) *Workspace {
	if root == "" {
		if env := os.Getenv("CONDUCTOR_HOME"); env != "" {
			root = env
		} else {
			root = "workflows"
		}
	}
	return &Workspace{Root: root}
}

func (w *Workspace) DefinitionsDir() string { return filepath.Join(w.Root, "definitions") }
func (w *Workspace) PermissionsDir() string { return filepath.Join(w.Root, "permissions") }
func (w *Workspace) PreferencesDir() string { return filepath.Join(w.Root, "preferences") }
func (w *Workspace) LogsDir() string        { return filepath.Join(w.Root, "logs") }
func (w *Workspace) CheckpointsDir() string { return filepath.Join(w.Root, "checkpoints") }
func (w *Workspace) EventsDir() string      { return filepath.Join(w.Root, ".events") }
func (w *Workspace) PIDFile() string        { return filepath.Join(w.Root, ".daemon.pid") }
func (w *Workspace) StatusFile() string     { return filepath.Join(w.Root, ".daemon.status") }
func (w *Workspace) AuditDBPath() string    { return filepath.Join(w.Root, "audit.db") }

// DefinitionPath returns the path a named workflow's definition should live
// at.
func (w *Workspace) DefinitionPath(name string) string {
	return filepath.Join(w.DefinitionsDir(), name+".yaml")
}

// EnsureDirs creates every directory the workspace needs, idempotently.
func (w *Workspace) EnsureDirs() error {
	for _, dir := range []string{
		w.DefinitionsDir(), w.PermissionsDir(), w.PreferencesDir(),
		w.LogsDir(), w.CheckpointsDir(), w.EventsDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
