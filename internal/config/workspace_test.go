package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkspace_ExplicitRoot(t *testing.T) {
	ws := NewWorkspace("/tmp/custom-root")
	assert.Equal(t, "/tmp/custom-root", ws.Root)
	assert.Equal(t, filepath.Join("/tmp/custom-root", "definitions"), ws.DefinitionsDir())
	assert.Equal(t, filepath.Join("/tmp/custom-root", "audit.db"), ws.AuditDBPath())
}

func TestNewWorkspace_EnvOverride(t *testing.T) {
	t.Setenv("CONDUCTOR_HOME", "/tmp/env-root")
	ws := NewWorkspace("")
	assert.Equal(t, "/tmp/env-root", ws.Root)
}

func TestNewWorkspace_DefaultsToWorkflows(t *testing.T) {
	t.Setenv("CONDUCTOR_HOME", "")
	ws := NewWorkspace("")
	assert.Equal(t, "workflows", ws.Root)
}

func TestWorkspace_DefinitionPath(t *testing.T) {
	ws := NewWorkspace("/tmp/root")
	assert.Equal(t, filepath.Join("/tmp/root", "definitions", "deploy.yaml"), ws.DefinitionPath("deploy"))
}

func TestWorkspace_EnsureDirs_CreatesAllSubdirs(t *testing.T) {
	root := t.TempDir()
	ws := NewWorkspace(filepath.Join(root, "ws"))

	require.NoError(t, ws.EnsureDirs())

	for _, dir := range []string{ws.DefinitionsDir(), ws.PermissionsDir(), ws.PreferencesDir(), ws.LogsDir(), ws.CheckpointsDir(), ws.EventsDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
