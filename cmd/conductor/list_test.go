package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/conductor/internal/config"
)

func TestListCommand_PrintsWorkflowsSorted(t *testing.T) {
	root := t.TempDir()
	ws := config.NewWorkspace(root)
	require.NoError(t, ws.EnsureDirs())

	require.NoError(t, os.WriteFile(filepath.Join(ws.DefinitionsDir(), "zeta.yaml"),
		[]byte("name: zeta\nsteps:\n  - name: s1\n    shell_command: \"echo zeta\"\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(ws.DefinitionsDir(), "alpha.yaml"),
		[]byte("name: alpha\nsteps:\n  - name: s1\n    shell_command: \"echo alpha\"\n"), 0o600))

	a := &app{workspace: ws}
	cmd := newListCommand(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.RunE(cmd, nil))

	output := out.String()
	alphaIdx := bytes.Index(out.Bytes(), []byte("alpha"))
	zetaIdx := bytes.Index(out.Bytes(), []byte("zeta"))
	assert.True(t, alphaIdx >= 0 && zetaIdx >= 0 && alphaIdx < zetaIdx, "expected alpha before zeta in: %s", output)
}

func TestListCommand_EmptyDefinitionsDir(t *testing.T) {
	root := t.TempDir()
	ws := config.NewWorkspace(root)
	require.NoError(t, ws.EnsureDirs())

	a := &app{workspace: ws}
	cmd := newListCommand(a)
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Empty(t, out.String())
}
