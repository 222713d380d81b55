package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/conductor/pkg/workflow"
)

func TestParseVars(t *testing.T) {
	inputs, err := parseVars([]string{"name=deploy", "count=3"})
	require.NoError(t, err)
	assert.Equal(t, "deploy", inputs["name"])
	assert.Equal(t, "3", inputs["count"])
}

func TestParseVars_RejectsMissingEquals(t *testing.T) {
	_, err := parseVars([]string{"not-a-pair"})
	assert.Error(t, err)
}

func TestParseVars_AllowsEqualsInValue(t *testing.T) {
	inputs, err := parseVars([]string{"expr=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "a=b", inputs["expr"])
}

func TestPrintResult_WritesJSON(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := printResult(cmd, &workflow.WorkflowResult{Status: workflow.StepSuccess})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "\"status\"")
}

func TestResolvePermissions_InlineDefinitionPassesThrough(t *testing.T) {
	def := &workflow.WorkflowDefinition{
		Name:        "deploy",
		Permissions: &workflow.PermissionDefinition{AlwaysAllow: []string{"shell"}},
	}
	a := &app{}
	perm, err := resolvePermissions(a, def)
	require.NoError(t, err)
	assert.Same(t, def.Permissions, perm)
}

func TestResolvePermissions_NilPermissionsPassesThrough(t *testing.T) {
	def := &workflow.WorkflowDefinition{Name: "deploy"}
	a := &app{}
	perm, err := resolvePermissions(a, def)
	require.NoError(t, err)
	assert.Nil(t, perm)
}
