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

package validate

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarrsalif594/sibyl-sub000/internal/commands/shared"
)

const validWorkspace = `
name: demo
shops:
  util:
    techniques:
      echo: util.echo
      ghost: util.ghost
pipelines:
  hello:
    description: says hello
    steps:
      - use: util.echo
        params:
          message: hi
  twice:
    steps:
      - use: util.echo
      - use: util.echo
`

func writeWorkspace(t *testing.T, content string) string {
	t.Helper()
	t.Setenv("SIBYL_WORKSPACE", "")
	path := filepath.Join(t.TempDir(), "workspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs validate under a root carrying the global --json flag.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "sibyl", SilenceUsage: true, SilenceErrors: true}
	_, jsonPtr, _ := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonPtr, "json", false, "JSON output")
	t.Cleanup(func() { *jsonPtr = false })

	root.AddCommand(NewCommand())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"validate"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestValidate_Valid(t *testing.T) {
	ws := writeWorkspace(t, validWorkspace)

	out, err := execute(t, "-w", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "says hello")
}

func TestValidate_JSON(t *testing.T) {
	ws := writeWorkspace(t, validWorkspace)

	out, err := execute(t, "-w", ws, "--json")
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, "demo", report.Workspace)
	assert.Equal(t, []PipelineInfo{
		{Name: "hello", Description: "says hello", Steps: 1},
		{Name: "twice", Steps: 2},
	}, report.Pipelines)
}

func TestValidate_Strict(t *testing.T) {
	ws := writeWorkspace(t, validWorkspace)

	out, err := execute(t, "-w", ws, "--strict", "--json")
	var exitErr *shared.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, shared.ExitInvalidWorkspace, exitErr.Code)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	require.Len(t, report.Problems, 1)
	assert.Contains(t, report.Problems[0], "util.ghost")
}

func TestValidate_Invalid(t *testing.T) {
	ws := writeWorkspace(t, "name: empty\npipelines: {}\n")

	_, err := execute(t, "-w", ws)
	var exitErr *shared.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, shared.ExitInvalidWorkspace, exitErr.Code)
	assert.Contains(t, exitErr.Error(), "invalid workspace")

	out, err := execute(t, "-w", ws, "--json")
	require.ErrorAs(t, err, &exitErr)
	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	require.NotNil(t, report.Error)
	assert.Equal(t, "ValidationError", report.Error.Type)
}

func TestValidate_WorkspaceFromEnv(t *testing.T) {
	ws := writeWorkspace(t, validWorkspace)
	t.Setenv("SIBYL_WORKSPACE", ws)

	_, err := execute(t)
	require.NoError(t, err)

	t.Setenv("SIBYL_WORKSPACE", "")
	_, err = execute(t)
	var exitErr *shared.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, shared.ExitInvalidWorkspace, exitErr.Code)
}
