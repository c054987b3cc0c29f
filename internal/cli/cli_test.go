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

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/pkg/errors"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(BuildInfo{Version: "1.0.0", Commit: "test123", BuildDate: "2025-12-22"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand(BuildInfo{})

	assert.Equal(t, "switchyard", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("json"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "dm")
	assert.Contains(t, names, "version")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "switchyard version 1.0.0")
	assert.Contains(t, out, "test123")

	out, err = execute(t, "", "version", "--json")
	require.NoError(t, err)
	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, BuildInfo{Version: "1.0.0", Commit: "test123", BuildDate: "2025-12-22"}, info)
}

const ticketSteps = `
payload:
  ticket:
    id: T-1
    assignee: u1
steps:
  - map:
      id: .ticket.id
      owner: .ticket.assignee
    clean: true
  - populate:
      owner:
        source: user
`

const fixtures = `
users:
  u1:
    id: u1
    email: ada@example.com
`

func TestDMRun(t *testing.T) {
	steps := writeFile(t, "steps.yaml", ticketSteps)
	fx := writeFile(t, "fixtures.yaml", fixtures)

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  map[string]any
	}{
		{
			name: "sample payload from file",
			args: []string{"dm", "run", steps, "--fixtures", fx},
			want: map[string]any{
				"id":    "T-1",
				"owner": map[string]any{"id": "u1", "email": "ada@example.com"},
			},
		},
		{
			name:  "payload from stdin",
			stdin: `{"ticket": {"id": "T-2", "assignee": "nobody"}}`,
			args:  []string{"dm", "run", steps, "--fixtures", fx, "--payload", "-"},
			want:  map[string]any{"id": "T-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.stdin, tt.args...)
			require.NoError(t, err)

			var got map[string]any
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDMRun_Abort(t *testing.T) {
	steps := writeFile(t, "steps.yaml", `
payload:
  status: closed
steps:
  - abort: '.status == "closed"'
  - map:
      never: '"reached"'
`)

	out, err := execute(t, "", "dm", "run", steps)
	require.NoError(t, err)
	assert.JSONEq(t, `{"abort":true}`, out)
}

func TestDMCheck(t *testing.T) {
	valid := writeFile(t, "valid.yaml", ticketSteps)
	out, err := execute(t, "", "dm", "check", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "2 steps OK")

	out, err = execute(t, "", "dm", "check", valid, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid":true,"steps":2}`, out)

	badExpr := writeFile(t, "bad.yaml", `
steps:
  - map:
      x: '.a |'
`)
	_, err = execute(t, "", "dm", "check", badExpr)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	badSource := writeFile(t, "source.yaml", `
steps:
  - populate:
      x:
        source: telepathy
`)
	_, err = execute(t, "", "dm", "check", badSource)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")

	_, err = execute(t, "", "dm", "check", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
