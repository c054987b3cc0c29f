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

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  u1:
    id: u1
    email: ada@example.com
entities:
  ticket:
    T-1:
      id: T-1
      status: open
`), 0o600))

	fixtures, err := LoadFixtures(path)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", fixtures.Users["u1"]["email"])
	assert.Equal(t, "open", fixtures.Entities["ticket"]["T-1"]["status"])

	empty, err := LoadFixtures("")
	require.NoError(t, err)
	assert.Empty(t, empty.Users)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("users: [unclosed"), 0o600))
	_, err = LoadFixtures(bad)
	assert.Error(t, err)

	_, err = LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
