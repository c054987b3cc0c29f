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

package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/internal/store/storetest"
)

func TestStore(t *testing.T) {
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "switchyard.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	storetest.Run(t, s)
}

func TestNew_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchyard.db")

	s, err := New(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
