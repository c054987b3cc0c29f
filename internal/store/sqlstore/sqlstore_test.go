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

package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	numbered := &Store{dialect: Dialect{Numbered: true}}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ('', $2)", numbered.rebind("SELECT * FROM t WHERE a = ? AND b IN ('', ?)"))

	plain := &Store{dialect: Dialect{}}
	assert.Equal(t, "a = ?", plain.rebind("a = ?"))
}
