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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFixtures reads Memory fixtures from a YAML (or JSON) file. An empty
// path yields empty fixtures.
func LoadFixtures(path string) (Fixtures, error) {
	var fixtures Fixtures
	if path == "" {
		return fixtures, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fixtures, fmt.Errorf("failed to read fixtures: %w", err)
	}
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return fixtures, fmt.Errorf("failed to parse fixtures %s: %w", path, err)
	}
	return fixtures, nil
}
