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

package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// MasterKeyEnv overrides the keyring lookup.
	MasterKeyEnv = "SWITCHYARD_MASTER_KEY"

	keyringService = "switchyard"
	keyringUser    = "vault-master-key"
)

// ResolveMasterKey returns the vault master key from, in order: the
// explicit value, SWITCHYARD_MASTER_KEY, then the OS keyring. When create
// is set and the keyring has no key, a random key is generated and stored.
func ResolveMasterKey(explicit string, create bool) ([]byte, error) {
	if explicit != "" {
		return []byte(explicit), nil
	}
	if env := os.Getenv(MasterKeyEnv); env != "" {
		return []byte(env), nil
	}

	stored, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		return []byte(stored), nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring unavailable: %w (set %s)", err, MasterKeyEnv)
	}
	if !create {
		return nil, fmt.Errorf("master key not found (set %s or store one in the keyring)", MasterKeyEnv)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	generated := base64.StdEncoding.EncodeToString(buf)
	if err := keyring.Set(keyringService, keyringUser, generated); err != nil {
		return nil, fmt.Errorf("failed to store master key in keyring: %w", err)
	}
	return []byte(generated), nil
}
