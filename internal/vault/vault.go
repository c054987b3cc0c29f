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

// Package vault stores source credentials encrypted at rest. Callers only
// ever hold the opaque id returned by Set.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/tombee/switchyard/pkg/errors"
)

const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLength   = 32

	// SaltSize is the length of the key-derivation salt.
	SaltSize = 16
)

// Vault is the credential store used by sources.
type Vault interface {
	Get(ctx context.Context, tenant, kind, id string) (map[string]any, error)
	Set(ctx context.Context, tenant, kind string, secrets map[string]any) (string, error)
	Delete(ctx context.Context, tenant, kind, id string) error
}

// Records persists sealed secrets by key. Load returns a NotFoundError for
// missing keys.
type Records interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, sealed []byte) error
	Remove(ctx context.Context, key string) error
}

// Encrypted seals secrets with AES-256-GCM under a key derived from the
// master key with Argon2id. The tenant, kind and id are bound as
// additional data, so a record cannot be replayed under another identity.
type Encrypted struct {
	aead    cipher.AEAD
	records Records
}

var _ Vault = (*Encrypted)(nil)

// NewEncrypted derives the data key from masterKey and salt.
func NewEncrypted(masterKey, salt []byte, records Records) (*Encrypted, error) {
	if len(masterKey) == 0 {
		return nil, &errors.ConfigError{Key: "vault.master_key", Reason: "is empty"}
	}
	if len(salt) < SaltSize {
		return nil, &errors.ConfigError{Key: "vault.salt", Reason: fmt.Sprintf("must be at least %d bytes", SaltSize)}
	}

	key := argon2.IDKey(masterKey, salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encrypted{aead: aead, records: records}, nil
}

// Get decrypts the secrets stored under id.
func (v *Encrypted) Get(ctx context.Context, tenant, kind, id string) (map[string]any, error) {
	sealed, err := v.records.Load(ctx, recordKey(tenant, kind, id))
	if err != nil {
		return nil, err
	}

	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("vault record %s is truncated", id)
	}
	plaintext, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], additionalData(tenant, kind, id))
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong master key or corrupted record): %w", err)
	}
	defer clear(plaintext)

	var secrets map[string]any
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("invalid vault record: %w", err)
	}
	return secrets, nil
}

// Set encrypts secrets under a fresh id.
func (v *Encrypted) Set(ctx context.Context, tenant, kind string, secrets map[string]any) (string, error) {
	id := uuid.NewString()

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return "", fmt.Errorf("failed to encode secrets: %w", err)
	}
	defer clear(plaintext)

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, additionalData(tenant, kind, id))

	if err := v.records.Save(ctx, recordKey(tenant, kind, id), sealed); err != nil {
		return "", fmt.Errorf("failed to store secret: %w", err)
	}
	return id, nil
}

// Delete removes the secret. Deleting a missing secret is not an error.
func (v *Encrypted) Delete(ctx context.Context, tenant, kind, id string) error {
	return v.records.Remove(ctx, recordKey(tenant, kind, id))
}

func recordKey(tenant, kind, id string) string {
	return tenant + "/" + kind + "/" + id
}

func additionalData(tenant, kind, id string) []byte {
	return []byte("switchyard:" + recordKey(tenant, kind, id))
}
