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
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tombee/switchyard/pkg/errors"
)

// MemoryRecords keeps sealed records in process.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryRecords creates an empty record set.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string][]byte)}
}

func (m *MemoryRecords) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sealed, ok := m.records[key]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "secret", ID: key}
	}
	return append([]byte(nil), sealed...), nil
}

func (m *MemoryRecords) Save(_ context.Context, key string, sealed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = append([]byte(nil), sealed...)
	return nil
}

func (m *MemoryRecords) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// Len returns the number of stored records.
func (m *MemoryRecords) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// FileRecords persists sealed records in a single JSON file written
// atomically with 0600 permissions. The file also carries the
// key-derivation salt.
type FileRecords struct {
	path string

	mu   sync.Mutex
	data fileData
}

type fileData struct {
	Salt    []byte            `json:"salt"`
	Records map[string][]byte `json:"records"`
}

// OpenFileRecords loads path, creating it with a random salt if missing.
func OpenFileRecords(path string) (*FileRecords, error) {
	f := &FileRecords{path: path}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		f.data = fileData{Salt: make([]byte, SaltSize), Records: map[string][]byte{}}
		if _, err := rand.Read(f.data.Salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create vault directory: %w", err)
		}
		if err := f.flush(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read vault file: %w", err)
	default:
		if err := json.Unmarshal(raw, &f.data); err != nil {
			return nil, fmt.Errorf("invalid vault file: %w", err)
		}
		if f.data.Records == nil {
			f.data.Records = map[string][]byte{}
		}
	}
	return f, nil
}

// Salt returns the key-derivation salt stored in the file.
func (f *FileRecords) Salt() []byte {
	return append([]byte(nil), f.data.Salt...)
}

func (f *FileRecords) Load(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sealed, ok := f.data.Records[key]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "secret", ID: key}
	}
	return append([]byte(nil), sealed...), nil
}

func (f *FileRecords) Save(_ context.Context, key string, sealed []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.Records[key] = append([]byte(nil), sealed...)
	return f.flush()
}

func (f *FileRecords) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data.Records[key]; !ok {
		return nil
	}
	delete(f.data.Records, key)
	return f.flush()
}

// flush writes the file via a temp file and rename. Callers hold f.mu or
// own f exclusively.
func (f *FileRecords) flush() error {
	raw, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("failed to encode vault file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".vault-*")
	if err != nil {
		return fmt.Errorf("failed to write vault file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write vault file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write vault file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write vault file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace vault file: %w", err)
	}
	return nil
}
