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

package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type lruEntry struct {
	value   []byte
	expires time.Time
}

// LRU is an in-process Backend bounded by entry count.
type LRU struct {
	mu    sync.Mutex
	items *lru.Cache[string, lruEntry]
	now   func() time.Time
}

var _ Backend = (*LRU)(nil)

// NewLRU creates a backend holding at most size entries.
func NewLRU(size int) (*LRU, error) {
	items, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRU{items: items, now: time.Now}, nil
}

func (l *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.live(key)
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (l *LRU) Add(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.live(key); ok {
		return nil
	}
	l.items.Add(key, lruEntry{value: value, expires: l.now().Add(ttl)})
	return nil
}

func (l *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items.Add(key, lruEntry{value: value, expires: l.now().Add(ttl)})
	return nil
}

// live returns the entry for key, evicting it if expired. Callers hold l.mu.
func (l *LRU) live(key string) (lruEntry, bool) {
	e, ok := l.items.Get(key)
	if !ok {
		return lruEntry{}, false
	}
	if !l.now().Before(e.expires) {
		l.items.Remove(key)
		return lruEntry{}, false
	}
	return e, true
}
