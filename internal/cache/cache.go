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

// Package cache caches integration reads per (tenant, id, populate).
//
// Writes never update the cache in place: Invalidate overwrites the entries
// with a short-lived tombstone and Put only adds entries that are absent.
// A reader that loaded a stale row before a concurrent write therefore
// cannot re-cache it while the tombstone lives.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/internal/store"
)

const (
	// DefaultTTL is the lifetime of a cached integration.
	DefaultTTL = 24 * time.Hour

	// DefaultTombstoneTTL is how long an invalidation blocks re-caching.
	DefaultTombstoneTTL = 5 * time.Second
)

var tombstone = []byte("\x00tombstone")

// Backend stores opaque values with per-entry TTLs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Add stores value only if key is absent.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Set stores value unconditionally.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options tunes an IntegrationCache.
type Options struct {
	TTL          time.Duration
	TombstoneTTL time.Duration
	Logger       *slog.Logger
}

// IntegrationCache caches store.Integration values on a Backend. Backend
// failures are logged and treated as misses.
type IntegrationCache struct {
	backend      Backend
	ttl          time.Duration
	tombstoneTTL time.Duration
	logger       *slog.Logger
}

// NewIntegrationCache wraps backend.
func NewIntegrationCache(backend Backend, opts Options) *IntegrationCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = DefaultTombstoneTTL
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return &IntegrationCache{
		backend:      backend,
		ttl:          opts.TTL,
		tombstoneTTL: opts.TombstoneTTL,
		logger:       log.WithComponent(opts.Logger, "cache"),
	}
}

// Key returns the cache key for an integration read.
func Key(tenant, id string, populate bool) string {
	return "integration:" + tenant + ":" + id + ":" + strconv.FormatBool(populate)
}

// Get returns the cached integration, if any.
func (c *IntegrationCache) Get(ctx context.Context, tenant, id string, populate bool) (*store.Integration, bool) {
	raw, ok, err := c.backend.Get(ctx, Key(tenant, id, populate))
	if err != nil {
		metrics.RecordCacheLookup("error")
		c.logger.Warn("cache read failed", slog.String(log.TenantKey, tenant), log.Error(err))
		return nil, false
	}
	if !ok || bytes.Equal(raw, tombstone) {
		metrics.RecordCacheLookup("miss")
		return nil, false
	}

	var in store.Integration
	if err := json.Unmarshal(raw, &in); err != nil {
		metrics.RecordCacheLookup("error")
		c.logger.Warn("cache entry corrupt", slog.String(log.TenantKey, tenant), log.Error(err))
		return nil, false
	}
	metrics.RecordCacheLookup("hit")
	return &in, true
}

// Put caches in unless the key is present (live entry or tombstone).
func (c *IntegrationCache) Put(ctx context.Context, in *store.Integration, populate bool) {
	raw, err := json.Marshal(in)
	if err != nil {
		c.logger.Warn("cache encode failed", log.Error(err))
		return
	}
	if err := c.backend.Add(ctx, Key(in.Tenant, in.ID, populate), raw, c.ttl); err != nil {
		c.logger.Warn("cache write failed", slog.String(log.TenantKey, in.Tenant), log.Error(err))
	}
}

// Invalidate replaces both populate variants with a tombstone.
func (c *IntegrationCache) Invalidate(ctx context.Context, tenant, id string) {
	for _, populate := range []bool{false, true} {
		if err := c.backend.Set(ctx, Key(tenant, id, populate), tombstone, c.tombstoneTTL); err != nil {
			c.logger.Warn("cache invalidation failed",
				slog.String(log.TenantKey, tenant),
				slog.String(log.IntegrationIDKey, id),
				log.Error(err))
		}
	}
}
