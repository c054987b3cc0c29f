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

package config

import (
	"fmt"
	"strings"

	"github.com/tombee/switchyard/internal/tracing"
	"github.com/tombee/switchyard/pkg/errors"
)

// ErrInvalidConfig is the cause of every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks that the configuration is usable. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite backend")
		}
	case StorePostgres:
		if c.Store.ConnectionString == "" {
			errs = append(errs, "store.connection_string is required for the postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be one of [memory, sqlite, postgres], got %q", c.Store.Backend))
	}

	switch c.Cache.Backend {
	case CacheNone:
	case CacheLRU:
		if c.Cache.Size <= 0 {
			errs = append(errs, fmt.Sprintf("cache.size must be positive, got %d", c.Cache.Size))
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, "cache.redis_addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.backend must be one of [none, lru, redis], got %q", c.Cache.Backend))
	}
	if c.Cache.TombstoneTTL >= c.Cache.TTL {
		errs = append(errs, "cache.tombstone_ttl must be shorter than cache.ttl")
	}

	switch c.Vault.Backend {
	case VaultMemory:
		if c.Store.Backend != StoreMemory {
			errs = append(errs, "vault.backend memory forgets credentials on restart and requires store.backend memory")
		}
	case VaultFile:
		if c.Vault.Path == "" {
			errs = append(errs, "vault.path is required for the file backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("vault.backend must be one of [file, memory], got %q", c.Vault.Backend))
	}

	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.InternalToken != "" && len(c.Auth.InternalToken) < 16 {
		errs = append(errs, "auth.internal_token must be at least 16 bytes when set")
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.BurstSize < 0 {
		errs = append(errs, "rate_limit values must be non-negative")
	}
	if c.Hooks.MaxConcurrency < 0 {
		errs = append(errs, fmt.Sprintf("hooks.max_concurrency must be non-negative, got %d", c.Hooks.MaxConcurrency))
	}
	if c.Pipeline.MaxDepth < 1 {
		errs = append(errs, fmt.Sprintf("pipeline.max_depth must be at least 1, got %d", c.Pipeline.MaxDepth))
	}

	if c.Tracing.Enabled {
		if c.Tracing.Exporter != tracing.ExporterStdout && c.Tracing.Exporter != tracing.ExporterOTLP {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlp], got %q", c.Tracing.Exporter))
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
		}
	}

	if len(errs) > 0 {
		return &errors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed:\n  - " + strings.Join(errs, "\n  - "),
			Cause:  ErrInvalidConfig,
		}
	}
	return nil
}
