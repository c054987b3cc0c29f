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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/pkg/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, CacheLRU, cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, VaultFile, cfg.Vault.Backend)
	assert.Equal(t, 8, cfg.Pipeline.MaxDepth)
	assert.Zero(t, cfg.Hooks.MaxConcurrency)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		errText string
	}{
		{
			name:   "valid",
			modify: func(c *Config) {},
		},
		{
			name:    "missing jwt secret",
			modify:  func(c *Config) { c.Auth.JWTSecret = "" },
			errText: "auth.jwt_secret must be at least 32 bytes",
		},
		{
			name:    "short internal token",
			modify:  func(c *Config) { c.Auth.InternalToken = "short" },
			errText: "auth.internal_token",
		},
		{
			name:    "unknown store",
			modify:  func(c *Config) { c.Store.Backend = "mongo" },
			errText: "store.backend must be one of",
		},
		{
			name:    "postgres without url",
			modify:  func(c *Config) { c.Store.Backend = StorePostgres },
			errText: "store.connection_string is required",
		},
		{
			name:    "redis without addr",
			modify:  func(c *Config) { c.Cache.Backend = CacheRedis },
			errText: "cache.redis_addr is required",
		},
		{
			name:    "tombstone outlives entry",
			modify:  func(c *Config) { c.Cache.TombstoneTTL = 48 * time.Hour },
			errText: "cache.tombstone_ttl",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			errText: "log.level must be one of",
		},
		{
			name:    "negative hook concurrency",
			modify:  func(c *Config) { c.Hooks.MaxConcurrency = -1 },
			errText: "hooks.max_concurrency",
		},
		{
			name:    "memory vault with persistent store",
			modify:  func(c *Config) { c.Vault.Backend = VaultMemory },
			errText: "vault.backend memory",
		},
		{
			name: "memory vault with memory store",
			modify: func(c *Config) {
				c.Vault.Backend = VaultMemory
				c.Store.Backend = StoreMemory
			},
		},
		{
			name:    "zero depth",
			modify:  func(c *Config) { c.Pipeline.MaxDepth = 0 },
			errText: "pipeline.max_depth",
		},
		{
			name: "bad exporter",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			errText: "tracing.exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = testSecret
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.errText == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ce *errors.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestLoad_FileDefaultsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchyard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
store:
  backend: memory
cache:
  backend: redis
  redis_addr: localhost:6379
auth:
  jwt_secret: `+testSecret+`
hooks:
  max_concurrency: 4
rate_limit:
  enabled: true
  requests_per_second: 2
tracing:
  enabled: true
  exporter: stdout
`), 0o600))

	t.Setenv("SWITCHYARD_ADDR", ":7070")
	t.Setenv("SWITCHYARD_INTERNAL_TOKEN", "internal-token-0123")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr, "env overrides file")
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 4, cfg.Hooks.MaxConcurrency)
	assert.Equal(t, 2.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.BurstSize, "zero values get defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "internal-token-0123", cfg.Auth.InternalToken)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 8, cfg.Pipeline.MaxDepth)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)

	jwt := cfg.Auth.JWT()
	assert.Equal(t, []byte(testSecret), jwt.Secret)
	assert.Equal(t, 30*time.Second, jwt.ClockSkew)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var ce *errors.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "config_file", ce.Key)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o600))
	_, err = Load(bad)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "config_file", ce.Key)

	t.Setenv("SWITCHYARD_JWT_SECRET", "")
	_, err = Load("")
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "validation", ce.Key)
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/srv/data")
	assert.Equal(t, "/srv/data/switchyard", DataDir())
	assert.Equal(t, "/srv/data/switchyard/switchyard.db", Default().Store.Path)
}
