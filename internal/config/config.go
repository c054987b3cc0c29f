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

// Package config loads the daemon configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/switchyard/internal/auth"
	"github.com/tombee/switchyard/internal/tracing"
	"github.com/tombee/switchyard/pkg/errors"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Cache backends.
const (
	CacheNone  = "none"
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

// Vault backends.
const (
	VaultFile   = "file"
	VaultMemory = "memory"
)

// Config represents the complete switchyard daemon configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Log       LogConfig            `yaml:"log"`
	Store     StoreConfig          `yaml:"store"`
	Cache     CacheConfig          `yaml:"cache"`
	Vault     VaultConfig          `yaml:"vault"`
	Auth      AuthConfig           `yaml:"auth"`
	RateLimit auth.RateLimitConfig `yaml:"rate_limit"`
	Hooks     HooksConfig          `yaml:"hooks"`
	Pipeline  PipelineConfig       `yaml:"pipeline"`
	Targets   TargetsConfig        `yaml:"targets"`
	Platform  PlatformConfig       `yaml:"platform"`
	Tracing   tracing.Config       `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the TCP listen address.
	// Environment: SWITCHYARD_ADDR
	// Default: :8080
	Addr string `yaml:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds the graceful drain on SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`

	AddSource bool `yaml:"add_source"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	// Backend is memory, sqlite or postgres.
	// Environment: SWITCHYARD_STORE
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	// Environment: SWITCHYARD_SQLITE_PATH
	Path string `yaml:"path,omitempty"`
	WAL  bool   `yaml:"wal"`

	// ConnectionString is the Postgres URL.
	// Environment: SWITCHYARD_DATABASE_URL
	ConnectionString string        `yaml:"connection_string,omitempty"`
	MaxOpenConns     int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns     int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

// CacheConfig configures the integration read cache.
type CacheConfig struct {
	// Backend is none, lru or redis.
	// Environment: SWITCHYARD_CACHE
	Backend string `yaml:"backend"`

	// Size is the LRU capacity in entries.
	Size int `yaml:"size,omitempty"`

	// Environment: SWITCHYARD_REDIS_ADDR
	RedisAddr     string `yaml:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty"`
	Prefix        string `yaml:"prefix,omitempty"`

	TTL          time.Duration `yaml:"ttl,omitempty"`
	TombstoneTTL time.Duration `yaml:"tombstone_ttl,omitempty"`
}

// VaultConfig configures credential storage.
type VaultConfig struct {
	// Backend is file or memory.
	Backend string `yaml:"backend"`

	// Path is the sealed records file.
	// Environment: SWITCHYARD_VAULT_PATH
	Path string `yaml:"path,omitempty"`

	// MasterKey overrides SWITCHYARD_MASTER_KEY and the OS keyring. Prefer
	// the keyring in production.
	MasterKey string `yaml:"master_key,omitempty"`

	// CreateKey generates and stores a keyring master key when none exists.
	CreateKey bool `yaml:"create_key"`
}

// AuthConfig configures API and hook authentication.
type AuthConfig struct {
	// JWTSecret signs and verifies API and plugin hook tokens. Hook tokens
	// carry the plugin-hook audience and are never accepted on API routes.
	// Environment: SWITCHYARD_JWT_SECRET
	JWTSecret string `yaml:"jwt_secret,omitempty"`
	Issuer    string `yaml:"issuer,omitempty"`
	Audience  string `yaml:"audience,omitempty"`

	// ClockSkew tolerated when checking exp and nbf.
	ClockSkew time.Duration `yaml:"clock_skew,omitempty"`

	// InternalToken guards the /internal endpoints.
	// Environment: SWITCHYARD_INTERNAL_TOKEN
	InternalToken string `yaml:"internal_token,omitempty"`

	// HookTokenTTL is the lifetime of tokens sent to plugin hooks.
	HookTokenTTL time.Duration `yaml:"hook_token_ttl,omitempty"`
}

// JWT returns the auth package configuration.
func (a AuthConfig) JWT() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:    []byte(a.JWTSecret),
		Issuer:    a.Issuer,
		Audience:  a.Audience,
		ClockSkew: a.ClockSkew,
	}
}

// HooksConfig configures the event hook subscriber.
type HooksConfig struct {
	// MaxConcurrency caps concurrent deliveries per event. 0 = no cap.
	// Environment: SWITCHYARD_HOOKS_MAX_CONCURRENCY
	MaxConcurrency int `yaml:"max_concurrency"`
}

// PipelineConfig bounds expression evaluation and webhook re-entry.
type PipelineConfig struct {
	ExpressionTimeout   time.Duration `yaml:"expression_timeout,omitempty"`
	MaxInputSize        int64         `yaml:"max_input_size,omitempty"`
	ExpressionCacheSize int           `yaml:"expression_cache_size,omitempty"`

	// MaxDepth bounds apiWebhook re-entry.
	MaxDepth int `yaml:"max_depth,omitempty"`
}

// TargetsConfig configures outbound target calls.
type TargetsConfig struct {
	HTTPTimeout      time.Duration `yaml:"http_timeout,omitempty"`
	MaxResponseBytes int64         `yaml:"max_response_bytes,omitempty"`
	ChatTimeout      time.Duration `yaml:"chat_timeout,omitempty"`
}

// PlatformConfig points at the platform API. Without a BaseURL the daemon
// runs against an in-memory platform seeded from FixturesPath.
type PlatformConfig struct {
	// Environment: SWITCHYARD_PLATFORM_URL
	BaseURL string `yaml:"base_url,omitempty"`

	// Environment: SWITCHYARD_PLATFORM_TOKEN
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	FixturesPath string `yaml:"fixtures_path,omitempty"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	dataDir := DataDir()

	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: StoreSQLite,
			Path:    filepath.Join(dataDir, "switchyard.db"),
			WAL:     true,
		},
		Cache: CacheConfig{
			Backend:      CacheLRU,
			Size:         4096,
			Prefix:       "switchyard:",
			TTL:          24 * time.Hour,
			TombstoneTTL: 5 * time.Second,
		},
		Vault: VaultConfig{
			Backend: VaultFile,
			Path:    filepath.Join(dataDir, "vault.json"),
		},
		Auth: AuthConfig{
			ClockSkew:    30 * time.Second,
			HookTokenTTL: auth.DefaultTokenTTL,
		},
		RateLimit: auth.RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         20,
			Enabled:           true,
		},
		Pipeline: PipelineConfig{
			ExpressionTimeout:   time.Second,
			MaxInputSize:        10 << 20,
			ExpressionCacheSize: 1000,
			MaxDepth:            8,
		},
		Targets: TargetsConfig{
			HTTPTimeout:      30 * time.Second,
			MaxResponseBytes: 10 << 20,
			ChatTimeout:      5 * time.Minute,
		},
		Platform: PlatformConfig{
			Timeout: 10 * time.Second,
		},
		Tracing: tracing.Config{
			Exporter:   tracing.ExporterOTLP,
			SampleRate: 1,
		},
	}
}

// Load reads configPath (optional), fills defaults, applies environment
// overrides and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Store.Backend == "" {
		c.Store.Backend = defaults.Store.Backend
	}
	if c.Store.Backend == StoreSQLite && c.Store.Path == "" {
		c.Store.Path = defaults.Store.Path
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = defaults.Cache.Backend
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = defaults.Cache.Size
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = defaults.Cache.Prefix
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = defaults.Cache.TTL
	}
	if c.Cache.TombstoneTTL == 0 {
		c.Cache.TombstoneTTL = defaults.Cache.TombstoneTTL
	}

	if c.Vault.Backend == "" {
		c.Vault.Backend = defaults.Vault.Backend
	}
	if c.Vault.Backend == VaultFile && c.Vault.Path == "" {
		c.Vault.Path = defaults.Vault.Path
	}

	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = defaults.Auth.ClockSkew
	}
	if c.Auth.HookTokenTTL == 0 {
		c.Auth.HookTokenTTL = defaults.Auth.HookTokenTTL
	}

	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = defaults.RateLimit.RequestsPerSecond
	}
	if c.RateLimit.BurstSize == 0 {
		c.RateLimit.BurstSize = defaults.RateLimit.BurstSize
	}

	if c.Pipeline.ExpressionTimeout == 0 {
		c.Pipeline.ExpressionTimeout = defaults.Pipeline.ExpressionTimeout
	}
	if c.Pipeline.MaxInputSize == 0 {
		c.Pipeline.MaxInputSize = defaults.Pipeline.MaxInputSize
	}
	if c.Pipeline.ExpressionCacheSize == 0 {
		c.Pipeline.ExpressionCacheSize = defaults.Pipeline.ExpressionCacheSize
	}
	if c.Pipeline.MaxDepth == 0 {
		c.Pipeline.MaxDepth = defaults.Pipeline.MaxDepth
	}

	if c.Targets.HTTPTimeout == 0 {
		c.Targets.HTTPTimeout = defaults.Targets.HTTPTimeout
	}
	if c.Targets.MaxResponseBytes == 0 {
		c.Targets.MaxResponseBytes = defaults.Targets.MaxResponseBytes
	}
	if c.Targets.ChatTimeout == 0 {
		c.Targets.ChatTimeout = defaults.Targets.ChatTimeout
	}

	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = defaults.Platform.Timeout
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = defaults.Tracing.SampleRate
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv applies environment overrides. Malformed numbers and
// durations are ignored.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("SWITCHYARD_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("SWITCHYARD_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Server.ShutdownTimeout = d
		}
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = truthy(val)
	}

	if val := os.Getenv("SWITCHYARD_STORE"); val != "" {
		c.Store.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("SWITCHYARD_SQLITE_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("SWITCHYARD_DATABASE_URL"); val != "" {
		c.Store.ConnectionString = val
	}

	if val := os.Getenv("SWITCHYARD_CACHE"); val != "" {
		c.Cache.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("SWITCHYARD_REDIS_ADDR"); val != "" {
		c.Cache.RedisAddr = val
	}

	if val := os.Getenv("SWITCHYARD_VAULT_PATH"); val != "" {
		c.Vault.Path = val
	}

	if val := os.Getenv("SWITCHYARD_JWT_SECRET"); val != "" {
		c.Auth.JWTSecret = val
	}
	if val := os.Getenv("SWITCHYARD_INTERNAL_TOKEN"); val != "" {
		c.Auth.InternalToken = val
	}

	if val := os.Getenv("SWITCHYARD_HOOKS_MAX_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Hooks.MaxConcurrency = n
		}
	}

	if val := os.Getenv("SWITCHYARD_PLATFORM_URL"); val != "" {
		c.Platform.BaseURL = val
	}
	if val := os.Getenv("SWITCHYARD_PLATFORM_TOKEN"); val != "" {
		c.Platform.Token = val
	}

	if val := os.Getenv("SWITCHYARD_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = truthy(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
}

func truthy(val string) bool {
	return val == "1" || strings.ToLower(val) == "true"
}

// DataDir returns the default directory for the SQLite database and vault
// file: $XDG_DATA_HOME/switchyard, else ~/.local/share/switchyard.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "switchyard")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "switchyard")
	}
	return filepath.Join(home, ".local", "share", "switchyard")
}
