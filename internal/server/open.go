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

package server

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tombee/switchyard/internal/cache"
	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/platform"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/internal/store/memory"
	"github.com/tombee/switchyard/internal/store/postgres"
	"github.com/tombee/switchyard/internal/store/sqlite"
	"github.com/tombee/switchyard/internal/vault"
)

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		st, err := sqlite.New(sqlite.Config{Path: cfg.Path, WAL: cfg.WAL})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	case config.StorePostgres:
		st, err := postgres.New(postgres.Config{
			ConnectionString: cfg.ConnectionString,
			MaxOpenConns:     cfg.MaxOpenConns,
			MaxIdleConns:     cfg.MaxIdleConns,
			ConnMaxLifetime:  cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// openCache returns nil when caching is disabled. The closer is non-nil
// only when a connection must be released on shutdown.
func openCache(cfg config.CacheConfig, logger *slog.Logger) (*cache.IntegrationCache, io.Closer, error) {
	opts := cache.Options{TTL: cfg.TTL, TombstoneTTL: cfg.TombstoneTTL, Logger: logger}
	switch cfg.Backend {
	case config.CacheNone, "":
		return nil, nil, nil
	case config.CacheLRU:
		backend, err := cache.NewLRU(cfg.Size)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create lru cache: %w", err)
		}
		return cache.NewIntegrationCache(backend, opts), nil, nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return cache.NewIntegrationCache(cache.NewRedis(client, cfg.Prefix), opts), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func openVault(cfg config.VaultConfig) (vault.Vault, error) {
	switch cfg.Backend {
	case config.VaultMemory:
		key := make([]byte, 32)
		salt := make([]byte, 16)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		return vault.NewEncrypted(key, salt, vault.NewMemoryRecords())
	case config.VaultFile:
		key, err := vault.ResolveMasterKey(cfg.MasterKey, cfg.CreateKey)
		if err != nil {
			return nil, err
		}
		records, err := vault.OpenFileRecords(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open vault file: %w", err)
		}
		return vault.NewEncrypted(key, records.Salt(), records)
	default:
		return nil, fmt.Errorf("unknown vault backend %q", cfg.Backend)
	}
}

// openPlatform talks to the platform API when a base URL is configured and
// falls back to in-process fixtures otherwise.
func openPlatform(cfg config.PlatformConfig) (platform.Client, error) {
	if cfg.BaseURL != "" {
		return platform.NewHTTPClient(platform.Config{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			Timeout: cfg.Timeout,
		})
	}
	fixtures, err := platform.LoadFixtures(cfg.FixturesPath)
	if err != nil {
		return nil, err
	}
	return platform.NewMemory(fixtures), nil
}
