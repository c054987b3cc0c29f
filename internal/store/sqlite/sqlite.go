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

// Package sqlite provides a SQLite store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/switchyard/internal/store/sqlstore"
)

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens the database, applies pragmas and runs migrations.
func New(cfg Config) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := configurePragmas(ctx, db, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	s, err := sqlstore.New(ctx, db, Dialect())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func configurePragmas(ctx context.Context, db *sql.DB, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Dialect returns the SQLite dialect. Labels are stored as a JSON array.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name: "sqlite",
		Migrations: []string{
			`CREATE TABLE IF NOT EXISTS sources (
				id TEXT NOT NULL,
				tenant TEXT NOT NULL,
				kind TEXT NOT NULL,
				name TEXT NOT NULL,
				labels TEXT NOT NULL DEFAULT '[]',
				metadata TEXT,
				authentication TEXT NOT NULL DEFAULT '',
				plugin TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (tenant, id)
			)`,
			`CREATE TABLE IF NOT EXISTS integrations (
				id TEXT NOT NULL,
				tenant TEXT NOT NULL,
				trigger_kind TEXT NOT NULL,
				target_kind TEXT NOT NULL,
				trigger_operation TEXT NOT NULL,
				match_source TEXT NOT NULL DEFAULT '',
				match_kind TEXT NOT NULL DEFAULT '',
				match_event TEXT NOT NULL DEFAULT '',
				active INTEGER NOT NULL DEFAULT 0,
				webhook_id TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (tenant, id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_integrations_webhook ON integrations(tenant, webhook_id)`,
			`CREATE INDEX IF NOT EXISTS idx_integrations_trigger ON integrations(tenant, active, trigger_kind, trigger_operation)`,
			`CREATE TABLE IF NOT EXISTS plugins (
				id TEXT NOT NULL,
				tenant TEXT NOT NULL,
				name TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (tenant, id)
			)`,
			`CREATE TABLE IF NOT EXISTS plugin_subscriptions (
				tenant TEXT NOT NULL,
				plugin_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				source TEXT NOT NULL DEFAULT '',
				kind TEXT NOT NULL DEFAULT '',
				event_name TEXT NOT NULL DEFAULT '',
				hook_url TEXT NOT NULL,
				PRIMARY KEY (tenant, plugin_id, position)
			)`,
		},
		EncodeLabels: func(labels []string) (any, error) {
			if labels == nil {
				labels = []string{}
			}
			raw, err := json.Marshal(labels)
			return string(raw), err
		},
		LabelsDest: func() (any, func() ([]string, error)) {
			var raw string
			return &raw, func() ([]string, error) {
				var labels []string
				if raw == "" {
					return nil, nil
				}
				err := json.Unmarshal([]byte(raw), &labels)
				if len(labels) == 0 {
					labels = nil
				}
				return labels, err
			}
		},
	}
}
