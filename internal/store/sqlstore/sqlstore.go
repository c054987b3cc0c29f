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

// Package sqlstore implements store.Store on database/sql. The sqlite and
// postgres packages open the database and supply a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/pkg/errors"
)

// Compile-time interface assertions.
var _ store.Store = (*Store)(nil)

// Dialect captures the differences between SQL engines.
type Dialect struct {
	// Name identifies the dialect in errors.
	Name string

	// Numbered selects $1-style placeholders instead of "?".
	Numbered bool

	// Migrations create the schema. They must be idempotent.
	Migrations []string

	// EncodeLabels converts labels into a driver value.
	EncodeLabels func(labels []string) (any, error)

	// LabelsDest returns a scan destination and a function that yields the
	// decoded labels after Scan.
	LabelsDest func() (dest any, decode func() ([]string, error))
}

// Store is a database/sql backed store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New wraps db and runs the dialect migrations.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	for _, migration := range dialect.Migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites "?" placeholders for dialects with numbered parameters.
func (s *Store) rebind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		metrics.RecordPersistenceError(op, classify(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "db_error"
	}
}

func requireAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &errors.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

// Sources.

const sourceColumns = `id, tenant, kind, name, labels, metadata, authentication, plugin, created_at, updated_at`

// CreateSource stores a new source.
func (s *Store) CreateSource(ctx context.Context, src *store.Source) error {
	now := s.now().UTC()
	src.CreatedAt, src.UpdatedAt = now, now

	labels, metadata, err := s.encodeSource(src)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, "CreateSource", `
		INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.Tenant, src.Kind, src.Name, labels, metadata,
		src.Authentication, src.Plugin, now.UnixNano(), now.UnixNano(),
	)
	return err
}

// GetSource retrieves a source.
func (s *Store) GetSource(ctx context.Context, tenant, id string) (*store.Source, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sourceColumns+` FROM sources WHERE tenant = ? AND id = ?`), tenant, id)
	src, err := s.scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errors.NotFoundError{Resource: "source", ID: id}
	}
	return src, err
}

// UpdateSource replaces an existing source.
func (s *Store) UpdateSource(ctx context.Context, src *store.Source) error {
	src.UpdatedAt = s.now().UTC()
	labels, metadata, err := s.encodeSource(src)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, "UpdateSource", `
		UPDATE sources SET kind = ?, name = ?, labels = ?, metadata = ?, authentication = ?, plugin = ?, updated_at = ?
		WHERE tenant = ? AND id = ?`,
		src.Kind, src.Name, labels, metadata, src.Authentication, src.Plugin, src.UpdatedAt.UnixNano(),
		src.Tenant, src.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "source", src.ID)
}

// DeleteSource removes a source.
func (s *Store) DeleteSource(ctx context.Context, tenant, id string) error {
	res, err := s.exec(ctx, "DeleteSource", `DELETE FROM sources WHERE tenant = ? AND id = ?`, tenant, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "source", id)
}

// ListSources lists a tenant's sources ordered by creation time.
func (s *Store) ListSources(ctx context.Context, tenant string) ([]*store.Source, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+sourceColumns+` FROM sources WHERE tenant = ? ORDER BY created_at`), tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []*store.Source
	for rows.Next() {
		src, err := s.scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) encodeSource(src *store.Source) (labels any, metadata string, err error) {
	labels, err = s.dialect.EncodeLabels(src.Labels)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode labels: %w", err)
	}
	raw, err := json.Marshal(src.Metadata)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return labels, string(raw), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSource(row scanner) (*store.Source, error) {
	var (
		src                  store.Source
		metadata             string
		createdAt, updatedAt int64
	)
	labelsDest, decodeLabels := s.dialect.LabelsDest()
	if err := row.Scan(&src.ID, &src.Tenant, &src.Kind, &src.Name, labelsDest, &metadata,
		&src.Authentication, &src.Plugin, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	labels, err := decodeLabels()
	if err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	src.Labels = labels
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &src.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	src.CreatedAt = time.Unix(0, createdAt).UTC()
	src.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &src, nil
}

// Integrations. The full document is stored as JSON; the columns next to
// it exist for lookups and the event pre-filter.

// CreateIntegration stores a new integration.
func (s *Store) CreateIntegration(ctx context.Context, in *store.Integration) error {
	now := s.now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now

	body, err := encodeIntegration(in)
	if err != nil {
		return err
	}
	match := in.TriggerMatch()
	_, err = s.exec(ctx, "CreateIntegration", `
		INSERT INTO integrations (id, tenant, trigger_kind, target_kind, trigger_operation,
			match_source, match_kind, match_event, active, webhook_id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Tenant, in.Kind[0], in.Kind[1], in.Trigger.Operation,
		match.Source, match.Kind, match.EventName, in.Active, in.WebhookID, body,
		now.UnixNano(), now.UnixNano(),
	)
	return err
}

// GetIntegration retrieves an integration.
func (s *Store) GetIntegration(ctx context.Context, tenant, id string) (*store.Integration, error) {
	return s.getIntegration(ctx, id, `SELECT body FROM integrations WHERE tenant = ? AND id = ?`, tenant, id)
}

// GetIntegrationByWebhookID retrieves an integration by its public webhook id.
func (s *Store) GetIntegrationByWebhookID(ctx context.Context, tenant, webhookID string) (*store.Integration, error) {
	if webhookID == "" {
		return nil, &errors.NotFoundError{Resource: "integration", ID: webhookID}
	}
	return s.getIntegration(ctx, webhookID, `SELECT body FROM integrations WHERE tenant = ? AND webhook_id = ?`, tenant, webhookID)
}

func (s *Store) getIntegration(ctx context.Context, ref, query string, args ...any) (*store.Integration, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errors.NotFoundError{Resource: "integration", ID: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return decodeIntegration(body)
}

// UpdateIntegration replaces an existing integration.
func (s *Store) UpdateIntegration(ctx context.Context, in *store.Integration) error {
	existing, err := s.GetIntegration(ctx, in.Tenant, in.ID)
	if err != nil {
		return err
	}
	in.CreatedAt = existing.CreatedAt
	in.UpdatedAt = s.now().UTC()

	body, err := encodeIntegration(in)
	if err != nil {
		return err
	}
	match := in.TriggerMatch()
	res, err := s.exec(ctx, "UpdateIntegration", `
		UPDATE integrations SET trigger_kind = ?, target_kind = ?, trigger_operation = ?,
			match_source = ?, match_kind = ?, match_event = ?, active = ?, webhook_id = ?, body = ?, updated_at = ?
		WHERE tenant = ? AND id = ?`,
		in.Kind[0], in.Kind[1], in.Trigger.Operation,
		match.Source, match.Kind, match.EventName, in.Active, in.WebhookID, body, in.UpdatedAt.UnixNano(),
		in.Tenant, in.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "integration", in.ID)
}

// DeleteIntegration removes an integration.
func (s *Store) DeleteIntegration(ctx context.Context, tenant, id string) error {
	res, err := s.exec(ctx, "DeleteIntegration", `DELETE FROM integrations WHERE tenant = ? AND id = ?`, tenant, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "integration", id)
}

// ListIntegrations lists a tenant's integrations ordered by creation time.
func (s *Store) ListIntegrations(ctx context.Context, tenant string, filter store.IntegrationFilter) ([]*store.Integration, error) {
	query := `SELECT body FROM integrations WHERE tenant = ?`
	args := []any{tenant}
	if filter.Active != nil {
		query += ` AND active = ?`
		args = append(args, *filter.Active)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET %d`, filter.Offset)
		}
	}
	return s.queryIntegrations(ctx, query, args...)
}

// FindIntegrationCandidates returns active event-triggered integrations
// whose trigger details coarse-match ev.
func (s *Store) FindIntegrationCandidates(ctx context.Context, ev event.PlatformEvent) ([]*store.Integration, error) {
	return s.queryIntegrations(ctx, `
		SELECT body FROM integrations
		WHERE tenant = ? AND active = ? AND trigger_kind = ? AND trigger_operation = ?
		  AND (match_source IN ('', '*', ?) OR match_kind IN ('', '*', ?) OR match_event IN ('', '*', ?))`,
		ev.Tenant, true, store.EventTriggerKind, store.EventTriggerOperation,
		ev.Source, ev.Kind, ev.EventName,
	)
}

func (s *Store) queryIntegrations(ctx context.Context, query string, args ...any) ([]*store.Integration, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}
	defer rows.Close()

	var out []*store.Integration
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		in, err := decodeIntegration(body)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func encodeIntegration(in *store.Integration) (string, error) {
	doc := *in
	doc.Populated = nil
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal integration: %w", err)
	}
	return string(raw), nil
}

func decodeIntegration(body string) (*store.Integration, error) {
	var in store.Integration
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal integration: %w", err)
	}
	return &in, nil
}

// Plugins.

// SavePlugin creates or replaces a plugin and its subscriptions.
func (s *Store) SavePlugin(ctx context.Context, p *store.Plugin) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM plugin_subscriptions WHERE tenant = ? AND plugin_id = ?`, []any{p.Tenant, p.ID}},
		{`DELETE FROM plugins WHERE tenant = ? AND id = ?`, []any{p.Tenant, p.ID}},
		{`INSERT INTO plugins (id, tenant, name, created_at) VALUES (?, ?, ?, ?)`, []any{p.ID, p.Tenant, p.Name, p.CreatedAt.UnixNano()}},
	}
	for i, sub := range p.Subscriptions {
		stmts = append(stmts, struct {
			query string
			args  []any
		}{
			`INSERT INTO plugin_subscriptions (tenant, plugin_id, position, source, kind, event_name, hook_url) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{p.Tenant, p.ID, i, sub.Source, sub.Kind, sub.EventName, sub.HookURL},
		})
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt.query), stmt.args...); err != nil {
			metrics.RecordPersistenceError("SavePlugin", classify(err))
			return fmt.Errorf("failed to save plugin: %w", err)
		}
	}
	return tx.Commit()
}

// GetPlugin retrieves a plugin with its subscriptions.
func (s *Store) GetPlugin(ctx context.Context, tenant, id string) (*store.Plugin, error) {
	var (
		p         store.Plugin
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, tenant, name, created_at FROM plugins WHERE tenant = ? AND id = ?`), tenant, id).
		Scan(&p.ID, &p.Tenant, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errors.NotFoundError{Resource: "plugin", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plugin: %w", err)
	}
	p.CreatedAt = time.Unix(0, createdAt).UTC()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT source, kind, event_name, hook_url FROM plugin_subscriptions
		WHERE tenant = ? AND plugin_id = ? ORDER BY position`), tenant, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sub event.Subscription
		if err := rows.Scan(&sub.Source, &sub.Kind, &sub.EventName, &sub.HookURL); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		p.Subscriptions = append(p.Subscriptions, sub)
	}
	return &p, rows.Err()
}

// DeletePlugin removes a plugin and its subscriptions.
func (s *Store) DeletePlugin(ctx context.Context, tenant, id string) error {
	if _, err := s.exec(ctx, "DeletePlugin", `DELETE FROM plugin_subscriptions WHERE tenant = ? AND plugin_id = ?`, tenant, id); err != nil {
		return err
	}
	_, err := s.exec(ctx, "DeletePlugin", `DELETE FROM plugins WHERE tenant = ? AND id = ?`, tenant, id)
	return err
}

// FindPluginCandidates returns plugins with at least one coarse-matching
// subscription.
func (s *Store) FindPluginCandidates(ctx context.Context, ev event.PlatformEvent) ([]*store.Plugin, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT DISTINCT plugin_id FROM plugin_subscriptions
		WHERE tenant = ?
		  AND (source IN ('', '*', ?) OR kind IN ('', '*', ?) OR event_name IN ('', '*', ?))`),
		ev.Tenant, ev.Source, ev.Kind, ev.EventName)
	if err != nil {
		return nil, fmt.Errorf("failed to query plugin candidates: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plugin id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*store.Plugin, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPlugin(ctx, ev.Tenant, id)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
