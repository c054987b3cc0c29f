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

// Package memory provides an in-memory store, used by tests and
// single-process development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ store.SourceStore      = (*Store)(nil)
	_ store.IntegrationStore = (*Store)(nil)
	_ store.PluginStore      = (*Store)(nil)
	_ store.CandidateFinder  = (*Store)(nil)
	_ store.Store            = (*Store)(nil)
)

type key struct {
	tenant string
	id     string
}

// Store is an in-memory store. Values are deep-copied on the way in and
// out so callers never share state with the store.
type Store struct {
	mu           sync.RWMutex
	sources      map[key]*store.Source
	integrations map[key]*store.Integration
	plugins      map[key]*store.Plugin
	now          func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		sources:      make(map[key]*store.Source),
		integrations: make(map[key]*store.Integration),
		plugins:      make(map[key]*store.Plugin),
		now:          time.Now,
	}
}

// CreateSource stores a new source.
func (s *Store) CreateSource(ctx context.Context, src *store.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{src.Tenant, src.ID}
	if _, exists := s.sources[k]; exists {
		return fmt.Errorf("source already exists: %s", src.ID)
	}
	src.CreatedAt = s.now().UTC()
	src.UpdatedAt = src.CreatedAt
	s.sources[k] = store.Clone(src)
	return nil
}

// GetSource retrieves a source.
func (s *Store) GetSource(ctx context.Context, tenant, id string) (*store.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[key{tenant, id}]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "source", ID: id}
	}
	return store.Clone(src), nil
}

// UpdateSource replaces an existing source.
func (s *Store) UpdateSource(ctx context.Context, src *store.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{src.Tenant, src.ID}
	existing, ok := s.sources[k]
	if !ok {
		return &errors.NotFoundError{Resource: "source", ID: src.ID}
	}
	src.CreatedAt = existing.CreatedAt
	src.UpdatedAt = s.now().UTC()
	s.sources[k] = store.Clone(src)
	return nil
}

// DeleteSource removes a source.
func (s *Store) DeleteSource(ctx context.Context, tenant, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{tenant, id}
	if _, ok := s.sources[k]; !ok {
		return &errors.NotFoundError{Resource: "source", ID: id}
	}
	delete(s.sources, k)
	return nil
}

// ListSources lists a tenant's sources ordered by creation time.
func (s *Store) ListSources(ctx context.Context, tenant string) ([]*store.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Source
	for k, src := range s.sources {
		if k.tenant == tenant {
			out = append(out, store.Clone(src))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateIntegration stores a new integration.
func (s *Store) CreateIntegration(ctx context.Context, in *store.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{in.Tenant, in.ID}
	if _, exists := s.integrations[k]; exists {
		return fmt.Errorf("integration already exists: %s", in.ID)
	}
	in.CreatedAt = s.now().UTC()
	in.UpdatedAt = in.CreatedAt
	s.integrations[k] = stripPopulated(in)
	return nil
}

// GetIntegration retrieves an integration.
func (s *Store) GetIntegration(ctx context.Context, tenant, id string) (*store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.integrations[key{tenant, id}]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "integration", ID: id}
	}
	return store.Clone(in), nil
}

// GetIntegrationByWebhookID retrieves an integration by its public webhook id.
func (s *Store) GetIntegrationByWebhookID(ctx context.Context, tenant, webhookID string) (*store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, in := range s.integrations {
		if k.tenant == tenant && in.WebhookID != "" && in.WebhookID == webhookID {
			return store.Clone(in), nil
		}
	}
	return nil, &errors.NotFoundError{Resource: "integration", ID: webhookID}
}

// UpdateIntegration replaces an existing integration.
func (s *Store) UpdateIntegration(ctx context.Context, in *store.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{in.Tenant, in.ID}
	existing, ok := s.integrations[k]
	if !ok {
		return &errors.NotFoundError{Resource: "integration", ID: in.ID}
	}
	in.CreatedAt = existing.CreatedAt
	in.UpdatedAt = s.now().UTC()
	s.integrations[k] = stripPopulated(in)
	return nil
}

// DeleteIntegration removes an integration.
func (s *Store) DeleteIntegration(ctx context.Context, tenant, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{tenant, id}
	if _, ok := s.integrations[k]; !ok {
		return &errors.NotFoundError{Resource: "integration", ID: id}
	}
	delete(s.integrations, k)
	return nil
}

// ListIntegrations lists a tenant's integrations ordered by creation time.
func (s *Store) ListIntegrations(ctx context.Context, tenant string, filter store.IntegrationFilter) ([]*store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Integration
	for k, in := range s.integrations {
		if k.tenant != tenant {
			continue
		}
		if filter.Active != nil && in.Active != *filter.Active {
			continue
		}
		out = append(out, store.Clone(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SavePlugin creates or replaces a plugin.
func (s *Store) SavePlugin(ctx context.Context, p *store.Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{p.Tenant, p.ID}
	if existing, ok := s.plugins[k]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = s.now().UTC()
	}
	s.plugins[k] = store.Clone(p)
	return nil
}

// GetPlugin retrieves a plugin.
func (s *Store) GetPlugin(ctx context.Context, tenant, id string) (*store.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plugins[key{tenant, id}]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "plugin", ID: id}
	}
	return store.Clone(p), nil
}

// DeletePlugin removes a plugin.
func (s *Store) DeletePlugin(ctx context.Context, tenant, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.plugins, key{tenant, id})
	return nil
}

// FindPluginCandidates returns the tenant's plugins with at least one
// coarse-matching subscription.
func (s *Store) FindPluginCandidates(ctx context.Context, ev event.PlatformEvent) ([]*store.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Plugin
	for k, p := range s.plugins {
		if k.tenant != ev.Tenant {
			continue
		}
		for _, sub := range p.Subscriptions {
			if sub.CoarseMatches(ev) {
				out = append(out, store.Clone(p))
				break
			}
		}
	}
	return out, nil
}

// FindIntegrationCandidates returns the tenant's active event-triggered
// integrations whose trigger details coarse-match ev.
func (s *Store) FindIntegrationCandidates(ctx context.Context, ev event.PlatformEvent) ([]*store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Integration
	for k, in := range s.integrations {
		if k.tenant != ev.Tenant || !in.IsEventTriggered() {
			continue
		}
		if in.TriggerMatch().CoarseMatches(ev) {
			out = append(out, store.Clone(in))
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func stripPopulated(in *store.Integration) *store.Integration {
	c := store.Clone(in)
	c.Populated = nil
	return c
}
