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

package automation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/pkg/errors"
)

// SourceInput describes a new source. Secrets go to the vault and are
// never stored on the source or returned.
type SourceInput struct {
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	Labels   []string       `json:"labels,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Secrets  map[string]any `json:"secrets,omitempty"`
	Plugin   string         `json:"plugin,omitempty"`
}

// SourcePatch changes the fields that are set. Non-nil Secrets rotate the
// credentials; an empty map removes them.
type SourcePatch struct {
	Name     *string        `json:"name,omitempty"`
	Labels   *[]string      `json:"labels,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Secrets  map[string]any `json:"secrets,omitempty"`
}

// CreateSource validates the metadata, stores any secrets in the vault and
// saves the source.
func (s *Service) CreateSource(ctx context.Context, tenant string, input SourceInput) (*store.Source, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, &errors.ValidationError{Field: "name", Message: "name is required"}
	}
	if input.Metadata == nil {
		input.Metadata = map[string]any{}
	}
	if err := source.ValidateMetadata(input.Kind, input.Metadata); err != nil {
		return nil, err
	}

	src := &store.Source{
		ID:       uuid.NewString(),
		Tenant:   tenant,
		Kind:     input.Kind,
		Name:     input.Name,
		Labels:   input.Labels,
		Metadata: input.Metadata,
		Plugin:   input.Plugin,
	}

	if len(input.Secrets) > 0 {
		authID, err := s.vault.Set(ctx, tenant, src.Kind, input.Secrets)
		if err != nil {
			return nil, err
		}
		src.Authentication = authID
	}

	if err := s.store.CreateSource(ctx, src); err != nil {
		if src.Authentication != "" {
			s.rotator.Revoke(tenant, src.Kind, src.Authentication)
		}
		return nil, err
	}

	s.logger.Info("source created",
		slog.String(log.TenantKey, tenant),
		slog.String("source_id", src.ID),
		slog.String(log.SourceKindKey, src.Kind))
	return src, nil
}

// GetSource returns a source.
func (s *Service) GetSource(ctx context.Context, tenant, id string) (*store.Source, error) {
	return s.store.GetSource(ctx, tenant, id)
}

// ListSources returns the tenant's sources.
func (s *Service) ListSources(ctx context.Context, tenant string) ([]*store.Source, error) {
	return s.store.ListSources(ctx, tenant)
}

// UpdateSource applies patch. New secrets are written first, the source is
// persisted with the new credential id, then the old secret is revoked in
// the background. If persisting fails the new secret is revoked instead.
func (s *Service) UpdateSource(ctx context.Context, tenant, id string, patch SourcePatch) (*store.Source, error) {
	src, err := s.store.GetSource(ctx, tenant, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, &errors.ValidationError{Field: "name", Message: "name cannot be empty"}
		}
		src.Name = *patch.Name
	}
	if patch.Labels != nil {
		src.Labels = *patch.Labels
	}
	if patch.Metadata != nil {
		if err := source.ValidateMetadata(src.Kind, patch.Metadata); err != nil {
			return nil, err
		}
		src.Metadata = patch.Metadata
	}

	oldAuth := src.Authentication
	switch {
	case patch.Secrets == nil:
		err = s.store.UpdateSource(ctx, src)
	case len(patch.Secrets) == 0:
		src.Authentication = ""
		if err = s.store.UpdateSource(ctx, src); err == nil && oldAuth != "" {
			s.rotator.Revoke(tenant, src.Kind, oldAuth)
		}
	default:
		_, err = s.rotator.Rotate(ctx, tenant, src.Kind, oldAuth, patch.Secrets, func(newID string) error {
			src.Authentication = newID
			return s.store.UpdateSource(ctx, src)
		})
	}
	if err != nil {
		return nil, err
	}
	s.invalidateBySource(ctx, tenant, id)

	s.logger.Info("source updated",
		slog.String(log.TenantKey, tenant),
		slog.String("source_id", id),
		slog.Bool("credentials_rotated", src.Authentication != oldAuth))
	return src, nil
}

// DeleteSource removes a source and revokes its secret in the background.
func (s *Service) DeleteSource(ctx context.Context, tenant, id string) error {
	src, err := s.store.GetSource(ctx, tenant, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSource(ctx, tenant, id); err != nil {
		return err
	}
	if src.Authentication != "" {
		s.rotator.Revoke(tenant, src.Kind, src.Authentication)
	}
	s.invalidateBySource(ctx, tenant, id)

	s.logger.Info("source deleted", slog.String(log.TenantKey, tenant), slog.String("source_id", id))
	return nil
}
