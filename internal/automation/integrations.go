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

	"github.com/google/uuid"

	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/pkg/errors"
)

// IntegrationInput is the caller-supplied part of a new integration. The
// kind, ids and timestamps are always computed.
type IntegrationInput struct {
	Trigger          store.Endpoint  `json:"trigger"`
	Target           store.Endpoint  `json:"target"`
	DataManipulation []pipeline.Step `json:"dataManipulation,omitempty"`

	// Active defaults to true.
	Active *bool `json:"active,omitempty"`
}

// IntegrationPatch changes the fields that are set.
type IntegrationPatch struct {
	Trigger          *store.Endpoint  `json:"trigger,omitempty"`
	Target           *store.Endpoint  `json:"target,omitempty"`
	DataManipulation *[]pipeline.Step `json:"dataManipulation,omitempty"`
	Active           *bool            `json:"active,omitempty"`
}

// CreateIntegration validates and stores a new integration owned by owner.
func (s *Service) CreateIntegration(ctx context.Context, tenant, owner string, input IntegrationInput) (*store.Integration, error) {
	in := &store.Integration{
		ID:               uuid.NewString(),
		Tenant:           tenant,
		Trigger:          input.Trigger,
		Target:           input.Target,
		DataManipulation: input.DataManipulation,
		Active:           input.Active == nil || *input.Active,
		Owner:            owner,
		WebhookID:        uuid.NewString(),
	}
	if err := s.validateIntegration(ctx, in); err != nil {
		return nil, err
	}
	if err := s.store.CreateIntegration(ctx, in); err != nil {
		return nil, err
	}

	s.logger.Info("integration created",
		slog.String(log.TenantKey, tenant),
		slog.String(log.IntegrationIDKey, in.ID),
		slog.String("kind", in.Kind[0]+"->"+in.Kind[1]))
	return in, nil
}

// GetIntegration returns an integration, with its trigger and target
// sources attached when populate is set. Reads go through the cache.
func (s *Service) GetIntegration(ctx context.Context, tenant, id string, populate bool) (*store.Integration, error) {
	if s.cache != nil {
		if in, ok := s.cache.Get(ctx, tenant, id, populate); ok {
			return in, nil
		}
	}

	in, err := s.store.GetIntegration(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if populate {
		in.Populated = &store.PopulatedSources{
			Trigger: s.lookupSource(ctx, tenant, in.Trigger.Source),
			Target:  s.lookupSource(ctx, tenant, in.Target.Source),
		}
	}

	if s.cache != nil {
		s.cache.Put(ctx, in, populate)
	}
	return in, nil
}

// ListIntegrations returns the tenant's integrations.
func (s *Service) ListIntegrations(ctx context.Context, tenant string, filter store.IntegrationFilter) ([]*store.Integration, error) {
	return s.store.ListIntegrations(ctx, tenant, filter)
}

// UpdateIntegration applies patch, re-validates both endpoints and
// recomputes the kind.
func (s *Service) UpdateIntegration(ctx context.Context, tenant, id string, patch IntegrationPatch) (*store.Integration, error) {
	in, err := s.store.GetIntegration(ctx, tenant, id)
	if err != nil {
		return nil, err
	}

	if patch.Trigger != nil {
		in.Trigger = *patch.Trigger
	}
	if patch.Target != nil {
		in.Target = *patch.Target
	}
	if patch.DataManipulation != nil {
		in.DataManipulation = *patch.DataManipulation
	}
	if patch.Active != nil {
		in.Active = *patch.Active
	}

	if err := s.validateIntegration(ctx, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateIntegration(ctx, in); err != nil {
		return nil, err
	}
	s.invalidate(ctx, tenant, id)

	s.logger.Info("integration updated", slog.String(log.TenantKey, tenant), slog.String(log.IntegrationIDKey, id))
	return in, nil
}

// DeleteIntegration removes an integration.
func (s *Service) DeleteIntegration(ctx context.Context, tenant, id string) error {
	if err := s.store.DeleteIntegration(ctx, tenant, id); err != nil {
		return err
	}
	s.invalidate(ctx, tenant, id)

	s.logger.Info("integration deleted", slog.String(log.TenantKey, tenant), slog.String(log.IntegrationIDKey, id))
	return nil
}

// validateIntegration checks steps and both endpoints and sets in.Kind from
// the resolved sources. Undeclared endpoint details are stripped.
func (s *Service) validateIntegration(ctx context.Context, in *store.Integration) error {
	if err := pipeline.ValidateSteps(s.executor.Evaluator(), in.DataManipulation); err != nil {
		return err
	}

	trigger, err := s.validator.ValidateTrigger(ctx, in.Tenant, &in.Trigger)
	if err != nil {
		return err
	}
	target, err := s.validator.ValidateTarget(ctx, in.Tenant, &in.Target)
	if err != nil {
		return err
	}

	in.Kind = [2]string{trigger.Kind, target.Kind}
	return nil
}

func (s *Service) lookupSource(ctx context.Context, tenant, id string) *store.Source {
	src, err := s.store.GetSource(ctx, tenant, id)
	if err != nil {
		if !errors.IsNotFound(err) {
			s.logger.Warn("failed to populate source", slog.String(log.TenantKey, tenant), slog.String("source_id", id), log.Error(err))
		}
		return nil
	}
	return src
}

func (s *Service) invalidate(ctx context.Context, tenant, id string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, tenant, id)
	}
}

// invalidateBySource drops cached reads of every integration that uses
// the source, since populated reads embed it.
func (s *Service) invalidateBySource(ctx context.Context, tenant, sourceID string) {
	if s.cache == nil {
		return
	}
	all, err := s.store.ListIntegrations(ctx, tenant, store.IntegrationFilter{})
	if err != nil {
		s.logger.Warn("failed to list integrations for cache invalidation", slog.String(log.TenantKey, tenant), log.Error(err))
		return
	}
	for _, in := range all {
		if in.Trigger.Source == sourceID || in.Target.Source == sourceID {
			s.cache.Invalidate(ctx, tenant, in.ID)
		}
	}
}
