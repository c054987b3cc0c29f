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

// Package automation implements the integration and source controllers:
// validated CRUD with cache invalidation and credential rotation, plus
// webhook-triggered integration runs.
package automation

import (
	"context"
	"log/slog"

	"github.com/tombee/switchyard/internal/cache"
	"github.com/tombee/switchyard/internal/dispatch"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/internal/vault"
	"github.com/tombee/switchyard/pkg/errors"
)

// Store is the persistence the controllers need.
type Store interface {
	store.SourceStore
	store.IntegrationStore
}

// Dispatcher delivers a payload to a target.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenant string, payload map[string]any, target store.Endpoint) (*dispatch.Result, error)
}

// Config holds the service's collaborators.
type Config struct {
	Store      Store
	Validator  *source.Validator
	Executor   *pipeline.Executor
	Dispatcher Dispatcher
	Vault      vault.Vault

	// Rotator defaults to one built on Vault.
	Rotator *vault.Rotator

	// Cache is optional. Without it every read goes to the store.
	Cache *cache.IntegrationCache

	// MaxDepth bounds apiWebhook re-entry. Default pipeline.DefaultMaxDepth.
	MaxDepth int

	Logger *slog.Logger
}

// Service manages integrations and sources and runs webhook triggers.
type Service struct {
	store      Store
	validator  *source.Validator
	executor   *pipeline.Executor
	dispatcher Dispatcher
	vault      vault.Vault
	rotator    *vault.Rotator
	cache      *cache.IntegrationCache
	logger     *slog.Logger
}

// New creates a Service and installs it as the executor's apiWebhook
// resolver.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, &errors.ConfigError{Key: "automation.store", Reason: "a store is required"}
	case cfg.Validator == nil:
		return nil, &errors.ConfigError{Key: "automation.validator", Reason: "a validator is required"}
	case cfg.Executor == nil:
		return nil, &errors.ConfigError{Key: "automation.executor", Reason: "an executor is required"}
	case cfg.Dispatcher == nil:
		return nil, &errors.ConfigError{Key: "automation.dispatcher", Reason: "a dispatcher is required"}
	case cfg.Vault == nil:
		return nil, &errors.ConfigError{Key: "automation.vault", Reason: "a vault is required"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	rotator := cfg.Rotator
	if rotator == nil {
		rotator = vault.NewRotator(cfg.Vault, logger)
	}

	s := &Service{
		store:      cfg.Store,
		validator:  cfg.Validator,
		executor:   cfg.Executor,
		dispatcher: cfg.Dispatcher,
		vault:      cfg.Vault,
		rotator:    rotator,
		cache:      cfg.Cache,
		logger:     log.WithComponent(logger, "automation"),
	}
	cfg.Executor.RegisterWebhookInvoker(s, cfg.MaxDepth)
	return s, nil
}

// Wait blocks until background credential revocations finish.
func (s *Service) Wait() {
	s.rotator.Wait()
}
