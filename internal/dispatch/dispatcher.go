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

// Package dispatch delivers a transformed payload to an integration's
// target. Each source kind has its own branch; operations without one are
// logged and skipped.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/llm"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/internal/platform"
	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/internal/tracing"
	"github.com/tombee/switchyard/internal/transport"
	"github.com/tombee/switchyard/internal/vault"
	"github.com/tombee/switchyard/pkg/errors"
)

// Defaults for events published by targets that do not name them.
const (
	DefaultEventSource = "integration"
	DefaultEventKind   = "custom"
)

// Result is what a target returned. HTTP targets fill all three fields;
// other kinds only set Body. An unhandled operation yields the zero value.
type Result struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// Sender sends HTTP target requests.
type Sender interface {
	Do(ctx context.Context, req *transport.Request, auth *transport.Auth) (*transport.Response, error)
}

// Config holds the dispatcher's collaborators. Only Sources is required;
// a branch whose collaborator is missing fails with a DispatchError.
type Config struct {
	Sources   store.SourceStore
	Vault     vault.Vault
	Transport Sender
	Chat      llm.ChatCompleter
	Platform  platform.Client
	Events    event.Publisher
	Logger    *slog.Logger
}

// Dispatcher routes payloads to targets.
type Dispatcher struct {
	sources   store.SourceStore
	vault     vault.Vault
	transport Sender
	chat      llm.ChatCompleter
	platform  platform.Client
	events    event.Publisher
	logger    *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Sources == nil {
		return nil, &errors.ConfigError{Key: "dispatch.sources", Reason: "a source store is required"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Dispatcher{
		sources:   cfg.Sources,
		vault:     cfg.Vault,
		transport: cfg.Transport,
		chat:      cfg.Chat,
		platform:  cfg.Platform,
		events:    cfg.Events,
		logger:    log.WithComponent(logger, "dispatcher"),
	}, nil
}

// call is one dispatch in flight.
type call struct {
	tenant  string
	source  *store.Source
	target  store.Endpoint
	payload map[string]any
	secrets map[string]any
}

// Dispatch sends payload to target on behalf of tenant.
func (d *Dispatcher) Dispatch(ctx context.Context, tenant string, payload map[string]any, target store.Endpoint) (res *Result, err error) {
	start := time.Now()
	kind := "unknown"
	outcome := "ok"

	ctx, span := tracing.Start(ctx, "dispatch",
		attribute.String("tenant", tenant),
		attribute.String("target.source", target.Source),
		attribute.String("target.operation", target.Operation))
	defer func() {
		if err != nil {
			outcome = "error"
		}
		metrics.RecordDispatch(kind, outcome, time.Since(start))
		tracing.End(span, err)
	}()

	src, err := d.sources.GetSource(ctx, tenant, target.Source)
	if err != nil {
		return nil, &errors.DispatchError{Operation: target.Operation, Message: "target source unavailable", Cause: err}
	}
	kind = src.Kind
	span.SetAttributes(attribute.String("target.kind", kind))

	c := &call{tenant: tenant, source: src, target: target, payload: payload}
	if src.Authentication != "" {
		if d.vault == nil {
			return nil, d.fail(c, "no credential vault configured", nil)
		}
		c.secrets, err = d.vault.Get(ctx, tenant, src.Kind, src.Authentication)
		if err != nil {
			return nil, d.fail(c, "credentials unavailable", err)
		}
	}

	decoded, err := source.DecodeTarget(src.Kind, target.Operation, overlay(c))
	if err != nil {
		return nil, err
	}

	logger := log.WithTenant(d.logger, tenant).With(
		slog.String(log.SourceKindKey, src.Kind),
		slog.String("operation", target.Operation))
	logger.Debug("dispatching target")

	switch t := decoded.(type) {
	case source.HTTPRequest:
		res, err = d.makeRequest(ctx, c, t)
	case source.ChatCompletion:
		res, err = d.chatCompletion(ctx, c, t)
	case source.EmitEvent:
		res, err = d.emitEvent(ctx, c, t)
	case source.CreateUser, source.UpdateUser, source.SetUserRoles, source.CreateEntity, source.UpdateEntity:
		res, err = d.platformCall(ctx, c, t)
	default:
		outcome = "unhandled"
		logger.Warn("no dispatcher for target operation")
		return &Result{}, nil
	}
	if err != nil {
		logger.Debug("dispatch failed", log.Error(err))
		return nil, err
	}
	log.Trace(ctx, logger, "dispatch result", slog.Any("result", res))
	return res, nil
}

func (d *Dispatcher) fail(c *call, message string, cause error) error {
	return &errors.DispatchError{Kind: c.source.Kind, Operation: c.target.Operation, Message: message, Cause: cause}
}

// publishResponse emits the event requested by a target's triggerResponse.
// A failed publish is logged; the target call itself already succeeded.
func (d *Dispatcher) publishResponse(ctx context.Context, c *call, tr *source.TriggerResponse, metadata map[string]any) {
	if tr == nil {
		return
	}
	if d.events == nil {
		d.logger.Warn("triggerResponse requested but no event publisher configured",
			slog.String(log.TenantKey, c.tenant))
		return
	}
	ev := event.PlatformEvent{
		Tenant:      c.tenant,
		Source:      tr.Source,
		Kind:        tr.Kind,
		EventName:   tr.EventName,
		Description: tr.Description,
		Metadata:    metadata,
	}
	if ev.Source == "" {
		ev.Source = DefaultEventSource
	}
	if ev.Kind == "" {
		ev.Kind = DefaultEventKind
	}
	if _, err := d.events.Publish(ctx, ev); err != nil {
		d.logger.Error("failed to publish trigger response",
			slog.String(log.TenantKey, c.tenant),
			slog.String(log.EventKey, ev.Kind+"/"+ev.EventName),
			log.Error(err))
	}
}
