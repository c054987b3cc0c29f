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

// Package hook reacts to platform events: it delivers them to matching
// plugin hook endpoints and runs integrations whose trigger is the
// platform webhook.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/switchyard/internal/condition"
	"github.com/tombee/switchyard/internal/dispatch"
	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/internal/tracing"
	"github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/httpclient"
)

// EventHeader names the event on hook deliveries as "kind/eventName".
const EventHeader = "X-Switchyard-Event"

// Executor runs data-manipulation steps.
type Executor interface {
	Execute(ctx context.Context, tenant string, payload map[string]any, steps []pipeline.Step) (pipeline.Outcome, error)
}

// Dispatcher delivers a payload to a target.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenant string, payload map[string]any, target store.Endpoint) (*dispatch.Result, error)
}

// Config holds the subscriber's collaborators.
type Config struct {
	Candidates store.CandidateFinder
	Executor   Executor
	Dispatcher Dispatcher
	Conditions *condition.Evaluator
	Tokens     *TokenCache

	// HTTPClient posts to hook endpoints. Default: pkg/httpclient without
	// retries.
	HTTPClient *http.Client

	// MaxConcurrency caps concurrent deliveries and runs per event.
	// Zero means no cap.
	MaxConcurrency int

	Logger *slog.Logger
}

// Subscriber handles published events.
type Subscriber struct {
	candidates     store.CandidateFinder
	executor       Executor
	dispatcher     Dispatcher
	conditions     *condition.Evaluator
	tokens         *TokenCache
	http           *http.Client
	maxConcurrency int
	logger         *slog.Logger
}

// New creates a Subscriber.
func New(cfg Config) (*Subscriber, error) {
	switch {
	case cfg.Candidates == nil:
		return nil, &errors.ConfigError{Key: "hooks.candidates", Reason: "a candidate finder is required"}
	case cfg.Executor == nil:
		return nil, &errors.ConfigError{Key: "hooks.executor", Reason: "an executor is required"}
	case cfg.Dispatcher == nil:
		return nil, &errors.ConfigError{Key: "hooks.dispatcher", Reason: "a dispatcher is required"}
	case cfg.Tokens == nil:
		return nil, &errors.ConfigError{Key: "hooks.tokens", Reason: "a token cache is required"}
	case cfg.MaxConcurrency < 0:
		return nil, &errors.ConfigError{Key: "hooks.max_concurrency", Reason: "must be >= 0"}
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hcCfg := httpclient.DefaultConfig()
		hcCfg.RetryAttempts = 0
		var err error
		hc, err = httpclient.New(hcCfg)
		if err != nil {
			return nil, err
		}
	}
	conditions := cfg.Conditions
	if conditions == nil {
		conditions = condition.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}

	return &Subscriber{
		candidates:     cfg.Candidates,
		executor:       cfg.Executor,
		dispatcher:     cfg.Dispatcher,
		conditions:     conditions,
		tokens:         cfg.Tokens,
		http:           hc,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         log.WithComponent(logger, "hook-subscriber"),
	}, nil
}

// Attach subscribes s to bus and returns the unsubscribe function.
func (s *Subscriber) Attach(bus *event.Bus) func() {
	return bus.Subscribe(s.Handle)
}

// Handle processes one event. It returns once every delivery and
// integration run for the event has finished.
func (s *Subscriber) Handle(ctx context.Context, ev event.PlatformEvent) {
	ctx, span := tracing.Start(ctx, "hook.handle",
		attribute.String("tenant", ev.Tenant),
		attribute.String("event", ev.Kind+"/"+ev.EventName))
	defer span.End()

	logger := log.WithTenant(s.logger, ev.Tenant).With(
		slog.String(log.EventKey, ev.Kind+"/"+ev.EventName),
		slog.String("event_id", ev.ID))

	var (
		plugins      []*store.Plugin
		integrations []*store.Integration
		g            errgroup.Group
	)
	g.Go(func() error {
		var err error
		plugins, err = s.candidates.FindPluginCandidates(ctx, ev)
		if err != nil {
			return fmt.Errorf("plugin candidates: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		integrations, err = s.candidates.FindIntegrationCandidates(ctx, ev)
		if err != nil {
			return fmt.Errorf("integration candidates: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("failed to load hook candidates", log.Error(err))
	}

	p := pool.New()
	if s.maxConcurrency > 0 {
		p = p.WithMaxGoroutines(s.maxConcurrency)
	}

	for _, plugin := range plugins {
		for _, hookURL := range MatchedHooks(plugin, ev) {
			p.Go(func() {
				s.isolate(logger, "deliver", func() { s.deliver(ctx, logger, plugin, hookURL, ev) })
			})
		}
	}

	for _, in := range integrations {
		if !TriggerMatches(in, ev) {
			continue
		}
		p.Go(func() {
			s.isolate(logger, "integration", func() { s.run(ctx, logger, in, ev) })
		})
	}

	p.Wait()
}

// MatchedHooks returns the distinct hook URLs of p's subscriptions that
// match ev, in subscription order.
func MatchedHooks(p *store.Plugin, ev event.PlatformEvent) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, sub := range p.Subscriptions {
		if sub.HookURL == "" || seen[sub.HookURL] || !sub.Matches(ev) {
			continue
		}
		seen[sub.HookURL] = true
		urls = append(urls, sub.HookURL)
	}
	return urls
}

// TriggerMatches reports whether in is an active platform webhook
// integration of ev's tenant whose trigger details match ev.
func TriggerMatches(in *store.Integration, ev event.PlatformEvent) bool {
	return in.Tenant == ev.Tenant && in.IsEventTriggered() && in.TriggerMatch().Matches(ev)
}

func (s *Subscriber) isolate(logger *slog.Logger, task string, f func()) {
	var pc panics.Catcher
	pc.Try(f)
	if r := pc.Recovered(); r != nil {
		logger.Error("hook task panicked",
			slog.String("task", task),
			slog.String("panic", fmt.Sprint(r.Value)),
			slog.String("stack", string(r.Stack)))
	}
}

// run executes one matched integration. Errors are logged, never returned.
func (s *Subscriber) run(ctx context.Context, logger *slog.Logger, in *store.Integration, ev event.PlatformEvent) {
	logger = logger.With(slog.String(log.IntegrationIDKey, in.ID))
	snapshot := ev.Snapshot()

	if cond, _ := in.Trigger.Details["condition"].(string); cond != "" {
		ok, err := s.conditions.Evaluate(cond, snapshot)
		if err != nil {
			logger.Warn("integration condition failed", log.Error(err))
			return
		}
		if !ok {
			logger.Debug("integration condition not met")
			return
		}
	}

	outcome, err := s.executor.Execute(ctx, in.Tenant, snapshot, in.DataManipulation)
	if err != nil {
		logger.Error("data manipulation failed", log.Error(err))
		return
	}
	if outcome.Aborted {
		logger.Debug("integration aborted")
		return
	}

	if _, err := s.dispatcher.Dispatch(ctx, in.Tenant, outcome.Payload, in.Target); err != nil {
		logger.Error("target dispatch failed", log.Error(err))
		return
	}
	logger.Debug("integration dispatched")
}

// deliver posts ev to one hook URL, refreshing the plugin token and
// retrying once if the endpoint rejects it.
func (s *Subscriber) deliver(ctx context.Context, logger *slog.Logger, p *store.Plugin, hookURL string, ev event.PlatformEvent) {
	logger = logger.With(slog.String(log.PluginIDKey, p.ID))
	start := time.Now()

	body, err := json.Marshal(ev)
	if err != nil {
		metrics.RecordHookDelivery("error")
		logger.Error("cannot encode event", log.Error(err))
		return
	}

	outcome := "ok"
	status, err := s.post(ctx, p, hookURL, ev, body)
	if err == nil && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		s.tokens.Invalidate(p.Tenant, p.ID)
		outcome = "retried"
		status, err = s.post(ctx, p, hookURL, ev, body)
	}

	switch {
	case err != nil:
		outcome = "error"
		logger.Warn("hook delivery failed", slog.String("hook_url", hookURL), log.Error(err))
	case status < 200 || status >= 300:
		outcome = "error"
		logger.Warn("hook rejected event", slog.String("hook_url", hookURL), slog.Int("status", status))
	default:
		logger.Debug("hook delivered",
			slog.String("hook_url", hookURL),
			slog.Int64(log.DurationKey, time.Since(start).Milliseconds()))
	}
	metrics.RecordHookDelivery(outcome)
}

func (s *Subscriber) post(ctx context.Context, p *store.Plugin, hookURL string, ev event.PlatformEvent, body []byte) (int, error) {
	token, err := s.tokens.Token(p.Tenant, p.ID)
	if err != nil {
		return 0, fmt.Errorf("sign plugin token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(EventHeader, ev.Kind+"/"+ev.EventName)

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, nil
}
