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

// Package api exposes integrations, sources, webhook triggers and the
// internal pipeline and event endpoints over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/switchyard/internal/auth"
	"github.com/tombee/switchyard/internal/automation"
	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/pkg/errors"
)

// Config holds the router's collaborators.
type Config struct {
	Automation *automation.Service
	Events     event.Publisher
	Auth       *auth.Middleware

	// RateLimiter guards the trigger endpoints. Optional.
	RateLimiter *auth.RateLimiter

	// Metrics serves /metrics. Default: promhttp.Handler().
	Metrics http.Handler

	Version string
	Logger  *slog.Logger
}

// Handler serves the API.
type Handler struct {
	svc     *automation.Service
	events  event.Publisher
	version string
	logger  *slog.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg Config) (*mux.Router, error) {
	switch {
	case cfg.Automation == nil:
		return nil, &errors.ConfigError{Key: "api.automation", Reason: "an automation service is required"}
	case cfg.Events == nil:
		return nil, &errors.ConfigError{Key: "api.events", Reason: "an event publisher is required"}
	case cfg.Auth == nil:
		return nil, &errors.ConfigError{Key: "api.auth", Reason: "an auth middleware is required"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	h := &Handler{
		svc:     cfg.Automation,
		events:  cfg.Events,
		version: cfg.Version,
		logger:  log.WithComponent(logger, "api"),
	}

	privileged := func(fn http.HandlerFunc) http.Handler {
		return cfg.Auth.RequireJWT(cfg.Auth.RequirePrivileged(fn))
	}
	trigger := func(fn http.HandlerFunc) http.Handler {
		var next http.Handler = fn
		if cfg.RateLimiter != nil {
			next = cfg.RateLimiter.Middleware(next)
		}
		return cfg.Auth.RequireJWT(next)
	}
	internal := func(fn http.HandlerFunc) http.Handler {
		return cfg.Auth.RequireInternal(fn)
	}

	r := mux.NewRouter()
	r.Use(log.HTTPMiddleware(h.logger))

	r.HandleFunc("/v1/health", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	r.Handle("/v1/integrations", privileged(h.handleListIntegrations)).Methods(http.MethodGet)
	r.Handle("/v1/integrations", privileged(h.handleCreateIntegration)).Methods(http.MethodPost)
	r.Handle("/v1/integrations/{id}", privileged(h.handleGetIntegration)).Methods(http.MethodGet)
	r.Handle("/v1/integrations/{id}", privileged(h.handleUpdateIntegration)).Methods(http.MethodPatch)
	r.Handle("/v1/integrations/{id}", privileged(h.handleDeleteIntegration)).Methods(http.MethodDelete)

	r.Handle("/v1/sources", privileged(h.handleListSources)).Methods(http.MethodGet)
	r.Handle("/v1/sources", privileged(h.handleCreateSource)).Methods(http.MethodPost)
	r.Handle("/v1/sources/{id}", privileged(h.handleGetSource)).Methods(http.MethodGet)
	r.Handle("/v1/sources/{id}", privileged(h.handleUpdateSource)).Methods(http.MethodPatch)
	r.Handle("/v1/sources/{id}", privileged(h.handleDeleteSource)).Methods(http.MethodDelete)

	r.Handle("/v1/integrations/{id}/trigger", trigger(h.handleTrigger)).Methods(http.MethodPost)
	r.Handle("/v1/webhooks/{webhookId}", trigger(h.handleWebhook)).Methods(http.MethodPost)

	r.Handle("/internal/v1/data-manipulation", internal(h.handleDataManipulation)).Methods(http.MethodPost)
	r.Handle("/internal/v1/events", internal(h.handlePublishEvent)).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found", Type: "not_found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Type: "validation"})
	})
	return r, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}
