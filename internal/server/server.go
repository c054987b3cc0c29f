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

// Package server wires the switchyard daemon together from its
// configuration and runs the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tombee/switchyard/internal/api"
	"github.com/tombee/switchyard/internal/auth"
	"github.com/tombee/switchyard/internal/automation"
	"github.com/tombee/switchyard/internal/condition"
	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/dispatch"
	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/hook"
	"github.com/tombee/switchyard/internal/jq"
	"github.com/tombee/switchyard/internal/llm"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/internal/tracing"
	"github.com/tombee/switchyard/internal/transport"
)

// limiterIdle is how long an idle tenant keeps its rate limiter.
const limiterIdle = 10 * time.Minute

// Options carries build metadata and an optional logger.
type Options struct {
	Version string
	Logger  *slog.Logger
}

// Server is a running switchyard daemon.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store       store.Store
	closers     []io.Closer
	bus         *event.Bus
	service     *automation.Service
	unsubscribe func()
	limiter     *auth.RateLimiter
	tracer      *tracing.Provider
	handler     http.Handler

	httpServer *http.Server
	stopCh     chan struct{}
}

// New builds every component described by cfg. Resources opened before a
// failure are released.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Server, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	s := &Server{
		cfg:    cfg,
		logger: log.WithComponent(logger, "server"),
		stopCh: make(chan struct{}),
	}
	defer func() {
		if err != nil {
			_ = s.release(context.Background())
		}
	}()

	s.tracer, err = tracing.Setup(ctx, cfg.Tracing, "switchyard", opts.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	s.store, err = openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.store)

	integrationCache, cacheCloser, err := openCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	if cacheCloser != nil {
		s.closers = append(s.closers, cacheCloser)
	}

	secrets, err := openVault(cfg.Vault)
	if err != nil {
		return nil, err
	}

	directory, err := openPlatform(cfg.Platform)
	if err != nil {
		return nil, err
	}

	evaluator := jq.NewEvaluator(cfg.Pipeline.ExpressionTimeout, cfg.Pipeline.MaxInputSize, cfg.Pipeline.ExpressionCacheSize)
	executor := pipeline.NewExecutor(evaluator, logger)
	executor.RegisterDirectory(directory)

	sender, err := transport.New(transport.Config{
		Timeout:          cfg.Targets.HTTPTimeout,
		MaxResponseBytes: cfg.Targets.MaxResponseBytes,
	})
	if err != nil {
		return nil, err
	}
	chat, err := llm.NewClient(cfg.Targets.ChatTimeout)
	if err != nil {
		return nil, err
	}

	s.bus = event.NewBus(logger)
	dispatcher, err := dispatch.New(dispatch.Config{
		Sources:   s.store,
		Vault:     secrets,
		Transport: sender,
		Chat:      chat,
		Platform:  directory,
		Events:    s.bus,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	conditions := condition.New()
	s.service, err = automation.New(automation.Config{
		Store:      s.store,
		Validator:  source.NewValidator(s.store, conditions),
		Executor:   executor,
		Dispatcher: dispatcher,
		Vault:      secrets,
		Cache:      integrationCache,
		MaxDepth:   cfg.Pipeline.MaxDepth,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	subscriber, err := hook.New(hook.Config{
		Candidates:     s.store,
		Executor:       executor,
		Dispatcher:     dispatcher,
		Conditions:     conditions,
		Tokens:         hook.NewTokenCache(cfg.Auth.JWT(), cfg.Auth.HookTokenTTL),
		MaxConcurrency: cfg.Hooks.MaxConcurrency,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	s.unsubscribe = subscriber.Attach(s.bus)

	s.limiter = auth.NewRateLimiter(cfg.RateLimit)
	s.handler, err = api.NewRouter(api.Config{
		Automation:  s.service,
		Events:      s.bus,
		Auth:        auth.NewMiddleware(cfg.Auth.JWT(), cfg.Auth.InternalToken, logger),
		RateLimiter: s.limiter,
		Version:     opts.Version,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	s.logger.Info("server initialized",
		slog.String("store", cfg.Store.Backend),
		slog.String("cache", cfg.Cache.Backend),
		slog.String("vault", cfg.Vault.Backend),
		slog.Bool("tracing", cfg.Tracing.Enabled))
	return s, nil
}

// Handler returns the HTTP API handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves the API on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if s.cfg.RateLimit.Enabled {
		go s.cleanupLimiter()
	}

	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) cleanupLimiter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.limiter.Cleanup(limiterIdle)
		case <-s.stopCh:
			return
		}
	}
}

// Shutdown stops accepting requests, drains in-flight event handlers and
// credential revocations, then closes storage and flushes traces.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	close(s.stopCh)

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.bus.Wait()
	s.service.Wait()

	if err := s.release(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (s *Server) release(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	return errors.Join(errs...)
}
