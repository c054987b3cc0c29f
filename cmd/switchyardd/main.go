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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/server"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.StringP("config", "c", "", "Path to the YAML configuration file")
		addr        = flag.String("addr", "", "Address to listen on")
		storeType   = flag.String("store", "", "Storage backend (memory, sqlite, postgres)")
		databaseURL = flag.String("database-url", "", "PostgreSQL connection URL")
		cacheType   = flag.String("cache", "", "Integration cache backend (none, lru, redis)")
		fixtures    = flag.String("platform-fixtures", "", "YAML fixtures for the in-process platform")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("switchyardd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", log.Error(err))
		os.Exit(1)
	}

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *storeType != "" {
		cfg.Store.Backend = *storeType
	}
	if *databaseURL != "" {
		cfg.Store.ConnectionString = *databaseURL
	}
	if *cacheType != "" {
		cfg.Cache.Backend = *cacheType
	}
	if *fixtures != "" {
		cfg.Platform.FixturesPath = *fixtures
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	logger = log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := server.New(ctx, cfg, server.Options{Version: version, Logger: logger})
	if err != nil {
		logger.Error("Failed to create server", log.Error(err))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := s.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", log.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", log.Error(err))
			_ = s.Shutdown(context.Background())
			os.Exit(1)
		}
	}
}
