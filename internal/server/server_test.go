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

package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/internal/automation"
	"github.com/tombee/switchyard/internal/config"
	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/internal/store"
)

const tenant = "acme"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Store.Backend = config.StoreMemory
	cfg.Vault.Backend = config.VaultMemory
	cfg.Cache.Backend = config.CacheRedis
	cfg.Cache.RedisAddr = miniredis.RunT(t).Addr()
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Tracing.Enabled = false
	return cfg
}

// recorder captures requests made to a target endpoint.
type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(req.Body).Decode(&body)
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (r *recorder) received() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.bodies...)
}

func TestServer_EventDrivenIntegration(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	target := httptest.NewServer(rec)
	defer target.Close()

	s, err := New(ctx, testConfig(t), Options{Version: "test"})
	require.NoError(t, err)

	platformSrc, err := s.service.CreateSource(ctx, tenant, automation.SourceInput{Kind: "platform", Name: "Platform"})
	require.NoError(t, err)
	crm, err := s.service.CreateSource(ctx, tenant, automation.SourceInput{
		Kind:     "http",
		Name:     "CRM",
		Metadata: map[string]any{"baseUrl": target.URL},
		Secrets:  map[string]any{"type": "bearer", "token": "t0k"},
	})
	require.NoError(t, err)

	_, err = s.service.CreateIntegration(ctx, tenant, "owner-1", automation.IntegrationInput{
		Trigger: store.Endpoint{
			Source:    platformSrc.ID,
			Operation: source.OpWebhook,
			Details:   map[string]any{"kind": "ticket", "eventName": "created"},
		},
		Target: store.Endpoint{
			Source:    crm.ID,
			Operation: source.OpMakeRequest,
			Details:   map[string]any{"url": "/hook"},
		},
		DataManipulation: []pipeline.Step{
			{Clean: true, Map: map[string]any{"ticket": ".metadata.id"}},
		},
	})
	require.NoError(t, err)

	_, err = s.bus.Publish(ctx, event.PlatformEvent{
		Tenant:    tenant,
		Source:    "helpdesk",
		Kind:      "ticket",
		EventName: "created",
		Metadata:  map[string]any{"id": "T-1"},
	})
	require.NoError(t, err)
	s.bus.Wait()

	assert.Equal(t, []map[string]any{{"ticket": "T-1"}}, rec.received())
	require.NoError(t, s.Shutdown(ctx))
}

func TestServer_StartAndShutdown(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, testConfig(t), Options{Version: "1.2.3"})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/v1/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Shutdown(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown store", func(c *config.Config) { c.Store.Backend = "mongo" }},
		{"unknown cache", func(c *config.Config) { c.Cache.Backend = "memcached" }},
		{"unknown vault", func(c *config.Config) { c.Vault.Backend = "hsm" }},
		{"missing fixtures", func(c *config.Config) { c.Platform.FixturesPath = "/nonexistent/fixtures.yaml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, Options{})
			assert.Error(t, err)
		})
	}
}
