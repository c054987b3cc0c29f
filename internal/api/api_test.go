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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/internal/auth"
	"github.com/tombee/switchyard/internal/automation"
	"github.com/tombee/switchyard/internal/condition"
	"github.com/tombee/switchyard/internal/dispatch"
	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/jq"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/internal/store/memory"
	"github.com/tombee/switchyard/internal/vault"
)

const internalToken = "internal-token-0123456789"

var jwtConfig = auth.JWTConfig{Secret: []byte("0123456789abcdef0123456789abcdef")}

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(_ context.Context, _ string, payload map[string]any, _ store.Endpoint) (*dispatch.Result, error) {
	return &dispatch.Result{Status: 200, Body: payload}, nil
}

type apiFixture struct {
	server *httptest.Server
	bus    *event.Bus

	mu     sync.Mutex
	events []event.PlatformEvent
}

func newFixture(t *testing.T, limiter *auth.RateLimiter) *apiFixture {
	t.Helper()
	st := memory.New()
	v, err := vault.NewEncrypted([]byte("master"), []byte("0123456789abcdef"), vault.NewMemoryRecords())
	require.NoError(t, err)

	svc, err := automation.New(automation.Config{
		Store:      st,
		Validator:  source.NewValidator(st, condition.New()),
		Executor:   pipeline.NewExecutor(jq.NewEvaluator(0, 0, 0), nil),
		Dispatcher: echoDispatcher{},
		Vault:      v,
	})
	require.NoError(t, err)

	f := &apiFixture{bus: event.NewBus(nil)}
	f.bus.Subscribe(func(_ context.Context, ev event.PlatformEvent) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})

	router, err := NewRouter(Config{
		Automation:  svc,
		Events:      f.bus,
		Auth:        auth.NewMiddleware(jwtConfig, internalToken, nil),
		RateLimiter: limiter,
		Version:     "test",
	})
	require.NoError(t, err)

	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	t.Cleanup(svc.Wait)
	return f
}

func token(t *testing.T, tenant string, roles ...string) string {
	t.Helper()
	claims := auth.Claims{Tenant: tenant, Roles: roles}
	claims.Subject = "user-1"
	tok, err := auth.GenerateJWT(claims, jwtConfig)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	status, body := f.do(t, http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegrationLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	admin := token(t, "acme", "admin")

	status, platform := f.do(t, http.MethodPost, "/v1/sources", admin, map[string]any{"kind": "platform", "name": "Platform"})
	require.Equal(t, http.StatusCreated, status)
	status, crm := f.do(t, http.MethodPost, "/v1/sources", admin, map[string]any{
		"kind":     "http",
		"name":     "CRM",
		"metadata": map[string]any{"baseUrl": "https://crm.test"},
		"secrets":  map[string]any{"type": "bearer", "token": "t"},
	})
	require.Equal(t, http.StatusCreated, status)

	status, created := f.do(t, http.MethodPost, "/v1/integrations", admin, map[string]any{
		"trigger": map[string]any{"source": platform["id"], "operation": "apiWebhook"},
		"target":  map[string]any{"source": crm["id"], "operation": "makeRequest", "details": map[string]any{"url": "/x"}},
		"dataManipulation": []any{
			map[string]any{"map": map[string]any{"greeting": `"hello " + .name`}},
		},
	})
	require.Equal(t, http.StatusCreated, status, created)
	id := created["id"].(string)
	assert.Equal(t, []any{"platform", "http"}, created["kind"])
	assert.Equal(t, "user-1", created["owner"])

	status, got := f.do(t, http.MethodGet, "/v1/integrations/"+id+"?populate=true", admin, nil)
	require.Equal(t, http.StatusOK, status)
	populated := got["populated"].(map[string]any)
	assert.Equal(t, "CRM", populated["target"].(map[string]any)["name"])

	status, list := f.do(t, http.MethodGet, "/v1/integrations?active=true", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list["integrations"], 1)

	status, res := f.do(t, http.MethodPost, "/v1/integrations/"+id+"/trigger", token(t, "acme"), map[string]any{"name": "ada"})
	require.Equal(t, http.StatusOK, status, res)
	assert.Equal(t, "hello ada", res["body"].(map[string]any)["greeting"])

	status, res = f.do(t, http.MethodPost, "/v1/webhooks/"+created["webhookId"].(string), token(t, "acme"), nil)
	require.Equal(t, http.StatusOK, status, res)

	status, _ = f.do(t, http.MethodPatch, "/v1/integrations/"+id, admin, map[string]any{"active": false})
	require.Equal(t, http.StatusOK, status)
	status, res = f.do(t, http.MethodPost, "/v1/integrations/"+id+"/trigger", token(t, "acme"), map[string]any{})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", res["type"])

	status, _ = f.do(t, http.MethodDelete, "/v1/integrations/"+id, admin, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodGet, "/v1/integrations/"+id, admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestErrorsAndAuth(t *testing.T) {
	f := newFixture(t, nil)
	admin := token(t, "acme", "owner")

	tests := []struct {
		name       string
		method     string
		path       string
		bearer     string
		body       any
		wantStatus int
		wantType   string
	}{
		{name: "no token", method: http.MethodGet, path: "/v1/sources", wantStatus: http.StatusUnauthorized, wantType: "unauthorized"},
		{name: "bad token", method: http.MethodGet, path: "/v1/sources", bearer: "nope", wantStatus: http.StatusUnauthorized, wantType: "unauthorized"},
		{name: "not privileged", method: http.MethodGet, path: "/v1/sources", bearer: token(t, "acme", "member"), wantStatus: http.StatusForbidden, wantType: "forbidden"},
		{name: "unknown kind", method: http.MethodPost, path: "/v1/sources", bearer: admin, body: map[string]any{"kind": "ftp", "name": "x"}, wantStatus: http.StatusBadRequest, wantType: "validation"},
		{name: "missing body", method: http.MethodPost, path: "/v1/integrations", bearer: admin, wantStatus: http.StatusBadRequest, wantType: "validation"},
		{name: "bad populate flag", method: http.MethodGet, path: "/v1/integrations/x?populate=maybe", bearer: admin, wantStatus: http.StatusBadRequest, wantType: "validation"},
		{name: "missing integration", method: http.MethodGet, path: "/v1/integrations/missing", bearer: admin, wantStatus: http.StatusNotFound, wantType: "not_found"},
		{name: "unknown route", method: http.MethodGet, path: "/v2/nothing", wantStatus: http.StatusNotFound, wantType: "not_found"},
		{name: "internal without token", method: http.MethodPost, path: "/internal/v1/events", bearer: admin, body: map[string]any{}, wantStatus: http.StatusUnauthorized, wantType: "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, tt.method, tt.path, tt.bearer, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantType, body["type"])
		})
	}
}

func TestDataManipulationEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		want       map[string]any
	}{
		{
			name: "transform",
			body: map[string]any{
				"tenant":  "acme",
				"payload": map[string]any{"a": 1},
				"steps":   []any{map[string]any{"map": map[string]any{"b": ".a + 1"}, "clean": true}},
			},
			wantStatus: http.StatusOK,
			want:       map[string]any{"b": 2.0},
		},
		{
			name: "abort",
			body: map[string]any{
				"tenant":  "acme",
				"payload": map[string]any{"stop": true},
				"steps":   []any{map[string]any{"abort": ".stop"}},
			},
			wantStatus: http.StatusOK,
			want:       map[string]any{"abort": true},
		},
		{
			name:       "missing tenant",
			body:       map[string]any{"payload": map[string]any{}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "bad expression",
			body: map[string]any{
				"tenant": "acme",
				"steps":  []any{map[string]any{"map": map[string]any{"b": ".["}}},
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "runtime error",
			body: map[string]any{
				"tenant":  "acme",
				"payload": map[string]any{"a": "text"},
				"steps":   []any{map[string]any{"map": map[string]any{"b": ".a - 1"}}},
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/internal/v1/data-manipulation", internalToken, tt.body)
			assert.Equal(t, tt.wantStatus, status, body)
			if tt.want != nil {
				assert.Equal(t, tt.want, body)
			}
		})
	}
}

func TestPublishEventEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodPost, "/internal/v1/events", internalToken, map[string]any{
		"tenant": "acme", "source": "crm", "kind": "entity", "eventName": "created",
	})
	require.Equal(t, http.StatusAccepted, status, body)
	assert.NotEmpty(t, body["id"])
	f.bus.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.events, 1)
	assert.Equal(t, "created", f.events[0].EventName)

	status, _ = f.do(t, http.MethodPost, "/internal/v1/events", internalToken, map[string]any{"tenant": "acme"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTriggerRateLimited(t *testing.T) {
	limiter := auth.NewRateLimiter(auth.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 1})
	f := newFixture(t, limiter)
	caller := token(t, "acme")

	status, _ := f.do(t, http.MethodPost, "/v1/integrations/missing/trigger", caller, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, body := f.do(t, http.MethodPost, "/v1/integrations/missing/trigger", caller, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", body["type"])

	status, _ = f.do(t, http.MethodPost, "/v1/integrations/missing/trigger", token(t, "globex"), nil)
	assert.Equal(t, http.StatusNotFound, status, "limits are per tenant")
}

func TestNewRouter_Validation(t *testing.T) {
	_, err := NewRouter(Config{})
	assert.Error(t, err)
}
