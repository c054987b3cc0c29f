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

// Package platform is the client for the collaborator services that own
// users, workspaces, blueprint entities and vector stores.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/httpclient"
)

// Client is everything switchyard consumes from the platform.
type Client interface {
	pipeline.Directory

	CreateUser(ctx context.Context, tenant string, req source.CreateUser) (map[string]any, error)
	UpdateUser(ctx context.Context, tenant string, req source.UpdateUser) (map[string]any, error)
	SetUserRoles(ctx context.Context, tenant string, req source.SetUserRoles) (map[string]any, error)
	CreateEntity(ctx context.Context, tenant string, req source.CreateEntity) (map[string]any, error)
	UpdateEntity(ctx context.Context, tenant string, req source.UpdateEntity) (map[string]any, error)
}

// TenantHeader carries the tenant on every platform request.
const TenantHeader = "X-Tenant-Id"

// Config configures HTTPClient.
type Config struct {
	BaseURL string
	// Token is the service token sent as a bearer credential.
	Token   string
	Timeout time.Duration
}

// HTTPClient talks to the platform REST API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a platform client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, &errors.ConfigError{Key: "platform.base_url", Reason: "is required"}
	}
	hc := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    client,
	}, nil
}

func (c *HTTPClient) GetUser(ctx context.Context, tenant, id string) (map[string]any, error) {
	return object(c.do(ctx, tenant, http.MethodGet, "user", id, path("users", id), nil))
}

func (c *HTTPClient) GetWorkspace(ctx context.Context, tenant, id string) (map[string]any, error) {
	return object(c.do(ctx, tenant, http.MethodGet, "workspace", id, path("workspaces", id), nil))
}

func (c *HTTPClient) GetEntity(ctx context.Context, tenant, blueprint, id string) (map[string]any, error) {
	return object(c.do(ctx, tenant, http.MethodGet, "entity", blueprint+"/"+id, path("blueprints", blueprint, "entities", id), nil))
}

func (c *HTTPClient) ListEntities(ctx context.Context, tenant, blueprint string, query any) ([]map[string]any, error) {
	body := map[string]any{"query": query}
	return list(c.do(ctx, tenant, http.MethodPost, "blueprint", blueprint, path("blueprints", blueprint, "entities", "search"), body))
}

func (c *HTTPClient) ListVectorStores(ctx context.Context, tenant, scope, subjectID string) ([]map[string]any, error) {
	q := url.Values{"scope": {scope}}
	if subjectID != "" {
		q.Set("subjectId", subjectID)
	}
	return list(c.do(ctx, tenant, http.MethodGet, "vector store scope", scope, path("vector-stores")+"?"+q.Encode(), nil))
}

func (c *HTTPClient) CreateUser(ctx context.Context, tenant string, req source.CreateUser) (map[string]any, error) {
	return object(c.do(ctx, tenant, http.MethodPost, "user", "", path("users"), req))
}

func (c *HTTPClient) UpdateUser(ctx context.Context, tenant string, req source.UpdateUser) (map[string]any, error) {
	return object(c.do(ctx, tenant, http.MethodPatch, "user", req.UserID, path("users", req.UserID), req))
}

func (c *HTTPClient) SetUserRoles(ctx context.Context, tenant string, req source.SetUserRoles) (map[string]any, error) {
	return object(c.do(ctx, tenant, http.MethodPut, "user", req.UserID, path("users", req.UserID, "roles"), map[string]any{"roles": req.Roles}))
}

func (c *HTTPClient) CreateEntity(ctx context.Context, tenant string, req source.CreateEntity) (map[string]any, error) {
	return object(c.do(ctx, tenant, http.MethodPost, "blueprint", req.Blueprint, path("blueprints", req.Blueprint, "entities"), req.Data))
}

func (c *HTTPClient) UpdateEntity(ctx context.Context, tenant string, req source.UpdateEntity) (map[string]any, error) {
	return object(c.do(ctx, tenant, http.MethodPatch, "entity", req.Blueprint+"/"+req.Entity,
		path("blueprints", req.Blueprint, "entities", req.Entity), req.Data))
}

func path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return "/v1/" + strings.Join(escaped, "/")
}

// do sends the request and returns the raw JSON body. A 404 becomes a
// NotFoundError for resource/id.
func (c *HTTPClient) do(ctx context.Context, tenant, method, resource, id, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(TenantHeader, tenant)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read platform response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &errors.NotFoundError{Resource: resource, ID: id}
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("platform %s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func object(raw []byte, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode platform response: %w", err)
	}
	return out, nil
}

func list(raw []byte, err error) ([]map[string]any, error) {
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err == nil {
		return out, nil
	}
	var wrapped struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode platform list: %w", err)
	}
	return wrapped.Items, nil
}
