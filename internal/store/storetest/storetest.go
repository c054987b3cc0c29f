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

// Package storetest is a conformance suite run against every store
// implementation.
package storetest

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/pkg/errors"
)

// Run exercises s. Each subtest uses its own tenant so a single store can
// be shared.
func Run(t *testing.T, s store.Store) {
	t.Run("sources", func(t *testing.T) { testSources(t, s) })
	t.Run("integrations", func(t *testing.T) { testIntegrations(t, s) })
	t.Run("integration candidates", func(t *testing.T) { testIntegrationCandidates(t, s) })
	t.Run("plugins", func(t *testing.T) { testPlugins(t, s) })
}

func testSources(t *testing.T, s store.Store) {
	ctx := context.Background()
	src := &store.Source{
		ID:             "src-1",
		Tenant:         "t-sources",
		Kind:           "http",
		Name:           "orders api",
		Labels:         []string{"prod", "orders"},
		Metadata:       map[string]any{"baseUrl": "https://api.x.com"},
		Authentication: "vault-1",
	}
	require.NoError(t, s.CreateSource(ctx, src))
	assert.False(t, src.CreatedAt.IsZero())

	got, err := s.GetSource(ctx, "t-sources", "src-1")
	require.NoError(t, err)
	assert.Equal(t, "orders api", got.Name)
	assert.Equal(t, []string{"prod", "orders"}, got.Labels)
	assert.Equal(t, "https://api.x.com", got.Metadata["baseUrl"])
	assert.Equal(t, "vault-1", got.Authentication)

	_, err = s.GetSource(ctx, "other-tenant", "src-1")
	assert.True(t, errors.IsNotFound(err))

	got.Name = "renamed"
	got.Labels = nil
	require.NoError(t, s.UpdateSource(ctx, got))
	got, err = s.GetSource(ctx, "t-sources", "src-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Empty(t, got.Labels)

	require.NoError(t, s.CreateSource(ctx, &store.Source{ID: "src-2", Tenant: "t-sources", Kind: "ai", Name: "llm"}))
	list, err := s.ListSources(ctx, "t-sources")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteSource(ctx, "t-sources", "src-1"))
	assert.True(t, errors.IsNotFound(s.DeleteSource(ctx, "t-sources", "src-1")))
	assert.True(t, errors.IsNotFound(s.UpdateSource(ctx, &store.Source{ID: "nope", Tenant: "t-sources"})))
}

func integration(tenant, id string, trigger map[string]any) *store.Integration {
	return &store.Integration{
		ID:     id,
		Tenant: tenant,
		Kind:   [2]string{"platform", "http"},
		Trigger: store.Endpoint{
			Source:    "platform-src",
			Operation: "webhook",
			Details:   trigger,
		},
		Target: store.Endpoint{
			Source:    "http-src",
			Operation: "makeRequest",
			Details:   map[string]any{"url": "/orders", "method": "GET"},
		},
		DataManipulation: []pipeline.Step{
			{Map: map[string]any{"greeting": `"hi " + .name`}},
			{Abort: pipeline.AbortWhen(".amount > 100")},
		},
		Active: true,
		Owner:  "user-1",
	}
}

func testIntegrations(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := integration("t-int", "int-1", map[string]any{"kind": "lifecycle"})
	in.WebhookID = "wh-1"
	require.NoError(t, s.CreateIntegration(ctx, in))

	got, err := s.GetIntegration(ctx, "t-int", "int-1")
	require.NoError(t, err)
	assert.Equal(t, [2]string{"platform", "http"}, got.Kind)
	assert.Equal(t, "makeRequest", got.Target.Operation)
	require.Len(t, got.DataManipulation, 2)
	assert.Equal(t, ".amount > 100", got.DataManipulation[1].Abort.Expr)
	assert.Nil(t, got.Populated)

	byHook, err := s.GetIntegrationByWebhookID(ctx, "t-int", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, "int-1", byHook.ID)

	_, err = s.GetIntegrationByWebhookID(ctx, "other", "wh-1")
	assert.True(t, errors.IsNotFound(err))

	got.Active = false
	require.NoError(t, s.UpdateIntegration(ctx, got))

	inactive := false
	list, err := s.ListIntegrations(ctx, "t-int", store.IntegrationFilter{Active: &inactive})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)

	active := true
	list, err = s.ListIntegrations(ctx, "t-int", store.IntegrationFilter{Active: &active})
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.DeleteIntegration(ctx, "t-int", "int-1"))
	_, err = s.GetIntegration(ctx, "t-int", "int-1")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(s.UpdateIntegration(ctx, in)))
}

func testIntegrationCandidates(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenant := "t-cand"

	fixtures := map[string]map[string]any{
		"any-lifecycle":   {"source": "*", "kind": "lifecycle", "eventName": "*"},
		"deleted-only":    {"source": "user", "kind": "lifecycle", "eventName": "deleted"},
		"unrelated":       {"source": "billing", "kind": "invoice", "eventName": "paid"},
		"kind-only":       {"kind": "lifecycle"},
		"everything":      {},
	}
	for id, details := range fixtures {
		require.NoError(t, s.CreateIntegration(ctx, integration(tenant, id, details)))
	}

	inactive := integration(tenant, "inactive", map[string]any{})
	inactive.Active = false
	require.NoError(t, s.CreateIntegration(ctx, inactive))

	nonEvent := integration(tenant, "api-webhook", map[string]any{})
	nonEvent.Trigger.Operation = "apiWebhook"
	require.NoError(t, s.CreateIntegration(ctx, nonEvent))

	require.NoError(t, s.CreateIntegration(ctx, integration("t-cand-other", "foreign", map[string]any{})))

	ev := event.PlatformEvent{Tenant: tenant, Source: "user", Kind: "lifecycle", EventName: "registered"}
	candidates, err := s.FindIntegrationCandidates(ctx, ev)
	require.NoError(t, err)

	var ids, exact []string
	for _, c := range candidates {
		ids = append(ids, c.ID)
		if c.TriggerMatch().Matches(ev) {
			exact = append(exact, c.ID)
		}
	}
	sort.Strings(ids)
	sort.Strings(exact)

	// deleted-only passes the coarse filter (source and kind match) but not
	// the exact rule.
	assert.Equal(t, []string{"any-lifecycle", "deleted-only", "everything", "kind-only"}, ids)
	assert.Equal(t, []string{"any-lifecycle", "everything", "kind-only"}, exact)
}

func testPlugins(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenant := "t-plugins"

	require.NoError(t, s.SavePlugin(ctx, &store.Plugin{
		ID:     "p1",
		Tenant: tenant,
		Name:   "crm",
		Subscriptions: []event.Subscription{
			{Kind: "lifecycle", HookURL: "https://crm.example.com/hook"},
			{Source: "billing", Kind: "invoice", EventName: "paid", HookURL: "https://crm.example.com/billing"},
		},
	}))
	require.NoError(t, s.SavePlugin(ctx, &store.Plugin{
		ID:            "p2",
		Tenant:        tenant,
		Name:          "billing",
		Subscriptions: []event.Subscription{{Source: "billing", Kind: "invoice", EventName: "paid", HookURL: "https://b.example.com"}},
	}))

	got, err := s.GetPlugin(ctx, tenant, "p1")
	require.NoError(t, err)
	require.Len(t, got.Subscriptions, 2)
	assert.Equal(t, "https://crm.example.com/billing", got.Subscriptions[1].HookURL)

	candidates, err := s.FindPluginCandidates(ctx, event.PlatformEvent{Tenant: tenant, Source: "user", Kind: "lifecycle", EventName: "registered"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "p1", candidates[0].ID)

	got.Subscriptions = got.Subscriptions[:1]
	require.NoError(t, s.SavePlugin(ctx, got))
	got, err = s.GetPlugin(ctx, tenant, "p1")
	require.NoError(t, err)
	assert.Len(t, got.Subscriptions, 1)

	require.NoError(t, s.DeletePlugin(ctx, tenant, "p1"))
	_, err = s.GetPlugin(ctx, tenant, "p1")
	assert.True(t, errors.IsNotFound(err))
}
