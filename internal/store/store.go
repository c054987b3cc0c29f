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

// Package store defines the persisted model and the storage interfaces for
// sources, integrations and plugins.
//
// # Interface Hierarchy
//
// Storage uses interface segregation so components can depend on the
// minimal capability they need:
//
//   - SourceStore: CRUD for integration sources
//   - IntegrationStore: CRUD for integrations, webhook id lookup
//   - PluginStore: CRUD for plugins and their subscriptions
//   - CandidateFinder: coarse event pre-filter for the hook subscriber
//
// Store composes all of these plus io.Closer.
package store

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/pipeline"
)

// Source is a tenant's named, credentialed connection to a provider kind.
type Source struct {
	ID     string   `json:"id"`
	Tenant string   `json:"tenant"`
	Kind   string   `json:"kind"`
	Name   string   `json:"name"`
	Labels []string `json:"labels,omitempty"`

	// Metadata always conforms to the kind's metadata schema.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Authentication is the opaque vault id of the source credentials.
	Authentication string `json:"authentication,omitempty"`

	// Plugin is the id of the owning plugin, if any.
	Plugin string `json:"plugin,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Endpoint references a source operation with its details.
type Endpoint struct {
	Source    string         `json:"source" yaml:"source"`
	Operation string         `json:"operation" yaml:"operation"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Integration is a persisted trigger → transform → target definition.
type Integration struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant"`

	// Kind is [triggerKind, targetKind], recomputed from the resolved
	// sources on every write.
	Kind [2]string `json:"kind"`

	Trigger          Endpoint        `json:"trigger"`
	Target           Endpoint        `json:"target"`
	DataManipulation []pipeline.Step `json:"dataManipulation,omitempty"`
	Active           bool            `json:"active"`
	Owner            string          `json:"owner,omitempty"`

	// WebhookID is the public id accepted by the trigger-webhook endpoint.
	WebhookID string `json:"webhookId,omitempty"`

	// Populated holds the resolved trigger and target sources when the
	// integration was read with populate=true. Never persisted.
	Populated *PopulatedSources `json:"populated,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PopulatedSources carries the sources referenced by an integration.
type PopulatedSources struct {
	Trigger *Source `json:"trigger,omitempty"`
	Target  *Source `json:"target,omitempty"`
}

// TriggerMatch returns the event subscription encoded in the trigger details.
func (i *Integration) TriggerMatch() event.Subscription {
	str := func(key string) string {
		s, _ := i.Trigger.Details[key].(string)
		return s
	}
	return event.Subscription{
		Source:    str("source"),
		Kind:      str("kind"),
		EventName: str("eventName"),
	}
}

// Plugin is a tenant plugin subscribed to platform events.
type Plugin struct {
	ID            string               `json:"id"`
	Tenant        string               `json:"tenant"`
	Name          string               `json:"name"`
	Subscriptions []event.Subscription `json:"subscriptions"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// IntegrationFilter narrows ListIntegrations.
type IntegrationFilter struct {
	Active *bool
	Limit  int
	Offset int
}

// SourceStore persists integration sources.
type SourceStore interface {
	CreateSource(ctx context.Context, src *Source) error
	GetSource(ctx context.Context, tenant, id string) (*Source, error)
	UpdateSource(ctx context.Context, src *Source) error
	DeleteSource(ctx context.Context, tenant, id string) error
	ListSources(ctx context.Context, tenant string) ([]*Source, error)
}

// IntegrationStore persists integrations.
type IntegrationStore interface {
	CreateIntegration(ctx context.Context, in *Integration) error
	GetIntegration(ctx context.Context, tenant, id string) (*Integration, error)
	GetIntegrationByWebhookID(ctx context.Context, tenant, webhookID string) (*Integration, error)
	UpdateIntegration(ctx context.Context, in *Integration) error
	DeleteIntegration(ctx context.Context, tenant, id string) error
	ListIntegrations(ctx context.Context, tenant string, filter IntegrationFilter) ([]*Integration, error)
}

// PluginStore persists plugins.
type PluginStore interface {
	SavePlugin(ctx context.Context, p *Plugin) error
	GetPlugin(ctx context.Context, tenant, id string) (*Plugin, error)
	DeletePlugin(ctx context.Context, tenant, id string) error
}

// CandidateFinder returns the plugins and event-triggered integrations that
// might react to an event. Results are a superset of the exact matches:
// every subscription passing event.Subscription.CoarseMatches is returned
// and callers re-check with Matches.
type CandidateFinder interface {
	FindPluginCandidates(ctx context.Context, ev event.PlatformEvent) ([]*Plugin, error)
	FindIntegrationCandidates(ctx context.Context, ev event.PlatformEvent) ([]*Integration, error)
}

// Store is the full storage interface.
type Store interface {
	SourceStore
	IntegrationStore
	PluginStore
	CandidateFinder
	io.Closer
}

// EventTriggerKind and EventTriggerOperation identify integrations driven
// by platform events.
const (
	EventTriggerKind      = "platform"
	EventTriggerOperation = "webhook"
)

// IsEventTriggered reports whether in is a candidate for platform events.
func (i *Integration) IsEventTriggered() bool {
	return i.Active && i.Kind[0] == EventTriggerKind && i.Trigger.Operation == EventTriggerOperation
}

// Clone returns a deep copy of v using its JSON form.
func Clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil
	}
	return out
}
