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

// Package source declares the provider kinds an integration can reference,
// the operations each kind supports and the validators that enforce them.
package source

import (
	"slices"
	"sort"
)

// Kind identifies a provider.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindAI       Kind = "ai"
	KindPlatform Kind = "platform"
)

// Operation names.
const (
	OpWebhook    = "webhook"
	OpAPIWebhook = "apiWebhook"

	OpMakeRequest    = "makeRequest"
	OpChatCompletion = "chatCompletion"
	OpEmitEvent      = "emitEvent"
	OpCreateUser     = "createUser"
	OpUpdateUser     = "updateUser"
	OpSetUserRoles   = "setUserRoles"
	OpCreateEntity   = "createEntity"
	OpUpdateEntity   = "updateEntity"
)

// Fields is the declared shape of an operation's details or a source's
// metadata.
type Fields struct {
	Required []string
	Optional []string
}

// Declared reports whether key is a required or optional field.
func (f Fields) Declared(key string) bool {
	return slices.Contains(f.Required, key) || slices.Contains(f.Optional, key)
}

// Provider describes one source kind.
type Provider struct {
	Kind     Kind
	Metadata Fields
	Triggers map[string]Fields
	Targets  map[string]Fields
}

// TriggerOperations returns the sorted trigger operation names.
func (p *Provider) TriggerOperations() []string { return operationNames(p.Triggers) }

// TargetOperations returns the sorted target operation names.
func (p *Provider) TargetOperations() []string { return operationNames(p.Targets) }

func operationNames(ops map[string]Fields) []string {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var providers = map[Kind]*Provider{
	KindHTTP: {
		Kind:     KindHTTP,
		Metadata: Fields{Optional: []string{"baseUrl", "method", "headers", "query", "auth"}},
		Targets: map[string]Fields{
			OpMakeRequest: {Optional: []string{"method", "url", "headers", "body", "query", "triggerResponse"}},
		},
	},
	KindAI: {
		Kind:     KindAI,
		Metadata: Fields{Optional: []string{"baseUrl", "organization"}},
		Targets: map[string]Fields{
			OpChatCompletion: {
				Required: []string{"model"},
				Optional: []string{"messages", "system", "temperature", "maxTokens", "topP", "stream", "triggerResponse"},
			},
		},
	},
	KindPlatform: {
		Kind: KindPlatform,
		Triggers: map[string]Fields{
			OpWebhook:    {Optional: []string{"source", "kind", "eventName", "condition"}},
			OpAPIWebhook: {Optional: []string{"roles", "workspaceLabels"}},
		},
		Targets: map[string]Fields{
			OpEmitEvent:    {Required: []string{"eventName"}, Optional: []string{"kind", "source", "description", "metadata"}},
			OpCreateUser:   {Optional: []string{"email", "name", "roles", "metadata"}},
			OpUpdateUser:   {Required: []string{"userId"}, Optional: []string{"email", "name", "metadata"}},
			OpSetUserRoles: {Required: []string{"userId"}, Optional: []string{"roles"}},
			OpCreateEntity: {Required: []string{"blueprint"}, Optional: []string{"data"}},
			OpUpdateEntity: {Required: []string{"blueprint", "entity"}, Optional: []string{"data"}},
		},
	},
}

// Lookup returns the provider for kind.
func Lookup(kind string) (*Provider, bool) {
	p, ok := providers[Kind(kind)]
	return p, ok
}

// Kinds returns every registered kind, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(providers))
	for k := range providers {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}
