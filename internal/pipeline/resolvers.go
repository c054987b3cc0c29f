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

package pipeline

import (
	"context"
	"fmt"

	"github.com/tombee/switchyard/pkg/errors"
)

// DefaultMaxDepth bounds apiWebhook re-entry when no limit is configured.
const DefaultMaxDepth = 8

// DefaultVectorStoreScope is the scope used when a vectorStores entry has none.
const DefaultVectorStoreScope = "tenant"

// ResolveRequest is the input to a resolver.
type ResolveRequest struct {
	Tenant string
	Key    string
	// Value is the payload value currently stored under Key.
	Value  any
	Config PopulateConfig
}

// Resolver fetches the value for one populate key. A false defined result
// means "undefined": the key is removed unless map assigned it.
type Resolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (value any, defined bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, req ResolveRequest) (any, bool, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, req ResolveRequest) (any, bool, error) {
	return f(ctx, req)
}

// Directory is the slice of the platform API the lookup resolvers use.
type Directory interface {
	GetUser(ctx context.Context, tenant, id string) (map[string]any, error)
	GetWorkspace(ctx context.Context, tenant, id string) (map[string]any, error)
	GetEntity(ctx context.Context, tenant, blueprint, id string) (map[string]any, error)
	ListEntities(ctx context.Context, tenant, blueprint string, query any) ([]map[string]any, error)
	ListVectorStores(ctx context.Context, tenant, scope, subjectID string) ([]map[string]any, error)
}

// WebhookInvoker runs another integration as if its webhook had been
// called with body, returning the target result.
type WebhookInvoker interface {
	InvokeWebhook(ctx context.Context, tenant, integrationID string, body any) (any, error)
}

// RegisterDirectory installs the user, workspace, blueprintEntity,
// blueprintEntities and vectorStores resolvers backed by dir.
func (x *Executor) RegisterDirectory(dir Directory) {
	x.Register(ResolverUser, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		id, ok := idOf(req.Value)
		if !ok {
			return nil, false, nil
		}
		return lookup(ResolverUser, func() (map[string]any, error) { return dir.GetUser(ctx, req.Tenant, id) })
	}))

	x.Register(ResolverWorkspace, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		id, ok := idOf(req.Value)
		if !ok {
			return nil, false, nil
		}
		return lookup(ResolverWorkspace, func() (map[string]any, error) { return dir.GetWorkspace(ctx, req.Tenant, id) })
	}))

	x.Register(ResolverBlueprintEntity, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		blueprint, entity, ok := entityRef(req.Value, req.Config.Blueprint)
		if !ok {
			return nil, false, nil
		}
		return lookup(ResolverBlueprintEntity, func() (map[string]any, error) {
			return dir.GetEntity(ctx, req.Tenant, blueprint, entity)
		})
	}))

	x.Register(ResolverBlueprintEntities, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		if isEmpty(req.Value) {
			return nil, false, nil
		}
		entities, err := dir.ListEntities(ctx, req.Tenant, req.Config.Blueprint, req.Value)
		if err != nil {
			return nil, false, populationError(ResolverBlueprintEntities, err)
		}
		return toList(entities), true, nil
	}))

	x.Register(ResolverVectorStores, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		scope := req.Config.Scope
		if scope == "" {
			scope = DefaultVectorStoreScope
		}
		subject := req.Config.SubjectID
		if subject == "" {
			subject, _ = idOf(req.Value)
		}
		stores, err := dir.ListVectorStores(ctx, req.Tenant, scope, subject)
		if err != nil {
			return nil, false, populationError(ResolverVectorStores, err)
		}
		return toList(stores), true, nil
	}))
}

// RegisterWebhookInvoker installs the apiWebhook resolver. Re-entry depth is
// carried in the context; a chain deeper than maxDepth fails.
func (x *Executor) RegisterWebhookInvoker(inv WebhookInvoker, maxDepth int) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	x.Register(ResolverAPIWebhook, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		depth := Depth(ctx)
		if depth >= maxDepth {
			return nil, false, &errors.PopulationError{
				Source:  string(ResolverAPIWebhook),
				Message: fmt.Sprintf("re-entry depth %d exceeds limit %d calling integration %s", depth+1, maxDepth, req.Config.Integration),
			}
		}
		result, err := inv.InvokeWebhook(WithDepth(ctx, depth+1), req.Tenant, req.Config.Integration, req.Value)
		if err != nil {
			return nil, false, populationError(ResolverAPIWebhook, err)
		}
		return result, true, nil
	}))
}

type depthKey struct{}

// Depth returns the apiWebhook re-entry depth carried by ctx.
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// WithDepth returns a context carrying the given re-entry depth.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// lookup runs a single-document fetch. A missing document is undefined.
func lookup(kind ResolverKind, fetch func() (map[string]any, error)) (any, bool, error) {
	doc, err := fetch()
	if errors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, populationError(kind, err)
	}
	if doc == nil {
		return nil, false, nil
	}
	return doc, true, nil
}

func populationError(kind ResolverKind, err error) error {
	var popErr *errors.PopulationError
	if errors.As(err, &popErr) {
		return err
	}
	return &errors.PopulationError{Source: string(kind), Message: "lookup failed", Cause: err}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// idOf extracts an identifier from a string, number or {"id": ...} object.
func idOf(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		return fmt.Sprintf("%v", t), true
	case int:
		return fmt.Sprintf("%d", t), true
	case map[string]any:
		return idOf(t["id"])
	default:
		return "", false
	}
}

// entityRef accepts {blueprint, entity} or a bare entity id combined with
// the step-level blueprint.
func entityRef(v any, stepBlueprint string) (blueprint, entity string, ok bool) {
	if ref, isMap := v.(map[string]any); isMap {
		blueprint, _ = ref["blueprint"].(string)
		entity, _ = idOf(ref["entity"])
		if blueprint == "" {
			blueprint = stepBlueprint
		}
		return blueprint, entity, blueprint != "" && entity != ""
	}
	entity, ok = idOf(v)
	return stepBlueprint, entity, ok && stepBlueprint != ""
}

func toList(docs []map[string]any) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}
