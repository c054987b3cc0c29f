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

package platform

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/pkg/errors"
)

// Fixtures seeds a Memory platform. Keys are ids.
type Fixtures struct {
	Users        map[string]map[string]any            `json:"users,omitempty" yaml:"users,omitempty"`
	Workspaces   map[string]map[string]any            `json:"workspaces,omitempty" yaml:"workspaces,omitempty"`
	Entities     map[string]map[string]map[string]any `json:"entities,omitempty" yaml:"entities,omitempty"`
	VectorStores []map[string]any                     `json:"vectorStores,omitempty" yaml:"vectorStores,omitempty"`
}

// Memory is an in-process platform used by the offline CLI and tests.
// Every tenant sees the same fixtures.
type Memory struct {
	mu       sync.RWMutex
	fixtures Fixtures
}

var _ Client = (*Memory)(nil)

// NewMemory creates a platform seeded with f.
func NewMemory(f Fixtures) *Memory {
	if f.Users == nil {
		f.Users = map[string]map[string]any{}
	}
	if f.Workspaces == nil {
		f.Workspaces = map[string]map[string]any{}
	}
	if f.Entities == nil {
		f.Entities = map[string]map[string]map[string]any{}
	}
	return &Memory{fixtures: f}
}

func (m *Memory) GetUser(_ context.Context, _, id string) (map[string]any, error) {
	return m.get(m.fixtures.Users, "user", id)
}

func (m *Memory) GetWorkspace(_ context.Context, _, id string) (map[string]any, error) {
	return m.get(m.fixtures.Workspaces, "workspace", id)
}

func (m *Memory) GetEntity(_ context.Context, _, blueprint, id string) (map[string]any, error) {
	m.mu.RLock()
	entities := m.fixtures.Entities[blueprint]
	m.mu.RUnlock()
	if entities == nil {
		return nil, &errors.NotFoundError{Resource: "blueprint", ID: blueprint}
	}
	return m.get(entities, "entity", id)
}

// ListEntities filters a blueprint's entities. A map query matches entities
// whose fields equal every query value; a list query selects ids; anything
// else returns all entities.
func (m *Memory) ListEntities(_ context.Context, _, blueprint string, query any) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entities := m.fixtures.Entities[blueprint]
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []map[string]any
	for _, id := range ids {
		e := entities[id]
		switch q := query.(type) {
		case map[string]any:
			if !fieldsEqual(e, q) {
				continue
			}
		case []any:
			if !containsID(q, id) {
				continue
			}
		}
		out = append(out, maps.Clone(e))
	}
	return out, nil
}

func (m *Memory) ListVectorStores(_ context.Context, _, scope, subjectID string) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []map[string]any
	for _, vs := range m.fixtures.VectorStores {
		if s, _ := vs["scope"].(string); s != "" && s != scope {
			continue
		}
		if subjectID != "" {
			if sub, _ := vs["subjectId"].(string); sub != "" && sub != subjectID {
				continue
			}
		}
		out = append(out, maps.Clone(vs))
	}
	return out, nil
}

func (m *Memory) CreateUser(_ context.Context, _ string, req source.CreateUser) (map[string]any, error) {
	user := map[string]any{"id": uuid.NewString(), "email": req.Email, "name": req.Name, "roles": toAny(req.Roles)}
	if req.Metadata != nil {
		user["metadata"] = req.Metadata
	}
	m.mu.Lock()
	m.fixtures.Users[user["id"].(string)] = user
	m.mu.Unlock()
	return maps.Clone(user), nil
}

func (m *Memory) UpdateUser(_ context.Context, _ string, req source.UpdateUser) (map[string]any, error) {
	return m.update(m.fixtures.Users, "user", req.UserID, func(u map[string]any) {
		if req.Email != "" {
			u["email"] = req.Email
		}
		if req.Name != "" {
			u["name"] = req.Name
		}
		if req.Metadata != nil {
			u["metadata"] = req.Metadata
		}
	})
}

func (m *Memory) SetUserRoles(_ context.Context, _ string, req source.SetUserRoles) (map[string]any, error) {
	return m.update(m.fixtures.Users, "user", req.UserID, func(u map[string]any) {
		u["roles"] = toAny(req.Roles)
	})
}

func (m *Memory) CreateEntity(_ context.Context, _ string, req source.CreateEntity) (map[string]any, error) {
	entity := maps.Clone(req.Data)
	if entity == nil {
		entity = map[string]any{}
	}
	id, _ := entity["identifier"].(string)
	if id == "" {
		id = uuid.NewString()
		entity["identifier"] = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fixtures.Entities[req.Blueprint] == nil {
		m.fixtures.Entities[req.Blueprint] = map[string]map[string]any{}
	}
	m.fixtures.Entities[req.Blueprint][id] = entity
	return maps.Clone(entity), nil
}

func (m *Memory) UpdateEntity(_ context.Context, _ string, req source.UpdateEntity) (map[string]any, error) {
	m.mu.RLock()
	entities := m.fixtures.Entities[req.Blueprint]
	m.mu.RUnlock()
	if entities == nil {
		return nil, &errors.NotFoundError{Resource: "blueprint", ID: req.Blueprint}
	}
	return m.update(entities, "entity", req.Entity, func(e map[string]any) {
		maps.Copy(e, req.Data)
	})
}

func (m *Memory) get(items map[string]map[string]any, resource, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := items[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: resource, ID: id}
	}
	return maps.Clone(item), nil
}

func (m *Memory) update(items map[string]map[string]any, resource, id string, apply func(map[string]any)) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := items[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: resource, ID: id}
	}
	apply(item)
	return maps.Clone(item), nil
}

func fieldsEqual(entity, query map[string]any) bool {
	for k, want := range query {
		if !reflect.DeepEqual(entity[k], want) {
			return false
		}
	}
	return true
}

func containsID(ids []any, id string) bool {
	for _, v := range ids {
		if fmt.Sprint(v) == id {
			return true
		}
	}
	return false
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
