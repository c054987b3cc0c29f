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

package auth

import (
	"context"
	"slices"
)

// Privileged roles may manage integrations and sources.
var privilegedRoles = []string{"admin", "owner"}

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	Tenant          string
	UserID          string
	Roles           []string
	WorkspaceLabels []string
}

// Privileged reports whether the caller holds an admin or owner role.
func (p *Principal) Privileged() bool {
	return p.HasAnyRole(privilegedRoles)
}

// HasAnyRole reports whether the caller holds at least one of roles.
func (p *Principal) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if slices.Contains(p.Roles, r) {
			return true
		}
	}
	return false
}

// HasAnyWorkspaceLabel reports whether the caller's workspace carries at
// least one of labels.
func (p *Principal) HasAnyWorkspaceLabel(labels []string) bool {
	for _, l := range labels {
		if slices.Contains(p.WorkspaceLabels, l) {
			return true
		}
	}
	return false
}

// PrincipalFromContext extracts the authenticated caller from ctx.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}

// ContextWithPrincipal returns a new context carrying p.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func principalFromClaims(c *Claims) *Principal {
	return &Principal{
		Tenant:          c.Tenant,
		UserID:          c.Subject,
		Roles:           c.Roles,
		WorkspaceLabels: c.WorkspaceLabels,
	}
}
