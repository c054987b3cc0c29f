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

package hook

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tombee/switchyard/internal/auth"
)

// refreshMargin renews cached tokens this long before they expire.
const refreshMargin = 30 * time.Second

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache issues and caches one bearer JWT per plugin.
type TokenCache struct {
	cfg auth.JWTConfig
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]cachedToken
}

// NewTokenCache creates a cache signing with cfg. Tokens live for ttl,
// auth.DefaultTokenTTL when zero.
func NewTokenCache(cfg auth.JWTConfig, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	return &TokenCache{
		cfg:    cfg,
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]cachedToken),
	}
}

// Token returns a valid token for the plugin, signing a new one when none
// is cached or the cached one is about to expire.
func (c *TokenCache) Token(tenant, pluginID string) (string, error) {
	key := tenant + "/" + pluginID
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if tok, ok := c.tokens[key]; ok && now.Add(refreshMargin).Before(tok.expiresAt) {
		return tok.value, nil
	}

	expiresAt := now.Add(c.ttl)
	signed, err := auth.GenerateJWT(auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   pluginID,
			Audience:  jwt.ClaimStrings{auth.HookAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Tenant: tenant,
		Plugin: pluginID,
	}, c.cfg)
	if err != nil {
		return "", err
	}
	c.tokens[key] = cachedToken{value: signed, expiresAt: expiresAt}
	return signed, nil
}

// Invalidate drops the cached token for the plugin.
func (c *TokenCache) Invalidate(tenant, pluginID string) {
	c.mu.Lock()
	delete(c.tokens, tenant+"/"+pluginID)
	c.mu.Unlock()
}
