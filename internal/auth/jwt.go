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

// Package auth authenticates API callers with JWTs, signs plugin hook
// tokens, guards internal endpoints with a shared token and rate limits
// tenants.
package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of generated tokens without an explicit
// expiry.
const DefaultTokenTTL = time.Hour

// HookAudience is the audience of tokens sent to plugin hook endpoints.
// RequireJWT never accepts them.
const HookAudience = "plugin-hook"

// JWTConfig contains JWT authentication configuration.
type JWTConfig struct {
	// Secret is the HS256 signing key.
	Secret []byte

	// Issuer is the expected issuer claim. Generated tokens carry it.
	Issuer string

	// Audience is the expected audience claim.
	Audience string

	// ClockSkew allows for clock skew when validating exp/nbf claims.
	ClockSkew time.Duration
}

// Claims represents the JWT claims.
type Claims struct {
	jwt.RegisteredClaims

	// Tenant scopes every request made with the token.
	Tenant string `json:"tenant"`

	// Roles are the caller's roles within the tenant.
	Roles []string `json:"roles,omitempty"`

	// WorkspaceLabels are the labels of the caller's workspace.
	WorkspaceLabels []string `json:"workspaceLabels,omitempty"`

	// Plugin is set on tokens presented to plugin hook endpoints.
	Plugin string `json:"plugin,omitempty"`
}

// ValidateJWT validates a JWT token and returns the claims.
func ValidateJWT(tokenString string, cfg JWTConfig) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	parser := jwt.NewParser(
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if len(cfg.Secret) == 0 {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", cfg.Issuer, claims.Issuer)
	}
	if cfg.Audience != "" && !slices.Contains(claims.Audience, cfg.Audience) {
		return nil, fmt.Errorf("invalid audience: expected %s", cfg.Audience)
	}
	if claims.Tenant == "" {
		return nil, fmt.Errorf("token has no tenant")
	}

	return claims, nil
}

// IsHookToken reports whether claims belong to a plugin hook token.
func (c *Claims) IsHookToken() bool {
	return c.Plugin != "" || slices.Contains(c.Audience, HookAudience)
}

// GenerateJWT signs claims with HS256.
func GenerateJWT(claims Claims, cfg JWTConfig) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", fmt.Errorf("no signing key configured")
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(DefaultTokenTTL))
	}
	if cfg.Issuer != "" && claims.Issuer == "" {
		claims.Issuer = cfg.Issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
