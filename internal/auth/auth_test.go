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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWT = JWTConfig{
	Secret: []byte("test-secret-key-32-bytes-long!!"),
	Issuer: "test-issuer",
}

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := GenerateJWT(claims, testJWT)
	require.NoError(t, err)
	return token
}

func TestValidateJWT(t *testing.T) {
	token := sign(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user123"},
		Tenant:           "acme",
		Roles:            []string{"admin"},
		WorkspaceLabels:  []string{"eu"},
	})

	claims, err := ValidateJWT(token, testJWT)
	require.NoError(t, err)
	assert.Equal(t, "user123", claims.Subject)
	assert.Equal(t, "acme", claims.Tenant)
	assert.Equal(t, []string{"admin"}, claims.Roles)
	assert.Equal(t, []string{"eu"}, claims.WorkspaceLabels)
	assert.Equal(t, "test-issuer", claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
}

func TestValidateJWT_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
		cfg   JWTConfig
	}{
		{
			name:  "empty",
			token: func(*testing.T) string { return "" },
			cfg:   testJWT,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				return sign(t, Claims{
					RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
					Tenant:           "acme",
				})
			},
			cfg: testJWT,
		},
		{
			name:  "wrong secret",
			token: func(t *testing.T) string { return sign(t, Claims{Tenant: "acme"}) },
			cfg:   JWTConfig{Secret: []byte("another-secret")},
		},
		{
			name:  "wrong issuer",
			token: func(t *testing.T) string { return sign(t, Claims{Tenant: "acme"}) },
			cfg:   JWTConfig{Secret: testJWT.Secret, Issuer: "someone-else"},
		},
		{
			name:  "wrong audience",
			token: func(t *testing.T) string { return sign(t, Claims{Tenant: "acme"}) },
			cfg:   JWTConfig{Secret: testJWT.Secret, Audience: "switchyard"},
		},
		{
			name:  "no tenant",
			token: func(t *testing.T) string { return sign(t, Claims{}) },
			cfg:   testJWT,
		},
		{
			name: "none algorithm",
			token: func(t *testing.T) string {
				s, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Tenant: "acme"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return s
			},
			cfg: testJWT,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateJWT(tt.token(t), tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestGenerateJWT_NoSecret(t *testing.T) {
	_, err := GenerateJWT(Claims{Tenant: "acme"}, JWTConfig{})
	assert.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer abc", want: "abc"},
		{header: "BEARER  abc ", want: "abc"},
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMiddleware(t *testing.T) {
	m := NewMiddleware(testJWT, "internal-secret", nil)

	var seen *Principal
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	admin := sign(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}, Tenant: "acme", Roles: []string{"owner"}})
	member := sign(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u2"}, Tenant: "acme", Roles: []string{"member"}})
	hookToken := sign(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "p1", Audience: jwt.ClaimStrings{HookAudience}}, Tenant: "acme", Plugin: "p1"})

	tests := []struct {
		name    string
		handler http.Handler
		token   string
		want    int
	}{
		{name: "jwt ok", handler: m.RequireJWT(ok), token: member, want: http.StatusNoContent},
		{name: "jwt missing", handler: m.RequireJWT(ok), want: http.StatusUnauthorized},
		{name: "jwt garbage", handler: m.RequireJWT(ok), token: "garbage", want: http.StatusUnauthorized},
		{name: "jwt rejects plugin hook token", handler: m.RequireJWT(ok), token: hookToken, want: http.StatusUnauthorized},
		{name: "privileged ok", handler: m.RequireJWT(m.RequirePrivileged(ok)), token: admin, want: http.StatusNoContent},
		{name: "privileged denied", handler: m.RequireJWT(m.RequirePrivileged(ok)), token: member, want: http.StatusForbidden},
		{name: "internal ok", handler: m.RequireInternal(ok), token: "internal-secret", want: http.StatusNoContent},
		{name: "internal wrong", handler: m.RequireInternal(ok), token: "nope", want: http.StatusUnauthorized},
		{name: "internal rejects jwt", handler: m.RequireInternal(ok), token: admin, want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/integrations", nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
			if tt.want != http.StatusNoContent {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.NotEmpty(t, body["error"])
			}
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+admin)
	m.RequireJWT(ok).ServeHTTP(httptest.NewRecorder(), r)
	require.NotNil(t, seen)
	assert.Equal(t, &Principal{Tenant: "acme", UserID: "u1", Roles: []string{"owner"}}, seen)
}

func TestMiddleware_EmptyInternalTokenRejects(t *testing.T) {
	m := NewMiddleware(testJWT, "", nil)
	h := m.RequireInternal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	r := httptest.NewRequest(http.MethodPost, "/internal/v1/events", nil)
	r.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPrincipal(t *testing.T) {
	p := &Principal{Roles: []string{"member", "owner"}, WorkspaceLabels: []string{"eu", "prod"}}
	assert.True(t, p.Privileged())
	assert.True(t, p.HasAnyRole([]string{"x", "member"}))
	assert.False(t, p.HasAnyRole([]string{"x"}))
	assert.False(t, p.HasAnyRole(nil))
	assert.True(t, p.HasAnyWorkspaceLabel([]string{"prod"}))
	assert.False(t, p.HasAnyWorkspaceLabel([]string{"us"}))

	assert.False(t, (&Principal{Roles: []string{"member"}}).Privileged())
}
