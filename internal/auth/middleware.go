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
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tombee/switchyard/internal/log"
)

// Middleware authenticates API requests.
type Middleware struct {
	jwt           JWTConfig
	internalToken string
	logger        *slog.Logger
}

// NewMiddleware creates an auth middleware. internalToken guards the
// internal endpoints; an empty token rejects every internal call.
func NewMiddleware(jwtCfg JWTConfig, internalToken string, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = log.Discard()
	}
	return &Middleware{
		jwt:           jwtCfg,
		internalToken: internalToken,
		logger:        log.WithComponent(logger, "auth"),
	}
}

// RequireJWT rejects requests without a valid bearer JWT and stores the
// caller's Principal in the request context.
func (m *Middleware) RequireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractBearerToken(r)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}
		claims, err := ValidateJWT(token, m.jwt)
		if err != nil {
			m.logger.Debug("rejected token", slog.String("path", r.URL.Path), log.Error(err))
			unauthorized(w, "Invalid credentials")
			return
		}
		if claims.IsHookToken() {
			m.logger.Debug("rejected plugin hook token", slog.String("path", r.URL.Path), slog.String(log.PluginIDKey, claims.Plugin))
			unauthorized(w, "Invalid credentials")
			return
		}
		ctx := ContextWithPrincipal(r.Context(), principalFromClaims(claims))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePrivileged rejects authenticated callers without an admin or
// owner role. It must run after RequireJWT.
func (m *Middleware) RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			unauthorized(w, "Authentication required")
			return
		}
		if !p.Privileged() {
			writeError(w, http.StatusForbidden, "forbidden", "admin or owner role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireInternal accepts only the shared internal token.
func (m *Middleware) RequireInternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractBearerToken(r)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}
		if m.internalToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(m.internalToken)) != 1 {
			m.logger.Warn("rejected internal call", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
			unauthorized(w, "Invalid internal token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractBearerToken extracts the Bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Case-insensitive per RFC 6750.
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", fmt.Errorf("invalid Authorization header format, expected 'Bearer <token>'")
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", fmt.Errorf("empty Bearer token")
	}
	return token, nil
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"type":  errType,
	})
}
