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

package transport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Authentication types.
const (
	AuthNone     = ""
	AuthBearer   = "bearer"
	AuthBasic    = "basic"
	AuthAPIKey   = "api_key"
	AuthOAuth2   = "oauth2"
	AuthAWSSigV4 = "aws_sigv4"
)

// DefaultAPIKeyHeader is used when an api_key credential names no header.
const DefaultAPIKeyHeader = "X-API-Key"

// Auth holds decrypted source credentials. Only the fields of Type are
// used.
type Auth struct {
	Type string `json:"type"`

	// bearer
	Token string `json:"token,omitempty"`

	// basic
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// api_key
	HeaderName  string `json:"headerName,omitempty"`
	HeaderValue string `json:"headerValue,omitempty"`

	// oauth2 client credentials
	ClientID     string   `json:"clientId,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	TokenURL     string   `json:"tokenUrl,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`

	// aws_sigv4
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	SessionToken    string `json:"sessionToken,omitempty"`
	Region          string `json:"region,omitempty"`
	Service         string `json:"service,omitempty"`
}

// PublicAuthKeys are the auth settings that may live outside the vault.
var PublicAuthKeys = []string{"type", "headerName", "tokenUrl", "scopes", "region", "service"}

// PublicAuth returns the non-secret subset of settings. Credential material
// such as tokens, passwords and client secrets is dropped.
func PublicAuth(settings map[string]any) map[string]any {
	out := make(map[string]any, len(PublicAuthKeys))
	for _, key := range PublicAuthKeys {
		if v, ok := settings[key]; ok {
			out[key] = v
		}
	}
	return out
}

// ParseAuth decodes credentials as stored in the vault. A nil or empty map
// yields nil.
func ParseAuth(secrets map[string]any) (*Auth, error) {
	if len(secrets) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}
	var a Auth
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}
	a.Type = strings.ToLower(a.Type)
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks that the fields required by Type are present.
func (a *Auth) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%s is required for %s auth", field, a.Type)
	}

	switch a.Type {
	case AuthNone:
	case AuthBearer:
		if a.Token == "" {
			return missing("token")
		}
	case AuthBasic:
		if a.Username == "" {
			return missing("username")
		}
	case AuthAPIKey:
		if a.HeaderValue == "" {
			return missing("headerValue")
		}
	case AuthOAuth2:
		if a.ClientID == "" {
			return missing("clientId")
		}
		if a.TokenURL == "" {
			return missing("tokenUrl")
		}
	case AuthAWSSigV4:
		if a.AccessKeyID == "" || a.SecretAccessKey == "" {
			return missing("accessKeyId and secretAccessKey")
		}
		if a.Region == "" {
			return missing("region")
		}
		if a.Service == "" {
			return missing("service")
		}
	default:
		return fmt.Errorf("unsupported auth type %q", a.Type)
	}
	return nil
}
