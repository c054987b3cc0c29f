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
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func echoServer(t *testing.T, status int) (*httptest.Server, *http.Request, *[]byte) {
	t.Helper()
	var got http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = *r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &got, &body
}

func TestClient_Do_Auth(t *testing.T) {
	tests := []struct {
		name  string
		auth  *Auth
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: "no auth",
			check: func(t *testing.T, r *http.Request) {
				assert.Empty(t, r.Header.Get("Authorization"))
			},
		},
		{
			name: "bearer",
			auth: &Auth{Type: AuthBearer, Token: "tkn"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
			},
		},
		{
			name: "basic",
			auth: &Auth{Type: AuthBasic, Username: "u", Password: "p"},
			check: func(t *testing.T, r *http.Request) {
				user, pass, ok := r.BasicAuth()
				require.True(t, ok)
				assert.Equal(t, "u", user)
				assert.Equal(t, "p", pass)
			},
		},
		{
			name: "api key default header",
			auth: &Auth{Type: AuthAPIKey, HeaderValue: "k"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k", r.Header.Get(DefaultAPIKeyHeader))
			},
		},
		{
			name: "api key custom header",
			auth: &Auth{Type: AuthAPIKey, HeaderName: "X-Token", HeaderValue: "k"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k", r.Header.Get("X-Token"))
			},
		},
		{
			name: "sigv4",
			auth: &Auth{Type: AuthAWSSigV4, AccessKeyID: "AKID", SecretAccessKey: "secret", Region: "eu-west-1", Service: "execute-api"},
			check: func(t *testing.T, r *http.Request) {
				authz := r.Header.Get("Authorization")
				assert.True(t, strings.HasPrefix(authz, "AWS4-HMAC-SHA256 Credential=AKID/"), authz)
				assert.Contains(t, authz, "/eu-west-1/execute-api/aws4_request")
				assert.NotEmpty(t, r.Header.Get("X-Amz-Date"))
				assert.Equal(t, payloadHash([]byte(`{"a":1}`)), r.Header.Get("X-Amz-Content-Sha256"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got, body := echoServer(t, http.StatusOK)
			c := newClient(t)

			resp, err := c.Do(context.Background(), &Request{
				Method:  "post",
				URL:     srv.URL + "/x?y=1",
				Headers: map[string]string{"X-Custom": "1"},
				Body:    []byte(`{"a":1}`),
			}, tt.auth)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "yes", resp.Headers.Get("X-Upstream"))
			assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
			assert.Equal(t, http.MethodPost, got.Method)
			assert.Equal(t, "1", got.URL.Query().Get("y"))
			assert.Equal(t, "1", got.Header.Get("X-Custom"))
			assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
			assert.Equal(t, `{"a":1}`, string(*body))
			tt.check(t, got)
		})
	}
}

func TestClient_Do_OAuth2ClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	srv, got, _ := echoServer(t, http.StatusOK)
	c := newClient(t)
	auth := &Auth{Type: AuthOAuth2, ClientID: "id", ClientSecret: "s", TokenURL: tokenSrv.URL}

	for range 2 {
		_, err := c.Do(context.Background(), &Request{Method: "GET", URL: srv.URL}, auth)
		require.NoError(t, err)
		assert.Equal(t, "Bearer abc", got.Header.Get("Authorization"))
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestClient_Do_OAuth2TokensKeyedBySecret(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := ""
		if _, pass, ok := r.BasicAuth(); ok {
			secret = pass
		} else if err := r.ParseForm(); err == nil {
			secret = r.Form.Get("client_secret")
		}
		w.Header().Set("Content-Type", "application/json")
		if secret != "right" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tenant-a-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	srv, got, _ := echoServer(t, http.StatusOK)
	c := newClient(t)

	good := &Auth{Type: AuthOAuth2, ClientID: "shared", ClientSecret: "right", TokenURL: tokenSrv.URL}
	_, err := c.Do(context.Background(), &Request{Method: "GET", URL: srv.URL}, good)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tenant-a-token", got.Header.Get("Authorization"))

	bad := &Auth{Type: AuthOAuth2, ClientID: "shared", ClientSecret: "WRONG", TokenURL: tokenSrv.URL}
	_, err = c.Do(context.Background(), &Request{Method: "GET", URL: srv.URL}, bad)
	require.Error(t, err)
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, ErrorTypeAuth, tErr.Type)
}

func TestClient_Do_Errors(t *testing.T) {
	c := newClient(t)

	t.Run("non-2xx", func(t *testing.T) {
		srv, _, _ := echoServer(t, http.StatusServiceUnavailable)
		_, err := c.Do(context.Background(), &Request{Method: "GET", URL: srv.URL}, nil)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, ErrorTypeServer, terr.Type)
		assert.Equal(t, http.StatusServiceUnavailable, terr.StatusCode)
		require.NotNil(t, terr.Response)
		assert.JSONEq(t, `{"ok":true}`, string(terr.Response.Body))
	})

	t.Run("not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := c.Do(context.Background(), &Request{Method: "GET", URL: srv.URL}, nil)
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("invalid method", func(t *testing.T) {
		_, err := c.Do(context.Background(), &Request{Method: "BREW", URL: "http://x"}, nil)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, ErrorTypeInvalidReq, terr.Type)
	})

	t.Run("relative url", func(t *testing.T) {
		_, err := c.Do(context.Background(), &Request{Method: "GET", URL: "/orders"}, nil)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, ErrorTypeInvalidReq, terr.Type)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := c.Do(context.Background(), &Request{Method: "GET", URL: url}, nil)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, ErrorTypeConnection, terr.Type)
	})
}

func TestParseAuth(t *testing.T) {
	a, err := ParseAuth(nil)
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = ParseAuth(map[string]any{"type": "Bearer", "token": "x"})
	require.NoError(t, err)
	assert.Equal(t, AuthBearer, a.Type)

	_, err = ParseAuth(map[string]any{"type": "bearer"})
	assert.ErrorContains(t, err, "token is required")

	_, err = ParseAuth(map[string]any{"type": "aws_sigv4", "accessKeyId": "a", "secretAccessKey": "b", "region": "r"})
	assert.ErrorContains(t, err, "service is required")

	_, err = ParseAuth(map[string]any{"type": "kerberos"})
	assert.ErrorContains(t, err, "unsupported")
}

func TestPublicAuth(t *testing.T) {
	got := PublicAuth(map[string]any{
		"type":         "oauth2",
		"tokenUrl":     "https://idp/token",
		"clientId":     "id",
		"clientSecret": "s",
		"token":        "t",
	})
	assert.Equal(t, map[string]any{"type": "oauth2", "tokenUrl": "https://idp/token"}, got)
	assert.Empty(t, PublicAuth(nil))
}
