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

// Package transport executes HTTP target requests with the source's
// credentials applied. Requests are never retried.
package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tombee/switchyard/pkg/httpclient"
)

// Request is a fully resolved HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the upstream reply.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Config configures a Client.
type Config struct {
	Timeout time.Duration

	// MaxResponseBytes caps the response body read. Default 10 MiB.
	MaxResponseBytes int64
}

// Client sends target requests.
type Client struct {
	http     *http.Client
	signer   *v4.Signer
	maxBytes int64
	now      func() time.Time

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	hc := httpclient.DefaultConfig()
	hc.RetryAttempts = 0
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Client{
		http:     client,
		signer:   v4.NewSigner(),
		maxBytes: maxBytes,
		now:      time.Now,
		tokens:   make(map[string]oauth2.TokenSource),
	}, nil
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodDelete: true,
	http.MethodPatch: true, http.MethodHead: true, http.MethodOptions: true,
}

// Do sends req with auth applied. Non-2xx replies are returned as a
// *TransportError carrying the response.
func (c *Client) Do(ctx context.Context, req *Request, auth *Auth) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if !validMethods[method] {
		return nil, &TransportError{Type: ErrorTypeInvalidReq, Message: fmt.Sprintf("invalid HTTP method %q", req.Method)}
	}
	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &TransportError{Type: ErrorTypeInvalidReq, Message: fmt.Sprintf("invalid URL %q", req.URL), Cause: err}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &TransportError{Type: ErrorTypeInvalidReq, Message: "failed to build request", Cause: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if auth != nil {
		if err := c.applyAuth(ctx, httpReq, req.Body, auth); err != nil {
			return nil, err
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, &TransportError{Type: ErrorTypeConnection, Message: "failed to read response body", Cause: err}
	}

	out := &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: raw}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Type:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Response:   out,
		}
	}
	return out, nil
}

func (c *Client) applyAuth(ctx context.Context, req *http.Request, body []byte, auth *Auth) error {
	switch auth.Type {
	case AuthNone:
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case AuthAPIKey:
		header := auth.HeaderName
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		req.Header.Set(header, auth.HeaderValue)
	case AuthOAuth2:
		tok, err := c.tokenSource(auth).Token()
		if err != nil {
			return &TransportError{Type: ErrorTypeAuth, Message: "failed to acquire OAuth2 token", Cause: err}
		}
		tok.SetAuthHeader(req)
	case AuthAWSSigV4:
		hash := payloadHash(body)
		req.Header.Set("X-Amz-Content-Sha256", hash)
		creds := aws.Credentials{
			AccessKeyID:     auth.AccessKeyID,
			SecretAccessKey: auth.SecretAccessKey,
			SessionToken:    auth.SessionToken,
		}
		if err := c.signer.SignHTTP(ctx, creds, req, hash, auth.Service, auth.Region, c.now()); err != nil {
			return &TransportError{Type: ErrorTypeInvalidReq, Message: "failed to sign request", Cause: err}
		}
	default:
		return &TransportError{Type: ErrorTypeInvalidReq, Message: fmt.Sprintf("unsupported auth type %q", auth.Type)}
	}
	return nil
}

// tokenSource returns a cached, self-refreshing client-credentials source.
// Sources are keyed by the full credential set, secret included, so a
// different or rotated secret never reuses another caller's token.
func (c *Client) tokenSource(auth *Auth) oauth2.TokenSource {
	key := tokenKey(auth)

	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.tokens[key]; ok {
		return ts
	}
	cfg := &clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}
	// The source outlives the request, so it gets its own context.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
	ts := cfg.TokenSource(ctx)
	c.tokens[key] = ts
	return ts
}

func tokenKey(auth *Auth) string {
	h := sha256.New()
	for _, part := range []string{auth.TokenURL, auth.ClientID, auth.ClientSecret, strings.Join(auth.Scopes, " ")} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func payloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func classifyError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &TransportError{Type: ErrorTypeCancelled, Message: "request cancelled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &TransportError{Type: ErrorTypeTimeout, Message: "request timed out", Cause: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &TransportError{Type: ErrorTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &TransportError{Type: ErrorTypeConnection, Message: "request failed", Cause: err}
}
