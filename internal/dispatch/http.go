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

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/internal/transport"
	"github.com/tombee/switchyard/pkg/errors"
)

// maxErrorBody bounds how much of a failed response lands in the error.
const maxErrorBody = 512

func (d *Dispatcher) makeRequest(ctx context.Context, c *call, t source.HTTPRequest) (*Result, error) {
	if d.transport == nil {
		return nil, d.fail(c, "no HTTP transport configured", nil)
	}

	method := strings.ToUpper(t.Method)
	if method == "" {
		method = http.MethodPost
	}

	base, _ := c.source.Metadata["baseUrl"].(string)
	target, err := buildURL(base, t.URL, t.Query)
	if err != nil {
		return nil, d.fail(c, err.Error(), nil)
	}

	body := t.Body
	if body == nil && method != http.MethodGet && method != http.MethodHead {
		if p := passthrough(c.payload); p != nil {
			body = p
		}
	}
	raw, err := encodeBody(body)
	if err != nil {
		return nil, d.fail(c, "cannot encode request body", err)
	}

	auth, err := d.httpAuth(c)
	if err != nil {
		return nil, err
	}

	resp, err := d.transport.Do(ctx, &transport.Request{
		Method:  method,
		URL:     target,
		Headers: stringMap(t.Headers),
		Body:    raw,
	}, auth)
	if err != nil {
		return nil, transportFailure(c, err)
	}

	res := &Result{
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Headers),
		Body:    decodeBody(resp.Body),
	}
	d.publishResponse(ctx, c, t.TriggerResponse, map[string]any{
		"status":  res.Status,
		"headers": res.Headers,
		"body":    res.Body,
	})
	return res, nil
}

// httpAuth combines the non-secret auth settings in source metadata with
// the vault secrets. Secrets win.
func (d *Dispatcher) httpAuth(c *call) (*transport.Auth, error) {
	merged := make(map[string]any)
	if m, ok := c.source.Metadata["auth"].(map[string]any); ok {
		maps.Copy(merged, transport.PublicAuth(m))
	}
	maps.Copy(merged, c.secrets)
	auth, err := transport.ParseAuth(merged)
	if err != nil {
		return nil, d.fail(c, "invalid credentials", err)
	}
	return auth, nil
}

// buildURL joins a relative ref onto base and appends query. Absolute refs
// ignore base.
func buildURL(base, ref string, query map[string]any) (string, error) {
	if base == "" && ref == "" {
		return "", fmt.Errorf("no url and no baseUrl")
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q", ref)
	}
	if !u.IsAbs() {
		if base == "" {
			return "", fmt.Errorf("relative url %q needs a baseUrl", ref)
		}
		b, err := url.Parse(base)
		if err != nil || !b.IsAbs() {
			return "", fmt.Errorf("invalid baseUrl %q", base)
		}
		if u.Path != "" {
			b.Path = strings.TrimRight(b.Path, "/") + "/" + strings.TrimLeft(u.Path, "/")
			b.RawPath = ""
		}
		q := b.Query()
		for k, vs := range u.Query() {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		b.RawQuery = q.Encode()
		u = b
	}

	if len(query) > 0 {
		q := u.Query()
		for _, k := range sortedKeys(query) {
			q.Del(k)
			switch v := query[k].(type) {
			case []any:
				for _, item := range v {
					q.Add(k, stringify(item))
				}
			default:
				q.Set(k, stringify(v))
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

// decodeBody returns JSON bodies decoded and anything else as a string.
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = strings.Join(vs, ", ")
		}
	}
	return out
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = stringify(v)
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func transportFailure(c *call, err error) error {
	out := &errors.DispatchError{
		Kind:      c.source.Kind,
		Operation: c.target.Operation,
		Message:   "request failed",
		Cause:     err,
	}
	var te *transport.TransportError
	if errors.As(err, &te) {
		out.StatusCode = te.StatusCode
		out.Message = te.Message
		if te.Response != nil && len(te.Response.Body) > 0 {
			snippet := string(te.Response.Body)
			if len(snippet) > maxErrorBody {
				snippet = snippet[:maxErrorBody] + "..."
			}
			out.Message = fmt.Sprintf("%s: %s", te.Message, snippet)
		}
	}
	return out
}
