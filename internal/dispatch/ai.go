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

	"github.com/tombee/switchyard/internal/llm"
	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/pkg/errors"
)

func (d *Dispatcher) chatCompletion(ctx context.Context, c *call, t source.ChatCompletion) (*Result, error) {
	if d.chat == nil {
		return nil, d.fail(c, "no chat completion client configured", nil)
	}
	if t.Model == "" {
		return nil, d.fail(c, "model is required", nil)
	}

	messages := t.Messages
	if len(messages) == 0 {
		// No conversation given: send the payload itself as the prompt.
		raw, err := json.Marshal(c.payload)
		if err != nil {
			return nil, d.fail(c, "cannot encode payload as prompt", err)
		}
		messages = []source.Message{{Role: "user", Content: string(raw)}}
	}
	if t.System != "" {
		messages = append([]source.Message{{Role: "system", Content: t.System}}, messages...)
	}

	req := llm.ChatRequest{
		Model:       t.Model,
		Messages:    messages,
		Temperature: t.Temperature,
		MaxTokens:   t.MaxTokens,
		TopP:        t.TopP,
		Stream:      t.Stream,
	}
	resp, err := d.chat.Complete(ctx, req, d.chatCredentials(c))
	if err != nil {
		out := &errors.DispatchError{
			Kind:      c.source.Kind,
			Operation: c.target.Operation,
			Message:   "chat completion failed",
			Cause:     err,
		}
		var se *llm.StatusError
		if errors.As(err, &se) {
			out.StatusCode = se.StatusCode
		}
		return nil, out
	}

	if !t.Stream {
		d.publishResponse(ctx, c, t.TriggerResponse, asObject(resp))
	}
	return &Result{Body: resp}, nil
}

// chatCredentials takes the key from the vault and the endpoint from the
// source metadata, falling back to a baseUrl stored with the secrets.
func (d *Dispatcher) chatCredentials(c *call) llm.Credentials {
	creds := llm.Credentials{
		APIKey: firstString(c.secrets, "apiKey", "token"),
	}
	creds.BaseURL = firstString(c.source.Metadata, "baseUrl")
	if creds.BaseURL == "" {
		creds.BaseURL = firstString(c.secrets, "baseUrl")
	}
	creds.Organization = firstString(c.source.Metadata, "organization")
	return creds
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func asObject(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
