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

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/internal/source"
)

func TestClient_Complete(t *testing.T) {
	var got map[string]any
	var auth, org string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		org = r.Header.Get("OpenAI-Organization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "model": "gpt-x", "created": 1700000000,
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(0)
	require.NoError(t, err)

	temp := 0.2
	resp, err := c.Complete(context.Background(), ChatRequest{
		Model:       "gpt-x",
		Messages:    []source.Message{{Role: "user", Content: "hi"}},
		Temperature: &temp,
	}, Credentials{APIKey: "sk-1", BaseURL: srv.URL + "/v1/", Organization: "org"})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
	assert.Equal(t, int64(1700000000), resp.Created.Unix())
	assert.Equal(t, "Bearer sk-1", auth)
	assert.Equal(t, "org", org)
	assert.Equal(t, 0.2, got["temperature"])
	assert.NotContains(t, got, "stream")
}

func TestClient_CompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"id\":\"s1\",\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n" +
			"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c, err := NewClient(0)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), ChatRequest{Model: "m", Stream: true}, Credentials{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "s1", resp.ID)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestClient_CompleteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c, err := NewClient(0)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), ChatRequest{Model: "m"}, Credentials{BaseURL: srv.URL})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, "slow down", statusErr.Body)
}
