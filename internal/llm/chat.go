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

// Package llm is the chat-completion adapter used by ai targets.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/pkg/httpclient"
)

// DefaultBaseURL is used when neither the source nor its credentials name
// an endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// ChatRequest is a normalised chat completion request.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []source.Message `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// Credentials select and authenticate the completion endpoint.
type Credentials struct {
	APIKey       string
	BaseURL      string
	Organization string
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChatResponse is the completion result.
type ChatResponse struct {
	ID           string    `json:"id,omitempty"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finishReason,omitempty"`
	Usage        Usage     `json:"usage"`
	Created      time.Time `json:"created"`
}

// ChatCompleter runs chat completions.
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest, creds Credentials) (*ChatResponse, error)
}

// StatusError is a non-2xx reply from the completion endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat completion failed with HTTP %d: %s", e.StatusCode, e.Body)
}

// Client speaks the OpenAI-compatible /chat/completions protocol.
type Client struct {
	http *http.Client
}

var _ ChatCompleter = (*Client)(nil)

// NewClient creates a client. Completions are slow, so the timeout is
// generous and nothing is retried.
func NewClient(timeout time.Duration) (*Client, error) {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	if timeout > 0 {
		cfg.Timeout = timeout
	} else {
		cfg.Timeout = 5 * time.Minute
	}
	hc, err := httpclient.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{http: hc}, nil
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends req. Streaming responses are drained and their deltas
// concatenated.
func (c *Client) Complete(ctx context.Context, req ChatRequest, creds Credentials) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	base := creds.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if creds.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}
	if creds.Organization != "" {
		httpReq.Header.Set("OpenAI-Organization", creds.Organization)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if req.Stream {
		return readStream(resp.Body, req.Model)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	out := &ChatResponse{ID: wire.ID, Model: wire.Model, Created: unix(wire.Created)}
	if len(wire.Choices) > 0 {
		out.Content = wire.Choices[0].Message.Content
		out.FinishReason = wire.Choices[0].FinishReason
	}
	if wire.Usage != nil {
		out.Usage = Usage{wire.Usage.PromptTokens, wire.Usage.CompletionTokens, wire.Usage.TotalTokens}
	}
	return out, nil
}

// readStream consumes server-sent events until [DONE].
func readStream(r io.Reader, model string) (*ChatResponse, error) {
	out := &ChatResponse{Model: model}
	var content strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk wireResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		if out.ID == "" {
			out.ID = chunk.ID
			out.Created = unix(chunk.Created)
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		for _, choice := range chunk.Choices {
			content.WriteString(choice.Delta.Content)
			if choice.FinishReason != "" {
				out.FinishReason = choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	out.Content = content.String()
	return out, nil
}

func unix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
