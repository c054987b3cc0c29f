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

package source

import (
	"encoding/json"
	"fmt"

	"github.com/tombee/switchyard/pkg/errors"
)

// Target is a decoded target operation. The concrete type selects the
// dispatcher branch.
type Target interface {
	Operation() string
}

// TriggerResponse asks the dispatcher to publish the target's response as a
// new platform event.
type TriggerResponse struct {
	Kind        string `json:"kind"`
	EventName   string `json:"eventName"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
}

// HTTPRequest is the http/makeRequest target.
type HTTPRequest struct {
	Method          string           `json:"method,omitempty"`
	URL             string           `json:"url,omitempty"`
	Headers         map[string]any   `json:"headers,omitempty"`
	Query           map[string]any   `json:"query,omitempty"`
	Body            any              `json:"body,omitempty"`
	TriggerResponse *TriggerResponse `json:"triggerResponse,omitempty"`
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletion is the ai/chatCompletion target.
type ChatCompletion struct {
	Model           string           `json:"model"`
	Messages        []Message        `json:"messages,omitempty"`
	System          string           `json:"system,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	MaxTokens       *int             `json:"maxTokens,omitempty"`
	TopP            *float64         `json:"topP,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
	TriggerResponse *TriggerResponse `json:"triggerResponse,omitempty"`
}

// EmitEvent is the platform/emitEvent target.
type EmitEvent struct {
	EventName   string         `json:"eventName"`
	Kind        string         `json:"kind,omitempty"`
	Source      string         `json:"source,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateUser is the platform/createUser target.
type CreateUser struct {
	Email    string         `json:"email,omitempty"`
	Name     string         `json:"name,omitempty"`
	Roles    []string       `json:"roles,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdateUser is the platform/updateUser target.
type UpdateUser struct {
	UserID   string         `json:"userId"`
	Email    string         `json:"email,omitempty"`
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SetUserRoles is the platform/setUserRoles target.
type SetUserRoles struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

// CreateEntity is the platform/createEntity target.
type CreateEntity struct {
	Blueprint string         `json:"blueprint"`
	Data      map[string]any `json:"data,omitempty"`
}

// UpdateEntity is the platform/updateEntity target.
type UpdateEntity struct {
	Blueprint string         `json:"blueprint"`
	Entity    string         `json:"entity"`
	Data      map[string]any `json:"data,omitempty"`
}

// Unhandled is any operation without a dispatcher branch.
type Unhandled struct {
	Kind    string
	Op      string
	Details map[string]any
}

func (HTTPRequest) Operation() string    { return OpMakeRequest }
func (ChatCompletion) Operation() string { return OpChatCompletion }
func (EmitEvent) Operation() string      { return OpEmitEvent }
func (CreateUser) Operation() string     { return OpCreateUser }
func (UpdateUser) Operation() string     { return OpUpdateUser }
func (SetUserRoles) Operation() string   { return OpSetUserRoles }
func (CreateEntity) Operation() string   { return OpCreateEntity }
func (UpdateEntity) Operation() string   { return OpUpdateEntity }
func (u Unhandled) Operation() string    { return u.Op }

// DecodeTarget converts target details into the typed variant for
// kind/operation. Unknown combinations decode to Unhandled.
func DecodeTarget(kind, operation string, details map[string]any) (Target, error) {
	switch {
	case kind == string(KindHTTP) && operation == OpMakeRequest:
		return decodeInto[HTTPRequest](kind, operation, details)
	case kind == string(KindAI) && operation == OpChatCompletion:
		return decodeInto[ChatCompletion](kind, operation, details)
	case kind == string(KindPlatform):
		switch operation {
		case OpEmitEvent:
			return decodeInto[EmitEvent](kind, operation, details)
		case OpCreateUser:
			return decodeInto[CreateUser](kind, operation, details)
		case OpUpdateUser:
			return decodeInto[UpdateUser](kind, operation, details)
		case OpSetUserRoles:
			return decodeInto[SetUserRoles](kind, operation, details)
		case OpCreateEntity:
			return decodeInto[CreateEntity](kind, operation, details)
		case OpUpdateEntity:
			return decodeInto[UpdateEntity](kind, operation, details)
		}
	}
	return Unhandled{Kind: kind, Op: operation, Details: details}, nil
}

func decodeInto[T Target](kind, operation string, details map[string]any) (Target, error) {
	var out T
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, decodeError(kind, operation, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, decodeError(kind, operation, err)
	}
	return out, nil
}

func decodeError(kind, operation string, err error) error {
	return &errors.ValidationError{
		Field:   "target.details",
		Message: fmt.Sprintf("cannot decode %s/%s details: %v", kind, operation, err),
	}
}
