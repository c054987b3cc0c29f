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

package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/tombee/switchyard/internal/auth"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/pkg/errors"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error      string `json:"error"`
	Type       string `json:"type"`
	Field      string `json:"field,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", log.Error(err))
	}
}

// writeError maps err to its status code. Internal errors are logged and
// their details withheld.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{Error: err.Error(), Type: errors.TypeOf(err)}

	var ve *errors.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
		body.Suggestion = ve.Suggestion
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		h.logger.Error("request failed", slog.String("path", r.URL.Path), log.Error(err))
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched
// unless required is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, required bool) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &errors.ValidationError{Field: "body", Message: "request body too large or unreadable"}
	}
	if len(raw) == 0 {
		if required {
			return &errors.ValidationError{Field: "body", Message: "request body is required"}
		}
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &errors.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// principal returns the authenticated caller. The auth middleware
// guarantees one on every routed request that reaches a handler using it.
func principal(r *http.Request) *auth.Principal {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return &auth.Principal{}
	}
	return p
}
