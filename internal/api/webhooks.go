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
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/pkg/errors"
)

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, mux.Vars(r)["id"], false)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, mux.Vars(r)["webhookId"], true)
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request, ref string, byWebhookID bool) {
	var body any
	if err := decodeBody(w, r, &body, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.TriggerWebhook(r.Context(), principal(r), ref, byWebhookID, body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type dataManipulationRequest struct {
	Tenant  string          `json:"tenant"`
	Payload map[string]any  `json:"payload"`
	Steps   []pipeline.Step `json:"steps"`
}

func (h *Handler) handleDataManipulation(w http.ResponseWriter, r *http.Request) {
	var req dataManipulationRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Tenant) == "" {
		h.writeError(w, r, &errors.ValidationError{Field: "tenant", Message: "tenant is required"})
		return
	}
	out, err := h.svc.RunDataManipulation(r.Context(), req.Tenant, req.Payload, req.Steps)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.PlatformEvent
	if err := decodeBody(w, r, &ev, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	published, err := h.events.Publish(r.Context(), ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, published)
}
