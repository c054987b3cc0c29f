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

	"github.com/gorilla/mux"

	"github.com/tombee/switchyard/internal/automation"
	"github.com/tombee/switchyard/internal/store"
)

func (h *Handler) handleListSources(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListSources(r.Context(), principal(r).Tenant)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*store.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": list})
}

func (h *Handler) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var input automation.SourceInput
	if err := decodeBody(w, r, &input, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	src, err := h.svc.CreateSource(r.Context(), principal(r).Tenant, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (h *Handler) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.svc.GetSource(r.Context(), principal(r).Tenant, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (h *Handler) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	var patch automation.SourcePatch
	if err := decodeBody(w, r, &patch, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	src, err := h.svc.UpdateSource(r.Context(), principal(r).Tenant, mux.Vars(r)["id"], patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (h *Handler) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSource(r.Context(), principal(r).Tenant, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
