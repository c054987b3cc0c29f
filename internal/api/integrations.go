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
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tombee/switchyard/internal/automation"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/pkg/errors"
)

func (h *Handler) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	filter, err := integrationFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.svc.ListIntegrations(r.Context(), principal(r).Tenant, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*store.Integration{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"integrations": list})
}

func (h *Handler) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	var input automation.IntegrationInput
	if err := decodeBody(w, r, &input, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	caller := principal(r)
	in, err := h.svc.CreateIntegration(r.Context(), caller.Tenant, caller.UserID, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (h *Handler) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	populate, err := boolParam(r, "populate")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := h.svc.GetIntegration(r.Context(), principal(r).Tenant, mux.Vars(r)["id"], populate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *Handler) handleUpdateIntegration(w http.ResponseWriter, r *http.Request) {
	var patch automation.IntegrationPatch
	if err := decodeBody(w, r, &patch, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := h.svc.UpdateIntegration(r.Context(), principal(r).Tenant, mux.Vars(r)["id"], patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *Handler) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteIntegration(r.Context(), principal(r).Tenant, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func integrationFilter(r *http.Request) (store.IntegrationFilter, error) {
	var filter store.IntegrationFilter
	q := r.URL.Query()

	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return filter, &errors.ValidationError{Field: "active", Message: "must be true or false"}
		}
		filter.Active = &active
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, &errors.ValidationError{Field: key, Message: "must be a non-negative integer"}
		}
		*dst = n
	}
	return filter, nil
}

func boolParam(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &errors.ValidationError{Field: key, Message: "must be true or false"}
	}
	return b, nil
}
