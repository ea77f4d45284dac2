// Copyright 2026 The Bastion Authors
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

package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bastion-admin/bastion/internal/audit"
)

// ListActivity pages through the activity trail, newest first. Pass the
// created_at of the last row as ?before= to get the next page.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := audit.Query{
		LogName:   params.Get("log_name"),
		Event:     params.Get("event"),
		CauserID:  params.Get("causer_id"),
		SubjectID: params.Get("subject_id"),
	}

	fields := map[string]string{}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fields["limit"] = "must be a positive integer"
		}
		q.Limit = n
	}
	if v := params.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			fields["before"] = "must be an RFC 3339 timestamp"
		}
		q.Before = t
	}
	if len(fields) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "The given data was invalid.",
			"errors":  fields,
		})
		return
	}

	activities, err := h.activity.List(r.Context(), q)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if activities == nil {
		activities = []audit.Activity{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": activities})
}
