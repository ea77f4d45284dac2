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
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bastion-admin/bastion/internal/impersonation"
	"github.com/bastion-admin/bastion/internal/observability/logger"
)

// ImpersonateRequest optionally names where to return after leaving
type ImpersonateRequest struct {
	ReturnURL string `json:"return_url"`
}

// StartImpersonation makes the session act as the target user
func (h *Handler) StartImpersonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ImpersonateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, _ := GetIdentity(ctx)
	if id.IsImpersonating() {
		respondServiceError(w, r, impersonation.ErrConflict)
		return
	}

	target, err := h.identityService.GetUser(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	sess := GetSession(ctx)
	if err := h.impersonation.Start(ctx, sess, id.Current(), target, req.ReturnURL); err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.meter.ImpersonationStarted(ctx)

	slog.InfoContext(ctx, "impersonation started",
		logger.UserID(target.ID),
		logger.ImpersonatorID(id.Current().ID),
	)

	respondJSON(w, http.StatusOK, map[string]any{
		"user":     target,
		"redirect": "/",
	})
}

// LeaveImpersonation returns the session to the original user
func (h *Handler) LeaveImpersonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := GetSession(ctx)

	returnURL := "/"
	if st, err := h.impersonation.State(sess); err == nil && st != nil {
		returnURL = st.ReturnURL
	}

	original, err := h.impersonation.Leave(ctx, sess)
	if err != nil {
		if errors.Is(err, impersonation.ErrStaleSession) && !errors.Is(err, impersonation.ErrNotImpersonating) {
			h.security.StaleSession(ctx, shortID(sess.ID), getClientIP(r))
			sess.Destroy()
		}
		respondServiceError(w, r, err)
		return
	}
	h.meter.ImpersonationLeft(ctx)

	respondJSON(w, http.StatusOK, map[string]any{
		"user":     original,
		"redirect": returnURL,
	})
}
