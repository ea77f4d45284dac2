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

	"github.com/go-chi/chi/v5"

	"github.com/bastion-admin/bastion/internal/token"
)

// ListTokens lists the caller's API tokens
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.tokenService.List(r.Context(), GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []*token.Token{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": tokens})
}

// IssueToken creates an API token. The plain-text value is only returned here.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var in token.IssueInput
	if !decodeJSON(w, r, &in) {
		return
	}

	tok, bearer, err := h.tokenService.Issue(r.Context(), GetUserID(r.Context()), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"data":             tok,
		"plain_text_token": bearer,
	})
}

// RevokeToken deletes one of the caller's tokens
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := h.tokenService.Revoke(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "tokenID")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
