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
)

// UserRolesRequest carries the role IDs a user should hold
type UserRolesRequest struct {
	Roles []string `json:"roles"`
}

// GetUser returns a user with their roles and effective permissions
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.identityService.GetUser(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	roles, err := h.evaluator.RoleNames(ctx, user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	perms, err := h.evaluator.EffectivePermissions(ctx, user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"user":        user,
			"roles":       roles,
			"permissions": perms,
		},
	})
}

// SyncUserRoles replaces the roles a user holds
func (h *Handler) SyncUserRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UserRolesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.identityService.GetUser(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	roles, err := h.roleService.SyncUserRoles(ctx, GetUserID(ctx), user.ID, req.Roles)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": roleViews(roles)})
}

// SyncUserPermissions replaces a user's direct permission grants
func (h *Handler) SyncUserPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req PermissionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.identityService.GetUser(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	perms, err := h.roleService.SyncDirectPermissions(ctx, GetUserID(ctx), user.ID, req.Permissions)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"permissions": perms}})
}
