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
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/permission"
)

// PermissionsRequest carries a set of permission names
type PermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// ListPermissions returns the catalog grouped for display
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"data": permission.Grouped(),
	})
}

// ListRoles lists roles, optionally filtered by ?guard=
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	var guard *authz.GuardName
	if g := r.URL.Query().Get("guard"); g != "" {
		gn := authz.GuardName(g)
		guard = &gn
	}

	roles, err := h.roleService.List(r.Context(), guard)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data": roleViews(roles),
	})
}

// GetRole returns one role
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.roleService.Get(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": newRoleView(role)})
}

// CreateRole defines a new role
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var in authz.CreateRoleInput
	if !decodeJSON(w, r, &in) {
		return
	}

	role, err := h.roleService.Create(r.Context(), GetUserID(r.Context()), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"data": newRoleView(role)})
}

// UpdateRole changes a role's display fields
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var in authz.UpdateRoleInput
	if !decodeJSON(w, r, &in) {
		return
	}

	role, err := h.roleService.Update(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "roleID"), in)
	if err != nil {
		h.rejectedRoleMutation(r, err)
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": newRoleView(role)})
}

// SyncRolePermissions replaces the role's permission set
func (h *Handler) SyncRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.mutatePermissions(w, r, h.roleService.SyncPermissions)
}

// GrantRolePermissions adds permissions to the role
func (h *Handler) GrantRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.mutatePermissions(w, r, h.roleService.Grant)
}

// RevokeRolePermissions removes permissions from the role
func (h *Handler) RevokeRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.mutatePermissions(w, r, h.roleService.Revoke)
}

// DeleteRole removes a role
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.roleService.Delete(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "roleID")); err != nil {
		h.rejectedRoleMutation(r, err)
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionMutation func(ctx context.Context, actorID, roleID string, names []string) (*authz.Role, error)

func (h *Handler) mutatePermissions(w http.ResponseWriter, r *http.Request, mutate permissionMutation) {
	var req PermissionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	role, err := mutate(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "roleID"), req.Permissions)
	if err != nil {
		h.rejectedRoleMutation(r, err)
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": newRoleView(role)})
}

func (h *Handler) rejectedRoleMutation(r *http.Request, err error) {
	if errors.Is(err, authz.ErrProtectedRole) {
		h.security.ProtectedRoleRejected(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "roleID"), getClientIP(r))
	}
}

// roleView adds the derived protection flag to a role
type roleView struct {
	*authz.Role
	Protected bool `json:"protected"`
}

func newRoleView(role *authz.Role) roleView {
	return roleView{Role: role, Protected: authz.IsProtected(role)}
}

func roleViews(roles []*authz.Role) []roleView {
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, newRoleView(role))
	}
	return out
}
