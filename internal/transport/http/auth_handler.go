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
	"strings"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/identity"
	"github.com/bastion-admin/bastion/internal/observability/logger"
)

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates with email and password and starts a fresh session
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := map[string]string{}
	if strings.TrimSpace(req.Email) == "" {
		fields["email"] = "is required"
	}
	if req.Password == "" {
		fields["password"] = "is required"
	}
	if len(fields) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "The given data was invalid.",
			"errors":  fields,
		})
		return
	}

	user, err := h.identityService.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		h.meter.Login(ctx, false)
		reason := "invalid_credentials"
		message := "These credentials do not match our records."
		switch {
		case errors.Is(err, identity.ErrAccountLocked):
			reason, message = "locked_out", "Too many login attempts. Please try again later."
		case errors.Is(err, identity.ErrUserSuspended):
			reason, message = "suspended", "This account has been suspended."
		case !errors.Is(err, identity.ErrInvalidCredentials):
			respondServiceError(w, r, err)
			return
		}
		h.security.LoginFailure(ctx, req.Email, getClientIP(r), reason)
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": message,
			"errors":  map[string]string{"email": message},
		})
		return
	}

	sess := GetSession(ctx)
	h.impersonation.Clear(sess)
	sess.Regenerate()
	sess.SetUser(user.ID)
	h.meter.Login(ctx, true)

	slog.InfoContext(ctx, "user signed in", logger.UserID(user.ID), logger.SessionID(shortID(sess.ID)))

	respondJSON(w, http.StatusOK, map[string]any{
		"user": user,
	})
}

// Logout ends the session. An impersonation in progress ends with it.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := GetSession(ctx)
	id, _ := GetIdentity(ctx)

	causer := id.Current()
	if id.IsImpersonating() {
		causer = id.Original()
	}

	h.auditLogger.Log(ctx, audit.Activity{
		LogName:     audit.ChannelAuth,
		Event:       audit.EventLogout,
		CauserID:    causer.ID,
		CauserType:  audit.TypeUser,
		SubjectID:   causer.ID,
		SubjectType: audit.TypeUser,
	})

	h.impersonation.Clear(sess)
	sess.Destroy()

	respondMessage(w, http.StatusOK, "Logged out.")
}

// GetCurrentUser describes the request identity and what it may do
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := GetIdentity(ctx)
	user := id.Current()

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
	if tok := GetToken(ctx); tok != nil {
		scoped := perms[:0:0]
		for _, p := range perms {
			if tok.HasAbility(p) {
				scoped = append(scoped, p)
			}
		}
		perms = scoped
	}

	body := map[string]any{
		"user":             user,
		"roles":            roles,
		"permissions":      perms,
		"is_impersonating": id.IsImpersonating(),
	}
	if id.IsImpersonating() {
		original := id.Original()
		body["impersonator"] = map[string]string{
			"id":    original.ID,
			"name":  original.Name,
			"email": original.Email,
		}
		body["return_url"] = id.State().ReturnURL
	}

	respondJSON(w, http.StatusOK, body)
}
