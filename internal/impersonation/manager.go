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

package impersonation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/identity"
)

// SessionKey holds the whole impersonation state. Nothing else in the
// session is touched by impersonation.
const SessionKey = "impersonate"

// Domain errors
var (
	ErrConflict          = errors.New("already impersonating")
	ErrStaleSession      = errors.New("impersonation session is stale")
	ErrSelfImpersonation = errors.New("cannot impersonate yourself")
	ErrTargetSuspended   = errors.New("cannot impersonate a suspended user")
	ErrUnauthenticated   = errors.New("no authenticated user")

	// ErrNotImpersonating is a stale leave on a session that never started
	// impersonating. The session itself is still valid.
	ErrNotImpersonating = fmt.Errorf("%w: not impersonating", ErrStaleSession)
)

// State is the impersonation record kept in the session
type State struct {
	IsImpersonating bool   `json:"is_impersonating"`
	OriginalUserID  string `json:"original_user_id"`
	ReturnURL       string `json:"return_url"`
	CanBypass2FA    bool   `json:"can_bypass_2fa"`
}

// Session is the part of a server-side session the manager needs
type Session interface {
	Get(key string) string
	Set(key, value string)
	Delete(key string)
	SetUser(id string)
	User() string
}

// UserLookup resolves users by ID
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*identity.User, error)
}

// RoleLookup answers role questions about a user
type RoleLookup interface {
	IsSuperAdmin(ctx context.Context, userID string) (bool, error)
	RoleNames(ctx context.Context, userID string) ([]string, error)
}

// Manager moves a session between the normal and impersonating states
type Manager struct {
	users       UserLookup
	roles       RoleLookup
	auditLogger audit.Logger
}

// NewManager creates a new impersonation manager
func NewManager(users UserLookup, roles RoleLookup, auditLogger audit.Logger) *Manager {
	return &Manager{users: users, roles: roles, auditLogger: auditLogger}
}

// Start makes sess act as target. The caller must already have checked
// that current holds impersonate:users.
func (m *Manager) Start(ctx context.Context, sess Session, current, target *identity.User, returnURL string) error {
	if st, _ := m.State(sess); st != nil {
		return ErrConflict
	}
	if current.ID == target.ID {
		return ErrSelfImpersonation
	}
	if !target.IsActive() {
		return ErrTargetSuspended
	}

	targetIsSuper, err := m.roles.IsSuperAdmin(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("failed to resolve target roles: %w", err)
	}
	if targetIsSuper {
		currentIsSuper, err := m.roles.IsSuperAdmin(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("failed to resolve actor roles: %w", err)
		}
		if !currentIsSuper {
			return authz.ErrUnauthorized
		}
	}

	roleLabel := ""
	if names, err := m.roles.RoleNames(ctx, target.ID); err == nil && len(names) > 0 {
		roleLabel = strings.Join(names, ", ")
	}

	data, err := json.Marshal(State{
		IsImpersonating: true,
		OriginalUserID:  current.ID,
		ReturnURL:       SafeReturnURL(returnURL),
		CanBypass2FA:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode impersonation state: %w", err)
	}

	sess.Set(SessionKey, string(data))
	sess.SetUser(target.ID)

	m.auditLogger.Log(ctx, audit.Activity{
		LogName:     audit.ChannelImpersonation,
		Event:       audit.EventImpersonateStart,
		Description: fmt.Sprintf("%s started impersonating %s", current.Email, target.Email),
		CauserID:    current.ID,
		CauserType:  audit.TypeUser,
		SubjectID:   target.ID,
		SubjectType: audit.TypeUser,
		Properties: map[string]any{
			"name":   target.Name,
			"email":  target.Email,
			"status": string(target.Status),
			"role":   roleLabel,
		},
	})

	return nil
}

// Leave switches sess back to the original user and clears the state.
// ErrStaleSession means the caller should send the user to login.
func (m *Manager) Leave(ctx context.Context, sess Session) (*identity.User, error) {
	st, err := m.State(sess)
	if err != nil {
		return nil, ErrStaleSession
	}
	if st == nil {
		return nil, ErrNotImpersonating
	}

	original, err := m.lookup(ctx, st.OriginalUserID)
	if err != nil {
		return nil, err
	}
	impersonated, err := m.lookup(ctx, sess.User())
	if err != nil {
		return nil, err
	}

	sess.Delete(SessionKey)
	sess.SetUser(original.ID)

	m.auditLogger.Log(ctx, audit.Activity{
		LogName:     audit.ChannelImpersonation,
		Event:       audit.EventImpersonateLeave,
		Description: fmt.Sprintf("%s stopped impersonating %s", original.Email, impersonated.Email),
		CauserID:    original.ID,
		CauserType:  audit.TypeUser,
		SubjectID:   impersonated.ID,
		SubjectType: audit.TypeUser,
	})

	return original, nil
}

// Resolve builds the request identity from sess
func (m *Manager) Resolve(ctx context.Context, sess Session) (Identity, error) {
	if sess.User() == "" {
		return Identity{}, ErrUnauthenticated
	}

	current, err := m.lookup(ctx, sess.User())
	if err != nil {
		return Identity{}, err
	}

	st, err := m.State(sess)
	if err != nil {
		return Identity{}, ErrStaleSession
	}
	if st == nil {
		if !current.IsActive() {
			return Identity{}, ErrStaleSession
		}
		return Normal(current), nil
	}

	original, err := m.lookup(ctx, st.OriginalUserID)
	if err != nil {
		return Identity{}, err
	}
	return Impersonating(original, current, st), nil
}

// Clear drops any impersonation state. Called on logout.
func (m *Manager) Clear(sess Session) {
	sess.Delete(SessionKey)
}

// State decodes the stored state. A missing key returns nil, nil.
func (m *Manager) State(sess Session) (*State, error) {
	raw := sess.Get(SessionKey)
	if raw == "" {
		return nil, nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		slog.Warn("discarding malformed impersonation state", slog.String("error", err.Error()))
		return nil, err
	}
	if !st.IsImpersonating || st.OriginalUserID == "" {
		return nil, ErrStaleSession
	}
	return &st, nil
}

func (m *Manager) lookup(ctx context.Context, userID string) (*identity.User, error) {
	if userID == "" {
		return nil, ErrStaleSession
	}
	u, err := m.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrStaleSession
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return u, nil
}

// SafeReturnURL keeps only same-site relative paths.
func SafeReturnURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	return u.RequestURI()
}
