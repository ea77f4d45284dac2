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

// Package memory holds process-local implementations of the repository
// interfaces. State is lost on restart; use it for development and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/identity"
	"github.com/bastion-admin/bastion/internal/token"
)

// Store implements the role, assignment, catalog, user and token
// repositories over maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	roles       map[string]*authz.Role
	catalog     map[authz.GuardName][]string
	userRoles   map[string][]string
	direct      map[string][]string
	users       map[string]*identity.User
	credentials map[string]*identity.Credentials
	tokens      map[string]*token.Token
}

// New creates an empty store
func New() *Store {
	return &Store{
		roles:       map[string]*authz.Role{},
		catalog:     map[authz.GuardName][]string{},
		userRoles:   map[string][]string{},
		direct:      map[string][]string{},
		users:       map[string]*identity.User{},
		credentials: map[string]*identity.Credentials{},
		tokens:      map[string]*token.Token{},
	}
}

// Roles returns the store as an authz.RoleRepository
func (s *Store) Roles() authz.RoleRepository { return roleRepo{s} }

// Assignments returns the store as an authz.AssignmentRepository
func (s *Store) Assignments() authz.AssignmentRepository { return s }

// Catalog returns the store as an authz.CatalogRepository
func (s *Store) Catalog() authz.CatalogRepository { return s }

// Users returns the store as an identity.UserRepository
func (s *Store) Users() identity.UserRepository { return userRepo{s} }

// Tokens returns the store as a token.Repository
func (s *Store) Tokens() token.Repository { return tokenRepo{s} }

type roleRepo struct{ s *Store }

func (r roleRepo) Create(_ context.Context, role *authz.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.roles {
		if existing.Name == role.Name && existing.GuardName == role.GuardName {
			return &authz.ValidationError{Fields: map[string]string{"name": "has already been taken"}}
		}
	}
	r.s.roles[role.ID] = role.Clone()
	return nil
}

func (r roleRepo) GetByID(_ context.Context, id string) (*authz.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.roles[id]
	if !ok {
		return nil, authz.ErrRoleNotFound
	}
	return role.Clone(), nil
}

func (r roleRepo) GetByName(_ context.Context, name string, guard authz.GuardName) (*authz.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, role := range r.s.roles {
		if role.Name == name && role.GuardName == guard {
			return role.Clone(), nil
		}
	}
	return nil, authz.ErrRoleNotFound
}

func (r roleRepo) List(_ context.Context, guard *authz.GuardName) ([]*authz.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*authz.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		if guard == nil || role.GuardName == *guard {
			out = append(out, role.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r roleRepo) Update(_ context.Context, role *authz.Role) error {
	return r.s.withRole(role.ID, func(stored *authz.Role) {
		stored.Name, stored.Icon, stored.Color, stored.UpdatedAt = role.Name, role.Icon, role.Color, role.UpdatedAt
	})
}

func (r roleRepo) SyncPermissions(_ context.Context, roleID string, names []string) error {
	return r.s.withRole(roleID, func(stored *authz.Role) {
		stored.Permissions = sortedSet(names)
	})
}

func (r roleRepo) GrantPermissions(_ context.Context, roleID string, names []string) error {
	return r.s.withRole(roleID, func(stored *authz.Role) {
		stored.Permissions = sortedSet(append(stored.Permissions, names...))
	})
}

func (r roleRepo) RevokePermissions(_ context.Context, roleID string, names []string) error {
	return r.s.withRole(roleID, func(stored *authz.Role) {
		stored.Permissions = slices.DeleteFunc(stored.Permissions, func(p string) bool {
			return slices.Contains(names, p)
		})
	})
}

func (r roleRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[id]; !ok {
		return authz.ErrRoleNotFound
	}
	delete(r.s.roles, id)
	for user, ids := range r.s.userRoles {
		r.s.userRoles[user] = slices.DeleteFunc(ids, func(rid string) bool { return rid == id })
	}
	return nil
}

func (s *Store) withRole(id string, fn func(*authz.Role)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return authz.ErrRoleNotFound
	}
	fn(role)
	role.UpdatedAt = time.Now().UTC()
	return nil
}

// RolesForUser retrieves every role the user holds
func (s *Store) RolesForUser(_ context.Context, userID string) ([]*authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*authz.Role
	for _, id := range s.userRoles[userID] {
		if role, ok := s.roles[id]; ok {
			out = append(out, role.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DirectPermissions retrieves permissions granted to the user directly
func (s *Store) DirectPermissions(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.direct[userID]), nil
}

// SyncUserRoles replaces the user's roles
func (s *Store) SyncUserRoles(_ context.Context, userID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles[userID] = sortedSet(roleIDs)
	return nil
}

// SyncDirectPermissions replaces the user's direct grants
func (s *Store) SyncDirectPermissions(_ context.Context, userID string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct[userID] = sortedSet(names)
	return nil
}

// CountUsersWithRole counts users holding the role
func (s *Store) CountUsersWithRole(_ context.Context, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ids := range s.userRoles {
		if slices.Contains(ids, roleID) {
			n++
		}
	}
	return n, nil
}

// SyncCatalog records the permission names for guard and drops grants of
// names no longer present
func (s *Store) SyncCatalog(_ context.Context, guard authz.GuardName, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[guard] = sortedSet(names)
	for _, role := range s.roles {
		if role.GuardName == guard {
			role.Permissions = slices.DeleteFunc(role.Permissions, func(p string) bool {
				return !slices.Contains(names, p)
			})
		}
	}
	return nil
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *identity.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return identity.ErrUserAlreadyExists
		}
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	c := *user
	r.s.users[user.ID] = &c
	return nil
}

func (r userRepo) AddCredentials(_ context.Context, credentials *identity.Credentials) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *credentials
	c.UpdatedAt = time.Now().UTC()
	r.s.credentials[c.UserID] = &c
	return nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*identity.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (r userRepo) UpdateStatus(_ context.Context, userID string, status identity.Status) error {
	return r.s.withUser(userID, func(u *identity.User) { u.Status = status })
}

func (r userRepo) UpdateLockout(_ context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	return r.s.withUser(userID, func(u *identity.User) {
		u.FailedLoginAttempts, u.LockedUntil = failedAttempts, lockedUntil
	})
}

func (r userRepo) GetCredentials(_ context.Context, userID string) (*identity.Credentials, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.credentials[userID]
	if !ok {
		return nil, identity.ErrInvalidCredentials
	}
	out := *c
	return &out, nil
}

func (r userRepo) UpdatePassword(_ context.Context, userID string, passwordHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credentials[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	c.PasswordHash, c.UpdatedAt = passwordHash, time.Now().UTC()
	return nil
}

func (s *Store) withUser(id string, fn func(*identity.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

type tokenRepo struct{ s *Store }

func (r tokenRepo) Create(_ context.Context, t *token.Token) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *t
	c.Abilities = slices.Clone(t.Abilities)
	r.s.tokens[t.ID] = &c
	return nil
}

func (r tokenRepo) GetByID(_ context.Context, id string) (*token.Token, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tokens[id]
	if !ok {
		return nil, token.ErrTokenNotFound
	}
	c := *t
	return &c, nil
}

func (r tokenRepo) ListForUser(_ context.Context, userID string) ([]*token.Token, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*token.Token
	for _, t := range r.s.tokens {
		if t.UserID == userID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r tokenRepo) Delete(_ context.Context, id, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[id]
	if !ok || t.UserID != userID {
		return token.ErrTokenNotFound
	}
	delete(r.s.tokens, id)
	return nil
}

func (r tokenRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tokens[id]; ok {
		t.LastUsedAt = &at
	}
	return nil
}

func sortedSet(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
