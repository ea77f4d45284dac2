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

package authz

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Domain errors
var (
	ErrRoleNotFound  = errors.New("role not found")
	ErrProtectedRole = errors.New("role is protected")
	ErrUnauthorized  = errors.New("unauthorized")
)

// ValidationError carries field-level validation failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// GuardName scopes role names, mirroring the authentication guard a role
// applies to.
type GuardName string

const (
	GuardWeb GuardName = "web"
	GuardAPI GuardName = "api"
)

// Role is a named bundle of permissions
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	GuardName   GuardName `json:"guard_name"`
	Icon        string    `json:"icon,omitempty"`
	Color       string    `json:"color,omitempty"`
	Internal    bool      `json:"internal"`
	Permissions []string  `json:"permissions"` // Names of permissions
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPermission checks whether the permission is granted explicitly.
// The super-admin bypass is applied by the Evaluator, not here.
func (r *Role) HasPermission(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the role.
func (r *Role) Clone() *Role {
	c := *r
	c.Permissions = append([]string(nil), r.Permissions...)
	return &c
}

// TokenScope restricts an actor that authenticated with an API token.
type TokenScope interface {
	HasAbility(ability string) bool
}

// Actor is the identity a permission check is evaluated for.
type Actor struct {
	UserID string
	// Token is nil for session-authenticated actors.
	Token TokenScope
}

// RoleRepository defines the interface for role persistence
type RoleRepository interface {
	// Create inserts a role together with its permission grants
	Create(ctx context.Context, role *Role) error

	// GetByID retrieves a role with its permissions
	GetByID(ctx context.Context, id string) (*Role, error)

	// GetByName retrieves a role by name within a guard
	GetByName(ctx context.Context, name string, guard GuardName) (*Role, error)

	// List retrieves all roles, optionally filtered by guard
	List(ctx context.Context, guard *GuardName) ([]*Role, error)

	// Update persists name, icon and color
	Update(ctx context.Context, role *Role) error

	// SyncPermissions replaces the role's grants with names in one transaction
	SyncPermissions(ctx context.Context, roleID string, names []string) error

	// GrantPermissions adds grants, ignoring ones already held
	GrantPermissions(ctx context.Context, roleID string, names []string) error

	// RevokePermissions removes grants, ignoring ones not held
	RevokePermissions(ctx context.Context, roleID string, names []string) error

	// Delete removes the role and its role-permission and user-role rows
	Delete(ctx context.Context, id string) error
}

// AssignmentRepository defines the interface for user-role and direct
// user-permission associations
type AssignmentRepository interface {
	// RolesForUser retrieves every role held by the user, with permissions
	RolesForUser(ctx context.Context, userID string) ([]*Role, error)

	// DirectPermissions retrieves permission names granted to the user directly
	DirectPermissions(ctx context.Context, userID string) ([]string, error)

	// SyncUserRoles replaces the user's roles with roleIDs in one transaction
	SyncUserRoles(ctx context.Context, userID string, roleIDs []string) error

	// SyncDirectPermissions replaces the user's direct grants in one transaction
	SyncDirectPermissions(ctx context.Context, userID string, names []string) error

	// CountUsersWithRole counts users holding the role
	CountUsersWithRole(ctx context.Context, roleID string) (int, error)
}

// CatalogRepository mirrors the in-code permission catalog into storage.
type CatalogRepository interface {
	// SyncCatalog upserts the named permissions for a guard and removes
	// rows no longer in the catalog
	SyncCatalog(ctx context.Context, guard GuardName, names []string) error
}
