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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/permission"
)

// CreateRoleInput carries the fields of a new role
type CreateRoleInput struct {
	Name        string    `json:"name" validate:"required,max=64,rolename"`
	GuardName   GuardName `json:"guard_name" validate:"omitempty,oneof=web api"`
	Icon        string    `json:"icon" validate:"omitempty,max=64"`
	Color       string    `json:"color" validate:"omitempty,hexcolor"`
	Permissions []string  `json:"permissions" validate:"omitempty,dive,required"`
}

// UpdateRoleInput carries optional display changes. Nil fields are left as is.
type UpdateRoleInput struct {
	Name  *string `json:"name" validate:"omitempty,max=64,rolename"`
	Icon  *string `json:"icon" validate:"omitempty,max=64"`
	Color *string `json:"color"`
}

// RoleService is the role store. Every mutating operation consults
// AssertMutable before touching storage.
type RoleService struct {
	roles       RoleRepository
	assignments AssignmentRepository
	evaluator   *Evaluator
	auditLogger audit.Logger
	validate    *validator.Validate
}

// NewRoleService creates a new role service
func NewRoleService(
	roles RoleRepository,
	assignments AssignmentRepository,
	evaluator *Evaluator,
	auditLogger audit.Logger,
) *RoleService {
	return &RoleService{
		roles:       roles,
		assignments: assignments,
		evaluator:   evaluator,
		auditLogger: auditLogger,
		validate:    newValidator(),
	}
}

// Get retrieves a role by ID
func (s *RoleService) Get(ctx context.Context, id string) (*Role, error) {
	return s.roles.GetByID(ctx, id)
}

// List retrieves roles, optionally filtered by guard
func (s *RoleService) List(ctx context.Context, guard *GuardName) ([]*Role, error) {
	return s.roles.List(ctx, guard)
}

// Create defines a new, non-internal role
func (s *RoleService) Create(ctx context.Context, actorID string, in CreateRoleInput) (*Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.GuardName == "" {
		in.GuardName = GuardWeb
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}
	if IsReservedName(in.Name) {
		return nil, newValidationError("name", "is reserved")
	}

	perms, err := grantablePermissions(in.Permissions)
	if err != nil {
		return nil, err
	}

	if err := s.ensureNameAvailable(ctx, in.Name, in.GuardName, ""); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	role := &Role{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Name:        in.Name,
		GuardName:   in.GuardName,
		Icon:        in.Icon,
		Color:       in.Color,
		Internal:    false,
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.roles.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	s.record(ctx, actorID, audit.EventRoleCreated, role, map[string]any{
		"role_name":   role.Name,
		"guard_name":  string(role.GuardName),
		"permissions": role.Permissions,
	})

	return role, nil
}

// Update renames or restyles a role
func (s *RoleService) Update(ctx context.Context, actorID, roleID string, in UpdateRoleInput) (*Role, error) {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := AssertMutable(role); err != nil {
		return nil, err
	}

	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}
	if in.Color != nil && *in.Color != "" {
		if err := s.validate.Var(*in.Color, "hexcolor"); err != nil {
			return nil, newValidationError("color", "must be a hex color")
		}
	}

	updated := role.Clone()
	changes := map[string]any{}

	if in.Name != nil && *in.Name != role.Name {
		if IsReservedName(*in.Name) {
			return nil, newValidationError("name", "is reserved")
		}
		if err := s.ensureNameAvailable(ctx, *in.Name, role.GuardName, role.ID); err != nil {
			return nil, err
		}
		changes["name"] = map[string]string{"old": role.Name, "new": *in.Name}
		updated.Name = *in.Name
	}
	if in.Icon != nil && *in.Icon != role.Icon {
		changes["icon"] = map[string]string{"old": role.Icon, "new": *in.Icon}
		updated.Icon = *in.Icon
	}
	if in.Color != nil && *in.Color != role.Color {
		changes["color"] = map[string]string{"old": role.Color, "new": *in.Color}
		updated.Color = *in.Color
	}

	if len(changes) == 0 {
		return role, nil
	}

	updated.UpdatedAt = time.Now().UTC()
	if err := s.roles.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	s.record(ctx, actorID, audit.EventRoleUpdated, updated, map[string]any{
		"role_name": updated.Name,
		"changes":   changes,
	})

	return updated, nil
}

// SyncPermissions replaces the role's grants with exactly names
func (s *RoleService) SyncPermissions(ctx context.Context, actorID, roleID string, names []string) (*Role, error) {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := AssertMutable(role); err != nil {
		return nil, err
	}

	perms, err := grantablePermissions(names)
	if err != nil {
		return nil, err
	}

	if err := s.roles.SyncPermissions(ctx, role.ID, perms); err != nil {
		return nil, fmt.Errorf("failed to sync role permissions: %w", err)
	}
	s.evaluator.InvalidateAll()

	added, removed := diff(role.Permissions, perms)
	synced := role.Clone()
	synced.Permissions = perms

	s.record(ctx, actorID, audit.EventRolePermissionsSynced, synced, map[string]any{
		"role_name": role.Name,
		"added":     added,
		"removed":   removed,
	})

	return s.reload(ctx, synced)
}

// Grant adds permissions to a role
func (s *RoleService) Grant(ctx context.Context, actorID, roleID string, names []string) (*Role, error) {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := AssertMutable(role); err != nil {
		return nil, err
	}

	perms, err := grantablePermissions(names)
	if err != nil {
		return nil, err
	}
	if len(perms) == 0 {
		return nil, newValidationError("permissions", "is required")
	}

	if err := s.roles.GrantPermissions(ctx, role.ID, perms); err != nil {
		return nil, fmt.Errorf("failed to grant permissions: %w", err)
	}
	s.evaluator.InvalidateAll()

	granted := role.Clone()
	granted.Permissions = union(role.Permissions, perms)

	s.record(ctx, actorID, audit.EventRolePermissionsGranted, granted, map[string]any{
		"role_name":   role.Name,
		"permissions": perms,
	})

	return s.reload(ctx, granted)
}

// Revoke removes permissions from a role
func (s *RoleService) Revoke(ctx context.Context, actorID, roleID string, names []string) (*Role, error) {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := AssertMutable(role); err != nil {
		return nil, err
	}

	perms := normalize(names)
	if len(perms) == 0 {
		return nil, newValidationError("permissions", "is required")
	}
	if err := permission.Validate(perms); err != nil {
		return nil, newValidationError("permissions", "contains an unknown permission")
	}

	if err := s.roles.RevokePermissions(ctx, role.ID, perms); err != nil {
		return nil, fmt.Errorf("failed to revoke permissions: %w", err)
	}
	s.evaluator.InvalidateAll()

	revoked := role.Clone()
	revoked.Permissions, _ = diff(perms, role.Permissions)

	s.record(ctx, actorID, audit.EventRolePermissionsRevoked, revoked, map[string]any{
		"role_name":   role.Name,
		"permissions": perms,
	})

	return s.reload(ctx, revoked)
}

// Delete removes a role together with its grants and assignments
func (s *RoleService) Delete(ctx context.Context, actorID, roleID string) error {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	if err := AssertMutable(role); err != nil {
		return err
	}

	if err := s.roles.Delete(ctx, role.ID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	s.evaluator.InvalidateAll()

	s.record(ctx, actorID, audit.EventRoleDeleted, role, map[string]any{
		"role_name":   role.Name,
		"guard_name":  string(role.GuardName),
		"permissions": role.Permissions,
	})

	return nil
}

// SyncUserRoles replaces the roles held by a user. Only a super-admin may
// grant or remove the super-admin role or change a super-admin's roles.
// Granting or removing any other protected role requires the actor to hold
// a protected role already.
func (s *RoleService) SyncUserRoles(ctx context.Context, actorID, userID string, roleIDs []string) ([]*Role, error) {
	ids := normalize(roleIDs)

	roles := make([]*Role, 0, len(ids))
	requested := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		r, err := s.roles.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				return nil, newValidationError("roles", "contains an unknown role")
			}
			return nil, err
		}
		requested[r.ID] = struct{}{}
		roles = append(roles, r)
	}

	current, err := s.assignments.RolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	held := make(map[string]struct{}, len(current))
	before := make([]string, 0, len(current))
	for _, r := range current {
		held[r.ID] = struct{}{}
		before = append(before, r.Name)
	}

	var needSuperAdmin, needProtected bool
	for _, r := range roles {
		if _, ok := held[r.ID]; ok || !IsProtected(r) {
			continue
		}
		if r.Name == RoleSuperAdmin {
			needSuperAdmin = true
		} else {
			needProtected = true
		}
	}
	for _, r := range current {
		if r.Name == RoleSuperAdmin {
			needSuperAdmin = true
			continue
		}
		if _, ok := requested[r.ID]; !ok && IsProtected(r) {
			needProtected = true
		}
	}

	if (needSuperAdmin || needProtected) && actorID != audit.ActorSystem {
		if err := s.authorizeProtectedChange(ctx, actorID, needSuperAdmin); err != nil {
			return nil, err
		}
	}

	if err := s.assignments.SyncUserRoles(ctx, userID, ids); err != nil {
		return nil, fmt.Errorf("failed to sync user roles: %w", err)
	}
	s.evaluator.Invalidate(userID)

	after := make([]string, 0, len(roles))
	for _, r := range roles {
		after = append(after, r.Name)
	}
	sort.Strings(before)
	sort.Strings(after)

	s.recordActivity(ctx, actorID, audit.EventUserRolesSynced, audit.TypeUser, userID, map[string]any{
		"old": before,
		"new": after,
	})

	return roles, nil
}

// authorizeProtectedChange checks that actorID may hand out or take away a
// protected role.
func (s *RoleService) authorizeProtectedChange(ctx context.Context, actorID string, superAdmin bool) error {
	actorRoles, err := s.assignments.RolesForUser(ctx, actorID)
	if err != nil {
		return fmt.Errorf("failed to resolve actor: %w", err)
	}
	for _, r := range actorRoles {
		if r.Name == RoleSuperAdmin {
			return nil
		}
		if !superAdmin && IsProtected(r) {
			return nil
		}
	}
	return ErrUnauthorized
}

// SyncDirectPermissions replaces the permissions granted to a user outside
// of any role
func (s *RoleService) SyncDirectPermissions(ctx context.Context, actorID, userID string, names []string) ([]string, error) {
	perms, err := grantablePermissions(names)
	if err != nil {
		return nil, err
	}

	if err := s.assignments.SyncDirectPermissions(ctx, userID, perms); err != nil {
		return nil, fmt.Errorf("failed to sync direct permissions: %w", err)
	}
	s.evaluator.Invalidate(userID)

	s.recordActivity(ctx, actorID, audit.EventUserPermissionsSynced, audit.TypeUser, userID, map[string]any{
		"direct_permissions": perms,
	})

	return perms, nil
}

func (s *RoleService) ensureNameAvailable(ctx context.Context, name string, guard GuardName, exceptID string) error {
	existing, err := s.roles.GetByName(ctx, name, guard)
	if err == nil && existing.ID != exceptID {
		return newValidationError("name", "has already been taken")
	}
	if err != nil && !errors.Is(err, ErrRoleNotFound) {
		return fmt.Errorf("failed to check role name: %w", err)
	}
	return nil
}

// reload returns the stored role, falling back to the locally computed one
// if the read fails after a successful write.
func (s *RoleService) reload(ctx context.Context, fallback *Role) (*Role, error) {
	r, err := s.roles.GetByID(ctx, fallback.ID)
	if err != nil {
		return fallback, nil
	}
	return r, nil
}

func (s *RoleService) record(ctx context.Context, actorID, event string, role *Role, props map[string]any) {
	props["role_id"] = role.ID
	s.recordActivity(ctx, actorID, event, audit.TypeRole, role.ID, props)
}

func (s *RoleService) recordActivity(ctx context.Context, actorID, event, subjectType, subjectID string, props map[string]any) {
	causerType := audit.TypeUser
	if actorID == audit.ActorSystem {
		causerType = audit.ActorSystem
	}
	s.auditLogger.Log(ctx, audit.Activity{
		LogName:     audit.ChannelRBAC,
		Event:       event,
		CauserID:    actorID,
		CauserType:  causerType,
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Properties:  props,
	})
}

// grantablePermissions normalizes names and rejects unknown or internal-only
// permissions, which normal role editing may not grant.
func grantablePermissions(names []string) ([]string, error) {
	perms := normalize(names)
	if err := permission.Validate(perms); err != nil {
		return nil, newValidationError("permissions", "contains an unknown permission")
	}
	for _, p := range perms {
		if permission.IsInternalOnly(p) {
			return nil, newValidationError("permissions", "contains a permission reserved for internal roles")
		}
	}
	return perms, nil
}

// normalize trims, de-duplicates and sorts names.
func normalize(names []string) []string {
	set := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := set[n]; ok {
			continue
		}
		set[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// diff returns names in next but not in prev, and names in prev but not in next.
func diff(prev, next []string) (added, removed []string) {
	prevSet := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		prevSet[p] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, n := range next {
		nextSet[n] = struct{}{}
		if _, ok := prevSet[n]; !ok {
			added = append(added, n)
		}
	}
	for _, p := range prev {
		if _, ok := nextSet[p]; !ok {
			removed = append(removed, p)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func union(a, b []string) []string {
	return normalize(append(append([]string(nil), a...), b...))
}
