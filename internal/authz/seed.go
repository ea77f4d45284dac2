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
	"log/slog"
	"time"

	"github.com/bastion-admin/bastion/internal/permission"
	"github.com/bastion-admin/bastion/internal/rbac"
)

// Seeder installs the permission catalog and the system roles. It writes
// through the repositories directly and is the only path allowed to change
// internal roles.
type Seeder struct {
	catalog   CatalogRepository
	roles     RoleRepository
	evaluator *Evaluator
}

// NewSeeder creates a new seeder
func NewSeeder(catalog CatalogRepository, roles RoleRepository, evaluator *Evaluator) *Seeder {
	return &Seeder{catalog: catalog, roles: roles, evaluator: evaluator}
}

type systemRole struct {
	id          string
	name        string
	icon        string
	color       string
	permissions []string
}

var systemRoles = []systemRole{
	{id: rbac.RoleIDSuperAdmin, name: RoleSuperAdmin, icon: "shield-check", color: "#b91c1c"},
	{id: rbac.RoleIDAdmin, name: RoleAdmin, icon: "shield", color: "#1d4ed8", permissions: AdminPermissions},
}

// Seed is idempotent. It syncs the catalog for every guard, creates missing
// system roles and resets the admin role's grants to their defaults.
func (s *Seeder) Seed(ctx context.Context) error {
	names := permission.Names()
	for _, guard := range []GuardName{GuardWeb, GuardAPI} {
		if err := s.catalog.SyncCatalog(ctx, guard, names); err != nil {
			return fmt.Errorf("failed to sync permission catalog for guard %s: %w", guard, err)
		}
	}

	for _, sr := range systemRoles {
		if err := s.ensureRole(ctx, sr); err != nil {
			return err
		}
	}

	if s.evaluator != nil {
		s.evaluator.InvalidateAll()
	}

	slog.InfoContext(ctx, "rbac seed complete",
		slog.Int("permissions", len(names)),
		slog.Int("system_roles", len(systemRoles)),
	)
	return nil
}

func (s *Seeder) ensureRole(ctx context.Context, sr systemRole) error {
	existing, err := s.roles.GetByID(ctx, sr.id)
	switch {
	case errors.Is(err, ErrRoleNotFound):
		now := time.Now().UTC()
		role := &Role{
			ID:          sr.id,
			Name:        sr.name,
			GuardName:   GuardWeb,
			Icon:        sr.icon,
			Color:       sr.color,
			Internal:    true,
			Permissions: sr.permissions,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.roles.Create(ctx, role); err != nil {
			return fmt.Errorf("failed to create system role %s: %w", sr.name, err)
		}
		slog.InfoContext(ctx, "created system role", slog.String("role", sr.name))
		return nil
	case err != nil:
		return fmt.Errorf("failed to get system role %s: %w", sr.name, err)
	}

	if !existing.Internal {
		slog.WarnContext(ctx, "system role is not flagged internal",
			slog.String("role", existing.Name),
			slog.String("role_id", existing.ID),
		)
	}

	if err := s.roles.SyncPermissions(ctx, existing.ID, normalize(sr.permissions)); err != nil {
		return fmt.Errorf("failed to sync system role %s: %w", sr.name, err)
	}
	return nil
}
