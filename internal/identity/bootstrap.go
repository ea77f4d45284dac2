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

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/observability/logger"
	"github.com/bastion-admin/bastion/internal/rbac"
)

// BootstrapAdmin describes the first super-admin account
type BootstrapAdmin struct {
	Email    string
	Name     string
	Password string
}

// BootstrapService creates the first super-admin of an empty installation
type BootstrapService struct {
	identityService *Service
	assignments     authz.AssignmentRepository
	roles           *authz.RoleService
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(
	identityService *Service,
	assignments authz.AssignmentRepository,
	roles *authz.RoleService,
) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		assignments:     assignments,
		roles:           roles,
	}
}

// Bootstrap assigns the super-admin role to admin.Email, provisioning the
// user if needed. It does nothing once any super-admin exists.
func (s *BootstrapService) Bootstrap(ctx context.Context, admin BootstrapAdmin) (bool, error) {
	if admin.Email == "" {
		return false, nil
	}

	count, err := s.assignments.CountUsersWithRole(ctx, rbac.RoleIDSuperAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing super-admin: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	user, err := s.identityService.GetByEmail(ctx, admin.Email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		if admin.Password == "" {
			return false, fmt.Errorf("bootstrap user %s not found and no password given", admin.Email)
		}
		user, err = s.identityService.Provision(ctx, admin.Name, admin.Email)
		if err != nil {
			return false, fmt.Errorf("failed to provision bootstrap user: %w", err)
		}
		if err := s.identityService.AddPassword(ctx, user.ID, admin.Password); err != nil {
			return false, fmt.Errorf("failed to set bootstrap password: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("failed to look up bootstrap user: %w", err)
	}

	if _, err := s.roles.SyncUserRoles(ctx, audit.ActorSystem, user.ID, []string{rbac.RoleIDSuperAdmin}); err != nil {
		return false, fmt.Errorf("failed to grant super-admin during bootstrap: %w", err)
	}

	slog.InfoContext(ctx, "bootstrapped initial super-admin",
		logger.UserID(user.ID),
		logger.Email(user.Email),
	)
	return true, nil
}
