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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bastion-admin/bastion/internal/authz"
)

const roleColumns = `
	r.id, r.name, r.guard_name, r.icon, r.color, r.internal, r.created_at, r.updated_at,
	COALESCE(array_agg(rp.permission ORDER BY rp.permission) FILTER (WHERE rp.permission IS NOT NULL), '{}')
`

// nameTaken reports a create or rename that lost a race on the unique
// (name, guard_name) index after the service-level check passed.
func nameTaken() error {
	return &authz.ValidationError{Fields: map[string]string{"name": "has already been taken"}}
}

func scanRole(row pgx.Row) (*authz.Role, error) {
	var role authz.Role
	var guard string
	if err := row.Scan(
		&role.ID, &role.Name, &guard, &role.Icon, &role.Color, &role.Internal,
		&role.CreatedAt, &role.UpdatedAt, &role.Permissions,
	); err != nil {
		return nil, err
	}
	role.GuardName = authz.GuardName(guard)
	return &role, nil
}

func collectRoles(rows pgx.Rows) ([]*authz.Role, error) {
	defer rows.Close()

	var roles []*authz.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roles: %w", err)
	}
	return roles, nil
}

// RoleRepository implements authz.RoleRepository
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create inserts a role and its grants
func (r *RoleRepository) Create(ctx context.Context, role *authz.Role) error {
	err := r.db.WithTx(ctx, "role.create", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO roles (
				id, name, guard_name, icon, color, internal, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			role.ID, role.Name, string(role.GuardName), role.Icon, role.Color,
			role.Internal, role.CreatedAt, role.UpdatedAt,
		); err != nil {
			return err
		}
		return insertRolePermissions(ctx, tx, role.ID, role.Permissions)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nameTaken()
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*authz.Role, error) {
	role, err := scanRole(r.db.pool.QueryRow(ctx, `
		SELECT `+roleColumns+`
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE r.id = $1
		GROUP BY r.id
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authz.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetByName retrieves a role by name within a guard
func (r *RoleRepository) GetByName(ctx context.Context, name string, guard authz.GuardName) (*authz.Role, error) {
	role, err := scanRole(r.db.pool.QueryRow(ctx, `
		SELECT `+roleColumns+`
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE r.name = $1 AND r.guard_name = $2
		GROUP BY r.id
	`, name, string(guard)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authz.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// List retrieves roles ordered by name, optionally for one guard
func (r *RoleRepository) List(ctx context.Context, guard *authz.GuardName) ([]*authz.Role, error) {
	var filter *string
	if guard != nil {
		g := string(*guard)
		filter = &g
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT `+roleColumns+`
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE $1::text IS NULL OR r.guard_name = $1
		GROUP BY r.id
		ORDER BY r.name, r.guard_name
	`, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return collectRoles(rows)
}

// Update persists name, icon and color
func (r *RoleRepository) Update(ctx context.Context, role *authz.Role) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE roles SET
			name = $2,
			icon = $3,
			color = $4,
			updated_at = $5
		WHERE id = $1
	`, role.ID, role.Name, role.Icon, role.Color, role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nameTaken()
		}
		return fmt.Errorf("failed to update role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return authz.ErrRoleNotFound
	}
	return nil
}

// SyncPermissions replaces the role's grants
func (r *RoleRepository) SyncPermissions(ctx context.Context, roleID string, names []string) error {
	return r.db.WithTx(ctx, "role.sync_permissions", func(tx pgx.Tx) error {
		if err := lockRole(ctx, tx, roleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}
		if err := insertRolePermissions(ctx, tx, roleID, names); err != nil {
			return err
		}
		return touchRole(ctx, tx, roleID)
	})
}

// GrantPermissions adds grants, ignoring ones already held
func (r *RoleRepository) GrantPermissions(ctx context.Context, roleID string, names []string) error {
	return r.db.WithTx(ctx, "role.grant_permissions", func(tx pgx.Tx) error {
		if err := lockRole(ctx, tx, roleID); err != nil {
			return err
		}
		if err := insertRolePermissions(ctx, tx, roleID, names); err != nil {
			return err
		}
		return touchRole(ctx, tx, roleID)
	})
}

// RevokePermissions removes grants, ignoring ones not held
func (r *RoleRepository) RevokePermissions(ctx context.Context, roleID string, names []string) error {
	return r.db.WithTx(ctx, "role.revoke_permissions", func(tx pgx.Tx) error {
		if err := lockRole(ctx, tx, roleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM role_permissions WHERE role_id = $1 AND permission = ANY($2)
		`, roleID, names); err != nil {
			return fmt.Errorf("failed to revoke role permissions: %w", err)
		}
		return touchRole(ctx, tx, roleID)
	})
}

// Delete removes the role; grants and user assignments cascade
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return authz.ErrRoleNotFound
	}
	return nil
}

func lockRole(ctx context.Context, tx pgx.Tx, roleID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.ErrRoleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock role: %w", err)
	}
	return nil
}

func touchRole(ctx context.Context, tx pgx.Tx, roleID string) error {
	if _, err := tx.Exec(ctx, `UPDATE roles SET updated_at = $2 WHERE id = $1`, roleID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to touch role: %w", err)
	}
	return nil
}

func insertRolePermissions(ctx context.Context, tx pgx.Tx, roleID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`, roleID, names); err != nil {
		return fmt.Errorf("failed to insert role permissions: %w", err)
	}
	return nil
}

// AssignmentRepository implements authz.AssignmentRepository
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// RolesForUser retrieves every role the user holds
func (r *AssignmentRepository) RolesForUser(ctx context.Context, userID string) ([]*authz.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+roleColumns+`
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE ur.user_id = $1
		GROUP BY r.id
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	return collectRoles(rows)
}

// DirectPermissions retrieves permissions granted to the user directly
func (r *AssignmentRepository) DirectPermissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT permission FROM user_permissions WHERE user_id = $1 ORDER BY permission
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list direct permissions: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read direct permissions: %w", err)
	}
	return names, nil
}

// SyncUserRoles replaces the user's roles
func (r *AssignmentRepository) SyncUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	return r.db.WithTx(ctx, "user.sync_roles", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to clear user roles: %w", err)
		}
		if len(roleIDs) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, unnest($2::text[])
		`, userID, roleIDs); err != nil {
			return fmt.Errorf("failed to assign user roles: %w", err)
		}
		return nil
	})
}

// SyncDirectPermissions replaces the user's direct grants
func (r *AssignmentRepository) SyncDirectPermissions(ctx context.Context, userID string, names []string) error {
	return r.db.WithTx(ctx, "user.sync_permissions", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to clear direct permissions: %w", err)
		}
		if len(names) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_permissions (user_id, permission)
			SELECT $1, unnest($2::text[])
		`, userID, names); err != nil {
			return fmt.Errorf("failed to grant direct permissions: %w", err)
		}
		return nil
	})
}

// CountUsersWithRole counts users holding the role
func (r *AssignmentRepository) CountUsersWithRole(ctx context.Context, roleID string) (int, error) {
	var n int
	if err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_roles WHERE role_id = $1
	`, roleID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count role holders: %w", err)
	}
	return n, nil
}

// CatalogRepository implements authz.CatalogRepository
type CatalogRepository struct {
	db *DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// SyncCatalog makes the stored permission rows for guard match names.
// Grants of removed permissions are dropped with them.
func (r *CatalogRepository) SyncCatalog(ctx context.Context, guard authz.GuardName, names []string) error {
	return r.db.WithTx(ctx, "catalog.sync", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO permissions (name, guard_name)
			SELECT unnest($2::text[]), $1
			ON CONFLICT DO NOTHING
		`, string(guard), names); err != nil {
			return fmt.Errorf("failed to upsert permissions: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM permissions WHERE guard_name = $1 AND NOT (name = ANY($2))
		`, string(guard), names); err != nil {
			return fmt.Errorf("failed to prune permissions: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM role_permissions rp
			USING roles r
			WHERE rp.role_id = r.id AND r.guard_name = $1 AND NOT (rp.permission = ANY($2))
		`, string(guard), names); err != nil {
			return fmt.Errorf("failed to prune role grants: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM user_permissions
			WHERE permission NOT IN (SELECT name FROM permissions)
		`); err != nil {
			return fmt.Errorf("failed to prune direct grants: %w", err)
		}
		return nil
	})
}
