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

import "github.com/bastion-admin/bastion/internal/permission"

// -----------------------------------------------------------------------------
// Role Name Constants
// These are the canonical names for the system roles stored in the database.
// -----------------------------------------------------------------------------

const (
	// RoleSuperAdmin implicitly holds every permission.
	// Internal: yes
	RoleSuperAdmin = "super-admin"

	// RoleAdmin is the administrator role.
	// Internal: yes
	RoleAdmin = "admin"
)

// ReservedRoleNames lists names that can never be created, renamed to,
// or mutated through the role store.
var ReservedRoleNames = []string{RoleSuperAdmin, RoleAdmin}

// -----------------------------------------------------------------------------
// Role Permission Mappings
// Used for seeding only.
// -----------------------------------------------------------------------------

// AdminPermissions defines permissions for the admin role.
var AdminPermissions = func() []string {
	var out []string
	for _, name := range permission.Names() {
		if name == permission.ManageSettings {
			continue
		}
		out = append(out, name)
	}
	return out
}()
