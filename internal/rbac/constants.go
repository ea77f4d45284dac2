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

package rbac

// System role IDs seeded by the initial schema migration (001_initial_schema.sql).
// DO NOT modify these values without a corresponding data migration.
const (
	// RoleIDSuperAdmin is the super-admin role.
	// Permissions: none stored; the evaluator grants everything.
	RoleIDSuperAdmin = "20000000-0000-0000-0000-000000000001"

	// RoleIDAdmin is the admin role.
	// Permissions: every catalog permission except manage:settings.
	RoleIDAdmin = "20000000-0000-0000-0000-000000000002"
)
