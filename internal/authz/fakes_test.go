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

package authz_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/rbac"
)

var errStoreDown = errors.New("store unavailable")

// MemoryStore implements the role, assignment and catalog repositories.
type MemoryStore struct {
	mu          sync.Mutex
	roles       map[string]*authz.Role
	userRoles   map[string][]string
	direct      map[string][]string
	catalog     map[authz.GuardName][]string
	writes      int
	roleLoads   atomic.Int64
	FailLookups bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:     map[string]*authz.Role{},
		userRoles: map[string][]string{},
		direct:    map[string][]string{},
		catalog:   map[authz.GuardName][]string{},
	}
}

// NewSeededStore returns a store holding the two system roles.
func NewSeededStore() *MemoryStore {
	s := NewMemoryStore()
	s.roles[rbac.RoleIDSuperAdmin] = &authz.Role{
		ID: rbac.RoleIDSuperAdmin, Name: authz.RoleSuperAdmin, GuardName: authz.GuardWeb, Internal: true,
	}
	s.roles[rbac.RoleIDAdmin] = &authz.Role{
		ID: rbac.RoleIDAdmin, Name: authz.RoleAdmin, GuardName: authz.GuardWeb, Internal: true,
		Permissions: append([]string(nil), authz.AdminPermissions...),
	}
	return s
}

func (m *MemoryStore) Put(role *authz.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.ID] = role.Clone()
}

func (m *MemoryStore) Assign(userID string, roleIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userRoles[userID] = append(m.userRoles[userID], roleIDs...)
}

func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryStore) Snapshot(id string) *authz.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.roles[id]; ok {
		return r.Clone()
	}
	return nil
}

func (m *MemoryStore) Create(_ context.Context, role *authz.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.roles[role.ID] = role.Clone()
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*authz.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, authz.ErrRoleNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) GetByName(_ context.Context, name string, guard authz.GuardName) (*authz.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name && r.GuardName == guard {
			return r.Clone(), nil
		}
	}
	return nil, authz.ErrRoleNotFound
}

func (m *MemoryStore) List(_ context.Context, guard *authz.GuardName) ([]*authz.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*authz.Role
	for _, r := range m.roles {
		if guard != nil && r.GuardName != *guard {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, role *authz.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	r, ok := m.roles[role.ID]
	if !ok {
		return authz.ErrRoleNotFound
	}
	r.Name, r.Icon, r.Color, r.UpdatedAt = role.Name, role.Icon, role.Color, role.UpdatedAt
	return nil
}

func (m *MemoryStore) SyncPermissions(_ context.Context, roleID string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	r, ok := m.roles[roleID]
	if !ok {
		return authz.ErrRoleNotFound
	}
	r.Permissions = append([]string(nil), names...)
	return nil
}

func (m *MemoryStore) GrantPermissions(_ context.Context, roleID string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	r, ok := m.roles[roleID]
	if !ok {
		return authz.ErrRoleNotFound
	}
	for _, n := range names {
		if !r.HasPermission(n) {
			r.Permissions = append(r.Permissions, n)
		}
	}
	sort.Strings(r.Permissions)
	return nil
}

func (m *MemoryStore) RevokePermissions(_ context.Context, roleID string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	r, ok := m.roles[roleID]
	if !ok {
		return authz.ErrRoleNotFound
	}
	drop := map[string]bool{}
	for _, n := range names {
		drop[n] = true
	}
	kept := r.Permissions[:0]
	for _, p := range r.Permissions {
		if !drop[p] {
			kept = append(kept, p)
		}
	}
	r.Permissions = kept
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	delete(m.roles, id)
	for user, ids := range m.userRoles {
		kept := ids[:0]
		for _, rid := range ids {
			if rid != id {
				kept = append(kept, rid)
			}
		}
		m.userRoles[user] = kept
	}
	return nil
}

func (m *MemoryStore) RolesForUser(_ context.Context, userID string) ([]*authz.Role, error) {
	m.roleLoads.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLookups {
		return nil, errStoreDown
	}
	var out []*authz.Role
	for _, id := range m.userRoles[userID] {
		if r, ok := m.roles[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) DirectPermissions(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLookups {
		return nil, errStoreDown
	}
	return append([]string(nil), m.direct[userID]...), nil
}

func (m *MemoryStore) SyncUserRoles(_ context.Context, userID string, roleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.userRoles[userID] = append([]string(nil), roleIDs...)
	return nil
}

func (m *MemoryStore) SyncDirectPermissions(_ context.Context, userID string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.direct[userID] = append([]string(nil), names...)
	return nil
}

func (m *MemoryStore) CountUsersWithRole(_ context.Context, roleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ids := range m.userRoles {
		for _, id := range ids {
			if id == roleID {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *MemoryStore) SyncCatalog(_ context.Context, guard authz.GuardName, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog[guard] = append([]string(nil), names...)
	return nil
}

// abilities is a TokenScope backed by a fixed ability list.
type abilities []string

func (a abilities) HasAbility(ability string) bool {
	for _, x := range a {
		if x == "*" || x == ability {
			return true
		}
	}
	return false
}
