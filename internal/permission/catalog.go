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

// Package permission holds the closed catalog of permissions known to the
// control panel. The catalog is defined in code and only mirrored into the
// database; it never changes at runtime.
package permission

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNotFound is returned when a permission name is not in the catalog.
var ErrNotFound = errors.New("permission not found")

// Category groups permissions for display.
type Category string

const (
	CategoryControlPanel Category = "control_panel"
	CategoryUsers        Category = "users"
	CategoryRoles        Category = "roles"
	CategoryClients      Category = "clients"
	CategoryActivityLog  Category = "activity_log"
	CategoryTokens       Category = "tokens"
	CategorySettings     Category = "settings"
)

// Permission names.
const (
	AccessControlPanel = "access:control-panel"

	CreateUsers      = "create:users"
	ReadUsers        = "read:users"
	UpdateUsers      = "update:users"
	DeleteUsers      = "delete:users"
	ImpersonateUsers = "impersonate:users"

	CreateRoles = "create:roles"
	ReadRoles   = "read:roles"
	UpdateRoles = "update:roles"
	DeleteRoles = "delete:roles"

	CreateClients = "create:clients"
	ReadClients   = "read:clients"
	UpdateClients = "update:clients"
	DeleteClients = "delete:clients"

	ReadActivityLog = "read:activity-log"
	ManageTokens    = "manage:tokens"
	ManageSettings  = "manage:settings"
)

// Permission is a single catalog entry.
type Permission struct {
	Name         string   `json:"name"`
	Label        string   `json:"label"`
	Description  string   `json:"description"`
	Category     Category `json:"category"`
	InternalOnly bool     `json:"internal_only"`
}

// Group is a display bucket of permissions sharing a category.
type Group struct {
	Category    Category     `json:"category"`
	Label       string       `json:"label"`
	Permissions []Permission `json:"permissions"`
}

var catalog = []Permission{
	{AccessControlPanel, "Access control panel", "Sign in to the administrative control panel", CategoryControlPanel, false},

	{CreateUsers, "Create users", "Invite and create user accounts", CategoryUsers, false},
	{ReadUsers, "View users", "List and view user accounts", CategoryUsers, false},
	{UpdateUsers, "Update users", "Edit user accounts and their role assignments", CategoryUsers, false},
	{DeleteUsers, "Delete users", "Remove user accounts", CategoryUsers, false},
	{ImpersonateUsers, "Impersonate users", "Sign in as another user for support purposes", CategoryUsers, true},

	{CreateRoles, "Create roles", "Define new roles", CategoryRoles, true},
	{ReadRoles, "View roles", "List roles and the permission catalog", CategoryRoles, true},
	{UpdateRoles, "Update roles", "Rename roles and change their permissions", CategoryRoles, true},
	{DeleteRoles, "Delete roles", "Remove roles", CategoryRoles, true},

	{CreateClients, "Create clients", "Register client organisations", CategoryClients, false},
	{ReadClients, "View clients", "List and view client organisations", CategoryClients, false},
	{UpdateClients, "Update clients", "Edit client organisations", CategoryClients, false},
	{DeleteClients, "Delete clients", "Remove client organisations", CategoryClients, false},

	{ReadActivityLog, "View activity log", "Browse the audit trail", CategoryActivityLog, false},
	{ManageTokens, "Manage API tokens", "Issue and revoke personal API tokens", CategoryTokens, false},
	{ManageSettings, "Manage settings", "Change application-wide settings", CategorySettings, true},
}

var categoryOrder = []Category{
	CategoryControlPanel,
	CategoryUsers,
	CategoryRoles,
	CategoryClients,
	CategoryActivityLog,
	CategoryTokens,
	CategorySettings,
}

var index = func() map[string]int {
	m := make(map[string]int, len(catalog))
	for i, p := range catalog {
		m[p.Name] = i
	}
	return m
}()

// All returns every permission in catalog order.
func All() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns every permission name in catalog order.
func Names() []string {
	out := make([]string, len(catalog))
	for i, p := range catalog {
		out[i] = p.Name
	}
	return out
}

// Describe returns the catalog entry for name.
func Describe(name string) (Permission, error) {
	i, ok := index[name]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return catalog[i], nil
}

// Exists reports whether name is in the catalog.
func Exists(name string) bool {
	_, ok := index[name]
	return ok
}

// IsInternalOnly reports whether name may only be granted to internal roles.
// Unknown names report false.
func IsInternalOnly(name string) bool {
	i, ok := index[name]
	return ok && catalog[i].InternalOnly
}

// Validate checks that every name exists in the catalog.
func Validate(names []string) error {
	for _, n := range names {
		if !Exists(n) {
			return fmt.Errorf("%w: %s", ErrNotFound, n)
		}
	}
	return nil
}

// Namespace returns the text before the first ':' of a permission name.
// It is a presentation helper and carries no security meaning.
func Namespace(name string) string {
	ns, _, found := strings.Cut(name, ":")
	if !found {
		return ""
	}
	return ns
}

// Grouped returns the catalog bucketed by category, in a stable order.
func Grouped() []Group {
	title := cases.Title(language.English)
	groups := make([]Group, 0, len(categoryOrder))
	for _, c := range categoryOrder {
		g := Group{
			Category: c,
			Label:    title.String(strings.ReplaceAll(string(c), "_", " ")),
		}
		for _, p := range catalog {
			if p.Category == c {
				g.Permissions = append(g.Permissions, p)
			}
		}
		groups = append(groups, g)
	}
	return groups
}
