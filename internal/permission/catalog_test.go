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

package permission_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastion-admin/bastion/internal/permission"
)

// TestPurpose: Validates that catalog names are unique and follow the colon-namespaced format.
// Scope: Unit Test
// Expected: Every name contains exactly one ':' and appears once.
// Test Case ID: PRM-01
func TestCatalog_NamesAreUniqueAndNamespaced(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range permission.All() {
		assert.False(t, seen[p.Name], "duplicate permission %s", p.Name)
		seen[p.Name] = true
		assert.Equal(t, 1, strings.Count(p.Name, ":"), p.Name)
		assert.NotEmpty(t, p.Label, p.Name)
		assert.NotEmpty(t, p.Category, p.Name)
	}
	assert.Equal(t, len(permission.All()), len(permission.Names()))
}

// TestPurpose: Validates Describe and IsInternalOnly lookups, including unknown names.
// Scope: Unit Test
// Expected: Known names resolve; unknown names return ErrNotFound and are not internal-only.
// Test Case ID: PRM-02
func TestCatalog_Describe(t *testing.T) {
	p, err := permission.Describe(permission.ImpersonateUsers)
	require.NoError(t, err)
	assert.True(t, p.InternalOnly)
	assert.Equal(t, permission.CategoryUsers, p.Category)

	assert.True(t, permission.IsInternalOnly(permission.UpdateRoles))
	assert.False(t, permission.IsInternalOnly(permission.ReadUsers))
	assert.False(t, permission.IsInternalOnly("fly:dragons"))

	_, err = permission.Describe("fly:dragons")
	assert.True(t, errors.Is(err, permission.ErrNotFound))
}

// TestPurpose: Validates that All returns a copy the caller cannot use to mutate the catalog.
// Scope: Unit Test
// Expected: Mutating the returned slice does not affect later calls.
// Test Case ID: PRM-03
func TestCatalog_AllIsACopy(t *testing.T) {
	all := permission.All()
	all[0].InternalOnly = !all[0].InternalOnly
	fresh := permission.All()
	assert.NotEqual(t, all[0].InternalOnly, fresh[0].InternalOnly)
}

func TestCatalog_Validate(t *testing.T) {
	assert.NoError(t, permission.Validate([]string{permission.ReadUsers, permission.CreateUsers}))
	assert.NoError(t, permission.Validate(nil))

	err := permission.Validate([]string{permission.ReadUsers, "read:nothing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, permission.ErrNotFound)
}

func TestCatalog_Namespace(t *testing.T) {
	assert.Equal(t, "create", permission.Namespace("create:users"))
	assert.Equal(t, "access", permission.Namespace(permission.AccessControlPanel))
	assert.Equal(t, "", permission.Namespace("bogus"))
}

// TestPurpose: Validates that grouping uses the explicit category field and covers every permission once.
// Scope: Unit Test
// Expected: Group sizes sum to the catalog size; labels are title-cased.
// Test Case ID: PRM-04
func TestCatalog_Grouped(t *testing.T) {
	groups := permission.Grouped()
	total := 0
	labels := map[permission.Category]string{}
	for _, g := range groups {
		total += len(g.Permissions)
		labels[g.Category] = g.Label
		for _, p := range g.Permissions {
			assert.Equal(t, g.Category, p.Category)
		}
	}
	assert.Equal(t, len(permission.All()), total)
	assert.Equal(t, "Activity Log", labels[permission.CategoryActivityLog])
	assert.Equal(t, "Control Panel", labels[permission.CategoryControlPanel])
}
