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

package http

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/permission"
)

// =============================================================================
// AUTHENTICATION
// =============================================================================

// TestPurpose: Validates session login, identity description and logout.
// Scope: API Test
// Security: Session fixation, authentication boundary
// Expected: Anonymous /auth/me is 401; login issues a session; /auth/me lists roles and permissions; logout ends the session.
// Test Case ID: API-01
func TestAPI_LoginMeLogout(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user("ada", adminRole)

	anon := env.client()
	status, body := anon.do(http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthenticated.", body["message"])

	c := env.login(admin)
	status, body = c.do(http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"admin"}, body["roles"])
	assert.Contains(t, body["permissions"], permission.UpdateRoles)
	assert.NotContains(t, body["permissions"], permission.ManageSettings)
	assert.Equal(t, false, body["is_impersonating"])

	status, _ = c.do(http.MethodPost, "/api/v1/auth/logout", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, env.sink.ByEvent(audit.EventLogout), 1)

	status, _ = c.do(http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

// TestPurpose: Validates login input handling.
// Scope: API Test
// Security: Credential checks, request parsing
// Expected: Missing fields and wrong passwords are 422; malformed JSON is 400; failures are audited.
// Test Case ID: API-02
func TestAPI_LoginRejections(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user("ada", adminRole)
	c := env.client()

	status, body := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body["errors"], "email")
	assert.Contains(t, body["errors"], "password")

	status, _ = c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": admin.Email, "password": "wrong password",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.NotEmpty(t, env.sink.ByEvent(audit.EventLoginFailed))

	status, _ = c.do(http.MethodPost, "/api/v1/auth/login", "not an object")
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// AUTHORIZATION GATE
// =============================================================================

// TestPurpose: Validates the uniform 403 for missing permissions.
// Scope: API Test
// Security: Broken access control (CWE-285)
// Permissions: read:roles, create:roles
// Expected: A user without the permission gets 403 {"message":"Unauthorized"}; a holder proceeds.
// Test Case ID: API-03
func TestAPI_PermissionGate(t *testing.T) {
	env := newTestEnv(t)
	editor := env.editorRole(permission.ReadUsers)
	erin := env.user("erin", editor.ID)
	admin := env.user("ada", adminRole)

	c := env.login(erin)
	status, body := c.do(http.MethodGet, "/api/v1/roles", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, map[string]any{"message": "Unauthorized"}, body)

	status, _ = c.do(http.MethodGet, "/api/v1/users/"+admin.ID, nil)
	assert.Equal(t, http.StatusOK, status)

	a := env.login(admin)
	status, body = a.do(http.MethodGet, "/api/v1/roles", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 3)

	status, body = a.do(http.MethodGet, "/api/v1/permissions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["data"])
}

// TestPurpose: Validates role management over HTTP, including system role protection.
// Scope: API Test
// Security: Privilege integrity of system roles
// Permissions: create:roles, update:roles, delete:roles
// Expected: Create returns 201; duplicate names and reserved names are 422; system roles are 422 on every mutation; sync and delete succeed on plain roles.
// Test Case ID: API-04
func TestAPI_RoleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user("ada", adminRole)
	a := env.login(admin)

	status, body := a.do(http.MethodPost, "/api/v1/roles", map[string]any{
		"name":        "support",
		"permissions": []string{permission.ReadUsers},
	})
	require.Equal(t, http.StatusCreated, status)
	role := body["data"].(map[string]any)
	roleID := role["id"].(string)
	assert.Equal(t, false, role["protected"])

	status, body = a.do(http.MethodPost, "/api/v1/roles", map[string]any{"name": "support"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body["errors"], "name")

	status, _ = a.do(http.MethodPost, "/api/v1/roles", map[string]any{"name": "super-admin"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, body = a.do(http.MethodPut, "/api/v1/roles/"+roleID+"/permissions", map[string]any{
		"permissions": []string{permission.ReadClients, permission.UpdateClients},
	})
	require.Equal(t, http.StatusOK, status)
	assert.ElementsMatch(t, []any{permission.ReadClients, permission.UpdateClients}, body["data"].(map[string]any)["permissions"])

	status, _ = a.do(http.MethodPost, "/api/v1/roles/"+roleID+"/permissions/grant", map[string]any{
		"permissions": []string{"not:a-permission"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	for _, target := range []string{superAdminRole, adminRole} {
		status, body = a.do(http.MethodPatch, "/api/v1/roles/"+target, map[string]any{"name": "renamed"})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "System roles cannot be modified.", body["message"])

		status, _ = a.do(http.MethodPut, "/api/v1/roles/"+target+"/permissions", map[string]any{"permissions": []string{}})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
	}

	status, _ = a.do(http.MethodDelete, "/api/v1/roles/"+roleID, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = a.do(http.MethodGet, "/api/v1/roles/"+roleID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Len(t, env.sink.ByEvent(audit.EventRoleCreated), 1)
	assert.Len(t, env.sink.ByEvent(audit.EventRoleDeleted), 1)
}

// TestPurpose: Validates user role assignment over HTTP.
// Scope: API Test
// Security: Vertical privilege escalation
// Permissions: update:users
// Expected: An admin may assign plain roles but not super-admin; a user holding only update:users cannot hand out or strip admin; the target's permissions change immediately.
// Test Case ID: API-05
func TestAPI_UserRoles(t *testing.T) {
	env := newTestEnv(t)
	editor := env.editorRole(permission.ReadActivityLog)
	admin := env.user("ada", adminRole)
	erin := env.user("erin")
	a := env.login(admin)
	e := env.login(erin)

	status, _ := e.do(http.MethodGet, "/api/v1/activity", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = a.do(http.MethodPut, "/api/v1/users/"+erin.ID+"/roles", map[string]any{"roles": []string{superAdminRole}})
	assert.Equal(t, http.StatusForbidden, status)

	support, err := env.roles.Create(context.Background(), audit.ActorSystem, authz.CreateRoleInput{
		Name:        "support",
		Permissions: []string{permission.UpdateUsers},
	})
	require.NoError(t, err)
	sam := env.user("sam", support.ID)
	s := env.login(sam)

	status, _ = s.do(http.MethodPut, "/api/v1/users/"+sam.ID+"/roles", map[string]any{"roles": []string{support.ID, adminRole}})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(http.MethodPut, "/api/v1/users/"+admin.ID+"/roles", map[string]any{"roles": []string{}})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(http.MethodPost, "/api/v1/roles", map[string]any{"name": "escalated"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = a.do(http.MethodPut, "/api/v1/users/"+erin.ID+"/roles", map[string]any{"roles": []string{editor.ID}})
	require.Equal(t, http.StatusOK, status)

	status, _ = e.do(http.MethodGet, "/api/v1/activity", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := a.do(http.MethodPut, "/api/v1/users/"+erin.ID+"/permissions", map[string]any{
		"permissions": []string{permission.ReadClients},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{permission.ReadClients}, body["data"].(map[string]any)["permissions"])

	status, body = a.do(http.MethodGet, "/api/v1/users/"+erin.ID, nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, []any{"editor"}, data["roles"])
	assert.ElementsMatch(t, []any{permission.ReadActivityLog, permission.ReadClients}, data["permissions"])

	status, _ = a.do(http.MethodGet, "/api/v1/users/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// =============================================================================
// IMPERSONATION
// =============================================================================

// TestPurpose: Validates that an impersonated session is evaluated with the impersonated user's permissions, and the round trip is audited.
// Scope: API Test
// Security: Impersonation privilege boundary
// Permissions: impersonate:users
// Expected: While impersonating, admin-only routes are 403; leave restores the admin and returns the stored return URL; two impersonation records exist.
// Test Case ID: API-06
func TestAPI_ImpersonationRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	editor := env.editorRole(permission.ReadUsers)
	admin := env.user("ada", adminRole)
	erin := env.user("erin", editor.ID)
	a := env.login(admin)

	status, _ := a.do(http.MethodPost, "/api/v1/users/"+erin.ID+"/impersonate", map[string]any{
		"return_url": "/admin/users?page=2",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := a.do(http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["is_impersonating"])
	assert.Equal(t, erin.ID, body["user"].(map[string]any)["id"])
	assert.Equal(t, admin.ID, body["impersonator"].(map[string]any)["id"])

	status, _ = a.do(http.MethodGet, "/api/v1/roles", nil)
	assert.Equal(t, http.StatusForbidden, status, "impersonated identity lacks read:roles")

	status, body = a.do(http.MethodPost, "/api/v1/impersonation/leave", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/admin/users?page=2", body["redirect"])

	status, _ = a.do(http.MethodGet, "/api/v1/roles", nil)
	assert.Equal(t, http.StatusOK, status)

	start := env.sink.ByEvent(audit.EventImpersonateStart)
	leave := env.sink.ByEvent(audit.EventImpersonateLeave)
	require.Len(t, start, 1)
	require.Len(t, leave, 1)
	assert.Equal(t, admin.ID, leave[0].CauserID)
	assert.Equal(t, erin.ID, leave[0].SubjectID)
}

// TestPurpose: Validates impersonation refusals.
// Scope: API Test
// Security: Impersonation state integrity
// Permissions: impersonate:users
// Expected: Self is 422; a super-admin target is 403 for an admin; nested impersonation is 409; leaving without impersonating is 401 with a login redirect and keeps the session.
// Test Case ID: API-07
func TestAPI_ImpersonationRefusals(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user("ada", adminRole)
	other := env.user("oli", adminRole)
	third := env.user("tom")
	root := env.user("rae", superAdminRole)
	a := env.login(admin)

	status, _ := a.do(http.MethodPost, "/api/v1/users/"+admin.ID+"/impersonate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = a.do(http.MethodPost, "/api/v1/users/"+root.ID+"/impersonate", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = a.do(http.MethodPost, "/api/v1/users/"+other.ID+"/impersonate", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = a.do(http.MethodPost, "/api/v1/users/"+third.ID+"/impersonate", nil)
	assert.Equal(t, http.StatusConflict, status)

	o := env.login(third)
	status, body := o.do(http.MethodPost, "/api/v1/impersonation/leave", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "/login", body["redirect"])

	status, body = o.do(http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, status, "a plain session survives a stray leave")
	assert.Equal(t, third.ID, body["user"].(map[string]any)["id"])
}

// =============================================================================
// API TOKENS
// =============================================================================

// TestPurpose: Validates that a token actor is limited to the intersection of its abilities and its user's permissions.
// Scope: API Test
// Security: Token scope enforcement
// Permissions: manage:tokens
// Expected: A read:roles token can list roles but not create them; it cannot impersonate; a revoked token is rejected.
// Test Case ID: API-08
func TestAPI_TokenAbilities(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user("ada", adminRole)
	erin := env.user("erin")
	a := env.login(admin)

	status, body := a.do(http.MethodPost, "/api/v1/tokens", map[string]any{
		"name":      "ci",
		"abilities": []string{permission.ReadRoles, permission.ManageTokens},
	})
	require.Equal(t, http.StatusCreated, status)
	bearer := body["plain_text_token"].(string)
	tokenID := body["data"].(map[string]any)["id"].(string)

	tc := env.client()
	tc.bearer = bearer

	status, _ = tc.do(http.MethodGet, "/api/v1/roles", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = tc.do(http.MethodPost, "/api/v1/roles", map[string]any{"name": "from-token"})
	assert.Equal(t, http.StatusForbidden, status, "admin holds create:roles but the token does not")

	status, _ = tc.do(http.MethodPost, "/api/v1/users/"+erin.ID+"/impersonate", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = tc.do(http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.ElementsMatch(t, []any{permission.ReadRoles, permission.ManageTokens}, body["permissions"])

	status, _ = a.do(http.MethodDelete, "/api/v1/tokens/"+tokenID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = tc.do(http.MethodGet, "/api/v1/roles", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	tc.bearer = "garbage"
	status, _ = tc.do(http.MethodGet, "/api/v1/roles", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

// =============================================================================
// ACTIVITY AND HEALTH
// =============================================================================

// TestPurpose: Validates activity filtering and parameter validation.
// Scope: API Test
// Security: Audit trail access
// Permissions: read:activity-log
// Expected: Filtering by log_name returns only that channel; a bad limit is 422.
// Test Case ID: API-09
func TestAPI_Activity(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user("ada", adminRole)
	a := env.login(admin)

	status, body := a.do(http.MethodGet, "/api/v1/activity?log_name=auth", nil)
	require.Equal(t, http.StatusOK, status)
	rows := body["data"].([]any)
	require.NotEmpty(t, rows)
	for _, row := range rows {
		assert.Equal(t, audit.ChannelAuth, row.(map[string]any)["log_name"])
	}

	status, _ = a.do(http.MethodGet, "/api/v1/activity?limit=zero", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

// TestPurpose: Validates the health endpoint reflects dependency state.
// Scope: API Test
// Security: N/A
// Expected: 200 while redis is up; 503 once it is down.
// Test Case ID: API-10
func TestAPI_Health(t *testing.T) {
	env := newTestEnv(t)
	c := env.client()

	status, body := c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"redis": "up"}, body["checks"])

	env.redis.SetError("LOADING redis is loading")
	status, body = c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])
}
