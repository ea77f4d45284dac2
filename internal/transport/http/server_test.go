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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/identity"
	"github.com/bastion-admin/bastion/internal/impersonation"
	"github.com/bastion-admin/bastion/internal/rbac"
	"github.com/bastion-admin/bastion/internal/session"
	"github.com/bastion-admin/bastion/internal/store/memory"
	"github.com/bastion-admin/bastion/internal/token"
)

const testPassword = "correct horse battery"

type testEnv struct {
	t        *testing.T
	srv      *httptest.Server
	store    *memory.Store
	sink     *audit.MemorySink
	identity *identity.Service
	roles    *authz.RoleService
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(sink)

	evaluator := authz.NewEvaluator(store.Assignments())
	require.NoError(t, authz.NewSeeder(store.Catalog(), store.Roles(), evaluator).Seed(ctx))
	roles := authz.NewRoleService(store.Roles(), store.Assignments(), evaluator, recorder)

	hasher := identity.NewPasswordHasher(1024, 1, 1, 16, 32)
	identitySvc := identity.NewService(store.Users(), hasher, recorder, 5, 15*time.Minute)
	tokens := token.NewService(store.Tokens(), []byte("0123456789abcdef0123456789abcdef"), "bastion-test", recorder)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := session.NewStore(client, session.Options{
		Lifetime:    time.Hour,
		IdleTimeout: 30 * time.Minute,
	})

	h := NewHandler(Deps{
		Identity:      identitySvc,
		Roles:         roles,
		Evaluator:     evaluator,
		Tokens:        tokens,
		Impersonation: impersonation.NewManager(identitySvc, evaluator, recorder),
		Sessions:      sessions,
		Activity:      sink,
		AuditLogger:   recorder,
		HealthChecks: map[string]HealthCheck{
			"redis": func(ctx context.Context) error { return client.Ping(ctx).Err() },
		},
	})
	srv := httptest.NewServer(NewRouter(h, RouterConfig{LoginPerMinute: 1000}))
	t.Cleanup(srv.Close)

	return &testEnv{
		t:        t,
		srv:      srv,
		store:    store,
		sink:     sink,
		identity: identitySvc,
		roles:    roles,
		redis:    mr,
	}
}

// user provisions an active user with testPassword and the given roles
func (e *testEnv) user(name string, roleIDs ...string) *identity.User {
	e.t.Helper()
	ctx := context.Background()
	u, err := e.identity.Provision(ctx, name, name+"@example.com")
	require.NoError(e.t, err)
	require.NoError(e.t, e.identity.AddPassword(ctx, u.ID, testPassword))
	require.NoError(e.t, e.store.Assignments().SyncUserRoles(ctx, u.ID, roleIDs))
	return u
}

// editorRole creates a plain role holding perms
func (e *testEnv) editorRole(perms ...string) *authz.Role {
	e.t.Helper()
	role, err := e.roles.Create(context.Background(), audit.ActorSystem, authz.CreateRoleInput{
		Name:        "editor",
		Permissions: perms,
	})
	require.NoError(e.t, err)
	return role
}

type apiClient struct {
	env    *testEnv
	http   *http.Client
	bearer string
}

func (e *testEnv) client() *apiClient {
	jar, err := cookiejar.New(nil)
	require.NoError(e.t, err)
	return &apiClient{env: e, http: &http.Client{Jar: jar}}
}

// login returns a session client signed in as u
func (e *testEnv) login(u *identity.User) *apiClient {
	e.t.Helper()
	c := e.client()
	status, _ := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": u.Email, "password": testPassword,
	})
	require.Equal(e.t, http.StatusOK, status)
	return c
}

func (c *apiClient) do(method, path string, body any) (int, map[string]any) {
	c.env.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.env.t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.env.srv.URL+path, rdr)
	require.NoError(c.env.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	require.NoError(c.env.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.env.t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(c.env.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

var (
	superAdminRole = rbac.RoleIDSuperAdmin
	adminRole      = rbac.RoleIDAdmin
)
