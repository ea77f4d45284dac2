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
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawPost(t *testing.T, env *testEnv, path, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(env.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

// TestPurpose: Validates that a login with an empty body is rejected with field errors.
// Scope: Unit Test
// Security: Input validation
// Expected: Returns 422 with errors for both email and password.
// Test Case ID: SEC-01
func TestSecurity_Login_EmptyBody_ReturnsValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.client().do(http.MethodPost, "/api/v1/auth/login", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	errs, ok := body["errors"].(map[string]any)
	require.True(t, ok, "errors object expected: %v", body)
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "password")
}

// TestPurpose: Validates that error responses do not leak sensitive internal details (stack traces, paths).
// Scope: Unit Test
// Security: Information disclosure prevention (CWE-209)
// Expected: Malformed JSON yields 400 and the body carries none of the sensitive patterns.
// Test Case ID: SEC-02
func TestSecurity_MalformedJSON_NoSensitiveDataIsLeaked(t *testing.T) {
	env := newTestEnv(t)

	resp, body := rawPost(t, env, "/api/v1/auth/login", `{invalid}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	for _, pattern := range []string{"panic", "/home/", "goroutine", "runtime.", ".go:", "invalid character"} {
		assert.NotContains(t, strings.ToLower(body), pattern,
			"response should not contain %q", pattern)
	}
}

// TestPurpose: Validates that oversized request bodies are refused before reaching the handler logic.
// Scope: Unit Test
// Security: Resource exhaustion
// Expected: Returns 400 and no session is established.
// Test Case ID: SEC-03
func TestSecurity_OversizedBody_IsRejected(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"email":"a@example.com","password":"` + strings.Repeat("x", 2<<20) + `"}`
	resp, _ := rawPost(t, env, "/api/v1/auth/login", payload)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, resp.Cookies())
}

// TestPurpose: Validates that JSON responses carry hardening headers.
// Scope: Unit Test
// Security: Prevents MIME sniffing and clickjacking
// Expected: Content-Type is application/json; nosniff and frame deny headers are present.
// Test Case ID: SEC-10
func TestSecurity_Headers_AreSet(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

// TestPurpose: Validates that an unknown bearer token is treated as unauthenticated.
// Scope: Unit Test
// Security: Token forgery
// Expected: Returns 401 "Unauthenticated." for a garbage token.
// Test Case ID: SEC-11
func TestSecurity_ForgedBearer_IsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	c := env.client()
	c.bearer = "not-a-real-token"

	status, body := c.do(http.MethodGet, "/api/v1/auth/me", nil)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthenticated.", body["message"])
}
