package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that sensitive keys are correctly identified as secrets to prevent them from being logged in plaintext.
// Scope: Unit Test
// Security: Data Masking and Leakage Prevention (CWE-532)
// Expected: Returns true for keys containing 'password', 'token', 'secret', etc., and false for non-sensitive keys.
// Test Case ID: AUD-01
func TestAudit_IsSecret(t *testing.T) {
	tests := []struct {
		key      string
		isSecret bool
	}{
		{"password", true},
		{"Password", true},
		{"PASSWORD", true},
		{"token", true},
		{"access_token", true},
		{"secret", true},
		{"api_key", true},
		{"hash", true},
		{"password_hash", true},
		{"credential", true},
		{"private_key", true},
		{"user_id", false},
		{"role_name", false},
		{"email", false},
		{"status", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := isSecret(tt.key); got != tt.isSecret {
				t.Errorf("isSecret(%q) = %v, want %v", tt.key, got, tt.isSecret)
			}
		})
	}
}

// TestPurpose: Validates that the recorder stamps id and timestamp and writes to every sink.
// Scope: Unit Test
// Expected: Each sink receives the same stamped activity.
// Test Case ID: AUD-02
func TestRecorder_FansOut(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	rec := NewRecorder(a, NewSlogSink(), b)

	rec.Log(context.Background(), Activity{
		LogName:    ChannelRBAC,
		Event:      EventRoleCreated,
		CauserID:   "u-1",
		CauserType: TypeUser,
		Properties: map[string]any{"role_name": "editor", "token": "abc"},
	})

	require.Len(t, a.Activities(), 1)
	require.Len(t, b.Activities(), 1)
	got := a.Activities()[0]
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.ID, b.Activities()[0].ID)
}

// TestPurpose: Validates that a failing sink neither panics nor prevents later sinks from recording.
// Scope: Unit Test
// Expected: The healthy sink still records the activity.
// Test Case ID: AUD-03
func TestRecorder_SinkFailureIsIsolated(t *testing.T) {
	broken := NewMemorySink()
	broken.Err = errors.New("database unavailable")
	healthy := NewMemorySink()

	NewRecorder(broken, healthy).Log(context.Background(), Activity{Event: EventImpersonateStart})

	assert.Empty(t, broken.Activities())
	assert.Len(t, healthy.ByEvent(EventImpersonateStart), 1)
}
