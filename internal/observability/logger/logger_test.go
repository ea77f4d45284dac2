package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TestPurpose: Validates that log records carry the active trace context.
// Scope: Unit Test
// Security: Audit correlation
// Expected: trace_id and span_id appear on records logged inside a span.
// Test Case ID: LOG-01
func TestLogger_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", ServiceName: "bastion-test", Output: &buf})

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	l.InfoContext(ctx, "inside span", RoleID("r1"))
	span.End()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])
	assert.Equal(t, "r1", rec["role_id"])
	assert.Equal(t, "bastion-test", rec["service"])
}

// TestPurpose: Validates security events are emitted as warnings when not successful.
// Scope: Unit Test
// Security: Authorization denial logging
// Expected: AccessDenied logs a WARN security_event with the permission and impersonator.
// Test Case ID: LOG-02
func TestSecurityLogger_AccessDenied(t *testing.T) {
	var buf bytes.Buffer
	sec := NewSecurityLogger(New(Config{Format: "json", Output: &buf}))

	sec.AccessDenied(context.Background(), "u1", "admin1", "update:roles", "/api/v1/roles/r1", "10.0.0.1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "security_event", rec["msg"])
	assert.Equal(t, slog.LevelWarn.String(), rec["level"])
	assert.Equal(t, "authorize", rec["action"])
	assert.Equal(t, "update:roles", rec["permission"])
	assert.Equal(t, "admin1", rec["impersonator_id"])
	assert.Equal(t, "security", rec["component"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
