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

package logger

import (
	"context"
	"log/slog"
)

// SecurityEvent is a request-level security signal. Unlike activity
// records it is never persisted; it only goes to the log stream.
type SecurityEvent struct {
	EventType      string
	UserID         string
	ImpersonatorID string
	SessionID      string
	IPAddress      string
	Action         string
	Permission     string
	Resource       string
	Result         string // success, failure, denied
	Reason         string
	Metadata       map[string]any
}

// SecurityLogger writes security events
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With(Component("security")),
	}
}

// Log logs a security event
func (s *SecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.String("action", event.Action),
		slog.String("result", event.Result),
	}

	if event.UserID != "" {
		attrs = append(attrs, UserID(event.UserID))
	}
	if event.ImpersonatorID != "" {
		attrs = append(attrs, ImpersonatorID(event.ImpersonatorID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, SessionID(event.SessionID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Permission != "" {
		attrs = append(attrs, Permission(event.Permission))
	}
	if event.Resource != "" {
		attrs = append(attrs, slog.String("resource", event.Resource))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}

	level := slog.LevelInfo
	if event.Result != "success" {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "security_event", attrs...)
}

// LoginFailure records a rejected credential check
func (s *SecurityLogger) LoginFailure(ctx context.Context, email, ipAddr, reason string) {
	s.Log(ctx, SecurityEvent{
		EventType: "authentication",
		IPAddress: ipAddr,
		Action:    "login",
		Result:    "failure",
		Reason:    reason,
		Metadata:  map[string]any{"email": email},
	})
}

// AccessDenied records a request refused for a missing permission
func (s *SecurityLogger) AccessDenied(ctx context.Context, userID, impersonatorID, permission, resource, ipAddr string) {
	s.Log(ctx, SecurityEvent{
		EventType:      "authorization",
		UserID:         userID,
		ImpersonatorID: impersonatorID,
		IPAddress:      ipAddr,
		Action:         "authorize",
		Permission:     permission,
		Resource:       resource,
		Result:         "denied",
	})
}

// ProtectedRoleRejected records an attempt to mutate a system role
func (s *SecurityLogger) ProtectedRoleRejected(ctx context.Context, userID, roleID, ipAddr string) {
	s.Log(ctx, SecurityEvent{
		EventType: "authorization",
		UserID:    userID,
		IPAddress: ipAddr,
		Action:    "mutate_role",
		Resource:  roleID,
		Result:    "denied",
		Reason:    "protected_role",
	})
}

// StaleSession records a session dropped because its identity no longer resolves
func (s *SecurityLogger) StaleSession(ctx context.Context, sessionID, ipAddr string) {
	s.Log(ctx, SecurityEvent{
		EventType: "session",
		SessionID: sessionID,
		IPAddress: ipAddr,
		Action:    "resolve_identity",
		Result:    "failure",
		Reason:    "stale_session",
	})
}
