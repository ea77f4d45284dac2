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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log channels
const (
	ChannelRBAC          = "rbac"
	ChannelImpersonation = "impersonation"
	ChannelAuth          = "auth"
)

// Event names
const (
	EventRoleCreated            = "rbac.role.created"
	EventRoleUpdated            = "rbac.role.updated"
	EventRolePermissionsSynced  = "rbac.role.permissions_synced"
	EventRolePermissionsGranted = "rbac.role.permissions_granted"
	EventRolePermissionsRevoked = "rbac.role.permissions_revoked"
	EventRoleDeleted            = "rbac.role.deleted"
	EventUserRolesSynced        = "rbac.user.roles_synced"
	EventUserPermissionsSynced  = "rbac.user.permissions_synced"
	EventTokenCreated           = "rbac.token.created"
	EventTokenRevoked           = "rbac.token.revoked"
	EventImpersonateStart       = "impersonate.start"
	EventImpersonateLeave       = "impersonate.leave"
	EventLogin                  = "auth.login"
	EventLoginFailed            = "auth.login_failed"
	EventLogout                 = "auth.logout"
)

// Causer and subject types
const (
	TypeUser  = "user"
	TypeRole  = "role"
	TypeToken = "token"
)

// ActorSystem identifies changes made by the service itself (seeding, bootstrap).
const ActorSystem = "system"

// Activity is a single append-only audit record.
type Activity struct {
	ID          string         `json:"id"`
	LogName     string         `json:"log_name"`
	Event       string         `json:"event"`
	Description string         `json:"description,omitempty"`
	CauserID    string         `json:"causer_id,omitempty"`
	CauserType  string         `json:"causer_type,omitempty"`
	SubjectID   string         `json:"subject_id,omitempty"`
	SubjectType string         `json:"subject_type,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Sink persists activities. Implementations must never update or delete
// records they have written.
type Sink interface {
	Record(ctx context.Context, activity *Activity) error
}

// Logger records activities on a best-effort basis: a failing sink is
// reported to the operational log and never to the caller.
type Logger interface {
	Log(ctx context.Context, activity Activity)
}

// Recorder fans an activity out to every configured sink.
type Recorder struct {
	sinks []Sink
}

// NewRecorder creates a recorder writing to sinks in order.
func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks}
}

// Log stamps the activity and writes it to every sink.
func (r *Recorder) Log(ctx context.Context, activity Activity) {
	if activity.ID == "" {
		activity.ID = uuid.Must(uuid.NewV7()).String()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}

	for _, sink := range r.sinks {
		if err := sink.Record(ctx, &activity); err != nil {
			slog.ErrorContext(ctx, "failed to record activity",
				slog.String("component", "audit"),
				slog.String("event", activity.Event),
				slog.String("activity_id", activity.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// SlogSink mirrors activities to the structured log.
type SlogSink struct{}

// NewSlogSink creates a new slog sink
func NewSlogSink() *SlogSink {
	return &SlogSink{}
}

// Record logs the activity at INFO level with the "audit" component.
func (s *SlogSink) Record(ctx context.Context, a *Activity) error {
	attrs := []any{
		slog.String("log_name", a.LogName),
		slog.String("event", a.Event),
		slog.String("causer_id", a.CauserID),
		slog.String("subject_id", a.SubjectID),
		slog.String("subject_type", a.SubjectType),
		slog.Time("timestamp", a.CreatedAt),
	}

	// Flatten properties
	if len(a.Properties) > 0 {
		group := []any{}
		for k, v := range a.Properties {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("properties", group...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
	return nil
}

// DefaultQueryLimit caps a Query without a limit
const DefaultQueryLimit = 50

// MaxQueryLimit is the largest page a Query may request
const MaxQueryLimit = 200

// Query filters the activity trail. Empty fields match everything.
type Query struct {
	LogName   string
	Event     string
	CauserID  string
	SubjectID string
	Before    time.Time
	Limit     int
}

// PageSize returns the effective limit
func (q Query) PageSize() int {
	switch {
	case q.Limit <= 0:
		return DefaultQueryLimit
	case q.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return q.Limit
	}
}

func (q Query) matches(a *Activity) bool {
	return (q.LogName == "" || a.LogName == q.LogName) &&
		(q.Event == "" || a.Event == q.Event) &&
		(q.CauserID == "" || a.CauserID == q.CauserID) &&
		(q.SubjectID == "" || a.SubjectID == q.SubjectID) &&
		(q.Before.IsZero() || a.CreatedAt.Before(q.Before))
}

// Reader lists recorded activities, newest first
type Reader interface {
	List(ctx context.Context, q Query) ([]Activity, error)
}

// MemorySink keeps activities in memory. Used by tests and local tooling.
type MemorySink struct {
	mu         sync.Mutex
	activities []Activity
	Err        error
}

// NewMemorySink creates an empty memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends a copy of the activity, or returns Err when set.
func (m *MemorySink) Record(_ context.Context, a *Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.activities = append(m.activities, *a)
	return nil
}

// Activities returns a snapshot of recorded activities.
func (m *MemorySink) Activities() []Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Activity, len(m.activities))
	copy(out, m.activities)
	return out
}

// ByEvent returns recorded activities with the given event name.
func (m *MemorySink) ByEvent(event string) []Activity {
	var out []Activity
	for _, a := range m.Activities() {
		if a.Event == event {
			out = append(out, a)
		}
	}
	return out
}

// List returns matching activities, newest first.
func (m *MemorySink) List(_ context.Context, q Query) ([]Activity, error) {
	all := m.Activities()
	out := make([]Activity, 0, len(all))
	for i := len(all) - 1; i >= 0 && len(out) < q.PageSize(); i-- {
		if q.matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
