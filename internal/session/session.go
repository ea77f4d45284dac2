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

package session

import (
	"time"
)

// Session represents a server-side user session
type Session struct {
	ID         string
	UserID     string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time

	values    map[string]string
	previous  string
	isNew     bool
	dirty     bool
	destroyed bool
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsIdle checks if the session has been idle for too long
func (s *Session) IsIdle(idleTimeout time.Duration) bool {
	return idleTimeout > 0 && time.Since(s.LastSeenAt) > idleTimeout
}

// IsNew reports whether the session was created by this request
func (s *Session) IsNew() bool {
	return s.isNew
}

// Get retrieves a value
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Set stores a value
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Delete removes a value
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetUser associates the session with a user ID
func (s *Session) SetUser(id string) {
	s.UserID = id
	s.dirty = true
}

// User returns the current user ID
func (s *Session) User() string {
	return s.UserID
}

// Regenerate assigns a fresh ID; the old record is dropped on commit.
// Called on login to prevent session fixation.
func (s *Session) Regenerate() {
	if !s.isNew && s.previous == "" {
		s.previous = s.ID
	}
	s.ID = newID()
	s.dirty = true
}

// Destroy marks the session for deletion
func (s *Session) Destroy() {
	s.destroyed = true
}
