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
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures a Store
type Options struct {
	CookieName  string
	Lifetime    time.Duration
	IdleTimeout time.Duration
	Secure      bool
	KeyPrefix   string
}

// Store keeps sessions in Redis and tracks them with a cookie
type Store struct {
	client redis.UniversalClient
	opts   Options
}

type payload struct {
	UserID     string            `json:"user_id"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Values     map[string]string `json:"values,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	LastSeenAt time.Time         `json:"last_seen_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewStore creates a new Redis session store
func NewStore(client redis.UniversalClient, opts Options) *Store {
	if opts.CookieName == "" {
		opts.CookieName = "bastion_session"
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = 24 * time.Hour
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "session:"
	}
	return &Store{client: client, opts: opts}
}

// CookieName returns the cookie identifier used for sessions
func (s *Store) CookieName() string {
	return s.opts.CookieName
}

// Load returns the request's session, or a new one if the cookie is
// missing, unknown, expired, or idle.
func (s *Store) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(s.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return s.newSession(r), nil
	}

	data, err := s.client.Get(ctx, s.key(cookie.Value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.newSession(r), nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	sess := &Session{
		ID:         cookie.Value,
		UserID:     p.UserID,
		IPAddress:  p.IPAddress,
		UserAgent:  p.UserAgent,
		CreatedAt:  p.CreatedAt,
		LastSeenAt: p.LastSeenAt,
		ExpiresAt:  p.ExpiresAt,
		values:     p.Values,
	}

	if sess.IsExpired() || sess.IsIdle(s.opts.IdleTimeout) {
		if err := s.client.Del(ctx, s.key(sess.ID)).Err(); err != nil {
			return nil, fmt.Errorf("failed to drop stale session: %w", err)
		}
		return s.newSession(r), nil
	}

	sess.LastSeenAt = time.Now().UTC()
	sess.dirty = true
	return sess, nil
}

// Commit persists the session and writes the cookie
func (s *Store) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		keys := []string{s.key(sess.ID)}
		if sess.previous != "" {
			keys = append(keys, s.key(sess.previous))
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		http.SetCookie(w, s.cookie("", -1))
		return nil
	}

	// Anonymous sessions are not stored.
	if sess.UserID == "" && len(sess.values) == 0 {
		return nil
	}

	if sess.previous != "" {
		if err := s.client.Del(ctx, s.key(sess.previous)).Err(); err != nil {
			return fmt.Errorf("failed to delete rotated session: %w", err)
		}
		sess.previous = ""
	}

	if !sess.dirty {
		return nil
	}

	data, err := json.Marshal(payload{
		UserID:     sess.UserID,
		IPAddress:  sess.IPAddress,
		UserAgent:  sess.UserAgent,
		Values:     sess.values,
		CreatedAt:  sess.CreatedAt,
		LastSeenAt: sess.LastSeenAt,
		ExpiresAt:  sess.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	sess.dirty = false
	sess.isNew = false

	http.SetCookie(w, s.cookie(sess.ID, int(ttl.Seconds())))
	return nil
}

func (s *Store) newSession(r *http.Request) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         newID(),
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.opts.Lifetime),
		values:     make(map[string]string),
		isNew:      true,
		dirty:      true,
	}
}

func (s *Store) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Store) key(id string) string {
	return s.opts.KeyPrefix + id
}

func newID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("session: failed to read random bytes: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
