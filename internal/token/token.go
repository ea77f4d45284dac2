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

// Package token issues and authenticates personal API tokens. A token is a
// signed bearer JWT whose jti points at a stored row; the row holds the
// abilities, so revoking the row revokes the bearer value.
package token

import (
	"context"
	"errors"
	"time"
)

// Wildcard grants every ability.
const Wildcard = "*"

// Domain errors
var (
	ErrTokenNotFound = errors.New("token not found")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
)

// Token is a personal API token
type Token struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Abilities  []string   `json:"abilities"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HasAbility reports whether the token may be used for ability
func (t *Token) HasAbility(ability string) bool {
	for _, a := range t.Abilities {
		if a == Wildcard || a == ability {
			return true
		}
	}
	return false
}

// Expired reports whether the token has expired at now
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Repository defines the interface for token persistence
type Repository interface {
	// Create stores a token
	Create(ctx context.Context, t *Token) error

	// GetByID retrieves a token
	GetByID(ctx context.Context, id string) (*Token, error)

	// ListForUser retrieves the user's tokens, newest first
	ListForUser(ctx context.Context, userID string) ([]*Token, error)

	// Delete removes a token owned by userID
	Delete(ctx context.Context, id, userID string) error

	// TouchLastUsed records the last use time
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}
