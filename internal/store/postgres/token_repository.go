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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bastion-admin/bastion/internal/token"
)

const tokenColumns = `id, user_id, name, abilities, expires_at, last_used_at, created_at`

func scanToken(row pgx.Row) (*token.Token, error) {
	var t token.Token
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Abilities, &t.ExpiresAt, &t.LastUsedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// TokenRepository implements token.Repository
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create stores a token
func (r *TokenRepository) Create(ctx context.Context, t *token.Token) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO api_tokens (id, user_id, name, abilities, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.Name, t.Abilities, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// GetByID retrieves a token
func (r *TokenRepository) GetByID(ctx context.Context, id string) (*token.Token, error) {
	t, err := scanToken(r.db.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM api_tokens WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, token.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

// ListForUser retrieves the user's tokens, newest first
func (r *TokenRepository) ListForUser(ctx context.Context, userID string) ([]*token.Token, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+tokenColumns+` FROM api_tokens WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*token.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Delete removes a token owned by userID
func (r *TokenRepository) Delete(ctx context.Context, id, userID string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM api_tokens WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return token.ErrTokenNotFound
	}
	return nil
}

// TouchLastUsed records the last use time
func (r *TokenRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.pool.Exec(ctx, `UPDATE api_tokens SET last_used_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}
