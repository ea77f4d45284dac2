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

package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/observability/logger"
	"github.com/bastion-admin/bastion/internal/permission"
)

// IssueInput carries the fields of a new token
type IssueInput struct {
	Name      string     `json:"name" validate:"required,max=255"`
	Abilities []string   `json:"abilities" validate:"required,min=1,dive,required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Service issues, authenticates and revokes API tokens
type Service struct {
	repo        Repository
	secret      []byte
	issuer      string
	auditLogger audit.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewService creates a new token service. secret signs the bearer JWTs.
func NewService(repo Repository, secret []byte, issuer string, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		secret:      secret,
		issuer:      issuer,
		auditLogger: auditLogger,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// Issue creates a token for userID and returns it with its bearer value.
// The bearer value is only available here.
func (s *Service) Issue(ctx context.Context, userID string, in IssueInput) (*Token, string, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, "", invalid(err)
	}

	abilities, err := normalizeAbilities(in.Abilities)
	if err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, "", &authz.ValidationError{Fields: map[string]string{"expires_at": "must be in the future"}}
	}

	t := &Token{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		Name:      in.Name,
		Abilities: abilities,
		ExpiresAt: in.ExpiresAt,
		CreatedAt: now,
	}

	bearer, err := s.sign(t)
	if err != nil {
		return nil, "", err
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, "", fmt.Errorf("failed to create token: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Activity{
		LogName:     audit.ChannelRBAC,
		Event:       audit.EventTokenCreated,
		CauserID:    userID,
		CauserType:  audit.TypeUser,
		SubjectID:   t.ID,
		SubjectType: audit.TypeToken,
		Properties:  map[string]any{"name": t.Name, "abilities": t.Abilities},
	})

	return t, bearer, nil
}

func (s *Service) sign(t *Token) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:       t.ID,
		Subject:  t.UserID,
		Issuer:   s.issuer,
		IssuedAt: jwt.NewNumericDate(t.CreatedAt),
	}
	if t.ExpiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*t.ExpiresAt)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate resolves a bearer value to its stored token
func (s *Service) Authenticate(ctx context.Context, bearer string) (*Token, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(bearer, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	t, err := s.repo.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if t.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}

	now := s.now().UTC()
	if t.Expired(now) {
		return nil, ErrTokenExpired
	}

	if err := s.repo.TouchLastUsed(ctx, t.ID, now); err != nil {
		slog.WarnContext(ctx, "failed to touch token",
			logger.TokenID(t.ID),
			logger.Error(err),
		)
	} else {
		t.LastUsedAt = &now
	}

	return t, nil
}

// List returns the user's tokens
func (s *Service) List(ctx context.Context, userID string) ([]*Token, error) {
	return s.repo.ListForUser(ctx, userID)
}

// Revoke deletes one of the user's tokens
func (s *Service) Revoke(ctx context.Context, userID, tokenID string) error {
	if err := s.repo.Delete(ctx, tokenID, userID); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Activity{
		LogName:     audit.ChannelRBAC,
		Event:       audit.EventTokenRevoked,
		CauserID:    userID,
		CauserType:  audit.TypeUser,
		SubjectID:   tokenID,
		SubjectType: audit.TypeToken,
	})
	return nil
}

// normalizeAbilities de-duplicates abilities, collapses to the wildcard when
// present and rejects names outside the catalog.
func normalizeAbilities(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == Wildcard {
			return []string{Wildcard}, nil
		}
		if _, ok := seen[a]; ok {
			continue
		}
		if !permission.Exists(a) {
			return nil, &authz.ValidationError{Fields: map[string]string{"abilities": "contains an unknown ability"}}
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

func invalid(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.StructField())
		if _, ok := fields[field]; !ok {
			fields[field] = "is invalid"
			if fe.Tag() == "required" || fe.Tag() == "min" {
				fields[field] = "is required"
			}
		}
	}
	return &authz.ValidationError{Fields: fields}
}
