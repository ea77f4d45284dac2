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

package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bastion-admin/bastion/internal/audit"
)

// Service provides identity-related business logic
type Service struct {
	repo               UserRepository
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	validate           *validator.Validate
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
}

// NewService creates a new identity service
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		auditLogger:        auditLogger,
		validate:           validator.New(),
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
	}
}

// Provision creates a new active user without credentials
func (s *Service) Provision(ctx context.Context, name, email string) (*User, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, ErrInvalidEmail
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      strings.TrimSpace(name),
		Email:     email,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// AddPassword sets a password credential on an existing user
func (s *Service) AddPassword(ctx context.Context, userID, password string) error {
	if !isStrongPassword(password) {
		return ErrWeakPassword
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	credentials := &Credentials{
		UserID:       userID,
		PasswordHash: passwordHash,
		UpdatedAt:    time.Now().UTC(),
	}

	if err := s.repo.AddCredentials(ctx, credentials); err != nil {
		return fmt.Errorf("failed to add credentials: %w", err)
	}

	return nil
}

// Authenticate authenticates a user with email and password
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		s.loginFailed(ctx, "", map[string]any{"reason": "user_not_found"})
		return nil, ErrInvalidCredentials
	}

	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		s.loginFailed(ctx, user.ID, map[string]any{"reason": "locked_out"})
		return nil, ErrAccountLocked
	}

	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		s.loginFailed(ctx, user.ID, map[string]any{"reason": "no_credentials"})
		return nil, ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, credentials.PasswordHash)
	if err != nil || !valid {
		attempts := user.FailedLoginAttempts + 1
		var lockedUntil *time.Time
		if attempts >= s.lockoutMaxAttempts {
			until := time.Now().Add(s.lockoutDuration)
			lockedUntil = &until
		}
		_ = s.repo.UpdateLockout(ctx, user.ID, attempts, lockedUntil)

		s.loginFailed(ctx, user.ID, map[string]any{
			"reason":   "invalid_password",
			"attempts": attempts,
			"locked":   lockedUntil != nil,
		})
		return nil, ErrInvalidCredentials
	}

	// Suspension is checked after the password so it does not reveal
	// which accounts exist.
	if !user.IsActive() {
		s.loginFailed(ctx, user.ID, map[string]any{"reason": "suspended"})
		return nil, ErrUserSuspended
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		_ = s.repo.UpdateLockout(ctx, user.ID, 0, nil)
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
	}

	s.auditLogger.Log(ctx, audit.Activity{
		LogName:     audit.ChannelAuth,
		Event:       audit.EventLogin,
		CauserID:    user.ID,
		CauserType:  audit.TypeUser,
		SubjectID:   user.ID,
		SubjectType: audit.TypeUser,
	})

	return user, nil
}

func (s *Service) loginFailed(ctx context.Context, userID string, props map[string]any) {
	a := audit.Activity{
		LogName:    audit.ChannelAuth,
		Event:      audit.EventLoginFailed,
		Properties: props,
	}
	if userID != "" {
		a.SubjectID = userID
		a.SubjectType = audit.TypeUser
	}
	s.auditLogger.Log(ctx, a)
}

// GetByEmail retrieves a user by email
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, normalizeEmail(email))
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// SetStatus activates or suspends a user
func (s *Service) SetStatus(ctx context.Context, userID string, status Status) error {
	if status != StatusActive && status != StatusSuspended {
		return fmt.Errorf("unknown status %q", status)
	}
	return s.repo.UpdateStatus(ctx, userID, status)
}

// ChangePassword changes user password
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	credentials, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	valid, err := s.hasher.Verify(oldPassword, credentials.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.UpdatePassword(ctx, userID, newHash)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isStrongPassword(password string) bool {
	return utf8.RuneCountInString(password) >= 8
}
