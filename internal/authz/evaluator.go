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

package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bastion-admin/bastion/internal/permission"
)

// DefaultCacheTTL bounds how long a resolved grant set is reused.
const DefaultCacheTTL = 30 * time.Second

// Evaluator decides whether an actor holds a permission.
//
// A decision depends only on the actor's current roles and direct grants,
// the token abilities it presents, and the permission catalog. Cached grant
// sets are dropped whenever the role store changes roles, grants, or
// assignments.
type Evaluator struct {
	assignments AssignmentRepository
	cache       *grantCache
	group       singleflight.Group
	decisions   metric.Int64Counter
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithCacheTTL sets the grant cache TTL. A non-positive ttl disables caching.
func WithCacheTTL(ttl time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if ttl <= 0 {
			e.cache = nil
			return
		}
		e.cache = newGrantCache(ttl)
	}
}

// WithMeter records decision counts on the given meter.
func WithMeter(m metric.Meter) EvaluatorOption {
	return func(e *Evaluator) {
		counter, err := m.Int64Counter(
			"bastion.authz.decisions",
			metric.WithDescription("Authorization decisions by result"),
		)
		if err != nil {
			slog.Error("failed to create authz decision counter", slog.String("error", err.Error()))
			return
		}
		e.decisions = counter
	}
}

// NewEvaluator creates a new authorization evaluator
func NewEvaluator(assignments AssignmentRepository, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		assignments: assignments,
		cache:       newGrantCache(DefaultCacheTTL),
	}
	WithMeter(otel.Meter("github.com/bastion-admin/bastion/internal/authz"))(e)
	for _, opt := range opts {
		opt(e)
	}
	if e.decisions == nil {
		e.decisions, _ = noop.NewMeterProvider().Meter("noop").Int64Counter("noop")
	}
	return e
}

// Can reports whether actor holds permission. Lookup failures deny.
func (e *Evaluator) Can(ctx context.Context, actor Actor, perm string) bool {
	allowed := e.can(ctx, actor, perm)

	result := "deny"
	if allowed {
		result = "allow"
	}
	e.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.Bool("token", actor.Token != nil),
	))
	return allowed
}

// MustCan returns ErrUnauthorized unless actor holds permission. The error
// never names the permission that was missing.
func (e *Evaluator) MustCan(ctx context.Context, actor Actor, perm string) error {
	if !e.Can(ctx, actor, perm) {
		return ErrUnauthorized
	}
	return nil
}

func (e *Evaluator) can(ctx context.Context, actor Actor, perm string) bool {
	if actor.UserID == "" {
		return false
	}

	g, err := e.grants(ctx, actor.UserID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve grants",
			slog.String("component", "authz"),
			slog.String("user_id", actor.UserID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if !g.has(perm) {
		return false
	}

	// Token abilities are a second gate, applied on top of role grants
	// for every actor including super-admins.
	if actor.Token != nil && !actor.Token.HasAbility(perm) {
		return false
	}
	return true
}

// IsSuperAdmin reports whether the user holds the super-admin role.
func (e *Evaluator) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	g, err := e.grants(ctx, userID)
	if err != nil {
		return false, err
	}
	return g.superAdmin, nil
}

// RoleNames returns the sorted names of the user's roles.
func (e *Evaluator) RoleNames(ctx context.Context, userID string) ([]string, error) {
	g, err := e.grants(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), g.roles...), nil
}

// EffectivePermissions returns the sorted permission names the user holds
// through roles and direct grants. Super-admins hold the whole catalog.
func (e *Evaluator) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	g, err := e.grants(ctx, userID)
	if err != nil {
		return nil, err
	}
	if g.superAdmin {
		return permission.Names(), nil
	}
	out := make([]string, 0, len(g.permissions))
	for p := range g.permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Invalidate drops the cached grants of one user.
func (e *Evaluator) Invalidate(userID string) {
	if e.cache != nil {
		e.cache.invalidate(userID)
	}
}

// InvalidateAll drops every cached grant set.
func (e *Evaluator) InvalidateAll() {
	if e.cache != nil {
		e.cache.invalidateAll()
	}
}

func (e *Evaluator) grants(ctx context.Context, userID string) (*grantSet, error) {
	if e.cache == nil {
		return e.load(ctx, userID)
	}
	if g, ok := e.cache.get(userID); ok {
		return g, nil
	}

	// Keying the flight by generation keeps callers that arrive after an
	// invalidation from joining a load that started before it.
	generation := e.cache.currentGeneration()
	key := fmt.Sprintf("%s@%d", userID, generation)

	ch := e.group.DoChan(key, func() (any, error) {
		g, err := e.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		e.cache.set(userID, g, generation)
		return g, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*grantSet), nil
	}
}

func (e *Evaluator) load(ctx context.Context, userID string) (*grantSet, error) {
	var (
		roles  []*Role
		direct []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roles, err = e.assignments.RolesForUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get user roles: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		direct, err = e.assignments.DirectPermissions(gctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get direct permissions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &grantSet{permissions: make(map[string]struct{})}
	for _, r := range roles {
		set.roles = append(set.roles, r.Name)
		if r.Name == RoleSuperAdmin {
			set.superAdmin = true
		}
		for _, p := range r.Permissions {
			set.permissions[p] = struct{}{}
		}
	}
	for _, p := range direct {
		set.permissions[p] = struct{}{}
	}
	sort.Strings(set.roles)
	return set, nil
}
