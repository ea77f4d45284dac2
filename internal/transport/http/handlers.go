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

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/identity"
	"github.com/bastion-admin/bastion/internal/impersonation"
	"github.com/bastion-admin/bastion/internal/observability/logger"
	"github.com/bastion-admin/bastion/internal/observability/metrics"
	"github.com/bastion-admin/bastion/internal/permission"
	"github.com/bastion-admin/bastion/internal/session"
	"github.com/bastion-admin/bastion/internal/token"
)

const maxBodyBytes = 1 << 20

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Deps are the services the HTTP layer is built on
type Deps struct {
	Identity      *identity.Service
	Roles         *authz.RoleService
	Evaluator     *authz.Evaluator
	Tokens        *token.Service
	Impersonation *impersonation.Manager
	Sessions      *session.Store
	Activity      audit.Reader
	AuditLogger   audit.Logger
	Security      *logger.SecurityLogger
	Meter         *metrics.Meter
	HealthChecks  map[string]HealthCheck
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	roleService     *authz.RoleService
	evaluator       *authz.Evaluator
	tokenService    *token.Service
	impersonation   *impersonation.Manager
	sessions        *session.Store
	activity        audit.Reader
	auditLogger     audit.Logger
	security        *logger.SecurityLogger
	meter           *metrics.Meter
	healthChecks    map[string]HealthCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	h := &Handler{
		identityService: d.Identity,
		roleService:     d.Roles,
		evaluator:       d.Evaluator,
		tokenService:    d.Tokens,
		impersonation:   d.Impersonation,
		sessions:        d.Sessions,
		activity:        d.Activity,
		auditLogger:     d.AuditLogger,
		security:        d.Security,
		meter:           d.Meter,
		healthChecks:    d.HealthChecks,
	}
	if h.security == nil {
		h.security = logger.NewSecurityLogger(slog.Default())
	}
	if h.meter == nil {
		h.meter, _ = metrics.New(metrics.Config{ServiceName: "bastion"})
	}
	return h
}

// RouterConfig holds the transport hardening settings
type RouterConfig struct {
	AllowedOrigins []string
	Production     bool
	RequestTimeout time.Duration
	LoginPerMinute int
	RateLimiter    *RateLimiter
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.LoginPerMinute <= 0 {
		cfg.LoginPerMinute = 10
	}

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "same-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		STSSeconds:            31536000,
		STSIncludeSubdomains:  true,
		IsDevelopment:         !cfg.Production,
	})

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(secureMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RateLimiter != nil {
		r.Use(RateLimitMiddleware(cfg.RateLimiter))
	}

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.SessionMiddleware)
		r.Use(h.Authenticate)

		r.With(httprate.Limit(cfg.LoginPerMinute, time.Minute,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) { return getClientIP(r), nil }),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				respondMessage(w, http.StatusTooManyRequests, "Too Many Attempts.")
			}),
		)).Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth)

			r.Get("/auth/me", h.GetCurrentUser)
			r.With(RequireSession).Post("/auth/logout", h.Logout)
			r.With(RequireSession).Post("/impersonation/leave", h.LeaveImpersonation)

			r.With(h.RequirePermission(permission.ReadRoles)).Get("/permissions", h.ListPermissions)

			r.Route("/roles", func(r chi.Router) {
				r.With(h.RequirePermission(permission.ReadRoles)).Get("/", h.ListRoles)
				r.With(h.RequirePermission(permission.CreateRoles)).Post("/", h.CreateRole)
				r.Route("/{roleID}", func(r chi.Router) {
					r.With(h.RequirePermission(permission.ReadRoles)).Get("/", h.GetRole)
					r.With(h.RequirePermission(permission.DeleteRoles)).Delete("/", h.DeleteRole)
					r.Group(func(r chi.Router) {
						r.Use(h.RequirePermission(permission.UpdateRoles))
						r.Patch("/", h.UpdateRole)
						r.Put("/permissions", h.SyncRolePermissions)
						r.Post("/permissions/grant", h.GrantRolePermissions)
						r.Post("/permissions/revoke", h.RevokeRolePermissions)
					})
				})
			})

			r.Route("/users/{userID}", func(r chi.Router) {
				r.With(h.RequirePermission(permission.ReadUsers)).Get("/", h.GetUser)
				r.With(h.RequirePermission(permission.UpdateUsers)).Put("/roles", h.SyncUserRoles)
				r.With(h.RequirePermission(permission.UpdateUsers)).Put("/permissions", h.SyncUserPermissions)
				r.With(RequireSession, h.RequirePermission(permission.ImpersonateUsers)).Post("/impersonate", h.StartImpersonation)
			})

			r.With(h.RequirePermission(permission.ReadActivityLog)).Get("/activity", h.ListActivity)

			r.Route("/tokens", func(r chi.Router) {
				r.Use(h.RequirePermission(permission.ManageTokens))
				r.Get("/", h.ListTokens)
				r.Post("/", h.IssueToken)
				r.Delete("/{tokenID}", h.RevokeToken)
			})
		})
	})

	return r
}

// HealthCheck reports the status of every registered dependency
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	checks := make(map[string]string, len(h.healthChecks))
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range h.healthChecks {
		g.Go(func() error {
			err := check(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[name] = "down"
				slog.WarnContext(ctx, "health check failed", logger.Component(name), logger.Error(err))
				return err
			}
			checks[name] = "up"
			return nil
		})
	}

	status, code := "healthy", http.StatusOK
	if err := g.Wait(); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]any{
		"status":  status,
		"service": "bastion",
		"checks":  checks,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondMessage(w, http.StatusBadRequest, "Malformed JSON body.")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"message": message,
	})
}

func respondUnauthorized(w http.ResponseWriter) {
	respondMessage(w, http.StatusForbidden, "Unauthorized")
}

func respondUnauthenticated(w http.ResponseWriter) {
	respondMessage(w, http.StatusUnauthorized, "Unauthenticated.")
}

func respondStale(w http.ResponseWriter) {
	respondJSON(w, http.StatusUnauthorized, map[string]string{
		"message":  "Your session has expired. Please sign in again.",
		"redirect": "/login",
	})
}

// routePattern returns the matched chi route, or the raw path outside a router.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// respondServiceError maps domain errors onto status codes
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *authz.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "The given data was invalid.",
			"errors":  verr.Fields,
		})
	case errors.Is(err, authz.ErrUnauthorized):
		respondUnauthorized(w)
	case errors.Is(err, authz.ErrProtectedRole):
		respondMessage(w, http.StatusUnprocessableEntity, "System roles cannot be modified.")
	case errors.Is(err, authz.ErrRoleNotFound),
		errors.Is(err, identity.ErrUserNotFound),
		errors.Is(err, token.ErrTokenNotFound):
		respondMessage(w, http.StatusNotFound, "Not Found")
	case errors.Is(err, impersonation.ErrConflict):
		respondMessage(w, http.StatusConflict, "You are already impersonating a user.")
	case errors.Is(err, impersonation.ErrSelfImpersonation),
		errors.Is(err, impersonation.ErrTargetSuspended):
		respondMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, impersonation.ErrStaleSession):
		respondStale(w)
	default:
		slog.ErrorContext(r.Context(), "request failed",
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Operation(r.Method+" "+routePattern(r)),
			logger.Path(r.URL.Path),
			logger.Error(err),
		)
		respondMessage(w, http.StatusInternalServerError, "Server Error")
	}
}
