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
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bastion-admin/bastion/internal/impersonation"
	"github.com/bastion-admin/bastion/internal/observability/logger"
	"github.com/bastion-admin/bastion/internal/session"
)

// LoggingMiddleware logs request start and completion
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.DebugContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(getClientIP(r)),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(getClientIP(r)),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// sessionWriter commits the session right before the response header is
// written, so handlers can change the session up to that point.
type sessionWriter struct {
	http.ResponseWriter
	once   sync.Once
	commit func()
}

func (s *sessionWriter) WriteHeader(code int) {
	s.once.Do(s.commit)
	s.ResponseWriter.WriteHeader(code)
}

func (s *sessionWriter) Write(b []byte) (int, error) {
	s.once.Do(s.commit)
	return s.ResponseWriter.Write(b)
}

func (s *sessionWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// SessionMiddleware loads the server-side session and persists it with the response
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := h.sessions.Load(ctx, r)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load session", logger.Error(err))
			respondMessage(w, http.StatusInternalServerError, "Server Error")
			return
		}

		sw := &sessionWriter{ResponseWriter: w}
		sw.commit = func() {
			if err := h.sessions.Commit(ctx, w, sess); err != nil {
				slog.ErrorContext(ctx, "failed to save session", logger.SessionID(shortID(sess.ID)), logger.Error(err))
			}
		}

		next.ServeHTTP(sw, r.WithContext(context.WithValue(ctx, sessionKey, sess)))
		sw.once.Do(sw.commit)
	})
}

// Authenticate resolves the request identity from a bearer token or the
// session. Anonymous requests pass through without an identity.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if bearer, ok := bearerToken(r); ok {
			tok, err := h.tokenService.Authenticate(ctx, bearer)
			if err != nil {
				slog.DebugContext(ctx, "bearer token rejected", logger.Error(err))
				respondUnauthenticated(w)
				return
			}
			user, err := h.identityService.GetUser(ctx, tok.UserID)
			if err != nil || !user.IsActive() {
				respondUnauthenticated(w)
				return
			}
			ctx = context.WithValue(ctx, tokenKey, tok)
			ctx = context.WithValue(ctx, identityKey, impersonation.Normal(user))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		sess := GetSession(ctx)
		if sess == nil || sess.User() == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := h.impersonation.Resolve(ctx, sess)
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, identityKey, id)))
		case errors.Is(err, impersonation.ErrStaleSession):
			h.security.StaleSession(ctx, shortID(sess.ID), getClientIP(r))
			sess.Destroy()
			respondStale(w)
		default:
			respondServiceError(w, r, err)
		}
	})
}

// RequireAuth rejects requests without a resolved identity
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetIdentity(r.Context()); !ok {
			respondUnauthenticated(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession rejects token-authenticated requests
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetToken(r.Context()) != nil {
			respondUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission lets the request through only if the actor holds perm
func (h *Handler) RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if h.evaluator.Can(ctx, actorFrom(ctx), perm) {
				next.ServeHTTP(w, r)
				return
			}

			impersonator := ""
			if id, ok := GetIdentity(ctx); ok && id.IsImpersonating() {
				impersonator = id.Original().ID
			}
			h.security.AccessDenied(ctx, GetUserID(ctx), impersonator, perm, r.URL.Path, getClientIP(r))
			h.meter.Denied(ctx, perm)
			respondUnauthorized(w)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

var _ impersonation.Session = (*session.Session)(nil)
