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

	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/impersonation"
	"github.com/bastion-admin/bastion/internal/session"
	"github.com/bastion-admin/bastion/internal/token"
)

type contextKey string

const (
	sessionKey  contextKey = "session"
	identityKey contextKey = "identity"
	tokenKey    contextKey = "token"
)

// GetSession returns the request's server-side session, if any
func GetSession(ctx context.Context) *session.Session {
	if val, ok := ctx.Value(sessionKey).(*session.Session); ok {
		return val
	}
	return nil
}

// GetIdentity returns the resolved request identity
func GetIdentity(ctx context.Context) (impersonation.Identity, bool) {
	val, ok := ctx.Value(identityKey).(impersonation.Identity)
	return val, ok
}

// GetToken returns the API token the request authenticated with, if any
func GetToken(ctx context.Context) *token.Token {
	if val, ok := ctx.Value(tokenKey).(*token.Token); ok {
		return val
	}
	return nil
}

// GetUserID returns the ID permissions are evaluated for. While
// impersonating this is the impersonated user.
func GetUserID(ctx context.Context) string {
	if id, ok := GetIdentity(ctx); ok {
		return id.Current().ID
	}
	return ""
}

// actorFrom builds the authorization actor for the request
func actorFrom(ctx context.Context) authz.Actor {
	actor := authz.Actor{UserID: GetUserID(ctx)}
	if tok := GetToken(ctx); tok != nil {
		actor.Token = tok
	}
	return actor
}
