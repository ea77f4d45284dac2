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

package impersonation

import "github.com/bastion-admin/bastion/internal/identity"

// Identity is the resolved actor of a request: either a normal user or an
// original user acting as someone else. Authorization always evaluates
// Current.
type Identity struct {
	current  *identity.User
	original *identity.User
	state    *State
}

// Normal builds the identity of a user acting as themselves
func Normal(user *identity.User) Identity {
	return Identity{current: user}
}

// Impersonating builds the identity of original acting as current
func Impersonating(original, current *identity.User, state *State) Identity {
	return Identity{current: current, original: original, state: state}
}

// Current is the user permission checks are evaluated for
func (i Identity) Current() *identity.User {
	return i.current
}

// Original is the impersonator, or nil for a normal identity
func (i Identity) Original() *identity.User {
	return i.original
}

// IsImpersonating reports whether the identity is an impersonation
func (i Identity) IsImpersonating() bool {
	return i.original != nil
}

// State returns the stored impersonation state, or nil
func (i Identity) State() *State {
	return i.state
}
