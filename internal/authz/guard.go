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

// IsReservedName reports whether name is one of the system role names.
func IsReservedName(name string) bool {
	for _, n := range ReservedRoleNames {
		if n == name {
			return true
		}
	}
	return false
}

// IsProtected reports whether a role is exempt from mutation. The name
// check holds even if the internal flag has been cleared in storage.
func IsProtected(role *Role) bool {
	if role == nil {
		return false
	}
	return IsReservedName(role.Name) || role.Internal
}

// AssertMutable is the single guard consulted by every role-mutating entry
// point before any side effect.
func AssertMutable(role *Role) error {
	if IsProtected(role) {
		return ErrProtectedRole
	}
	return nil
}
