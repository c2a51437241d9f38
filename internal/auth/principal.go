// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"github.com/oklog/ulid/v2"
)

// Principal is the authenticated caller of an operation. It is always passed
// explicitly; the zero value is anonymous.
type Principal struct {
	AccountID ulid.ULID
	Email     string
	Role      Role
}

// Anonymous is the principal of an unauthenticated caller.
var Anonymous = Principal{}

// IsAnonymous reports whether no account is attached.
func (p Principal) IsAnonymous() bool {
	return p.AccountID == (ulid.ULID{})
}

// IsAdmin reports whether the principal carries the admin role.
func (p Principal) IsAdmin() bool {
	return !p.IsAnonymous() && p.Role == RoleAdmin
}

// CanManage reports whether the principal may act on the given account:
// admins on any account, users on their own.
func (p Principal) CanManage(id ulid.ULID) bool {
	if p.IsAnonymous() {
		return false
	}
	return p.IsAdmin() || p.AccountID == id
}
