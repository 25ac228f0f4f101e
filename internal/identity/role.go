package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the closed set of roles a session may carry.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleCustomer
)

// ErrUnknownRole is returned by ParseRole for unrecognised role names.
var ErrUnknownRole = errors.New("unknown role")

// Permission names an operation guarded at the HTTP boundary.
type Permission int

const (
	PermTransfer Permission = iota + 1
	PermViewOwnAccount
	PermManageAccounts
	PermManageUsers
)

// ParseRole maps the wire representation of a role to a Role. "CLIENTE" is
// accepted as an alias of CUSTOMER for tokens minted by the legacy backend.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADMIN":
		return RoleAdmin, nil
	case "CUSTOMER", "CLIENTE":
		return RoleCustomer, nil
	default:
		return RoleUnknown, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "ADMIN"
	case RoleCustomer:
		return "CUSTOMER"
	default:
		return "UNKNOWN"
	}
}

// Can reports whether the role grants the permission.
func (r Role) Can(p Permission) bool {
	switch r {
	case RoleAdmin:
		switch p {
		case PermViewOwnAccount, PermManageAccounts, PermManageUsers:
			return true
		case PermTransfer:
			return false
		}
	case RoleCustomer:
		switch p {
		case PermTransfer, PermViewOwnAccount:
			return true
		case PermManageAccounts, PermManageUsers:
			return false
		}
	case RoleUnknown:
		return false
	}
	return false
}
