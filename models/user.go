package models

import (
	"slices"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, Email: u.Email, Roles: append([]Role(nil), u.Roles...)}
}

// Principal is the authenticated caller of a service operation. It is passed
// explicitly into every service call.
type Principal struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Roles  []Role `json:"roles"`
}

// SystemPrincipal is used for work the service performs on its own behalf,
// such as expiring unpaid orders.
var SystemPrincipal = Principal{Email: "system", Roles: []Role{RoleAdmin}}

func (p Principal) HasRole(r Role) bool {
	return slices.Contains(p.Roles, r)
}

// IsElevated reports whether the caller bypasses ownership checks.
func (p Principal) IsElevated() bool {
	return p.HasRole(RoleAdmin) || p.HasRole(RoleOperator)
}

func (p Principal) Actor() string {
	if p.Email == "" {
		return "anonymous"
	}
	return p.Email
}
