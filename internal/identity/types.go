package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is one of a small closed set of tags consumed by the authorization
// engine. There is no inheritance between roles; the engine branches on the
// tag explicitly.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleUser    Role = "user"
)

// ParseRole normalizes and validates a role tag.
func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleAnalyst:
		return RoleAnalyst, nil
	case RoleUser:
		return RoleUser, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Principal is an authenticated identity capable of holding permissions.
// Principals are never deleted, only disabled, so audit records keep a valid
// actor reference for the system's lifetime.
type Principal struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	Status       string    `json:"status"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Active reports whether the principal may act at all.
func (p Principal) Active() bool {
	return p.Status == StatusActive
}
