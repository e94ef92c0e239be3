package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Role is a staff role stored on the user record.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleDoctor Role = "DOCTOR"
	RoleNurse  Role = "NURSE"
)

// ParseRole accepts any casing.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleDoctor, RoleNurse:
		return r, true
	}
	return "", false
}

// Principal is the authenticated caller, passed explicitly through ctx to
// every service call.
type Principal struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

func (p Principal) IsDoctor() bool { return p.Role == RoleDoctor }

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
