package auth

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

// Capability is an operation category checked once per operation.
type Capability int

const (
	AnyAuthenticated Capability = iota
	DoctorOnly
	AdminOnly
)

func (c Capability) String() string {
	switch c {
	case DoctorOnly:
		return "doctor"
	case AdminOnly:
		return "admin"
	default:
		return "authenticated"
	}
}

var policy = map[Role]map[Capability]bool{
	RoleAdmin:  {AnyAuthenticated: true, AdminOnly: true},
	RoleDoctor: {AnyAuthenticated: true, DoctorOnly: true},
	RoleNurse:  {AnyAuthenticated: true},
}

// Can reports whether the role holds the capability.
func (r Role) Can(c Capability) bool {
	return policy[r][c]
}

// Authorize returns the principal in ctx when it holds c.
func Authorize(ctx context.Context, c Capability) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, apperr.Unauthenticated("authentication required")
	}
	if !p.Role.Can(c) {
		return Principal{}, apperr.Forbidden("%s role required", c)
	}
	return p, nil
}

// Require rejects requests whose principal lacks c.
func Require(c Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if _, err := Authorize(ctx.Request().Context(), c); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}
