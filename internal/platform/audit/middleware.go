package audit

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// Routes builds a matcher for route patterns whose reads are audited, such
// as "/api/v1/patients/:id/history".
func Routes(patterns ...string) func(echo.Context) bool {
	set := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		set[p] = true
	}
	return func(c echo.Context) bool { return set[c.Path()] }
}

// Trail records every request made with a session that either changes
// state or reads a route matched by sensitive. Anonymous requests are not
// recorded. A failed write to the store is logged and never fails the
// request.
func Trail(store Store, sensitive func(echo.Context) bool, logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("component", "audit").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			req := c.Request()
			p, ok := auth.PrincipalFromContext(req.Context())
			if !ok {
				return err
			}
			action := ActionFor(req.Method)
			if action == ActionRead && (req.Method != http.MethodGet || sensitive == nil || !sensitive(c)) {
				return err
			}

			status := c.Response().Status
			if err != nil {
				status = apperr.StatusOf(err)
			}
			rid, _ := c.Get("request_id").(string)
			ev := &Event{
				ActorID:   p.ID,
				ActorRole: string(p.Role),
				Action:    action,
				Method:    req.Method,
				Route:     c.Path(),
				EntityID:  entityID(c),
				Status:    status,
				IPAddress: c.RealIP(),
				RequestID: rid,
			}
			if recErr := store.Record(context.WithoutCancel(req.Context()), ev); recErr != nil {
				logger.Error().Err(recErr).
					Str("route", ev.Route).
					Str("actor_id", p.ID.String()).
					Msg("record audit event")
			}
			return err
		}
	}
}

// entityID is the record the route addresses, taken from its :id segment.
func entityID(c echo.Context) *uuid.UUID {
	raw := c.Param("id")
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
