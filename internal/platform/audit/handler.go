package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

// Handler serves the trail to administrators.
type Handler struct {
	store  Store
	logger zerolog.Logger
}

func NewHandler(store Store, logger zerolog.Logger) *Handler {
	return &Handler{store: store, logger: logger.With().Str("component", "audit").Logger()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/audit-events", h.Search, auth.Require(auth.AdminOnly))
}

// Search handles GET /audit-events?actor=&entity=&action=&from=&to= where
// from and to are RFC 3339 instants.
func (h *Handler) Search(c echo.Context) error {
	f, err := ParseFilter(c.QueryParam)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	events, total, err := h.store.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return db.StoreError(h.logger, "search audit events", "audit event", err)
	}
	pagination.SetLinkHeader(c, pg, total)
	return c.JSON(http.StatusOK, pagination.NewPage(events, total, pg))
}

// ParseFilter reads a Filter from query values returned by get.
func ParseFilter(get func(string) string) (Filter, error) {
	var f Filter
	if raw := get("actor"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, apperr.Validation("actor must be a UUID")
		}
		f.ActorID = &id
	}
	if raw := get("entity"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, apperr.Validation("entity must be a UUID")
		}
		f.EntityID = &id
	}
	if raw := get("action"); raw != "" {
		a, ok := ParseAction(raw)
		if !ok {
			return f, apperr.Validation("action must be one of READ, CREATE, UPDATE, DELETE")
		}
		f.Action = a
	}
	for _, b := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := get(b.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, apperr.Validation("%s must be an RFC 3339 timestamp", b.name)
		}
		*b.dst = &t
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return f, apperr.Validation("to must be after from")
	}
	return f, nil
}
