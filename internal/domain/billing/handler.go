package billing

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// defaultReportDays is the window used when a report omits from.
const defaultReportDays = 30

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.Require(auth.AnyAuthenticated))
	g.GET("/income/daily", h.DailyIncome)
	g.GET("/income/totals", h.RangeTotals)
	g.GET("/charges", h.ListCharges)
	g.PUT("/charges/:type", h.SetCharge, auth.Require(auth.DoctorOnly))
}

// parseRange reads from and to as inclusive calendar days in the clinic
// location. to defaults to today and from to 30 days before it. Callers who
// are not doctors always get the narrowed window, so their query is not
// validated.
func (h *Handler) parseRange(c echo.Context) (DateRange, error) {
	loc := h.svc.Location()
	to := StartOfDay(h.svc.now(), loc)
	if p, _ := auth.PrincipalFromContext(c.Request().Context()); !p.IsDoctor() {
		return DateRange{From: to.AddDate(0, 0, -defaultReportDays), To: to.AddDate(0, 0, 1)}, nil
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, err := time.ParseInLocation(DayLayout, raw, loc)
		if err != nil {
			return DateRange{}, apperr.Validation("to must be a date in %s format", DayLayout)
		}
		to = t
	}
	from := to.AddDate(0, 0, -defaultReportDays)
	if raw := c.QueryParam("from"); raw != "" {
		t, err := time.ParseInLocation(DayLayout, raw, loc)
		if err != nil {
			return DateRange{}, apperr.Validation("from must be a date in %s format", DayLayout)
		}
		from = t
	}
	if to.Before(from) {
		return DateRange{}, apperr.Validation("from must not be after to")
	}
	return DateRange{From: from, To: to.AddDate(0, 0, 1)}, nil
}

func (h *Handler) DailyIncome(c echo.Context) error {
	rng, err := h.parseRange(c)
	if err != nil {
		return err
	}
	report, err := h.svc.ComputeDailyIncome(c.Request().Context(), rng)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) RangeTotals(c echo.Context) error {
	rng, err := h.parseRange(c)
	if err != nil {
		return err
	}
	report, err := h.svc.ComputeRangeTotals(c.Request().Context(), rng)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListCharges(c echo.Context) error {
	charges, err := h.svc.ListCharges(c.Request().Context())
	if err != nil {
		return err
	}
	if charges == nil {
		charges = []*Charge{}
	}
	return c.JSON(http.StatusOK, charges)
}

type setChargeRequest struct {
	Value decimal.Decimal `json:"value"`
}

func (h *Handler) SetCharge(c echo.Context) error {
	t, ok := ParseChargeType(c.Param("type"))
	if !ok {
		return apperr.Validation("charge type must be DOCTOR or DISPENSARY")
	}
	var req setChargeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	charge, err := h.svc.SetCharge(c.Request().Context(), t, req.Value)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, charge)
}
