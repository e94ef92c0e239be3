package queue

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.Require(auth.AnyAuthenticated))
	g.POST("/queues", h.CreateQueue)
	g.GET("/queues/active", h.GetActiveQueue)
	g.GET("/queues/:id", h.GetQueue)
	g.POST("/queues/:id/complete", h.CompleteQueue)
	g.GET("/queues/:id/entries", h.ListEntries)
	g.POST("/queues/:id/entries", h.AddPatient)
	g.GET("/queues/:id/counts", h.GetStatusCounts)
	g.PATCH("/queue-entries/:id", h.AdvanceEntry)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) CreateQueue(c echo.Context) error {
	q, err := h.svc.CreateQueue(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) GetActiveQueue(c echo.Context) error {
	q, err := h.svc.GetActiveQueue(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) GetQueue(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	q, err := h.svc.GetQueue(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) CompleteQueue(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	q, err := h.svc.CompleteQueue(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) ListEntries(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.ListEntries(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

type addPatientRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

func (h *Handler) AddPatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req addPatientRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	entry, err := h.svc.AddPatientToQueue(c.Request().Context(), id, req.PatientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, entry)
}

func (h *Handler) GetStatusCounts(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	counts, err := h.svc.GetQueueStatusCounts(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

type advanceRequest struct {
	Status string `json:"status"`
}

func (h *Handler) AdvanceEntry(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req advanceRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	to, ok := ParseEntryStatus(req.Status)
	if !ok {
		return apperr.Validation("status must be one of PENDING, PRESCRIBED, COMPLETED")
	}
	entry, err := h.svc.AdvanceEntryStatus(c.Request().Context(), id, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}
