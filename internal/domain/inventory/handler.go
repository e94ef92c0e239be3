package inventory

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.Require(auth.AnyAuthenticated))
	g.GET("/drug-models", h.ListDrugModels)
	g.POST("/drug-models", h.CreateDrugModel)
	g.GET("/drug-models/:id", h.GetDrugModel)
	g.GET("/drug-models/:id/stock", h.GetStock)
	g.GET("/drug-models/:id/batches", h.ListBatches)
	g.GET("/brands", h.ListBrands)
	g.POST("/brands", h.CreateBrand)
	g.POST("/batches", h.RecordIntake)
	g.POST("/batches/:id/retire", h.RetireBatch)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) CreateDrugModel(c echo.Context) error {
	var m DrugModel
	if err := c.Bind(&m); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.CreateDrugModel(c.Request().Context(), &m); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetDrugModel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetDrugModel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListDrugModels(c echo.Context) error {
	pg := pagination.FromContext(c)
	var filter StockStatus
	if raw := c.QueryParam("status"); raw != "" {
		st, ok := ParseStockStatus(raw)
		if !ok {
			return apperr.Validation("status must be one of OUT_OF_STOCK, LOW_STOCK, IN_STOCK")
		}
		filter = st
	}
	items, total, err := h.svc.ListDrugModels(c.Request().Context(), filter, pg)
	if err != nil {
		return err
	}
	pagination.SetLinkHeader(c, pg, total)
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) GetStock(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetBufferLevelStatus(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListBatches(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	batches, err := h.svc.ListBatches(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if batches == nil {
		batches = []*Batch{}
	}
	return c.JSON(http.StatusOK, batches)
}

func (h *Handler) CreateBrand(c echo.Context) error {
	var b Brand
	if err := c.Bind(&b); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.CreateBrand(c.Request().Context(), &b); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBrands(c echo.Context) error {
	brands, err := h.svc.ListBrands(c.Request().Context())
	if err != nil {
		return err
	}
	if brands == nil {
		brands = []*Brand{}
	}
	return c.JSON(http.StatusOK, brands)
}

func (h *Handler) RecordIntake(c echo.Context) error {
	var req IntakeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	b, err := h.svc.RecordStockIntake(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

type retireRequest struct {
	Status string `json:"status"`
}

func (h *Handler) RetireBatch(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req retireRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	to, ok := ParseBatchStatus(req.Status)
	if !ok {
		return apperr.Validation("unknown batch status %q", req.Status)
	}
	b, err := h.svc.RetireBatch(c.Request().Context(), id, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}
