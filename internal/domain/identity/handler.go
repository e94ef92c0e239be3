package identity

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

type Handler struct {
	svc      *Service
	sessions *auth.SessionManager
}

func NewHandler(svc *Service, sessions *auth.SessionManager) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

// RegisterAuthRoutes mounts the session endpoints, which live outside the
// versioned API.
func (h *Handler) RegisterAuthRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.POST("/changePassword", h.ChangePassword, auth.Require(auth.AnyAuthenticated))
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.Require(auth.AnyAuthenticated))
	g.GET("/me", h.Me)
	g.GET("/patients", h.SearchPatients)
	g.POST("/patients", h.CreatePatient)
	g.GET("/patients/:id", h.GetPatient)
	g.PUT("/patients/:id", h.UpdatePatient)

	doctor := auth.Require(auth.DoctorOnly)
	g.GET("/patients/:id/history", h.ListHistory, doctor)
	g.POST("/patients/:id/history", h.AddHistory, doctor)
	g.DELETE("/patients/:id/history/:noteId", h.DeleteHistory, doctor)

	admin := auth.Require(auth.AdminOnly)
	g.GET("/staff", h.ListStaff, admin)
	g.POST("/staff", h.CreateStaff, admin)
	g.POST("/staff/:id/deactivate", h.DeactivateStaff, admin)
	g.POST("/staff/:id/activate", h.ActivateStaff, admin)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

// -- Auth --

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID        uuid.UUID `json:"id"`
	Role      auth.Role `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	sess, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	c.SetCookie(h.sessions.Cookie(sess.Token, sess.ExpiresAt))
	return c.JSON(http.StatusOK, loginResponse{
		ID:        sess.Principal.ID,
		Role:      sess.Principal.Role,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.UTC(),
	})
}

func (h *Handler) Logout(c echo.Context) error {
	h.sessions.RevokeRequest(c.Request())
	c.SetCookie(h.sessions.ClearCookie())
	return c.NoContent(http.StatusNoContent)
}

type changePasswordRequest struct {
	UserID          string `json:"userId"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return apperr.Validation("userId must be a valid id")
	}
	if err := h.svc.ChangePassword(c.Request().Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Me(c echo.Context) error {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	return c.JSON(http.StatusOK, p)
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return apperr.Validation("invalid request body")
	}
	p.ID = id
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := PatientFilter{
		Name:  c.QueryParam("name"),
		Phone: c.QueryParam("phone"),
		NIC:   c.QueryParam("nic"),
	}
	patients, total, err := h.svc.SearchPatients(c.Request().Context(), f, pg)
	if err != nil {
		return err
	}
	pagination.SetLinkHeader(c, pg, total)
	return c.JSON(http.StatusOK, pagination.NewPage(patients, total, pg))
}

// -- History --

func (h *Handler) AddHistory(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var n HistoryNote
	if err := c.Bind(&n); err != nil {
		return apperr.Validation("invalid request body")
	}
	n.PatientID = patientID
	if err := h.svc.AddHistoryNote(c.Request().Context(), &n); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListHistory(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	notes, err := h.svc.ListHistory(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	if notes == nil {
		notes = []*HistoryNote{}
	}
	return c.JSON(http.StatusOK, notes)
}

func (h *Handler) DeleteHistory(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	noteID, err := parseID(c, "noteId")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteHistoryNote(c.Request().Context(), patientID, noteID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Staff --

func (h *Handler) CreateStaff(c echo.Context) error {
	var in NewStaffUser
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	u, err := h.svc.CreateStaffUser(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) ListStaff(c echo.Context) error {
	pg := pagination.FromContext(c)
	users, total, err := h.svc.ListStaff(c.Request().Context(), pg)
	if err != nil {
		return err
	}
	pagination.SetLinkHeader(c, pg, total)
	return c.JSON(http.StatusOK, pagination.NewPage(users, total, pg))
}

func (h *Handler) DeactivateStaff(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *Handler) ActivateStaff(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *Handler) setActive(c echo.Context, active bool) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.SetStaffActive(c.Request().Context(), id, active); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
