package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	svc, repo := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	return h, repo, e
}

func newRequest(method, target, body string, role auth.Role) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if role != "" {
		req = req.WithContext(asRole(role))
	}
	return req
}

func TestHandler_DailyIncome(t *testing.T) {
	h, repo, e := newTestHandler()
	seedIncome(repo)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/?from=2024-06-01&to=2024-06-10", "", auth.RoleDoctor), rec)
	if err := h.DailyIncome(c); err != nil {
		t.Fatalf("DailyIncome: %v", err)
	}

	var report Report[[]DailyIncome]
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// to is inclusive, so the 10th is counted.
	if len(report.Result) != 2 || report.Result[0].Date != "2024-06-10" {
		t.Errorf("days = %+v", report.Result)
	}
}

func TestHandler_DailyIncome_BadDate(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/?from=06/01/2024", "", auth.RoleDoctor), rec)

	err := h.DailyIncome(c)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	e.HTTPErrorHandler(err, c)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_DailyIncome_Reversed(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/?from=2024-06-10&to=2024-06-01", "", auth.RoleDoctor), rec)
	if err := h.DailyIncome(c); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_NonDoctorRangeIsNotValidated(t *testing.T) {
	h, _, e := newTestHandler()
	for _, q := range []string{"/?from=06/01/2024", "/?from=2024-06-10&to=2024-06-01"} {
		rec := httptest.NewRecorder()
		c := e.NewContext(newRequest(http.MethodGet, q, "", auth.RoleNurse), rec)
		if err := h.DailyIncome(c); err != nil {
			t.Fatalf("%s: expected the narrowed window, got %v", q, err)
		}
		var report Report[[]DailyIncome]
		if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec.Code != http.StatusOK || !report.Restricted {
			t.Errorf("%s: code %d restricted %v", q, rec.Code, report.Restricted)
		}
	}
}

func TestHandler_RangeTotals(t *testing.T) {
	h, repo, e := newTestHandler()
	seedIncome(repo)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/?from=2024-01-01&to=2024-06-30", "", auth.RoleDoctor), rec)
	if err := h.RangeTotals(c); err != nil {
		t.Fatalf("RangeTotals: %v", err)
	}
	var report Report[RangeTotals]
	json.Unmarshal(rec.Body.Bytes(), &report)
	if report.Result.PatientCount != 4 || !report.Result.TotalIncome.Equal(dec("150")) {
		t.Errorf("totals = %+v", report.Result)
	}
}

func TestHandler_SetCharge(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPut, "/", `{"value":"750.00"}`, auth.RoleDoctor), rec)
	c.SetParamNames("type")
	c.SetParamValues("dispensary")

	if err := h.SetCharge(c); err != nil {
		t.Fatalf("SetCharge: %v", err)
	}
	var charge Charge
	json.Unmarshal(rec.Body.Bytes(), &charge)
	if charge.Type != ChargeDispensary || !charge.Value.Equal(dec("750")) {
		t.Errorf("charge = %+v", charge)
	}
}

func TestHandler_SetCharge_NurseForbidden(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	req := newRequest(http.MethodPut, "/api/v1/charges/DOCTOR", `{"value":"1"}`, auth.RoleNurse)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_ListCharges_EmptyIsArray(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", auth.RoleNurse), rec)
	if err := h.ListCharges(c); err != nil {
		t.Fatalf("ListCharges: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %s", rec.Body.String())
	}
}
