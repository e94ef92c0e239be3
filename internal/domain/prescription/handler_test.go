package prescription

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	h := NewHandler(f.svc)
	h.RegisterRoutes(e.Group("/api/v1"))
	return h, f, e
}

func serve(e *echo.Echo, method, target, body string, role auth.Role) *httptest.ResponseRecorder {
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
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func prescribeBody(f *fixture, qty int) string {
	return fmt.Sprintf(`{"patient_id":%q,"queue_entry_id":%q,"drugs":[{"drug_model_id":%q,"brand_id":%q,"quantity":%d,"frequency":"tds"}],"off_record":[]}`,
		f.patientID, f.entryID, f.modelID, f.brandID, qty)
}

func TestHandler_Prescribe(t *testing.T) {
	_, f, e := newTestHandler()

	rec := serve(e, http.MethodPost, "/api/v1/prescriptions", prescribeBody(f, 6), auth.RoleDoctor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p.Items) != 2 || p.FinalPrice.StringFixed(2) != "563.00" {
		t.Errorf("prescription = %+v", p)
	}
	if p.Items[0].Frequency == nil || *p.Items[0].Frequency != "tds" {
		t.Error("frequency not carried onto the item")
	}
}

func TestHandler_Prescribe_InsufficientStock(t *testing.T) {
	_, f, e := newTestHandler()

	rec := serve(e, http.MethodPost, "/api/v1/prescriptions", prescribeBody(f, 16), auth.RoleDoctor)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body apperr.Response
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != apperr.CodeInsufficientStock {
		t.Errorf("code = %q", body.Code)
	}
}

func TestHandler_Prescribe_BadBody(t *testing.T) {
	_, _, e := newTestHandler()
	rec := serve(e, http.MethodPost, "/api/v1/prescriptions", `{"patient_id":`, auth.RoleDoctor)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_RoleGates(t *testing.T) {
	_, f, e := newTestHandler()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		role   auth.Role
		want   int
	}{
		{"prescribe as nurse", http.MethodPost, "/api/v1/prescriptions", prescribeBody(f, 1), auth.RoleNurse, http.StatusForbidden},
		{"history as nurse", http.MethodGet, "/api/v1/patients/" + f.patientID.String() + "/prescriptions", "", auth.RoleNurse, http.StatusForbidden},
		{"no session", http.MethodGet, "/api/v1/prescriptions/" + f.entryID.String(), "", "", http.StatusUnauthorized},
		{"get as nurse", http.MethodGet, "/api/v1/prescriptions/" + f.entryID.String(), "", auth.RoleNurse, http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/v1/prescriptions/abc", "", auth.RoleNurse, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.method, tt.target, tt.body, tt.role)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHandler_ListByPatient(t *testing.T) {
	_, f, e := newTestHandler()
	serve(e, http.MethodPost, "/api/v1/prescriptions", prescribeBody(f, 1), auth.RoleDoctor)

	rec := serve(e, http.MethodGet, "/api/v1/patients/"+f.patientID.String()+"/prescriptions?limit=5", "", auth.RoleDoctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Items []Prescription `json:"items"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 {
		t.Errorf("page = %+v", page)
	}
}

func TestHandler_DeleteOffRecordItem(t *testing.T) {
	_, f, e := newTestHandler()
	body := fmt.Sprintf(`{"patient_id":%q,"off_record":[{"name":"Vitamin C"}]}`, f.patientID)
	rec := serve(e, http.MethodPost, "/api/v1/prescriptions", body, auth.RoleDoctor)
	var p Prescription
	json.Unmarshal(rec.Body.Bytes(), &p)

	target := "/api/v1/prescriptions/" + p.ID.String() + "/off-record/" + p.OffRecord[0].ID.String()
	if rec := serve(e, http.MethodDelete, target, "", auth.RoleDoctor); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodDelete, target, "", auth.RoleDoctor); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}
