package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/audit"
)

func TestAuditStore(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := audit.NewStore(env.Pool)

	doctor, nurse, patient := uuid.New(), uuid.New(), uuid.New()
	events := []*audit.Event{
		{ActorID: doctor, ActorRole: "DOCTOR", Action: audit.ActionRead, Method: http.MethodGet,
			Route: "/api/v1/patients/:id/history", EntityID: &patient, Status: http.StatusOK, IPAddress: "10.0.0.5"},
		{ActorID: nurse, ActorRole: "NURSE", Action: audit.ActionCreate, Method: http.MethodPost,
			Route: "/api/v1/patients", Status: http.StatusCreated},
		{ActorID: doctor, ActorRole: "DOCTOR", Action: audit.ActionDelete, Method: http.MethodDelete,
			Route: "/api/v1/patients/:id/history/:noteId", EntityID: &patient, Status: http.StatusNoContent},
	}
	for _, e := range events {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if e.ID == uuid.Nil || e.Recorded.IsZero() {
			t.Fatalf("Record did not fill id and time: %+v", e)
		}
	}

	got, total, err := store.Search(ctx, audit.Filter{ActorID: &doctor}, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("doctor events = %d/%d", len(got), total)
	}
	for _, e := range got {
		if e.Action == audit.ActionRead && e.IPAddress != "10.0.0.5" {
			t.Errorf("read ip = %q", e.IPAddress)
		}
		if e.Action == audit.ActionDelete && e.IPAddress != "" {
			t.Errorf("delete ip = %q, want empty", e.IPAddress)
		}
	}

	got, total, err = store.Search(ctx, audit.Filter{EntityID: &patient, Action: audit.ActionRead}, 10, 0)
	if err != nil || total != 1 || got[0].Route != "/api/v1/patients/:id/history" {
		t.Fatalf("entity reads = %+v, %d, %v", got, total, err)
	}

	future := time.Now().Add(time.Hour)
	if _, total, _ := store.Search(ctx, audit.Filter{From: &future}, 10, 0); total != 0 {
		t.Errorf("events after now = %d", total)
	}
	if got, total, _ := store.Search(ctx, audit.Filter{}, 1, 1); total != 3 || len(got) != 1 {
		t.Errorf("paged search = %d items of %d", len(got), total)
	}
}
