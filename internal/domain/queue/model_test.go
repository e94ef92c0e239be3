package queue

import (
	"testing"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

func TestNextEntryStatus(t *testing.T) {
	all := []EntryStatus{EntryPending, EntryPrescribed, EntryCompleted}
	allowed := map[[2]EntryStatus]bool{
		{EntryPending, EntryPrescribed}:   true,
		{EntryPrescribed, EntryCompleted}: true,
	}

	for _, from := range all {
		for _, to := range all {
			next, err := NextEntryStatus(from, to)
			if allowed[[2]EntryStatus{from, to}] {
				if err != nil || next != to {
					t.Errorf("%s -> %s should be allowed, got %v", from, to, err)
				}
				continue
			}
			if apperr.CodeOf(err) != apperr.CodeInvalidTransition {
				t.Errorf("%s -> %s should be rejected, got %v", from, to, err)
			}
		}
	}
}

func TestCanAdvanceQueue(t *testing.T) {
	tests := []struct {
		from, to QueueStatus
		want     bool
	}{
		{QueuePending, QueueInProgress, true},
		{QueuePending, QueueCompleted, true},
		{QueueInProgress, QueueCompleted, true},
		{QueueInProgress, QueuePending, false},
		{QueueCompleted, QueueInProgress, false},
		{QueueCompleted, QueueCompleted, false},
	}
	for _, tt := range tests {
		if got := canAdvanceQueue(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseEntryStatus(t *testing.T) {
	if st, ok := ParseEntryStatus(" prescribed "); !ok || st != EntryPrescribed {
		t.Errorf("got %q %v", st, ok)
	}
	if _, ok := ParseEntryStatus("CANCELLED"); ok {
		t.Error("unknown status accepted")
	}
}

func TestCountsFrom(t *testing.T) {
	id := uuid.New()
	c := countsFrom(id, map[EntryStatus]int{EntryPending: 3, EntryCompleted: 2})
	if c.Total != 5 || c.Prescribed != 0 || c.QueueID != id {
		t.Errorf("unexpected counts %+v", c)
	}
}
