package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueInProgress QueueStatus = "IN_PROGRESS"
	QueueCompleted  QueueStatus = "COMPLETED"
)

type EntryStatus string

const (
	EntryPending    EntryStatus = "PENDING"
	EntryPrescribed EntryStatus = "PRESCRIBED"
	EntryCompleted  EntryStatus = "COMPLETED"
)

// Queue maps to the queue table. NextToken is the token the next arrival
// will receive.
type Queue struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Status      QueueStatus `db:"status" json:"status"`
	NextToken   int         `db:"next_token" json:"next_token"`
	StartedAt   time.Time   `db:"started_at" json:"started_at"`
	CompletedAt *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

func (q *Queue) Open() bool { return q.Status != QueueCompleted }

// Entry maps to the queue_entry table.
type Entry struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	QueueID   uuid.UUID   `db:"queue_id" json:"queue_id"`
	PatientID uuid.UUID   `db:"patient_id" json:"patient_id"`
	Token     int         `db:"token" json:"token"`
	Status    EntryStatus `db:"status" json:"status"`
	ArrivedAt time.Time   `db:"arrived_at" json:"arrived_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
	Version   int         `db:"version" json:"version"`
}

// StatusCounts backs the dashboard cards.
type StatusCounts struct {
	QueueID    uuid.UUID `json:"queue_id"`
	Pending    int       `json:"pending"`
	Prescribed int       `json:"prescribed"`
	Completed  int       `json:"completed"`
	Total      int       `json:"total"`
}

func countsFrom(queueID uuid.UUID, byStatus map[EntryStatus]int) StatusCounts {
	c := StatusCounts{
		QueueID:    queueID,
		Pending:    byStatus[EntryPending],
		Prescribed: byStatus[EntryPrescribed],
		Completed:  byStatus[EntryCompleted],
	}
	c.Total = c.Pending + c.Prescribed + c.Completed
	return c
}

// entryTransitions is the entry state machine: each state has exactly one
// successor, so back, skip and self transitions are all rejected.
var entryTransitions = map[EntryStatus]EntryStatus{
	EntryPending:    EntryPrescribed,
	EntryPrescribed: EntryCompleted,
}

var queueTransitions = map[QueueStatus][]QueueStatus{
	QueuePending:    {QueueInProgress, QueueCompleted},
	QueueInProgress: {QueueCompleted},
}

func ParseEntryStatus(s string) (EntryStatus, bool) {
	switch st := EntryStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case EntryPending, EntryPrescribed, EntryCompleted:
		return st, true
	}
	return "", false
}

// NextEntryStatus applies the entry state machine.
func NextEntryStatus(from, to EntryStatus) (EntryStatus, error) {
	if next, ok := entryTransitions[from]; ok && next == to {
		return next, nil
	}
	return "", apperr.Conflict(apperr.CodeInvalidTransition,
		"queue entry cannot move from %s to %s", from, to)
}

func canAdvanceQueue(from, to QueueStatus) bool {
	for _, s := range queueTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
