package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStale is returned by the compare-and-swap updates when the row no
// longer matches the expected state.
var ErrStale = errors.New("row changed concurrently")

// ErrQueueNotOpen is returned by NextToken when the queue is missing or
// already completed.
var ErrQueueNotOpen = errors.New("queue is not open")

type Repository interface {
	CreateQueue(ctx context.Context, q *Queue) error
	GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error)
	// GetActiveQueue returns the most recently started non-completed queue.
	GetActiveQueue(ctx context.Context) (*Queue, error)
	UpdateQueueStatus(ctx context.Context, id uuid.UUID, from, to QueueStatus, at time.Time) error

	// NextToken atomically reserves the next token of an open queue.
	NextToken(ctx context.Context, queueID uuid.UUID) (int, error)

	CreateEntry(ctx context.Context, e *Entry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	// UpdateEntryStatus is a compare-and-swap on (status, version).
	UpdateEntryStatus(ctx context.Context, id uuid.UUID, from EntryStatus, version int, to EntryStatus) (*Entry, error)
	ListEntries(ctx context.Context, queueID uuid.UUID) ([]*Entry, error)
	CountByStatus(ctx context.Context, queueID uuid.UUID) (map[EntryStatus]int, error)
}
