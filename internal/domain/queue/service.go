package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/telemetry"
	"github.com/clinicdesk/clinic/internal/platform/websocket"
)

const (
	EventQueueOpened    = "queue.opened"
	EventQueueCompleted = "queue.completed"
	EventEntryAdded     = "queue.entry.added"
	EventEntryStatus    = "queue.entry.status"
)

type Service struct {
	repo    Repository
	tx      db.Transactor
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  websocket.Publisher
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		logger: logger.With().Str("component", "queue").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics attaches an optional metrics recorder.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// SetPublisher attaches the live board. Events are sent after commit.
func (s *Service) SetPublisher(p websocket.Publisher) {
	s.events = p
}

// publish is skipped when ctx already carries a transaction: the caller
// owns the commit and announces the change itself.
func (s *Service) publish(ctx context.Context, ownTx bool, eventType string, data any) {
	if s.events == nil || !ownTx {
		return
	}
	s.events.Publish(ctx, websocket.TopicQueue, eventType, data)
}

func (s *Service) fail(op string, err error) error {
	return db.StoreError(s.logger, op, "queue", err)
}

// CreateQueue opens a new queue in IN_PROGRESS. Only one queue may be open;
// the partial unique index on queue catches a racing second insert.
func (s *Service) CreateQueue(ctx context.Context) (*Queue, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}

	ownTx := db.TxFromContext(ctx) == nil
	var q *Queue
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		active, err := s.repo.GetActiveQueue(ctx)
		switch {
		case err == nil:
			return apperr.Conflict(apperr.CodeQueueAlreadyOpen, "queue %s is still open", active.ID)
		case !db.IsNotFound(err):
			return s.fail("get active queue", err)
		}

		q = &Queue{Status: QueueInProgress, StartedAt: s.now()}
		if err := s.repo.CreateQueue(ctx, q); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.Conflict(apperr.CodeQueueAlreadyOpen, "another queue is already open")
			}
			return s.fail("create queue", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("queue_id", q.ID.String()).Msg("queue opened")
	s.publish(ctx, ownTx, EventQueueOpened, q)
	return q, nil
}

func (s *Service) GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	q, err := s.repo.GetQueue(ctx, id)
	if err != nil {
		return nil, s.fail("get queue", err)
	}
	return q, nil
}

// GetActiveQueue returns the open queue or a NotFound error when there is none.
func (s *Service) GetActiveQueue(ctx context.Context) (*Queue, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	q, err := s.repo.GetActiveQueue(ctx)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("no open queue")
		}
		return nil, s.fail("get active queue", err)
	}
	return q, nil
}

// AddPatientToQueue appends a PENDING entry with the queue's next token.
func (s *Service) AddPatientToQueue(ctx context.Context, queueID, patientID uuid.UUID) (*Entry, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}

	ownTx := db.TxFromContext(ctx) == nil
	ctx, span := telemetry.StartSpan(ctx, "queue.AddPatient", attribute.String("queue.id", queueID.String()))
	var entry *Entry
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q, err := s.repo.GetQueue(ctx, queueID)
		if err != nil {
			return s.fail("get queue", err)
		}
		if !q.Open() {
			return apperr.Conflict(apperr.CodeQueueClosed, "queue %s is completed", queueID)
		}

		token, err := s.repo.NextToken(ctx, queueID)
		if errors.Is(err, ErrQueueNotOpen) {
			return apperr.Conflict(apperr.CodeQueueClosed, "queue %s is completed", queueID)
		}
		if err != nil {
			return s.fail("reserve token", err)
		}

		now := s.now()
		entry = &Entry{
			QueueID:   queueID,
			PatientID: patientID,
			Token:     token,
			Status:    EntryPending,
			ArrivedAt: now,
		}
		if err := s.repo.CreateEntry(ctx, entry); err != nil {
			return db.StoreError(s.logger, "create queue entry", "queue entry", err)
		}
		return nil
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	s.metrics.TokenIssued()
	s.logger.Info().
		Str("queue_id", queueID.String()).
		Str("entry_id", entry.ID.String()).
		Int("token", entry.Token).
		Msg("patient queued")
	s.publish(ctx, ownTx, EventEntryAdded, entry)
	return entry, nil
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	e, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, db.StoreError(s.logger, "get queue entry", "queue entry", err)
	}
	return e, nil
}

// AdvanceEntryStatus moves an entry one step along PENDING → PRESCRIBED →
// COMPLETED. Joins the caller's transaction when there is one.
func (s *Service) AdvanceEntryStatus(ctx context.Context, entryID uuid.UUID, to EntryStatus) (*Entry, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}

	ownTx := db.TxFromContext(ctx) == nil
	var updated *Entry
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetEntry(ctx, entryID)
		if err != nil {
			return db.StoreError(s.logger, "get queue entry", "queue entry", err)
		}
		if _, err := NextEntryStatus(e.Status, to); err != nil {
			return err
		}

		updated, err = s.repo.UpdateEntryStatus(ctx, e.ID, e.Status, e.Version, to)
		if errors.Is(err, ErrStale) {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "queue entry %s was modified concurrently", entryID)
		}
		if err != nil {
			return db.StoreError(s.logger, "update queue entry", "queue entry", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.EntryTransition(string(to))
	s.publish(ctx, ownTx, EventEntryStatus, updated)
	return updated, nil
}

// CompleteQueue closes an open queue. Entries keep their status.
func (s *Service) CompleteQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}

	ownTx := db.TxFromContext(ctx) == nil
	var q *Queue
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetQueue(ctx, id)
		if err != nil {
			return s.fail("get queue", err)
		}
		if !canAdvanceQueue(cur.Status, QueueCompleted) {
			return apperr.Conflict(apperr.CodeInvalidTransition, "queue cannot move from %s to %s", cur.Status, QueueCompleted)
		}
		now := s.now()
		if err := s.repo.UpdateQueueStatus(ctx, id, cur.Status, QueueCompleted, now); err != nil {
			if errors.Is(err, ErrStale) {
				return apperr.Conflict(apperr.CodeConcurrentUpdate, "queue %s was modified concurrently", id)
			}
			return s.fail("complete queue", err)
		}
		cur.Status = QueueCompleted
		cur.CompletedAt = &now
		q = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("queue_id", id.String()).Msg("queue completed")
	s.publish(ctx, ownTx, EventQueueCompleted, q)
	return q, nil
}

func (s *Service) ListEntries(ctx context.Context, queueID uuid.UUID) ([]*Entry, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetQueue(ctx, queueID); err != nil {
		return nil, s.fail("get queue", err)
	}
	entries, err := s.repo.ListEntries(ctx, queueID)
	if err != nil {
		return nil, s.fail("list queue entries", err)
	}
	return entries, nil
}

// GetQueueStatusCounts is a pure read used by the dashboard.
func (s *Service) GetQueueStatusCounts(ctx context.Context, queueID uuid.UUID) (StatusCounts, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return StatusCounts{}, err
	}
	if _, err := s.repo.GetQueue(ctx, queueID); err != nil {
		return StatusCounts{}, s.fail("get queue", err)
	}
	byStatus, err := s.repo.CountByStatus(ctx, queueID)
	if err != nil {
		return StatusCounts{}, s.fail("count queue entries", err)
	}
	return countsFrom(queueID, byStatus), nil
}
