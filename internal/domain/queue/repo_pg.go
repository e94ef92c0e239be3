package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const queueCols = `id, status, next_token, started_at, completed_at`

const entryCols = `id, queue_id, patient_id, token, status, arrived_at, updated_at, version`

func (r *repoPG) CreateQueue(ctx context.Context, q *Queue) error {
	q.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue (id, status, next_token, started_at)
		VALUES ($1, $2, 1, $3)
		RETURNING next_token`,
		q.ID, q.Status, q.StartedAt,
	).Scan(&q.NextToken)
}

func (r *repoPG) GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	return scanQueue(r.conn(ctx).QueryRow(ctx, `SELECT `+queueCols+` FROM queue WHERE id = $1`, id))
}

func (r *repoPG) GetActiveQueue(ctx context.Context) (*Queue, error) {
	return scanQueue(r.conn(ctx).QueryRow(ctx, `
		SELECT `+queueCols+` FROM queue
		WHERE status <> 'COMPLETED'
		ORDER BY started_at DESC
		LIMIT 1`))
}

func (r *repoPG) UpdateQueueStatus(ctx context.Context, id uuid.UUID, from, to QueueStatus, at time.Time) error {
	var completedAt *time.Time
	if to == QueueCompleted {
		completedAt = &at
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue SET status = $3, completed_at = COALESCE($4, completed_at)
		WHERE id = $1 AND status = $2`,
		id, from, to, completedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

// NextToken increments the counter in place. The row lock taken by the
// UPDATE serialises concurrent arrivals and a concurrent completion.
func (r *repoPG) NextToken(ctx context.Context, queueID uuid.UUID) (int, error) {
	var token int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue SET next_token = next_token + 1
		WHERE id = $1 AND status <> 'COMPLETED'
		RETURNING next_token - 1`,
		queueID,
	).Scan(&token)
	if db.IsNotFound(err) {
		return 0, ErrQueueNotOpen
	}
	return token, err
}

func (r *repoPG) CreateEntry(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entry (id, queue_id, patient_id, token, status, arrived_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
		RETURNING updated_at, version`,
		e.ID, e.QueueID, e.PatientID, e.Token, e.Status, e.ArrivedAt,
	).Scan(&e.UpdatedAt, &e.Version)
}

func (r *repoPG) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entry WHERE id = $1`, id))
}

func (r *repoPG) UpdateEntryStatus(ctx context.Context, id uuid.UUID, from EntryStatus, version int, to EntryStatus) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_entry
		SET status = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND version = $3
		RETURNING `+entryCols,
		id, from, version, to,
	))
	if db.IsNotFound(err) {
		return nil, ErrStale
	}
	return e, err
}

func (r *repoPG) ListEntries(ctx context.Context, queueID uuid.UUID) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE queue_id = $1
		ORDER BY token`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repoPG) CountByStatus(ctx context.Context, queueID uuid.UUID) (map[EntryStatus]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*) FROM queue_entry
		WHERE queue_id = $1
		GROUP BY status`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[EntryStatus]int)
	for rows.Next() {
		var st EntryStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func scanQueue(row pgx.Row) (*Queue, error) {
	var q Queue
	if err := row.Scan(&q.ID, &q.Status, &q.NextToken, &q.StartedAt, &q.CompletedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.QueueID, &e.PatientID, &e.Token, &e.Status, &e.ArrivedAt, &e.UpdatedAt, &e.Version)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
