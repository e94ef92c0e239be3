package inventory

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

const batchCols = `id, drug_model_id, brand_id, number, full_amount, remaining_amount,
	unit_price, expiry_date, status, received_at, version`

// -- Drug models --

func (r *repoPG) CreateDrugModel(ctx context.Context, m *DrugModel) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug_model (id, name, buffer_level)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		m.ID, m.Name, m.BufferLevel,
	).Scan(&m.CreatedAt)
}

func (r *repoPG) GetDrugModel(ctx context.Context, id uuid.UUID) (*DrugModel, error) {
	var m DrugModel
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, buffer_level, created_at FROM drug_model WHERE id = $1`, id,
	).Scan(&m.ID, &m.Name, &m.BufferLevel, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) ListModelStock(ctx context.Context, now time.Time) ([]ModelStock, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.id, m.name, m.buffer_level, m.created_at,
			COALESCE(SUM(b.remaining_amount) FILTER (
				WHERE b.status = 'AVAILABLE' AND b.expiry_date > $1
			), 0)
		FROM drug_model m
		LEFT JOIN drug_batch b ON b.drug_model_id = m.id
		GROUP BY m.id
		ORDER BY m.name`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelStock
	for rows.Next() {
		var m DrugModel
		var available int
		if err := rows.Scan(&m.ID, &m.Name, &m.BufferLevel, &m.CreatedAt, &available); err != nil {
			return nil, err
		}
		out = append(out, ModelStock{Model: &m, Available: available})
	}
	return out, rows.Err()
}

// -- Brands --

func (r *repoPG) CreateBrand(ctx context.Context, b *Brand) error {
	b.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO brand (id, name) VALUES ($1, $2) RETURNING created_at`,
		b.ID, b.Name,
	).Scan(&b.CreatedAt)
}

func (r *repoPG) GetBrand(ctx context.Context, id uuid.UUID) (*Brand, error) {
	var b Brand
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, created_at FROM brand WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repoPG) ListBrands(ctx context.Context) ([]*Brand, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, created_at FROM brand ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brands []*Brand
	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		brands = append(brands, &b)
	}
	return brands, rows.Err()
}

// -- Batches --

func (r *repoPG) CreateBatch(ctx context.Context, b *Batch) error {
	b.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug_batch (
			id, drug_model_id, brand_id, number, full_amount, remaining_amount,
			unit_price, expiry_date, status, received_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)
		RETURNING version`,
		b.ID, b.DrugModelID, b.BrandID, b.Number, b.FullAmount, b.RemainingAmount,
		b.UnitPrice, b.ExpiryDate, b.Status, b.ReceivedAt,
	).Scan(&b.Version)
}

func (r *repoPG) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return scanBatch(r.conn(ctx).QueryRow(ctx, `SELECT `+batchCols+` FROM drug_batch WHERE id = $1`, id))
}

func (r *repoPG) ListBatches(ctx context.Context, drugModelID uuid.UUID) ([]*Batch, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+batchCols+` FROM drug_batch
		WHERE drug_model_id = $1
		ORDER BY expiry_date, received_at, id`, drugModelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

// LockDispensable takes row locks in a deterministic order so two
// dispensers contending for the same batches cannot deadlock.
func (r *repoPG) LockDispensable(ctx context.Context, drugModelID, brandID uuid.UUID, now time.Time) ([]*Batch, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+batchCols+` FROM drug_batch
		WHERE drug_model_id = $1 AND brand_id = $2
			AND status = 'AVAILABLE' AND expiry_date > $3 AND remaining_amount > 0
		ORDER BY expiry_date, received_at, id
		FOR UPDATE`,
		drugModelID, brandID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *repoPG) DecrementBatch(ctx context.Context, id uuid.UUID, version, qty int) (*Batch, error) {
	b, err := scanBatch(r.conn(ctx).QueryRow(ctx, `
		UPDATE drug_batch SET
			remaining_amount = remaining_amount - $3,
			status = CASE WHEN remaining_amount - $3 = 0 THEN 'COMPLETED' ELSE status END,
			version = version + 1
		WHERE id = $1 AND version = $2 AND status = 'AVAILABLE' AND remaining_amount >= $3
		RETURNING `+batchCols,
		id, version, qty,
	))
	if db.IsNotFound(err) {
		return nil, ErrStale
	}
	return b, err
}

func (r *repoPG) UpdateBatchStatus(ctx context.Context, id uuid.UUID, from BatchStatus, version int, to BatchStatus) (*Batch, error) {
	b, err := scanBatch(r.conn(ctx).QueryRow(ctx, `
		UPDATE drug_batch SET status = $4, version = version + 1
		WHERE id = $1 AND status = $2 AND version = $3
		RETURNING `+batchCols,
		id, from, version, to,
	))
	if db.IsNotFound(err) {
		return nil, ErrStale
	}
	return b, err
}

func (r *repoPG) AvailableAmount(ctx context.Context, drugModelID uuid.UUID, now time.Time) (int, error) {
	var available int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(remaining_amount), 0) FROM drug_batch
		WHERE drug_model_id = $1 AND status = 'AVAILABLE' AND expiry_date > $2`,
		drugModelID, now,
	).Scan(&available)
	return available, err
}

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(
		&b.ID, &b.DrugModelID, &b.BrandID, &b.Number, &b.FullAmount, &b.RemainingAmount,
		&b.UnitPrice, &b.ExpiryDate, &b.Status, &b.ReceivedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBatches(rows pgx.Rows) ([]*Batch, error) {
	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
