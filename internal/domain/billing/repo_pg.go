package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
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

func (r *repoPG) ListIncomeRecords(ctx context.Context, from, to time.Time) ([]IncomeRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT time, final_price FROM prescription
		WHERE time >= $1 AND time < $2
		ORDER BY time DESC`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IncomeRecord
	for rows.Next() {
		var rec IncomeRecord
		if err := rows.Scan(&rec.Time, &rec.FinalPrice); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const chargeCols = `id, type, value, updated_at`

func (r *repoPG) ListCharges(ctx context.Context) ([]*Charge, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+chargeCols+` FROM charge ORDER BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Charge
	for rows.Next() {
		var c Charge
		if err := rows.Scan(&c.ID, &c.Type, &c.Value, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *repoPG) GetCharge(ctx context.Context, t ChargeType) (*Charge, error) {
	var c Charge
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+chargeCols+` FROM charge WHERE type = $1`, t).
		Scan(&c.ID, &c.Type, &c.Value, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) UpsertCharge(ctx context.Context, c *Charge) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO charge (id, type, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT ON CONSTRAINT charge_type_key
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		RETURNING id, updated_at`,
		uuid.New(), c.Type, c.Value,
	).Scan(&c.ID, &c.UpdatedAt)
}
