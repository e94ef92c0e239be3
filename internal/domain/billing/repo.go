package billing

import (
	"context"
	"time"
)

type Repository interface {
	// ListIncomeRecords returns prescriptions with time in [from, to).
	ListIncomeRecords(ctx context.Context, from, to time.Time) ([]IncomeRecord, error)

	ListCharges(ctx context.Context) ([]*Charge, error)
	GetCharge(ctx context.Context, t ChargeType) (*Charge, error)
	// UpsertCharge inserts or replaces the row for c.Type.
	UpsertCharge(ctx context.Context, c *Charge) error
}
