package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStale is returned by the compare-and-swap batch updates when the row
// no longer matches the expected version or state.
var ErrStale = errors.New("batch changed concurrently")

type Repository interface {
	CreateDrugModel(ctx context.Context, m *DrugModel) error
	GetDrugModel(ctx context.Context, id uuid.UUID) (*DrugModel, error)
	// ListModelStock returns every drug model with its live available amount.
	ListModelStock(ctx context.Context, now time.Time) ([]ModelStock, error)

	CreateBrand(ctx context.Context, b *Brand) error
	GetBrand(ctx context.Context, id uuid.UUID) (*Brand, error)
	ListBrands(ctx context.Context) ([]*Brand, error)

	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	ListBatches(ctx context.Context, drugModelID uuid.UUID) ([]*Batch, error)

	// LockDispensable returns the AVAILABLE, unexpired, non-empty batches of
	// a model and brand, row-locked until the surrounding transaction ends.
	LockDispensable(ctx context.Context, drugModelID, brandID uuid.UUID, now time.Time) ([]*Batch, error)
	// DecrementBatch removes qty units, completing the batch at zero.
	DecrementBatch(ctx context.Context, id uuid.UUID, version, qty int) (*Batch, error)
	UpdateBatchStatus(ctx context.Context, id uuid.UUID, from BatchStatus, version int, to BatchStatus) (*Batch, error)

	// AvailableAmount is the live sum of remaining units over dispensable batches.
	AvailableAmount(ctx context.Context, drugModelID uuid.UUID, now time.Time) (int, error)
}
