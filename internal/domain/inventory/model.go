package inventory

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchAvailable     BatchStatus = "AVAILABLE"
	BatchCompleted     BatchStatus = "COMPLETED"
	BatchExpired       BatchStatus = "EXPIRED"
	BatchDisposed      BatchStatus = "DISPOSED"
	BatchQualityFailed BatchStatus = "QUALITY_FAILED"
)

func ParseBatchStatus(s string) (BatchStatus, bool) {
	switch st := BatchStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case BatchAvailable, BatchCompleted, BatchExpired, BatchDisposed, BatchQualityFailed:
		return st, true
	}
	return "", false
}

// batchTransitions lists the allowed successors of each status. States
// missing from the table are terminal.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchAvailable: {BatchCompleted, BatchExpired, BatchDisposed, BatchQualityFailed},
	BatchExpired:   {BatchDisposed},
}

func canTransition(from, to BatchStatus) bool {
	for _, s := range batchTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type StockStatus string

const (
	OutOfStock StockStatus = "OUT_OF_STOCK"
	LowStock   StockStatus = "LOW_STOCK"
	InStock    StockStatus = "IN_STOCK"
)

func ParseStockStatus(s string) (StockStatus, bool) {
	switch st := StockStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case OutOfStock, LowStock, InStock:
		return st, true
	}
	return "", false
}

// ClassifyStock compares live availability with the reorder threshold.
func ClassifyStock(available, bufferLevel int) StockStatus {
	switch {
	case available <= 0:
		return OutOfStock
	case available < bufferLevel:
		return LowStock
	default:
		return InStock
	}
}

// DrugModel maps to the drug_model table.
type DrugModel struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	BufferLevel int       `db:"buffer_level" json:"buffer_level"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Brand maps to the brand table.
type Brand struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Batch maps to the drug_batch table.
type Batch struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	DrugModelID     uuid.UUID       `db:"drug_model_id" json:"drug_model_id"`
	BrandID         uuid.UUID       `db:"brand_id" json:"brand_id"`
	Number          string          `db:"number" json:"number"`
	FullAmount      int             `db:"full_amount" json:"full_amount"`
	RemainingAmount int             `db:"remaining_amount" json:"remaining_amount"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	ExpiryDate      time.Time       `db:"expiry_date" json:"expiry_date"`
	Status          BatchStatus     `db:"status" json:"status"`
	ReceivedAt      time.Time       `db:"received_at" json:"received_at"`
	Version         int             `db:"version" json:"version"`
}

// EffectiveStatus projects EXPIRED onto an AVAILABLE batch whose expiry has
// passed. Expiry is never written back by a background job.
func (b *Batch) EffectiveStatus(now time.Time) BatchStatus {
	if b.Status == BatchAvailable && !b.ExpiryDate.After(now) {
		return BatchExpired
	}
	return b.Status
}

// Dispensable reports whether the batch is a dispense candidate at now.
func (b *Batch) Dispensable(now time.Time) bool {
	return b.EffectiveStatus(now) == BatchAvailable && b.RemainingAmount > 0
}

// Allocation is one line of a dispense plan: quantity drawn from a batch.
type Allocation struct {
	BatchID     uuid.UUID       `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ExpiryDate  time.Time       `json:"expiry_date"`
}

func (a Allocation) Amount() decimal.Decimal {
	return a.UnitPrice.Mul(decimal.NewFromInt(int64(a.Quantity)))
}

// DispenseResult is returned by a committed dispense.
type DispenseResult struct {
	DrugModelID uuid.UUID       `json:"drug_model_id"`
	BrandID     uuid.UUID       `json:"brand_id"`
	Quantity    int             `json:"quantity"`
	Allocations []Allocation    `json:"allocations"`
	Total       decimal.Decimal `json:"total"`
}

// BufferStatus is the computed restock view of a drug model.
type BufferStatus struct {
	DrugModelID uuid.UUID   `json:"drug_model_id"`
	Name        string      `json:"name,omitempty"`
	Available   int         `json:"available"`
	BufferLevel int         `json:"buffer_level"`
	Status      StockStatus `json:"status"`
}

// ModelStock pairs a drug model with its live available amount.
type ModelStock struct {
	Model     *DrugModel
	Available int
}

// IntakeRequest describes a received batch.
type IntakeRequest struct {
	DrugModelID uuid.UUID       `json:"drug_model_id"`
	BrandID     uuid.UUID       `json:"brand_id"`
	Number      string          `json:"number"`
	FullAmount  int             `json:"full_amount"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ExpiryDate  time.Time       `json:"expiry_date"`
}
