package inventory

import (
	"sort"
	"time"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

// ErrInsufficientStock is matched with errors.Is.
var ErrInsufficientStock = &apperr.Error{
	Kind:    apperr.KindConflict,
	Code:    apperr.CodeInsufficientStock,
	Message: "insufficient stock",
}

func insufficientStock(available, required int) error {
	return apperr.Conflict(apperr.CodeInsufficientStock,
		"insufficient stock: %d available, %d required", available, required)
}

// PlanAllocation chooses which batches satisfy required units. Candidates
// are dispensable at now and ordered by expiry, then receipt time, then id,
// and consumed greedily from the front. When the candidates cannot cover
// required no plan is returned. The input slice is not modified.
func PlanAllocation(batches []*Batch, required int, now time.Time) ([]Allocation, error) {
	if required <= 0 {
		return nil, apperr.Validation("quantity must be positive")
	}

	candidates := make([]*Batch, 0, len(batches))
	available := 0
	for _, b := range batches {
		if b.Dispensable(now) {
			candidates = append(candidates, b)
			available += b.RemainingAmount
		}
	}
	if available < required {
		return nil, insufficientStock(available, required)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	var plan []Allocation
	need := required
	for _, b := range candidates {
		if need == 0 {
			break
		}
		take := min(b.RemainingAmount, need)
		plan = append(plan, Allocation{
			BatchID:     b.ID,
			BatchNumber: b.Number,
			Quantity:    take,
			UnitPrice:   b.UnitPrice,
			ExpiryDate:  b.ExpiryDate,
		})
		need -= take
	}
	return plan, nil
}
