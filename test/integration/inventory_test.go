package integration

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/domain/inventory"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

func TestDispenseEarliestExpiryFirst(t *testing.T) {
	resetDB(t)
	ctx := as(uuid.New(), auth.RoleNurse)
	now := time.Now().UTC()

	s := createStock(t, ctx, "Paracetamol 500mg", 20)
	late := s.receive(t, ctx, "B2", 10, "1.25", now.AddDate(1, 0, 0))
	early := s.receive(t, ctx, "B1", 5, "1.25", now.AddDate(0, 3, 0))

	res, err := env.Inventory.SelectBatchesForDispense(ctx, s.Model.ID, s.Brand.ID, 8)
	if err != nil {
		t.Fatalf("SelectBatchesForDispense: %v", err)
	}
	if len(res.Allocations) != 2 || res.Allocations[0].BatchID != early.ID || res.Allocations[0].Quantity != 5 {
		t.Errorf("allocations = %+v", res.Allocations)
	}
	if res.Total.StringFixed(2) != "10.00" {
		t.Errorf("total = %s", res.Total)
	}
	if remaining(t, early.ID) != 0 || remaining(t, late.ID) != 7 {
		t.Error("batches not decremented")
	}

	batches, err := env.Inventory.ListBatches(ctx, s.Model.ID)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	for _, b := range batches {
		if b.ID == early.ID && b.Status != inventory.BatchCompleted {
			t.Errorf("drained batch status = %s", b.Status)
		}
	}

	st, err := env.Inventory.GetBufferLevelStatus(ctx, s.Model.ID)
	if err != nil {
		t.Fatalf("GetBufferLevelStatus: %v", err)
	}
	if st.Available != 7 || st.Status != inventory.LowStock {
		t.Errorf("buffer status = %+v", st)
	}
}

func TestDispenseInsufficientLeavesStockUntouched(t *testing.T) {
	resetDB(t)
	ctx := as(uuid.New(), auth.RoleNurse)
	now := time.Now().UTC()

	s := createStock(t, ctx, "Amoxicillin 250mg", 0)
	a := s.receive(t, ctx, "A1", 4, "2.00", now.AddDate(0, 6, 0))
	b := s.receive(t, ctx, "A2", 4, "2.00", now.AddDate(0, 9, 0))

	_, err := env.Inventory.SelectBatchesForDispense(ctx, s.Model.ID, s.Brand.ID, 9)
	if !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if remaining(t, a.ID) != 4 || remaining(t, b.ID) != 4 {
		t.Error("a failed dispense must not touch any batch")
	}
}

func TestDispenseSkipsExpired(t *testing.T) {
	resetDB(t)
	ctx := as(uuid.New(), auth.RoleNurse)
	now := time.Now().UTC()

	s := createStock(t, ctx, "Cetirizine 10mg", 0)
	fresh := s.receive(t, ctx, "C2", 3, "0.50", now.AddDate(0, 2, 0))
	stale := s.receive(t, ctx, "C1", 3, "0.50", now.Add(time.Hour))
	if _, err := env.Pool.Exec(t.Context(), `UPDATE drug_batch SET expiry_date = $2 WHERE id = $1`,
		stale.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("age batch: %v", err)
	}

	if _, err := env.Inventory.SelectBatchesForDispense(ctx, s.Model.ID, s.Brand.ID, 4); !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Errorf("expired units must not count, got %v", err)
	}
	if _, err := env.Inventory.SelectBatchesForDispense(ctx, s.Model.ID, s.Brand.ID, 3); err != nil {
		t.Fatalf("dispense from fresh batch: %v", err)
	}
	if remaining(t, stale.ID) != 3 || remaining(t, fresh.ID) != 0 {
		t.Error("expired batch was drawn from")
	}

	batches, _ := env.Inventory.ListBatches(ctx, s.Model.ID)
	for _, b := range batches {
		if b.ID == stale.ID && b.Status != inventory.BatchExpired {
			t.Errorf("expired batch listed as %s", b.Status)
		}
	}
	if _, err := env.Inventory.RetireBatch(ctx, stale.ID, inventory.BatchDisposed); err != nil {
		t.Errorf("dispose expired batch: %v", err)
	}
}

func TestDispenseConcurrent(t *testing.T) {
	resetDB(t)
	ctx := as(uuid.New(), auth.RoleNurse)
	now := time.Now().UTC()

	s := createStock(t, ctx, "Ibuprofen 400mg", 0)
	b1 := s.receive(t, ctx, "I1", 5, "1.00", now.AddDate(0, 1, 0))
	b2 := s.receive(t, ctx, "I2", 10, "1.00", now.AddDate(0, 2, 0))

	const workers = 50
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Inventory.SelectBatchesForDispense(ctx, s.Model.ID, s.Brand.ID, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, inventory.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 15 || rejected.Load() != 35 {
		t.Errorf("succeeded=%d rejected=%d, want 15/35", succeeded.Load(), rejected.Load())
	}
	if remaining(t, b1.ID) != 0 || remaining(t, b2.ID) != 0 {
		t.Error("stock not fully drawn")
	}
}

func TestDrugModelCatalog(t *testing.T) {
	resetDB(t)
	ctx := as(uuid.New(), auth.RoleNurse)
	now := time.Now().UTC()

	low := createStock(t, ctx, "Metformin 500mg", 100)
	low.receive(t, ctx, "M1", 10, "0.20", now.AddDate(1, 0, 0))
	createStock(t, ctx, "Omeprazole 20mg", 10)

	t.Run("DuplicateName", func(t *testing.T) {
		err := env.Inventory.CreateDrugModel(ctx, &inventory.DrugModel{Name: "metformin 500MG"})
		if apperr.CodeOf(err) != apperr.CodeDuplicate {
			t.Errorf("expected duplicate, got %v", err)
		}
	})

	t.Run("FilterByStatus", func(t *testing.T) {
		list, total, err := env.Inventory.ListDrugModels(ctx, inventory.OutOfStock, pagination.Params{Limit: 10})
		if err != nil {
			t.Fatalf("ListDrugModels: %v", err)
		}
		if total != 1 || list[0].Name != "Omeprazole 20mg" {
			t.Errorf("out of stock = %+v", list)
		}
	})

	t.Run("BatchNumberUniquePerModelAndBrand", func(t *testing.T) {
		_, err := env.Inventory.RecordStockIntake(ctx, inventory.IntakeRequest{
			DrugModelID: low.Model.ID, BrandID: low.Brand.ID, Number: "M1",
			FullAmount: 1, ExpiryDate: now.AddDate(1, 0, 0),
		})
		if apperr.CodeOf(err) != apperr.CodeDuplicate {
			t.Errorf("expected duplicate, got %v", err)
		}
	})
}
