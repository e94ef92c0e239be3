package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/telemetry"
	"github.com/clinicdesk/clinic/internal/platform/websocket"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

type Service struct {
	repo    Repository
	tx      db.Transactor
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  websocket.Publisher
	now     func() time.Time
}

const (
	EventBatchReceived = "inventory.batch.received"
	EventBatchRetired  = "inventory.batch.retired"
)

func NewService(repo Repository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		logger: logger.With().Str("component", "inventory").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics attaches an optional metrics recorder.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// SetPublisher attaches the live board.
func (s *Service) SetPublisher(p websocket.Publisher) {
	s.events = p
}

func (s *Service) publish(ctx context.Context, eventType string, b *Batch) {
	if s.events != nil {
		s.events.Publish(ctx, websocket.TopicInventory, eventType, b)
	}
}

func (s *Service) fail(op, what string, err error) error {
	return db.StoreError(s.logger, op, what, err)
}

// -- Catalogue --

func (s *Service) CreateDrugModel(ctx context.Context, m *DrugModel) error {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return err
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return apperr.Validation("name is required")
	}
	if m.BufferLevel < 0 {
		return apperr.Validation("buffer_level must not be negative")
	}
	if err := s.repo.CreateDrugModel(ctx, m); err != nil {
		return s.fail("create drug model", "drug model", err)
	}
	return nil
}

func (s *Service) GetDrugModel(ctx context.Context, id uuid.UUID) (*DrugModel, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	m, err := s.repo.GetDrugModel(ctx, id)
	if err != nil {
		return nil, s.fail("get drug model", "drug model", err)
	}
	return m, nil
}

// ListDrugModels returns models with their computed stock status. A non-empty
// filter keeps only models in that status, which is how restock alerts are
// listed.
func (s *Service) ListDrugModels(ctx context.Context, filter StockStatus, p pagination.Params) ([]BufferStatus, int, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, 0, err
	}
	stock, err := s.repo.ListModelStock(ctx, s.now())
	if err != nil {
		return nil, 0, s.fail("list drug models", "drug model", err)
	}

	var all []BufferStatus
	for _, ms := range stock {
		st := BufferStatus{
			DrugModelID: ms.Model.ID,
			Name:        ms.Model.Name,
			Available:   ms.Available,
			BufferLevel: ms.Model.BufferLevel,
			Status:      ClassifyStock(ms.Available, ms.Model.BufferLevel),
		}
		if filter != "" && st.Status != filter {
			continue
		}
		all = append(all, st)
	}

	total := len(all)
	if p.Offset >= total {
		return []BufferStatus{}, total, nil
	}
	end := min(p.Offset+p.Limit, total)
	return all[p.Offset:end], total, nil
}

func (s *Service) CreateBrand(ctx context.Context, b *Brand) error {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return err
	}
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return apperr.Validation("name is required")
	}
	if err := s.repo.CreateBrand(ctx, b); err != nil {
		return s.fail("create brand", "brand", err)
	}
	return nil
}

func (s *Service) ListBrands(ctx context.Context) ([]*Brand, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	brands, err := s.repo.ListBrands(ctx)
	if err != nil {
		return nil, s.fail("list brands", "brand", err)
	}
	return brands, nil
}

// -- Stock --

// RecordStockIntake inserts a received batch as AVAILABLE with its full
// amount remaining.
func (s *Service) RecordStockIntake(ctx context.Context, req IntakeRequest) (*Batch, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	now := s.now()
	req.Number = strings.TrimSpace(req.Number)
	switch {
	case req.DrugModelID == uuid.Nil:
		return nil, apperr.Validation("drug_model_id is required")
	case req.BrandID == uuid.Nil:
		return nil, apperr.Validation("brand_id is required")
	case req.Number == "":
		return nil, apperr.Validation("batch number is required")
	case req.FullAmount <= 0:
		return nil, apperr.Validation("full_amount must be positive")
	case req.UnitPrice.IsNegative():
		return nil, apperr.Validation("unit_price must not be negative")
	case !req.ExpiryDate.After(now):
		return nil, apperr.Validation("expiry_date must be in the future")
	}

	b := &Batch{
		DrugModelID:     req.DrugModelID,
		BrandID:         req.BrandID,
		Number:          req.Number,
		FullAmount:      req.FullAmount,
		RemainingAmount: req.FullAmount,
		UnitPrice:       req.UnitPrice,
		ExpiryDate:      req.ExpiryDate.UTC(),
		Status:          BatchAvailable,
		ReceivedAt:      now,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetDrugModel(ctx, req.DrugModelID); err != nil {
			return s.fail("get drug model", "drug model", err)
		}
		if _, err := s.repo.GetBrand(ctx, req.BrandID); err != nil {
			return s.fail("get brand", "brand", err)
		}
		if err := s.repo.CreateBatch(ctx, b); err != nil {
			return s.fail("create batch", "batch", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StockReceived()
	s.logger.Info().
		Str("batch_id", b.ID.String()).
		Str("drug_model_id", b.DrugModelID.String()).
		Int("amount", b.FullAmount).
		Msg("stock received")
	s.publish(ctx, EventBatchReceived, b)
	return b, nil
}

// SelectBatchesForDispense draws quantity units of a model and brand from
// its batches, earliest expiry first. All decrements commit together or not
// at all. Called inside an existing transaction it joins it, and the caller
// records the dispensed units once that transaction commits.
func (s *Service) SelectBatchesForDispense(ctx context.Context, drugModelID, brandID uuid.UUID, quantity int) (*DispenseResult, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	if drugModelID == uuid.Nil || brandID == uuid.Nil {
		return nil, apperr.Validation("drug_model_id and brand_id are required")
	}
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be positive")
	}

	ctx, span := telemetry.StartSpan(ctx, "inventory.Dispense",
		attribute.String("drug_model.id", drugModelID.String()),
		attribute.Int("quantity", quantity),
	)

	ownTx := db.TxFromContext(ctx) == nil
	var result *DispenseResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetDrugModel(ctx, drugModelID); err != nil {
			return s.fail("get drug model", "drug model", err)
		}

		now := s.now()
		batches, err := s.repo.LockDispensable(ctx, drugModelID, brandID, now)
		if err != nil {
			return s.fail("lock batches", "batch", err)
		}
		plan, err := PlanAllocation(batches, quantity, now)
		if err != nil {
			return err
		}

		versions := make(map[uuid.UUID]int, len(batches))
		for _, b := range batches {
			versions[b.ID] = b.Version
		}

		total := decimal.Zero
		for _, a := range plan {
			if _, err := s.repo.DecrementBatch(ctx, a.BatchID, versions[a.BatchID], a.Quantity); err != nil {
				if errors.Is(err, ErrStale) {
					return apperr.Conflict(apperr.CodeConcurrentUpdate, "batch %s was modified concurrently", a.BatchID)
				}
				return s.fail("decrement batch", "batch", err)
			}
			total = total.Add(a.Amount())
		}

		result = &DispenseResult{
			DrugModelID: drugModelID,
			BrandID:     brandID,
			Quantity:    quantity,
			Allocations: plan,
			Total:       total,
		}
		return nil
	})
	telemetry.EndSpan(span, err)

	if err != nil {
		s.metrics.Dispensed(apperr.CodeOf(err), 0)
		return nil, err
	}
	if ownTx {
		s.metrics.Dispensed("ok", quantity)
	}
	s.logger.Info().
		Str("drug_model_id", drugModelID.String()).
		Int("quantity", quantity).
		Int("batches", len(result.Allocations)).
		Msg("dispensed")
	return result, nil
}

// GetBufferLevelStatus classifies the live availability of a drug model.
func (s *Service) GetBufferLevelStatus(ctx context.Context, drugModelID uuid.UUID) (*BufferStatus, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	m, err := s.repo.GetDrugModel(ctx, drugModelID)
	if err != nil {
		return nil, s.fail("get drug model", "drug model", err)
	}
	available, err := s.repo.AvailableAmount(ctx, drugModelID, s.now())
	if err != nil {
		return nil, s.fail("sum available stock", "drug model", err)
	}
	return &BufferStatus{
		DrugModelID: m.ID,
		Name:        m.Name,
		Available:   available,
		BufferLevel: m.BufferLevel,
		Status:      ClassifyStock(available, m.BufferLevel),
	}, nil
}

// ListBatches returns a model's batches with EXPIRED projected at read time.
func (s *Service) ListBatches(ctx context.Context, drugModelID uuid.UUID) ([]*Batch, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDrugModel(ctx, drugModelID); err != nil {
		return nil, s.fail("get drug model", "drug model", err)
	}
	batches, err := s.repo.ListBatches(ctx, drugModelID)
	if err != nil {
		return nil, s.fail("list batches", "batch", err)
	}
	now := s.now()
	for _, b := range batches {
		b.Status = b.EffectiveStatus(now)
	}
	return batches, nil
}

// RetireBatch takes a batch out of circulation as DISPOSED or QUALITY_FAILED.
func (s *Service) RetireBatch(ctx context.Context, id uuid.UUID, to BatchStatus) (*Batch, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	if to != BatchDisposed && to != BatchQualityFailed {
		return nil, apperr.Validation("batch can only be retired as DISPOSED or QUALITY_FAILED")
	}

	var updated *Batch
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetBatch(ctx, id)
		if err != nil {
			return s.fail("get batch", "batch", err)
		}
		from := b.EffectiveStatus(s.now())
		if !canTransition(from, to) {
			return apperr.Conflict(apperr.CodeInvalidTransition, "batch cannot move from %s to %s", from, to)
		}
		updated, err = s.repo.UpdateBatchStatus(ctx, id, b.Status, b.Version, to)
		if errors.Is(err, ErrStale) {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "batch %s was modified concurrently", id)
		}
		if err != nil {
			return s.fail("retire batch", "batch", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("batch_id", id.String()).Str("status", string(to)).Msg("batch retired")
	s.publish(ctx, EventBatchRetired, updated)
	return updated, nil
}
