package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/telemetry"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewService groups income by calendar day in loc; a nil loc means UTC.
func NewService(repo Repository, logger zerolog.Logger, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "billing").Logger(),
		loc:    loc,
		now:    time.Now,
	}
}

func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) fail(op, what string, err error) error {
	return db.StoreError(s.logger, op, what, err)
}

// -- Income --

func (s *Service) incomeDays(ctx context.Context, requested DateRange) ([]DailyIncome, DateRange, bool, error) {
	p, err := auth.Authorize(ctx, auth.AnyAuthenticated)
	if err != nil {
		return nil, DateRange{}, false, err
	}
	rng, restricted := RestrictRange(p, requested, s.now(), s.loc)
	if !rng.Valid() {
		return nil, DateRange{}, false, apperr.Validation("from must be before to")
	}

	ctx, span := telemetry.StartSpan(ctx, "billing.DailyIncome",
		attribute.String("range.from", rng.From.Format(time.RFC3339)),
		attribute.String("range.to", rng.To.Format(time.RFC3339)),
		attribute.Bool("range.restricted", restricted),
	)
	records, err := s.repo.ListIncomeRecords(ctx, rng.From, rng.To)
	if err != nil {
		err = s.fail("list income records", "prescription", err)
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, DateRange{}, false, err
	}
	return AggregateDaily(records, s.loc), rng, restricted, nil
}

// ComputeDailyIncome returns income per calendar day, newest first.
func (s *Service) ComputeDailyIncome(ctx context.Context, requested DateRange) (*Report[[]DailyIncome], error) {
	days, rng, restricted, err := s.incomeDays(ctx, requested)
	if err != nil {
		return nil, err
	}
	return &Report[[]DailyIncome]{Range: rng, Restricted: restricted, Result: days}, nil
}

// ComputeRangeTotals returns the total and per-patient average over the range.
func (s *Service) ComputeRangeTotals(ctx context.Context, requested DateRange) (*Report[RangeTotals], error) {
	days, rng, restricted, err := s.incomeDays(ctx, requested)
	if err != nil {
		return nil, err
	}
	return &Report[RangeTotals]{Range: rng, Restricted: restricted, Result: Totals(days)}, nil
}

// -- Charges --

func (s *Service) ListCharges(ctx context.Context) ([]*Charge, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	charges, err := s.repo.ListCharges(ctx)
	if err != nil {
		return nil, s.fail("list charges", "charge", err)
	}
	return charges, nil
}

func (s *Service) SetCharge(ctx context.Context, t ChargeType, value decimal.Decimal) (*Charge, error) {
	p, err := auth.Authorize(ctx, auth.DoctorOnly)
	if err != nil {
		return nil, err
	}
	if _, ok := ParseChargeType(string(t)); !ok {
		return nil, apperr.Validation("charge type must be DOCTOR or DISPENSARY")
	}
	if value.IsNegative() {
		return nil, apperr.Validation("charge value must not be negative")
	}

	c := &Charge{Type: t, Value: value.Round(2)}
	if err := s.repo.UpsertCharge(ctx, c); err != nil {
		return nil, s.fail("set charge", "charge", err)
	}
	s.logger.Info().
		Str("type", string(t)).
		Str("value", c.Value.StringFixed(2)).
		Str("by", p.ID.String()).
		Msg("charge updated")
	return c, nil
}

// ChargeValue returns the configured value of t, or zero when the charge has
// never been set.
func (s *Service) ChargeValue(ctx context.Context, t ChargeType) (decimal.Decimal, error) {
	c, err := s.repo.GetCharge(ctx, t)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, s.fail("get charge", "charge", err)
	}
	return c.Value, nil
}
