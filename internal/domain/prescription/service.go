package prescription

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/inventory"
	"github.com/clinicdesk/clinic/internal/domain/queue"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/telemetry"
	"github.com/clinicdesk/clinic/internal/platform/websocket"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

// Dispenser draws stock. *inventory.Service satisfies it and joins the
// transaction in ctx.
type Dispenser interface {
	SelectBatchesForDispense(ctx context.Context, drugModelID, brandID uuid.UUID, quantity int) (*inventory.DispenseResult, error)
}

// ChargeSource is satisfied by *billing.Service.
type ChargeSource interface {
	ChargeValue(ctx context.Context, t billing.ChargeType) (decimal.Decimal, error)
}

// QueueEntries is satisfied by *queue.Service.
type QueueEntries interface {
	GetEntry(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	AdvanceEntryStatus(ctx context.Context, entryID uuid.UUID, to queue.EntryStatus) (*queue.Entry, error)
}

type Service struct {
	repo    Repository
	tx      db.Transactor
	stock   Dispenser
	charges ChargeSource
	entries QueueEntries
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  websocket.Publisher
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, stock Dispenser, charges ChargeSource, entries QueueEntries, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		stock:   stock,
		charges: charges,
		entries: entries,
		logger:  logger.With().Str("component", "prescription").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics attaches an optional metrics recorder.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// SetPublisher attaches the live board, which is told about queue entries
// moved to PRESCRIBED once the prescription commits.
func (s *Service) SetPublisher(p websocket.Publisher) {
	s.events = p
}

func (s *Service) fail(op, what string, err error) error {
	return db.StoreError(s.logger, op, what, err)
}

func validate(req *PrescribeRequest) error {
	if req.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	for i, d := range req.Drugs {
		if d.DrugModelID == uuid.Nil || d.BrandID == uuid.Nil {
			return apperr.Validation("drugs[%d]: drug_model_id and brand_id are required", i)
		}
		if d.Quantity <= 0 {
			return apperr.Validation("drugs[%d]: quantity must be positive", i)
		}
		if d.DurationDays != nil && *d.DurationDays <= 0 {
			return apperr.Validation("drugs[%d]: duration_days must be positive", i)
		}
	}
	for i := range req.OffRecord {
		req.OffRecord[i].Name = strings.TrimSpace(req.OffRecord[i].Name)
		if req.OffRecord[i].Name == "" {
			return apperr.Validation("off_record[%d]: name is required", i)
		}
	}
	return nil
}

// Prescribe records a consultation in one transaction: stock is drawn for
// every drug line, the price is fixed, items are written and the linked
// queue entry moves to PRESCRIBED. Any failure leaves nothing behind.
func (s *Service) Prescribe(ctx context.Context, req PrescribeRequest) (*Prescription, error) {
	doctor, err := auth.Authorize(ctx, auth.DoctorOnly)
	if err != nil {
		return nil, err
	}
	if err := validate(&req); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "prescription.Prescribe",
		attribute.String("patient.id", req.PatientID.String()),
		attribute.Int("drug_lines", len(req.Drugs)),
	)

	var (
		p        *Prescription
		advanced *queue.Entry
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if req.QueueEntryID != nil {
			entry, err := s.entries.GetEntry(ctx, *req.QueueEntryID)
			if err != nil {
				return err
			}
			if entry.PatientID != req.PatientID {
				return apperr.Validation("queue entry belongs to another patient")
			}
		}

		doctorCharge, err := s.charges.ChargeValue(ctx, billing.ChargeDoctor)
		if err != nil {
			return err
		}
		dispensaryCharge, err := s.charges.ChargeValue(ctx, billing.ChargeDispensary)
		if err != nil {
			return err
		}

		var items []IssuedItem
		for _, line := range req.Drugs {
			res, err := s.stock.SelectBatchesForDispense(ctx, line.DrugModelID, line.BrandID, line.Quantity)
			if err != nil {
				return err
			}
			for _, a := range res.Allocations {
				items = append(items, IssuedItem{
					BatchID:      a.BatchID,
					Quantity:     a.Quantity,
					UnitPrice:    a.UnitPrice,
					Dose:         line.Dose,
					Frequency:    line.Frequency,
					DurationDays: line.DurationDays,
				})
			}
		}

		p = &Prescription{
			PatientID:           req.PatientID,
			QueueEntryID:        req.QueueEntryID,
			PrescribedBy:        doctor.ID,
			Time:                s.now(),
			PresentingComplaint: req.PresentingComplaint,
			Diagnosis:           req.Diagnosis,
			DoctorCharge:        doctorCharge,
			DispensaryCharge:    dispensaryCharge,
			FinalPrice:          Price(doctorCharge, dispensaryCharge, items),
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return s.fail("create prescription", "prescription", err)
		}
		for i := range items {
			items[i].PrescriptionID = p.ID
			if err := s.repo.AddIssuedItem(ctx, &items[i]); err != nil {
				return s.fail("add issued item", "issued item", err)
			}
		}
		offRecord := make([]OffRecordItem, 0, len(req.OffRecord))
		for _, line := range req.OffRecord {
			it := OffRecordItem{PrescriptionID: p.ID, Name: line.Name, Description: line.Description}
			if err := s.repo.AddOffRecordItem(ctx, &it); err != nil {
				return s.fail("add off-record item", "off-record item", err)
			}
			offRecord = append(offRecord, it)
		}
		p.Items = items
		p.OffRecord = offRecord

		if req.QueueEntryID != nil {
			if advanced, err = s.entries.AdvanceEntryStatus(ctx, *req.QueueEntryID, queue.EntryPrescribed); err != nil {
				return err
			}
		}
		return nil
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	if p.Items == nil {
		p.Items = []IssuedItem{}
	}
	s.metrics.Prescribed()
	for _, line := range req.Drugs {
		s.metrics.Dispensed("ok", line.Quantity)
	}
	s.logger.Info().
		Str("prescription_id", p.ID.String()).
		Str("patient_id", p.PatientID.String()).
		Int("items", len(p.Items)).
		Str("final_price", p.FinalPrice.StringFixed(2)).
		Msg("prescribed")
	if advanced != nil && s.events != nil {
		s.events.Publish(ctx, websocket.TopicQueue, queue.EventEntryStatus, advanced)
	}
	return p, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail("get prescription", "prescription", err)
	}
	if p.Items, err = s.repo.ListIssuedItems(ctx, id); err != nil {
		return nil, s.fail("list issued items", "prescription", err)
	}
	if p.OffRecord, err = s.repo.ListOffRecordItems(ctx, id); err != nil {
		return nil, s.fail("list off-record items", "prescription", err)
	}
	if p.Items == nil {
		p.Items = []IssuedItem{}
	}
	if p.OffRecord == nil {
		p.OffRecord = []OffRecordItem{}
	}
	return p, nil
}

// GetPrescription is open to all staff so the dispensary can fill it.
func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// ListByPatient is the patient's prescription history, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*Prescription, int, error) {
	if _, err := auth.Authorize(ctx, auth.DoctorOnly); err != nil {
		return nil, 0, err
	}
	list, total, err := s.repo.ListByPatient(ctx, patientID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, s.fail("list prescriptions", "prescription", err)
	}
	return list, total, nil
}

func (s *Service) DeleteOffRecordItem(ctx context.Context, prescriptionID, itemID uuid.UUID) error {
	if _, err := auth.Authorize(ctx, auth.DoctorOnly); err != nil {
		return err
	}
	if err := s.repo.DeleteOffRecordItem(ctx, prescriptionID, itemID); err != nil {
		return s.fail("delete off-record item", "off-record item", err)
	}
	return nil
}
