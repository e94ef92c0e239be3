package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/identity"
	"github.com/clinicdesk/clinic/internal/domain/inventory"
	"github.com/clinicdesk/clinic/internal/domain/queue"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeClinic struct {
	patients []*identity.Patient
	models   map[string]*inventory.DrugModel
	brands   []*inventory.Brand
	batches  []inventory.IntakeRequest
	charges  map[billing.ChargeType]decimal.Decimal
	open     *queue.Queue
	entries  []*queue.Entry
}

func newFakeClinic() *fakeClinic {
	return &fakeClinic{
		models:  make(map[string]*inventory.DrugModel),
		charges: make(map[billing.ChargeType]decimal.Decimal),
	}
}

func (f *fakeClinic) CreatePatient(_ context.Context, p *identity.Patient) error {
	p.ID = uuid.New()
	f.patients = append(f.patients, p)
	return nil
}

func (f *fakeClinic) CreateDrugModel(_ context.Context, m *inventory.DrugModel) error {
	key := strings.ToLower(m.Name)
	if _, ok := f.models[key]; ok {
		return apperr.Conflict(apperr.CodeDuplicate, "drug model already exists")
	}
	m.ID = uuid.New()
	f.models[key] = m
	return nil
}

func (f *fakeClinic) CreateBrand(_ context.Context, b *inventory.Brand) error {
	b.ID = uuid.New()
	f.brands = append(f.brands, b)
	return nil
}

func (f *fakeClinic) ListBrands(context.Context) ([]*inventory.Brand, error) {
	return f.brands, nil
}

func (f *fakeClinic) RecordStockIntake(_ context.Context, req inventory.IntakeRequest) (*inventory.Batch, error) {
	f.batches = append(f.batches, req)
	return &inventory.Batch{ID: uuid.New(), Number: req.Number}, nil
}

func (f *fakeClinic) SetCharge(_ context.Context, t billing.ChargeType, v decimal.Decimal) (*billing.Charge, error) {
	f.charges[t] = v
	return &billing.Charge{Type: t, Value: v}, nil
}

func (f *fakeClinic) GetActiveQueue(context.Context) (*queue.Queue, error) {
	if f.open == nil {
		return nil, apperr.NotFound("no open queue")
	}
	return f.open, nil
}

func (f *fakeClinic) CreateQueue(context.Context) (*queue.Queue, error) {
	f.open = &queue.Queue{ID: uuid.New(), Status: queue.QueueInProgress}
	return f.open, nil
}

func (f *fakeClinic) AddPatientToQueue(_ context.Context, queueID, patientID uuid.UUID) (*queue.Entry, error) {
	e := &queue.Entry{ID: uuid.New(), QueueID: queueID, PatientID: patientID, Token: len(f.entries) + 1}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeClinic) targets() Targets {
	return Targets{Patients: f, Inventory: f, Charges: f, Queue: f}
}

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

func TestDataGenerator_Deterministic(t *testing.T) {
	a, b := NewDataGenerator(42), NewDataGenerator(42)
	for i := 0; i < 5; i++ {
		pa, pb := a.GeneratePatient(), b.GeneratePatient()
		if pa.Name != pb.Name || *pa.Phone != *pb.Phone || *pa.NIC != *pb.NIC {
			t.Fatalf("patient %d differs: %+v vs %+v", i, pa, pb)
		}
	}
}

func TestDataGenerator_GeneratePatient(t *testing.T) {
	p := NewDataGenerator(7).GeneratePatient()
	if p.Name == "" || p.Gender == nil || p.BirthDate == nil {
		t.Fatalf("incomplete patient %+v", p)
	}
	if len(*p.Phone) != 10 || !strings.HasPrefix(*p.Phone, "07") {
		t.Errorf("phone = %q", *p.Phone)
	}
	if len(*p.NIC) != 10 {
		t.Errorf("nic = %q", *p.NIC)
	}
}

func TestDataGenerator_GenerateIntake(t *testing.T) {
	now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	m := &inventory.DrugModel{ID: uuid.New(), BufferLevel: 40}
	br := &inventory.Brand{ID: uuid.New()}
	g := NewDataGenerator(1)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		req := g.GenerateIntake(m, br, "2.50", now)
		if req.FullAmount < 20 || req.FullAmount > 60 {
			t.Errorf("full amount %d outside [20, 60]", req.FullAmount)
		}
		if !req.ExpiryDate.After(now.AddDate(0, 2, 27)) || req.ExpiryDate.After(now.AddDate(0, 18, 1)) {
			t.Errorf("expiry %v outside 3..18 months", req.ExpiryDate)
		}
		if seen[req.Number] {
			t.Errorf("duplicate batch number %s", req.Number)
		}
		seen[req.Number] = true
	}
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

func TestSeeder_Run(t *testing.T) {
	f := newFakeClinic()
	cfg := SeedConfig{Patients: 6, DrugModels: 3, BatchesPerDrug: 2, QueueEntries: 4, Seed: 99}

	res, err := NewSeeder(cfg, f.targets(), zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Patients != 6 || res.DrugModels != 3 || res.Batches != 6 || res.QueueEntries != 4 {
		t.Errorf("result = %+v", res)
	}
	if res.Brands != len(brands) || len(f.brands) != len(brands) {
		t.Errorf("brands = %d", res.Brands)
	}
	if !f.charges[billing.ChargeDoctor].Equal(decimal.NewFromInt(500)) || !f.charges[billing.ChargeDispensary].Equal(decimal.NewFromInt(50)) {
		t.Errorf("charges = %v", f.charges)
	}
	if res.QueueID != f.open.ID {
		t.Error("queue id not reported")
	}
	for i, e := range f.entries {
		if e.PatientID != f.patients[i].ID {
			t.Errorf("entry %d queued the wrong patient", i)
		}
	}
}

func TestSeeder_RunTwiceReusesCatalogue(t *testing.T) {
	f := newFakeClinic()
	cfg := SeedConfig{Patients: 2, DrugModels: 2, BatchesPerDrug: 1, QueueEntries: 1, Seed: 5}

	if _, err := NewSeeder(cfg, f.targets(), zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstQueue := f.open.ID

	res, err := NewSeeder(cfg, f.targets(), zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Brands != 0 || res.DrugModels != 0 || res.Skipped != 2 || res.Batches != 0 {
		t.Errorf("second run = %+v", res)
	}
	if res.QueueID != firstQueue || len(f.entries) != 2 {
		t.Errorf("open queue not reused: %+v", res)
	}
	if len(f.patients) != 4 {
		t.Errorf("patients = %d", len(f.patients))
	}
}

func TestNewSeeder_ClampsConfig(t *testing.T) {
	s := NewSeeder(SeedConfig{Patients: 2, DrugModels: 100, QueueEntries: 10}, Targets{}, zerolog.Nop())
	if s.config.DrugModels != len(drugs) {
		t.Errorf("drug models = %d", s.config.DrugModels)
	}
	if s.config.QueueEntries != 2 {
		t.Errorf("queue entries = %d", s.config.QueueEntries)
	}
}
