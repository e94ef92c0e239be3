package prescription

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/inventory"
	"github.com/clinicdesk/clinic/internal/domain/queue"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/telemetry"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

// -- Mock Repository --

type mockRepo struct {
	mu            sync.Mutex
	prescriptions map[uuid.UUID]Prescription
	items         map[uuid.UUID]IssuedItem
	offRecord     map[uuid.UUID]OffRecordItem
	failIssued    error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		prescriptions: make(map[uuid.UUID]Prescription),
		items:         make(map[uuid.UUID]IssuedItem),
		offRecord:     make(map[uuid.UUID]OffRecordItem),
	}
}

func (m *mockRepo) Create(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	m.prescriptions[p.ID] = *p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	p.Items, p.OffRecord = nil, nil
	return &p, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Prescription
	for _, p := range m.prescriptions {
		if p.PatientID == patientID {
			cp := p
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Time.After(all[j].Time) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

func (m *mockRepo) AddIssuedItem(_ context.Context, it *IssuedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIssued != nil {
		return m.failIssued
	}
	it.ID = uuid.New()
	m.items[it.ID] = *it
	return nil
}

func (m *mockRepo) ListIssuedItems(_ context.Context, prescriptionID uuid.UUID) ([]IssuedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []IssuedItem
	for _, it := range m.items {
		if it.PrescriptionID == prescriptionID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockRepo) AddOffRecordItem(_ context.Context, it *OffRecordItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.ID = uuid.New()
	m.offRecord[it.ID] = *it
	return nil
}

func (m *mockRepo) ListOffRecordItems(_ context.Context, prescriptionID uuid.UUID) ([]OffRecordItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OffRecordItem
	for _, it := range m.offRecord {
		if it.PrescriptionID == prescriptionID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockRepo) DeleteOffRecordItem(_ context.Context, prescriptionID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.offRecord[id]
	if !ok || it.PrescriptionID != prescriptionID {
		return pgx.ErrNoRows
	}
	delete(m.offRecord, id)
	return nil
}

func (m *mockRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, items, off := cloneMap(m.prescriptions), cloneMap(m.items), cloneMap(m.offRecord)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.prescriptions, m.items, m.offRecord = ps, items, off
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// -- Fake collaborators --

// fakeStock plans with the real allocator over in-memory batches.
type fakeStock struct {
	mu      sync.Mutex
	batches []*inventory.Batch
	now     time.Time
}

func (f *fakeStock) SelectBatchesForDispense(_ context.Context, modelID, brandID uuid.UUID, qty int) (*inventory.DispenseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var candidates []*inventory.Batch
	for _, b := range f.batches {
		if b.DrugModelID == modelID && b.BrandID == brandID {
			candidates = append(candidates, b)
		}
	}
	plan, err := inventory.PlanAllocation(candidates, qty, f.now)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, a := range plan {
		for _, b := range f.batches {
			if b.ID == a.BatchID {
				b.RemainingAmount -= a.Quantity
				if b.RemainingAmount == 0 {
					b.Status = inventory.BatchCompleted
				}
			}
		}
		total = total.Add(a.Amount())
	}
	return &inventory.DispenseResult{DrugModelID: modelID, BrandID: brandID, Quantity: qty, Allocations: plan, Total: total}, nil
}

func (f *fakeStock) remaining(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.batches {
		if b.ID == id {
			return b.RemainingAmount
		}
	}
	return -1
}

func (f *fakeStock) snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := make([]inventory.Batch, len(f.batches))
	for i, b := range f.batches {
		saved[i] = *b
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range saved {
			*f.batches[i] = saved[i]
		}
	}
}

type fakeCharges map[billing.ChargeType]decimal.Decimal

func (f fakeCharges) ChargeValue(_ context.Context, t billing.ChargeType) (decimal.Decimal, error) {
	return f[t], nil
}

type fakeEntries struct {
	mu      sync.Mutex
	entries map[uuid.UUID]queue.Entry
}

func (f *fakeEntries) GetEntry(_ context.Context, id uuid.UUID) (*queue.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, apperr.NotFound("queue entry not found")
	}
	return &e, nil
}

func (f *fakeEntries) AdvanceEntryStatus(_ context.Context, id uuid.UUID, to queue.EntryStatus) (*queue.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, apperr.NotFound("queue entry not found")
	}
	if _, err := queue.NextEntryStatus(e.Status, to); err != nil {
		return nil, err
	}
	e.Status = to
	e.Version++
	f.entries[id] = e
	return &e, nil
}

func (f *fakeEntries) snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := cloneMap(f.entries)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.entries = saved
	}
}

// mockTx rolls every fake back when the closure fails.
type mockTx struct {
	mu    sync.Mutex
	parts []interface{ snapshot() func() }
}

type txKey struct{}

func (t *mockTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var restores []func()
	for _, p := range t.parts {
		restores = append(restores, p.snapshot())
	}
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		for _, r := range restores {
			r()
		}
		return err
	}
	return nil
}

// -- Fixture --

var testNow = time.Date(2024, 10, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *mockRepo
	stock   *fakeStock
	entries *fakeEntries

	modelID, brandID uuid.UUID
	b1, b2           *inventory.Batch
	patientID        uuid.UUID
	entryID          uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		modelID:   uuid.New(),
		brandID:   uuid.New(),
		patientID: uuid.New(),
		entryID:   uuid.New(),
	}
	mk := func(number string, remaining int, expiry time.Time, price string) *inventory.Batch {
		return &inventory.Batch{
			ID: uuid.New(), DrugModelID: f.modelID, BrandID: f.brandID, Number: number,
			FullAmount: remaining, RemainingAmount: remaining,
			UnitPrice:  decimal.RequireFromString(price),
			ExpiryDate: expiry, Status: inventory.BatchAvailable,
			ReceivedAt: testNow.Add(-time.Hour), Version: 1,
		}
	}
	f.b1 = mk("B1", 5, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "2.00")
	f.b2 = mk("B2", 10, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), "3.00")
	f.stock = &fakeStock{batches: []*inventory.Batch{f.b1, f.b2}, now: testNow}
	f.entries = &fakeEntries{entries: map[uuid.UUID]queue.Entry{
		f.entryID: {ID: f.entryID, PatientID: f.patientID, Token: 1, Status: queue.EntryPending, Version: 1},
	}}
	charges := fakeCharges{
		billing.ChargeDoctor:     decimal.RequireFromString("500.00"),
		billing.ChargeDispensary: decimal.RequireFromString("50.00"),
	}
	tx := &mockTx{parts: []interface{ snapshot() func() }{f.repo, f.stock, f.entries}}
	f.svc = NewService(f.repo, tx, f.stock, charges, f.entries, zerolog.Nop())
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) request(qty int) PrescribeRequest {
	entry := f.entryID
	dose := "1 tablet"
	return PrescribeRequest{
		PatientID:    f.patientID,
		QueueEntryID: &entry,
		Drugs:        []DrugLine{{DrugModelID: f.modelID, BrandID: f.brandID, Quantity: qty, Dose: &dose}},
		OffRecord:    []OffRecordLine{{Name: " Vitamin C "}},
	}
}

func asRole(role auth.Role) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{ID: uuid.New(), Role: role})
}

// -- Prescribe Tests --

func TestPrescribe(t *testing.T) {
	f := newFixture()

	p, err := f.svc.Prescribe(asRole(auth.RoleDoctor), f.request(8))
	if err != nil {
		t.Fatalf("Prescribe: %v", err)
	}

	if len(p.Items) != 2 {
		t.Fatalf("expected one item per batch touched, got %d", len(p.Items))
	}
	if p.Items[0].BatchID != f.b1.ID || p.Items[0].Quantity != 5 || p.Items[1].Quantity != 3 {
		t.Errorf("items = %+v", p.Items)
	}
	// 500 + 50 + 5*2.00 + 3*3.00
	if !p.FinalPrice.Equal(decimal.RequireFromString("569.00")) {
		t.Errorf("final price = %s, want 569.00", p.FinalPrice)
	}
	if len(p.OffRecord) != 1 || p.OffRecord[0].Name != "Vitamin C" {
		t.Errorf("off record = %+v", p.OffRecord)
	}
	if f.stock.remaining(f.b1.ID) != 0 || f.stock.remaining(f.b2.ID) != 7 {
		t.Error("stock not drawn")
	}
	if f.entries.entries[f.entryID].Status != queue.EntryPrescribed {
		t.Errorf("entry status = %s", f.entries.entries[f.entryID].Status)
	}
	if len(f.repo.prescriptions) != 1 || len(f.repo.items) != 2 {
		t.Error("prescription rows not written")
	}
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, eventType string, data any) {
	e := data.(*queue.Entry)
	p.events = append(p.events, topic+"/"+eventType+"/"+string(e.Status))
}

func TestPrescribe_PublishesEntryStatus(t *testing.T) {
	f := newFixture()
	pub := &recordingPublisher{}
	f.svc.SetPublisher(pub)

	if _, err := f.svc.Prescribe(asRole(auth.RoleDoctor), f.request(16)); err == nil {
		t.Fatal("expected insufficient stock")
	}
	if len(pub.events) != 0 {
		t.Fatalf("rolled back prescription published %v", pub.events)
	}

	if _, err := f.svc.Prescribe(asRole(auth.RoleDoctor), f.request(2)); err != nil {
		t.Fatalf("Prescribe: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0] != "queue/queue.entry.status/PRESCRIBED" {
		t.Errorf("events = %v", pub.events)
	}
}

func TestPrescribe_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture()
	req := f.request(4)
	req.Drugs = append(req.Drugs, DrugLine{DrugModelID: f.modelID, BrandID: f.brandID, Quantity: 20})

	_, err := f.svc.Prescribe(asRole(auth.RoleDoctor), req)
	if !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if f.stock.remaining(f.b1.ID) != 5 || f.stock.remaining(f.b2.ID) != 10 {
		t.Error("first line's draw must be rolled back")
	}
	if len(f.repo.prescriptions) != 0 {
		t.Error("no prescription may be written")
	}
	if f.entries.entries[f.entryID].Status != queue.EntryPending {
		t.Error("entry must stay PENDING")
	}
}

func TestPrescribe_CountsUnitsOnlyAfterCommit(t *testing.T) {
	f := newFixture()
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	f.svc.SetMetrics(m)

	req := f.request(4)
	req.Drugs = append(req.Drugs, DrugLine{DrugModelID: f.modelID, BrandID: f.brandID, Quantity: 20})
	if _, err := f.svc.Prescribe(asRole(auth.RoleDoctor), req); err == nil {
		t.Fatal("expected insufficient stock")
	}
	if got := testutil.ToFloat64(m.UnitsDispensed); got != 0 {
		t.Errorf("units after rollback = %v, want 0", got)
	}

	if _, err := f.svc.Prescribe(asRole(auth.RoleDoctor), f.request(8)); err != nil {
		t.Fatalf("Prescribe: %v", err)
	}
	if got := testutil.ToFloat64(m.UnitsDispensed); got != 8 {
		t.Errorf("units = %v, want 8", got)
	}
}

func TestPrescribe_StoreFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.repo.failIssued = errors.New("disk full")

	_, err := f.svc.Prescribe(asRole(auth.RoleDoctor), f.request(2))
	if !apperr.IsKind(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if f.stock.remaining(f.b1.ID) != 5 {
		t.Error("stock must be restored")
	}
	if len(f.repo.prescriptions) != 0 {
		t.Error("prescription must be rolled back")
	}
}

func TestPrescribe_EntryAlreadyPrescribed(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Prescribe(asRole(auth.RoleDoctor), f.request(1)); err != nil {
		t.Fatalf("first Prescribe: %v", err)
	}
	_, err := f.svc.Prescribe(asRole(auth.RoleDoctor), f.request(1))
	if apperr.CodeOf(err) != apperr.CodeInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if f.stock.remaining(f.b1.ID) != 4 {
		t.Errorf("second prescription's draw must be rolled back, remaining %d", f.stock.remaining(f.b1.ID))
	}
}

func TestPrescribe_EntryOfAnotherPatient(t *testing.T) {
	f := newFixture()
	req := f.request(1)
	req.PatientID = uuid.New()
	if _, err := f.svc.Prescribe(asRole(auth.RoleDoctor), req); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPrescribe_WithoutQueueOrDrugs(t *testing.T) {
	f := newFixture()
	p, err := f.svc.Prescribe(asRole(auth.RoleDoctor), PrescribeRequest{PatientID: f.patientID})
	if err != nil {
		t.Fatalf("Prescribe: %v", err)
	}
	if !p.FinalPrice.Equal(decimal.RequireFromString("550")) || len(p.Items) != 0 {
		t.Errorf("prescription = %+v", p)
	}
}

func TestPrescribe_Validation(t *testing.T) {
	f := newFixture()
	ctx := asRole(auth.RoleDoctor)
	zero := 0

	tests := []struct {
		name   string
		mutate func(r *PrescribeRequest)
	}{
		{"missing patient", func(r *PrescribeRequest) { r.PatientID = uuid.Nil }},
		{"zero quantity", func(r *PrescribeRequest) { r.Drugs[0].Quantity = 0 }},
		{"missing brand", func(r *PrescribeRequest) { r.Drugs[0].BrandID = uuid.Nil }},
		{"zero duration", func(r *PrescribeRequest) { r.Drugs[0].DurationDays = &zero }},
		{"blank off-record", func(r *PrescribeRequest) { r.OffRecord[0].Name = "  " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(1)
			tt.mutate(&req)
			if _, err := f.svc.Prescribe(ctx, req); !apperr.IsKind(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestPrescribe_DoctorOnly(t *testing.T) {
	f := newFixture()
	for _, role := range []auth.Role{auth.RoleNurse, auth.RoleAdmin} {
		if _, err := f.svc.Prescribe(asRole(role), f.request(1)); !apperr.IsKind(err, apperr.KindAuthorization) {
			t.Errorf("%s: expected authorization error, got %v", role, err)
		}
	}
}

// -- Read Tests --

func TestGetPrescription(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Prescribe(asRole(auth.RoleDoctor), f.request(8))

	got, err := f.svc.GetPrescription(asRole(auth.RoleNurse), created.ID)
	if err != nil {
		t.Fatalf("GetPrescription: %v", err)
	}
	if len(got.Items) != 2 || len(got.OffRecord) != 1 || !got.FinalPrice.Equal(created.FinalPrice) {
		t.Errorf("prescription = %+v", got)
	}

	if _, err := f.svc.GetPrescription(asRole(auth.RoleNurse), uuid.New()); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListByPatient(t *testing.T) {
	f := newFixture()
	doctor := asRole(auth.RoleDoctor)
	f.svc.Prescribe(doctor, PrescribeRequest{PatientID: f.patientID})
	f.svc.now = func() time.Time { return testNow.Add(time.Hour) }
	latest, _ := f.svc.Prescribe(doctor, PrescribeRequest{PatientID: f.patientID})

	list, total, err := f.svc.ListByPatient(doctor, f.patientID, pagination.Params{Limit: 10})
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if total != 2 || list[0].ID != latest.ID {
		t.Errorf("expected newest first, got %d items", total)
	}

	if _, _, err := f.svc.ListByPatient(asRole(auth.RoleNurse), f.patientID, pagination.Params{Limit: 10}); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Errorf("nurse: expected authorization error, got %v", err)
	}
}

func TestDeleteOffRecordItem(t *testing.T) {
	f := newFixture()
	doctor := asRole(auth.RoleDoctor)
	p, _ := f.svc.Prescribe(doctor, f.request(1))
	itemID := p.OffRecord[0].ID

	if err := f.svc.DeleteOffRecordItem(doctor, uuid.New(), itemID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("wrong prescription: expected not found, got %v", err)
	}
	if err := f.svc.DeleteOffRecordItem(doctor, p.ID, itemID); err != nil {
		t.Fatalf("DeleteOffRecordItem: %v", err)
	}
	got, _ := f.svc.GetPrescription(doctor, p.ID)
	if len(got.OffRecord) != 0 {
		t.Error("item not deleted")
	}
}

func TestPrice(t *testing.T) {
	items := []IssuedItem{
		{Quantity: 3, UnitPrice: decimal.RequireFromString("0.10")},
		{Quantity: 1, UnitPrice: decimal.RequireFromString("0.20")},
	}
	got := Price(decimal.NewFromInt(1), decimal.Zero, items)
	if !got.Equal(decimal.RequireFromString("1.50")) {
		t.Errorf("price = %s", got)
	}
}
