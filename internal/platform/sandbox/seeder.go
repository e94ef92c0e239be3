// Package sandbox generates reproducible demo data for a clinic: a drug
// catalogue with stocked batches, patients, consultation charges and an open
// queue. Everything is written through the domain services, so the seeded
// rows obey the same validation and invariants as live traffic.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
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
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls the volume of generated data.
type SeedConfig struct {
	Patients       int   `json:"patients"`
	DrugModels     int   `json:"drug_models"`
	BatchesPerDrug int   `json:"batches_per_drug"`
	QueueEntries   int   `json:"queue_entries"`
	Seed           int64 `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Patients:       25,
		DrugModels:     10,
		BatchesPerDrug: 2,
		QueueEntries:   8,
	}
}

// SeedResult summarizes a run.
type SeedResult struct {
	Patients     int           `json:"patients"`
	DrugModels   int           `json:"drug_models"`
	Brands       int           `json:"brands"`
	Batches      int           `json:"batches"`
	Skipped      int           `json:"skipped"`
	QueueID      uuid.UUID     `json:"queue_id"`
	QueueEntries int           `json:"queue_entries"`
	Duration     time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Pools
// ---------------------------------------------------------------------------

type drugDef struct {
	Name        string
	BufferLevel int
	Price       string
}

var (
	firstNamesMale = []string{
		"Nimal", "Kamal", "Sunil", "Ruwan", "Chaminda", "Asela", "Tharindu",
		"Dinesh", "Lahiru", "Kasun", "Mahesh", "Pradeep", "Saman", "Upul",
	}
	firstNamesFemale = []string{
		"Kamala", "Nadeesha", "Dilani", "Sanduni", "Chathurika", "Ishara",
		"Malini", "Anusha", "Tharushi", "Hiruni", "Shashika", "Iresha",
	}
	lastNames = []string{
		"Perera", "Fernando", "Silva", "Jayasinghe", "Bandara", "Wijesinghe",
		"Gunawardena", "Rathnayake", "Dissanayake", "Herath", "Kumara",
		"Senanayake", "Wickramasinghe", "Ranasinghe",
	}
	towns = []string{
		"Kandy", "Peradeniya", "Katugastota", "Gampola", "Matale",
		"Kurunegala", "Nawalapitiya", "Digana",
	}
	bloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "O+", "O-"}

	drugs = []drugDef{
		{"Paracetamol 500mg", 200, "2.00"},
		{"Amoxicillin 250mg", 100, "6.50"},
		{"Metformin 500mg", 150, "3.25"},
		{"Losartan 50mg", 80, "8.00"},
		{"Salbutamol inhaler", 10, "450.00"},
		{"Cetirizine 10mg", 60, "1.75"},
		{"Omeprazole 20mg", 90, "4.40"},
		{"Prednisolone 5mg", 50, "0.90"},
		{"Chlorpheniramine 4mg", 60, "0.60"},
		{"ORS sachet", 40, "35.00"},
		{"Atorvastatin 10mg", 80, "5.10"},
		{"Amlodipine 5mg", 80, "2.80"},
	}
	brands = []string{"State Pharma", "Astron", "Hemas", "Cipla", "Sun Pharma"}
)

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator is deterministic for a given seed and safe for concurrent use.
type DataGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
	n   int
}

func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) GeneratePatient() *identity.Patient {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++

	gender := identity.GenderMale
	first := g.pick(firstNamesMale)
	nicSuffix := "V"
	if g.rng.Intn(2) == 0 {
		gender = identity.GenderFemale
		first = g.pick(firstNamesFemale)
		nicSuffix = "X"
	}
	birth := time.Date(1940+g.rng.Intn(80), time.Month(1+g.rng.Intn(12)), 1+g.rng.Intn(28), 0, 0, 0, 0, time.UTC)
	phone := fmt.Sprintf("07%d%07d", g.rng.Intn(9), g.rng.Intn(10_000_000))
	nic := fmt.Sprintf("%02d%07d%s", birth.Year()%100, g.n*100+g.rng.Intn(100), nicSuffix)
	address := fmt.Sprintf("%d Temple Road, %s", 1+g.rng.Intn(200), g.pick(towns))
	blood := g.pick(bloodGroups)

	return &identity.Patient{
		Name:       first + " " + g.pick(lastNames),
		Phone:      &phone,
		NIC:        &nic,
		Gender:     &gender,
		BirthDate:  &birth,
		Address:    &address,
		BloodGroup: &blood,
	}
}

// GenerateIntake builds a batch expiring 3 to 18 months after now.
func (g *DataGenerator) GenerateIntake(model *inventory.DrugModel, brand *inventory.Brand, price string, now time.Time) inventory.IntakeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++

	return inventory.IntakeRequest{
		DrugModelID: model.ID,
		BrandID:     brand.ID,
		Number:      fmt.Sprintf("LOT-%05d", g.n),
		FullAmount:  model.BufferLevel/2 + g.rng.Intn(model.BufferLevel+1),
		UnitPrice:   decimal.RequireFromString(price),
		ExpiryDate:  now.AddDate(0, 3+g.rng.Intn(16), 0),
	}
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

type PatientWriter interface {
	CreatePatient(ctx context.Context, p *identity.Patient) error
}

type StockWriter interface {
	CreateDrugModel(ctx context.Context, m *inventory.DrugModel) error
	CreateBrand(ctx context.Context, b *inventory.Brand) error
	ListBrands(ctx context.Context) ([]*inventory.Brand, error)
	RecordStockIntake(ctx context.Context, req inventory.IntakeRequest) (*inventory.Batch, error)
}

type ChargeWriter interface {
	SetCharge(ctx context.Context, t billing.ChargeType, value decimal.Decimal) (*billing.Charge, error)
}

type QueueWriter interface {
	GetActiveQueue(ctx context.Context) (*queue.Queue, error)
	CreateQueue(ctx context.Context) (*queue.Queue, error)
	AddPatientToQueue(ctx context.Context, queueID, patientID uuid.UUID) (*queue.Entry, error)
}

// Targets are the services a Seeder writes through.
type Targets struct {
	Patients  PatientWriter
	Inventory StockWriter
	Charges   ChargeWriter
	Queue     QueueWriter
}

type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
	targets   Targets
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSeeder seeds from config.Seed, or from the clock when it is zero.
func NewSeeder(config SeedConfig, targets Targets, logger zerolog.Logger) *Seeder {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if config.DrugModels > len(drugs) {
		config.DrugModels = len(drugs)
	}
	if config.QueueEntries > config.Patients {
		config.QueueEntries = config.Patients
	}
	return &Seeder{
		generator: NewDataGenerator(seed),
		config:    config,
		targets:   targets,
		logger:    logger.With().Str("component", "sandbox").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run writes the demo data. ctx must carry a doctor principal since charges
// are doctor-only. Existing brands and an already open queue are reused;
// drug models that already exist are skipped along with their stock.
func (s *Seeder) Run(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	if _, err := s.targets.Charges.SetCharge(ctx, billing.ChargeDoctor, decimal.NewFromInt(500)); err != nil {
		return nil, fmt.Errorf("set doctor charge: %w", err)
	}
	if _, err := s.targets.Charges.SetCharge(ctx, billing.ChargeDispensary, decimal.NewFromInt(50)); err != nil {
		return nil, fmt.Errorf("set dispensary charge: %w", err)
	}

	existing, err := s.targets.Inventory.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	known := make(map[string]*inventory.Brand, len(existing))
	for _, b := range existing {
		known[strings.ToLower(b.Name)] = b
	}
	brandRows := make([]*inventory.Brand, 0, len(brands))
	for _, name := range brands {
		b, ok := known[strings.ToLower(name)]
		if !ok {
			b = &inventory.Brand{Name: name}
			if err := s.targets.Inventory.CreateBrand(ctx, b); err != nil {
				return nil, fmt.Errorf("create brand %q: %w", name, err)
			}
			result.Brands++
		}
		brandRows = append(brandRows, b)
	}

	now := s.now()
	for i := 0; i < s.config.DrugModels; i++ {
		def := drugs[i]
		m := &inventory.DrugModel{Name: def.Name, BufferLevel: def.BufferLevel}
		err := s.targets.Inventory.CreateDrugModel(ctx, m)
		if apperr.CodeOf(err) == apperr.CodeDuplicate {
			result.Skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create drug model %q: %w", def.Name, err)
		}
		result.DrugModels++

		brand := brandRows[i%len(brandRows)]
		for j := 0; j < s.config.BatchesPerDrug; j++ {
			if _, err := s.targets.Inventory.RecordStockIntake(ctx, s.generator.GenerateIntake(m, brand, def.Price, now)); err != nil {
				return nil, fmt.Errorf("stock %q: %w", def.Name, err)
			}
			result.Batches++
		}
	}

	patients := make([]*identity.Patient, 0, s.config.Patients)
	for i := 0; i < s.config.Patients; i++ {
		p := s.generator.GeneratePatient()
		if err := s.targets.Patients.CreatePatient(ctx, p); err != nil {
			return nil, fmt.Errorf("create patient: %w", err)
		}
		patients = append(patients, p)
	}
	result.Patients = len(patients)

	if s.config.QueueEntries > 0 {
		q, err := s.targets.Queue.GetActiveQueue(ctx)
		if apperr.IsKind(err, apperr.KindNotFound) {
			q, err = s.targets.Queue.CreateQueue(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("open queue: %w", err)
		}
		result.QueueID = q.ID
		for _, p := range patients[:s.config.QueueEntries] {
			if _, err := s.targets.Queue.AddPatientToQueue(ctx, q.ID, p.ID); err != nil {
				return nil, fmt.Errorf("queue patient: %w", err)
			}
			result.QueueEntries++
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("patients", result.Patients).
		Int("drug_models", result.DrugModels).
		Int("batches", result.Batches).
		Int("queue_entries", result.QueueEntries).
		Dur("duration", result.Duration).
		Msg("demo data seeded")
	return result, nil
}
