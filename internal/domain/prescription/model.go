package prescription

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Prescription maps to the prescription table. FinalPrice is fixed when the
// prescription is written and is what billing sums.
type Prescription struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	PatientID           uuid.UUID       `db:"patient_id" json:"patient_id"`
	QueueEntryID        *uuid.UUID      `db:"queue_entry_id" json:"queue_entry_id,omitempty"`
	PrescribedBy        uuid.UUID       `db:"prescribed_by" json:"prescribed_by"`
	Time                time.Time       `db:"time" json:"time"`
	PresentingComplaint *string         `db:"presenting_complaint" json:"presenting_complaint,omitempty"`
	Diagnosis           *string         `db:"diagnosis" json:"diagnosis,omitempty"`
	DoctorCharge        decimal.Decimal `db:"doctor_charge" json:"doctor_charge"`
	DispensaryCharge    decimal.Decimal `db:"dispensary_charge" json:"dispensary_charge"`
	FinalPrice          decimal.Decimal `db:"final_price" json:"final_price"`

	Items     []IssuedItem    `json:"items"`
	OffRecord []OffRecordItem `json:"off_record"`
}

// IssuedItem maps to the issued_item table: units of one batch handed out.
type IssuedItem struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PrescriptionID uuid.UUID       `db:"prescription_id" json:"prescription_id"`
	BatchID        uuid.UUID       `db:"batch_id" json:"batch_id"`
	Quantity       int             `db:"quantity" json:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	Dose           *string         `db:"dose" json:"dose,omitempty"`
	Frequency      *string         `db:"frequency" json:"frequency,omitempty"`
	DurationDays   *int            `db:"duration_days" json:"duration_days,omitempty"`
}

func (it IssuedItem) Amount() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// OffRecordItem maps to the off_record_item table: medicine the patient
// obtains outside the clinic's stock. It is never priced.
type OffRecordItem struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	Name           string    `db:"name" json:"name"`
	Description    *string   `db:"description" json:"description,omitempty"`
}

// DrugLine asks for quantity units of a model and brand from stock.
type DrugLine struct {
	DrugModelID  uuid.UUID `json:"drug_model_id"`
	BrandID      uuid.UUID `json:"brand_id"`
	Quantity     int       `json:"quantity"`
	Dose         *string   `json:"dose,omitempty"`
	Frequency    *string   `json:"frequency,omitempty"`
	DurationDays *int      `json:"duration_days,omitempty"`
}

type OffRecordLine struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type PrescribeRequest struct {
	PatientID           uuid.UUID       `json:"patient_id"`
	QueueEntryID        *uuid.UUID      `json:"queue_entry_id,omitempty"`
	PresentingComplaint *string         `json:"presenting_complaint,omitempty"`
	Diagnosis           *string         `json:"diagnosis,omitempty"`
	Drugs               []DrugLine      `json:"drugs"`
	OffRecord           []OffRecordLine `json:"off_record"`
}

// Price is the doctor and dispensary charges plus every issued item at its
// batch unit price.
func Price(doctor, dispensary decimal.Decimal, items []IssuedItem) decimal.Decimal {
	total := doctor.Add(dispensary)
	for _, it := range items {
		total = total.Add(it.Amount())
	}
	return total
}
