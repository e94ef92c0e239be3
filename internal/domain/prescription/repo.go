package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// ListByPatient returns headers only, newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)

	AddIssuedItem(ctx context.Context, it *IssuedItem) error
	ListIssuedItems(ctx context.Context, prescriptionID uuid.UUID) ([]IssuedItem, error)

	AddOffRecordItem(ctx context.Context, it *OffRecordItem) error
	ListOffRecordItems(ctx context.Context, prescriptionID uuid.UUID) ([]OffRecordItem, error)
	DeleteOffRecordItem(ctx context.Context, prescriptionID, id uuid.UUID) error
}
