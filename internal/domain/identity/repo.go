package identity

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error)

	// History
	AddHistory(ctx context.Context, n *HistoryNote) error
	ListHistory(ctx context.Context, patientID uuid.UUID) ([]*HistoryNote, error)
	DeleteHistory(ctx context.Context, patientID, id uuid.UUID) error
}

type StaffRepository interface {
	Create(ctx context.Context, u *StaffUser) error
	GetByID(ctx context.Context, id uuid.UUID) (*StaffUser, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*StaffUser, error)
	List(ctx context.Context, limit, offset int) ([]*StaffUser, int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}
