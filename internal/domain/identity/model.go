package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

func ParseGender(s string) (Gender, bool) {
	switch g := Gender(strings.ToUpper(strings.TrimSpace(s))); g {
	case GenderMale, GenderFemale, GenderOther:
		return g, true
	}
	return "", false
}

// Patient maps to the patient table.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	NIC        *string    `db:"nic" json:"nic,omitempty"`
	Gender     *Gender    `db:"gender" json:"gender,omitempty"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Address    *string    `db:"address" json:"address,omitempty"`
	BloodGroup *string    `db:"blood_group" json:"blood_group,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

type HistoryKind string

const (
	HistoryMedical  HistoryKind = "MEDICAL"
	HistoryAllergy  HistoryKind = "ALLERGY"
	HistorySurgical HistoryKind = "SURGICAL"
	HistoryFamily   HistoryKind = "FAMILY"
	HistorySocial   HistoryKind = "SOCIAL"
)

func ParseHistoryKind(s string) (HistoryKind, bool) {
	switch k := HistoryKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case HistoryMedical, HistoryAllergy, HistorySurgical, HistoryFamily, HistorySocial:
		return k, true
	}
	return "", false
}

// HistoryNote maps to the patient_history table.
type HistoryNote struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	PatientID   uuid.UUID   `db:"patient_id" json:"patient_id"`
	Kind        HistoryKind `db:"kind" json:"kind"`
	Name        string      `db:"name" json:"name"`
	Description *string     `db:"description" json:"description,omitempty"`
	RecordedAt  time.Time   `db:"recorded_at" json:"recorded_at"`
	RecordedBy  *uuid.UUID  `db:"recorded_by" json:"recorded_by,omitempty"`
}

// StaffUser maps to the staff_user table. The hash never leaves the server.
type StaffUser struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Role         auth.Role `db:"role" json:"role"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (u *StaffUser) Principal() auth.Principal {
	return auth.Principal{ID: u.ID, Role: u.Role}
}

// NewStaffUser is the input for creating a staff account.
type NewStaffUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

// PatientFilter narrows a patient listing. Empty fields are ignored.
type PatientFilter struct {
	Name  string
	Phone string
	NIC   string
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
