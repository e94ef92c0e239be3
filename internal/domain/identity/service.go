package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/telemetry"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

// ErrInvalidCredentials is returned for unknown emails, inactive accounts and
// wrong passwords alike.
var ErrInvalidCredentials = &apperr.Error{
	Kind:    apperr.KindUnauthenticated,
	Code:    apperr.CodeInvalidCredentials,
	Message: "invalid email or password",
}

type Service struct {
	patients PatientRepository
	staff    StaffRepository
	sessions *auth.SessionManager
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

func NewService(patients PatientRepository, staff StaffRepository, sessions *auth.SessionManager, logger zerolog.Logger) *Service {
	return &Service{
		patients: patients,
		staff:    staff,
		sessions: sessions,
		logger:   logger.With().Str("component", "identity").Logger(),
	}
}

// SetMetrics attaches an optional metrics recorder.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

func (s *Service) fail(op, what string, err error) error {
	return db.StoreError(s.logger, op, what, err)
}

// -- Patient --

func validatePatient(p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if p.Gender != nil {
		g, ok := ParseGender(string(*p.Gender))
		if !ok {
			return apperr.Validation("gender must be MALE, FEMALE or OTHER")
		}
		p.Gender = &g
	}
	if p.BirthDate != nil && p.BirthDate.After(time.Now()) {
		return apperr.Validation("birth_date must not be in the future")
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return err
	}
	if err := validatePatient(p); err != nil {
		return err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return s.fail("create patient", "patient", err)
	}
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail("get patient", "patient", err)
	}
	return p, nil
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return err
	}
	if err := validatePatient(p); err != nil {
		return err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return s.fail("update patient", "patient", err)
	}
	return nil
}

func (s *Service) SearchPatients(ctx context.Context, f PatientFilter, p pagination.Params) ([]*Patient, int, error) {
	if _, err := auth.Authorize(ctx, auth.AnyAuthenticated); err != nil {
		return nil, 0, err
	}
	f.Name = strings.TrimSpace(f.Name)
	f.Phone = strings.TrimSpace(f.Phone)
	f.NIC = strings.TrimSpace(f.NIC)
	patients, total, err := s.patients.Search(ctx, f, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, s.fail("search patients", "patient", err)
	}
	return patients, total, nil
}

// -- History --

func (s *Service) AddHistoryNote(ctx context.Context, n *HistoryNote) error {
	doctor, err := auth.Authorize(ctx, auth.DoctorOnly)
	if err != nil {
		return err
	}
	kind, ok := ParseHistoryKind(string(n.Kind))
	if !ok {
		return apperr.Validation("kind must be one of MEDICAL, ALLERGY, SURGICAL, FAMILY, SOCIAL")
	}
	n.Kind = kind
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return apperr.Validation("name is required")
	}
	n.RecordedBy = &doctor.ID
	if err := s.patients.AddHistory(ctx, n); err != nil {
		return s.fail("add history note", "patient", err)
	}
	return nil
}

func (s *Service) ListHistory(ctx context.Context, patientID uuid.UUID) ([]*HistoryNote, error) {
	if _, err := auth.Authorize(ctx, auth.DoctorOnly); err != nil {
		return nil, err
	}
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, s.fail("get patient", "patient", err)
	}
	notes, err := s.patients.ListHistory(ctx, patientID)
	if err != nil {
		return nil, s.fail("list history", "history note", err)
	}
	return notes, nil
}

func (s *Service) DeleteHistoryNote(ctx context.Context, patientID, id uuid.UUID) error {
	if _, err := auth.Authorize(ctx, auth.DoctorOnly); err != nil {
		return err
	}
	if err := s.patients.DeleteHistory(ctx, patientID, id); err != nil {
		return s.fail("delete history note", "history note", err)
	}
	return nil
}

// -- Staff --

// ProvisionUser creates a staff account without an authenticated caller. It
// backs the command line bootstrap; HTTP callers go through CreateStaffUser.
func (s *Service) ProvisionUser(ctx context.Context, in NewStaffUser) (*StaffUser, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	role, ok := auth.ParseRole(in.Role)
	switch {
	case in.Name == "":
		return nil, apperr.Validation("name is required")
	case in.Email == "" || !strings.Contains(in.Email, "@"):
		return nil, apperr.Validation("a valid email is required")
	case !ok:
		return nil, apperr.Validation("role must be ADMIN, DOCTOR or NURSE")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	u := &StaffUser{Name: in.Name, Email: in.Email, Role: role, PasswordHash: hash, Active: true}
	if err := s.staff.Create(ctx, u); err != nil {
		return nil, s.fail("create staff user", "staff user", err)
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(role)).Msg("staff user created")
	return u, nil
}

func (s *Service) CreateStaffUser(ctx context.Context, in NewStaffUser) (*StaffUser, error) {
	if _, err := auth.Authorize(ctx, auth.AdminOnly); err != nil {
		return nil, err
	}
	return s.ProvisionUser(ctx, in)
}

func (s *Service) ListStaff(ctx context.Context, p pagination.Params) ([]*StaffUser, int, error) {
	if _, err := auth.Authorize(ctx, auth.AdminOnly); err != nil {
		return nil, 0, err
	}
	users, total, err := s.staff.List(ctx, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, s.fail("list staff", "staff user", err)
	}
	return users, total, nil
}

func (s *Service) SetStaffActive(ctx context.Context, id uuid.UUID, active bool) error {
	admin, err := auth.Authorize(ctx, auth.AdminOnly)
	if err != nil {
		return err
	}
	if admin.ID == id && !active {
		return apperr.Validation("you cannot deactivate your own account")
	}
	if err := s.staff.SetActive(ctx, id, active); err != nil {
		return s.fail("set staff active", "staff user", err)
	}
	if !active && s.sessions != nil {
		s.sessions.RevokeUser(id)
	}
	s.logger.Info().Str("user_id", id.String()).Bool("active", active).Str("by", admin.ID.String()).Msg("staff status changed")
	return nil
}

// -- Authentication --

// Session is the outcome of a successful login.
type Session struct {
	Principal auth.Principal
	Token     string
	ExpiresAt time.Time
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnCompare spends a bcrypt comparison so that unknown emails take as long
// as wrong passwords.
func burnCompare(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = auth.HashPassword(uuid.NewString())
	})
	_ = auth.CheckPassword(dummyHash, password)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	u, err := s.staff.GetByEmail(ctx, email)
	if err != nil {
		err = s.fail("get staff by email", "staff user", err)
		if !apperr.IsKind(err, apperr.KindNotFound) {
			return nil, err
		}
		burnCompare(password)
		s.metrics.Login("failure")
		return nil, ErrInvalidCredentials
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil || !u.Active {
		if err != nil && !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("password check failed")
		}
		s.metrics.Login("failure")
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.sessions.Issue(u.Principal())
	if err != nil {
		return nil, apperr.Internal(err, "issue session")
	}
	s.metrics.Login("success")
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("login")
	return &Session{Principal: u.Principal(), Token: token, ExpiresAt: exp}, nil
}

// ChangePassword replaces a user's password. Users change their own after
// proving the current one; admins may reset anyone else's without it.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	caller, err := auth.Authorize(ctx, auth.AnyAuthenticated)
	if err != nil {
		return err
	}
	self := caller.ID == userID
	if !self && !caller.Role.Can(auth.AdminOnly) {
		return apperr.Forbidden("you can only change your own password")
	}
	if userID == uuid.Nil || next == "" || (self && current == "") {
		return apperr.Validation("userId, currentPassword and newPassword are required")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return apperr.Validation("%s", err.Error())
	}

	u, err := s.staff.GetByID(ctx, userID)
	if err != nil {
		return s.fail("get staff user", "user", err)
	}
	if self {
		if err := auth.CheckPassword(u.PasswordHash, current); err != nil {
			return apperr.Unauthenticated("current password is incorrect")
		}
	}
	if err := s.staff.UpdatePassword(ctx, userID, hash); err != nil {
		return s.fail("update password", "user", err)
	}
	if !self && s.sessions != nil {
		s.sessions.RevokeUser(userID)
	}
	s.logger.Info().Str("user_id", userID.String()).Str("by", caller.ID.String()).Msg("password changed")
	return nil
}
