package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, name, phone, nic, gender, birth_date, address, blood_group, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.NIC, &p.Gender, &p.BirthDate,
		&p.Address, &p.BloodGroup, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, name, phone, nic, gender, birth_date, address, blood_group)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Phone, p.NIC, p.Gender, p.BirthDate, p.Address, p.BloodGroup,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET name = $2, phone = $3, nic = $4, gender = $5, birth_date = $6,
			address = $7, blood_group = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Phone, p.NIC, p.Gender, p.BirthDate, p.Address, p.BloodGroup,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	qb := db.NewSearchQuery("patient", patientCols)
	if f.Name != "" {
		qb.AddContains("name", f.Name)
	}
	if f.Phone != "" {
		qb.AddContains("phone", f.Phone)
	}
	if f.NIC != "" {
		qb.AddEqual("nic", f.NIC)
	}
	qb.OrderBy("LOWER(name), created_at")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// -- History --

func (r *patientRepoPG) AddHistory(ctx context.Context, n *HistoryNote) error {
	n.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_history (id, patient_id, kind, name, description, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING recorded_at`,
		n.ID, n.PatientID, n.Kind, n.Name, n.Description, n.RecordedBy,
	).Scan(&n.RecordedAt)
}

func (r *patientRepoPG) ListHistory(ctx context.Context, patientID uuid.UUID) ([]*HistoryNote, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, kind, name, description, recorded_at, recorded_by
		FROM patient_history WHERE patient_id = $1
		ORDER BY recorded_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*HistoryNote
	for rows.Next() {
		var n HistoryNote
		if err := rows.Scan(&n.ID, &n.PatientID, &n.Kind, &n.Name, &n.Description, &n.RecordedAt, &n.RecordedBy); err != nil {
			return nil, err
		}
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

func (r *patientRepoPG) DeleteHistory(ctx context.Context, patientID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_history WHERE id = $1 AND patient_id = $2`, id, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// -- Staff Repository --

type staffRepoPG struct {
	pool *pgxpool.Pool
}

func NewStaffRepo(pool *pgxpool.Pool) StaffRepository {
	return &staffRepoPG{pool: pool}
}

func (r *staffRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const staffCols = `id, name, email, role, password_hash, active, created_at, updated_at`

func scanStaff(row pgx.Row) (*StaffUser, error) {
	var u StaffUser
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *staffRepoPG) Create(ctx context.Context, u *StaffUser) error {
	u.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff_user (id, name, email, role, password_hash, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, u.Email, u.Role, u.PasswordHash, u.Active,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*StaffUser, error) {
	return scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffCols+` FROM staff_user WHERE id = $1`, id))
}

func (r *staffRepoPG) GetByEmail(ctx context.Context, email string) (*StaffUser, error) {
	return scanStaff(r.conn(ctx).QueryRow(ctx,
		`SELECT `+staffCols+` FROM staff_user WHERE LOWER(email) = LOWER($1)`, email))
}

func (r *staffRepoPG) List(ctx context.Context, limit, offset int) ([]*StaffUser, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff_user`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+staffCols+` FROM staff_user ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*StaffUser
	for rows.Next() {
		u, err := scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *staffRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.exec(ctx, `UPDATE staff_user SET active = $2, updated_at = $3 WHERE id = $1`, id, active, time.Now())
}

func (r *staffRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.exec(ctx, `UPDATE staff_user SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, time.Now())
}

func (r *staffRepoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
