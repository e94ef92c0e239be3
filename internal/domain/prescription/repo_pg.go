package prescription

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const prescriptionCols = `id, patient_id, queue_entry_id, prescribed_by, time, presenting_complaint,
	diagnosis, doctor_charge, dispensary_charge, final_price`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.QueueEntryID, &p.PrescribedBy, &p.Time,
		&p.PresentingComplaint, &p.Diagnosis, &p.DoctorCharge, &p.DispensaryCharge, &p.FinalPrice)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (id, patient_id, queue_entry_id, prescribed_by, time,
			presenting_complaint, diagnosis, doctor_charge, dispensary_charge, final_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.PatientID, p.QueueEntryID, p.PrescribedBy, p.Time,
		p.PresentingComplaint, p.Diagnosis, p.DoctorCharge, p.DispensaryCharge, p.FinalPrice,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescription WHERE patient_id = $1`, patientID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescription
		WHERE patient_id = $1
		ORDER BY time DESC
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repoPG) AddIssuedItem(ctx context.Context, it *IssuedItem) error {
	it.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO issued_item (id, prescription_id, batch_id, quantity, unit_price, dose, frequency, duration_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		it.ID, it.PrescriptionID, it.BatchID, it.Quantity, it.UnitPrice, it.Dose, it.Frequency, it.DurationDays,
	)
	return err
}

func (r *repoPG) ListIssuedItems(ctx context.Context, prescriptionID uuid.UUID) ([]IssuedItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, batch_id, quantity, unit_price, dose, frequency, duration_days
		FROM issued_item WHERE prescription_id = $1
		ORDER BY id`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IssuedItem
	for rows.Next() {
		var it IssuedItem
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.BatchID, &it.Quantity, &it.UnitPrice,
			&it.Dose, &it.Frequency, &it.DurationDays); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *repoPG) AddOffRecordItem(ctx context.Context, it *OffRecordItem) error {
	it.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO off_record_item (id, prescription_id, name, description)
		VALUES ($1, $2, $3, $4)`,
		it.ID, it.PrescriptionID, it.Name, it.Description,
	)
	return err
}

func (r *repoPG) ListOffRecordItems(ctx context.Context, prescriptionID uuid.UUID) ([]OffRecordItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, name, description
		FROM off_record_item WHERE prescription_id = $1
		ORDER BY name`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OffRecordItem
	for rows.Next() {
		var it OffRecordItem
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.Name, &it.Description); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *repoPG) DeleteOffRecordItem(ctx context.Context, prescriptionID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM off_record_item WHERE id = $1 AND prescription_id = $2`, id, prescriptionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
