package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scanapi/internal/crypto"
	"scanapi/internal/model"
	"scanapi/internal/repository"
)

const patientColumns = `id, first_name, last_name, age, phone, gender,
medical_history, appointment_date, appointment_time, scan_type, has_scan,
scan_filename, scan_content_type, scan_size, scan_uploaded_at,
classification_result, confidence_score, created_at, updated_at`

// PatientPostgres is a PostgreSQL implementation of repository.PatientRepository.
// It uses database/sql with parameterized queries and contains no business logic.
// The FieldCodec is applied to the encrypted-at-rest columns (first_name,
// medical_history, scan_type, classification_result) at this boundary.
type PatientPostgres struct {
	db    *sql.DB
	codec *crypto.FieldCodec
}

// NewPatientPostgres creates a new PatientPostgres repository.
func NewPatientPostgres(db *sql.DB, codec *crypto.FieldCodec) *PatientPostgres {
	return &PatientPostgres{db: db, codec: codec}
}

var _ repository.PatientRepository = (*PatientPostgres)(nil)

// IsNoRowsError reports whether err is the driver's no-rows sentinel.
func IsNoRowsError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Create inserts a new patient row and returns the stored record.
func (r *PatientPostgres) Create(ctx context.Context, p *model.Patient) (*model.Patient, error) {
	enc, err := r.seal(p)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		INSERT INTO patients (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING %s
	`, patientColumns, patientColumns)

	row := r.db.QueryRowContext(ctx, q,
		enc.ID,
		enc.FirstName,
		enc.LastName,
		enc.Age,
		enc.Phone,
		enc.Gender,
		enc.MedicalHistory,
		nullTime(enc.AppointmentDate),
		enc.AppointmentTime,
		string(enc.ScanType),
		enc.HasScan,
		enc.ScanFilename,
		enc.ScanContentType,
		enc.ScanSize,
		enc.ScanUploadedAt,
		string(enc.ClassificationResult),
		enc.ConfidenceScore,
		enc.CreatedAt,
		enc.UpdatedAt,
	)
	return r.scanRow(row)
}

// FindByID fetches a single patient by its ID.
func (r *PatientPostgres) FindByID(ctx context.Context, id string) (*model.Patient, error) {
	q := fmt.Sprintf(`SELECT %s FROM patients WHERE id = $1`, patientColumns)
	return r.scanRow(r.db.QueryRowContext(ctx, q, id))
}

// FindByLastNameAndPhone fetches a patient by case-insensitive last name and
// exact phone. Last name and phone are not encrypted at rest, so the lookup
// runs entirely in SQL.
func (r *PatientPostgres) FindByLastNameAndPhone(ctx context.Context, lastName, phone string) (*model.Patient, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM patients
		WHERE lower(last_name) = lower($1) AND phone = $2
		LIMIT 1
	`, patientColumns)
	return r.scanRow(r.db.QueryRowContext(ctx, q, lastName, phone))
}

// List returns all patients, newest first.
func (r *PatientPostgres) List(ctx context.Context) ([]model.Patient, error) {
	q := fmt.Sprintf(`SELECT %s FROM patients ORDER BY created_at DESC, id DESC`, patientColumns)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Patient, 0)
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateClassification writes result and confidence in one statement so the
// pair is always consistent, and bumps updated_at.
func (r *PatientPostgres) UpdateClassification(ctx context.Context, id string, result model.ClassificationResult, confidence float64) (*model.Patient, error) {
	encResult, err := r.codec.EncryptString(string(result))
	if err != nil {
		return nil, fmt.Errorf("encrypt classification result: %w", err)
	}

	q := fmt.Sprintf(`
		UPDATE patients
		SET classification_result = $2, confidence_score = $3, updated_at = $4
		WHERE id = $1
		RETURNING %s
	`, patientColumns)
	return r.scanRow(r.db.QueryRowContext(ctx, q, id, encResult, confidence, time.Now().UTC()))
}

// Delete removes a patient by ID. It does not return an error if the row does not exist.
func (r *PatientPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM patients WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	_, _ = res.RowsAffected()
	return nil
}

// seal returns a copy of p with the protected fields encrypted.
func (r *PatientPostgres) seal(p *model.Patient) (*model.Patient, error) {
	enc := *p

	firstName, err := r.codec.EncryptString(p.FirstName)
	if err != nil {
		return nil, fmt.Errorf("encrypt first_name: %w", err)
	}
	history, err := r.codec.EncryptString(p.MedicalHistory)
	if err != nil {
		return nil, fmt.Errorf("encrypt medical_history: %w", err)
	}
	scanType, err := r.codec.EncryptString(string(p.ScanType))
	if err != nil {
		return nil, fmt.Errorf("encrypt scan_type: %w", err)
	}
	result, err := r.codec.EncryptString(string(p.ClassificationResult))
	if err != nil {
		return nil, fmt.Errorf("encrypt classification_result: %w", err)
	}

	enc.FirstName = firstName
	enc.MedicalHistory = history
	enc.ScanType = model.ScanType(scanType)
	enc.ClassificationResult = model.ClassificationResult(result)
	return &enc, nil
}

// open decrypts the protected fields of a freshly scanned row in place.
func (r *PatientPostgres) open(p *model.Patient) error {
	firstName, err := r.codec.DecryptString(p.FirstName)
	if err != nil {
		return fmt.Errorf("decrypt first_name: %w", err)
	}
	history, err := r.codec.DecryptString(p.MedicalHistory)
	if err != nil {
		return fmt.Errorf("decrypt medical_history: %w", err)
	}
	scanType, err := r.codec.DecryptString(string(p.ScanType))
	if err != nil {
		return fmt.Errorf("decrypt scan_type: %w", err)
	}
	result, err := r.codec.DecryptString(string(p.ClassificationResult))
	if err != nil {
		return fmt.Errorf("decrypt classification_result: %w", err)
	}

	p.FirstName = firstName
	p.MedicalHistory = history
	p.ScanType = model.ScanType(scanType)
	p.ClassificationResult = model.ClassificationResult(result)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PatientPostgres) scanRow(row rowScanner) (*model.Patient, error) {
	var (
		p               model.Patient
		scanType        string
		result          string
		appointmentDate sql.NullTime
		uploadedAt      sql.NullTime
		confidence      sql.NullFloat64
	)
	if err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Age,
		&p.Phone,
		&p.Gender,
		&p.MedicalHistory,
		&appointmentDate,
		&p.AppointmentTime,
		&scanType,
		&p.HasScan,
		&p.ScanFilename,
		&p.ScanContentType,
		&p.ScanSize,
		&uploadedAt,
		&result,
		&confidence,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.ScanType = model.ScanType(scanType)
	p.ClassificationResult = model.ClassificationResult(result)
	if appointmentDate.Valid {
		p.AppointmentDate = appointmentDate.Time
	}
	if uploadedAt.Valid {
		t := uploadedAt.Time
		p.ScanUploadedAt = &t
	}
	if confidence.Valid {
		v := confidence.Float64
		p.ConfidenceScore = &v
	}

	if err := r.open(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
