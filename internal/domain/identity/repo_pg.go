package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hms/hms/internal/platform/db"
)

type patientRepoPG struct {
	db db.Querier
}

func NewPatientRepo(q db.Querier) PatientRepository {
	return &patientRepoPG{db: q}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.db)
}

const patientCols = `id, mrn, first_name, last_name, national_id, birth_date, gender,
	phone, email, address, insurance_member_number, insurance_scheme_code,
	created_at, updated_at, deleted_at`

const uniqueViolation = "23505"

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (
			id, mrn, first_name, last_name, national_id, birth_date, gender,
			phone, email, address, insurance_member_number, insurance_scheme_code
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.NationalID, p.BirthDate, p.Gender,
		p.Phone, p.Email, p.Address, p.InsuranceMemberNumber, p.InsuranceSchemeCode,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapWriteErr("patient create", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return nil, mapReadErr("patient get by id", err)
	}
	return p, nil
}

func (r *patientRepoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE mrn = $1 AND deleted_at IS NULL`, mrn))
	if err != nil {
		return nil, mapReadErr("patient get by mrn", err)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET
			mrn=$2, first_name=$3, last_name=$4, national_id=$5, birth_date=$6, gender=$7,
			phone=$8, email=$9, address=$10, insurance_member_number=$11, insurance_scheme_code=$12,
			updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING created_at, updated_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.NationalID, p.BirthDate, p.Gender,
		p.Phone, p.Email, p.Address, p.InsuranceMemberNumber, p.InsuranceSchemeCode,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPatientNotFound
	}
	if err != nil {
		return mapWriteErr("patient update", err)
	}
	return nil
}

func (r *patientRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("patient delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients
		WHERE deleted_at IS NULL ORDER BY last_name, first_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients, err := collectPatients(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	return patients, total, nil
}

// Search matches a case-insensitive fragment of either name, or an exact
// MRN or national id.
func (r *patientRepoPG) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	const where = ` WHERE deleted_at IS NULL AND (
		first_name ILIKE $1 OR last_name ILIKE $1 OR mrn = $2 OR national_id = $2)`
	pattern := "%" + query + "%"

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, pattern, query).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients`+where+`
		ORDER BY last_name, first_name LIMIT $3 OFFSET $4`, pattern, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients, err := collectPatients(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("patient search: %w", err)
	}
	return patients, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.NationalID, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Email, &p.Address, &p.InsuranceMemberNumber, &p.InsuranceSchemeCode,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func mapReadErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPatientNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateMRN
	}
	return fmt.Errorf("%s: %w", op, err)
}
