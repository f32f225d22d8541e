package insurance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hms/hms/internal/platform/db"
)

// -- Claims --

type claimRepoPG struct {
	db db.Querier
}

func NewClaimRepo(q db.Querier) ClaimRepository {
	return &claimRepoPG{db: q}
}

func (r *claimRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.db)
}

const claimCols = `id, claim_number, claim_reference, patient_id, invoice_id, preauthorization_id,
	member_number, scheme_code, diagnosis, diagnosis_code, service_date, services, attachments,
	claimed_amount, approved_amount, rejected_amount, status, rejection_reason,
	submitted_at, approved_at, paid_at, request_data, response_data, created_by, created_at, updated_at`

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Services == nil {
		c.Services = []ServiceLine{}
	}
	if c.Attachments == nil {
		c.Attachments = []Attachment{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO afyalink_claims (id, claim_number, claim_reference, patient_id, invoice_id, preauthorization_id,
			member_number, scheme_code, diagnosis, diagnosis_code, service_date, services, attachments,
			claimed_amount, approved_amount, rejected_amount, status, rejection_reason,
			submitted_at, request_data, response_data, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		RETURNING created_at, updated_at`,
		c.ID, c.ClaimNumber, c.ClaimReference, c.PatientID, c.InvoiceID, c.PreauthorizationID,
		c.MemberNumber, c.SchemeCode, c.Diagnosis, c.DiagnosisCode, c.ServiceDate, c.Services, c.Attachments,
		c.ClaimedAmount, c.ApprovedAmount, c.RejectedAmount, c.Status, c.RejectionReason,
		c.SubmittedAt, c.RequestData, c.ResponseData, c.CreatedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "afyalink_claims_invoice_id_key" {
				return ErrClaimExists
			}
			return fmt.Errorf("claim create: duplicate %s: %w", pgErr.ConstraintName, err)
		}
		return fmt.Errorf("claim create: %w", err)
	}
	return nil
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM afyalink_claims WHERE id = $1`, id))
	if err != nil {
		return nil, readErr("claim", err)
	}
	return c, nil
}

func (r *claimRepoPG) GetByInvoice(ctx context.Context, invoiceID uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM afyalink_claims WHERE invoice_id = $1`, invoiceID))
	if err != nil {
		return nil, readErr("claim", err)
	}
	return c, nil
}

func (r *claimRepoPG) ClaimNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM afyalink_claims WHERE claim_number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("claim number lookup: %w", err)
	}
	return exists, nil
}

func (r *claimRepoPG) UpdateStatus(ctx context.Context, c *Claim) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE afyalink_claims SET status=$2, approved_amount=$3, rejected_amount=$4, rejection_reason=$5,
			approved_at=$6, paid_at=$7, response_data=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Status, c.ApprovedAmount, c.RejectedAmount, c.RejectionReason,
		c.ApprovedAt, c.PaidAt, c.ResponseData,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return readErr("claim update", err)
	}
	return nil
}

func (r *claimRepoPG) AppendAttachment(ctx context.Context, claimID uuid.UUID, a Attachment) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("attachment encode: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE afyalink_claims
		SET attachments = COALESCE(attachments, '[]'::jsonb) || jsonb_build_array($2::jsonb), updated_at = NOW()
		WHERE id = $1`, claimID, string(doc))
	if err != nil {
		return fmt.Errorf("attachment append: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("claim")
	}
	return nil
}

func (r *claimRepoPG) List(ctx context.Context, filter ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	clause, args := claimWhere(filter)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM afyalink_claims`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM afyalink_claims%s ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`,
		claimCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		claims = append(claims, c)
	}
	return claims, total, rows.Err()
}

func (r *claimRepoPG) Statistics(ctx context.Context, filter ClaimFilter) ([]StatusTotals, error) {
	clause, args := claimWhere(filter)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(claimed_amount), 0), COALESCE(SUM(approved_amount), 0)
		FROM afyalink_claims`+clause+`
		GROUP BY status ORDER BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusTotals
	for rows.Next() {
		var s StatusTotals
		if err := rows.Scan(&s.Status, &s.Count, &s.ClaimedTotal, &s.ApprovedTotal); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func claimWhere(filter ClaimFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.InvoiceID != nil {
		args = append(args, *filter.InvoiceID)
		where = append(where, fmt.Sprintf("invoice_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// -- Pre-authorizations --

type preauthRepoPG struct {
	db db.Querier
}

func NewPreauthRepo(q db.Querier) PreauthRepository {
	return &preauthRepoPG{db: q}
}

func (r *preauthRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.db)
}

const preauthCols = `id, preauth_reference, patient_id, member_number, scheme_code, diagnosis, diagnosis_code,
	expected_service_date, services, requested_amount, approved_amount, status, rejection_reason, notes,
	submitted_at, expires_at, request_data, response_data, created_at, updated_at`

func (r *preauthRepoPG) Create(ctx context.Context, p *Preauthorization) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Services == nil {
		p.Services = []ServiceLine{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO afyalink_preauthorizations (id, patient_id, member_number, scheme_code, diagnosis, diagnosis_code,
			expected_service_date, services, requested_amount, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.MemberNumber, p.SchemeCode, p.Diagnosis, p.DiagnosisCode,
		p.ExpectedServiceDate, p.Services, p.RequestedAmount, p.Status, p.Notes,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("preauthorization create: %w", err)
	}
	return nil
}

func (r *preauthRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Preauthorization, error) {
	p, err := scanPreauth(r.conn(ctx).QueryRow(ctx, `SELECT `+preauthCols+` FROM afyalink_preauthorizations WHERE id = $1`, id))
	if err != nil {
		return nil, readErr("preauthorization", err)
	}
	return p, nil
}

func (r *preauthRepoPG) Update(ctx context.Context, p *Preauthorization) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE afyalink_preauthorizations SET preauth_reference=$2, status=$3, approved_amount=$4,
			rejection_reason=$5, submitted_at=$6, expires_at=$7, request_data=$8, response_data=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.PreauthReference, p.Status, p.ApprovedAmount, p.RejectionReason,
		p.SubmittedAt, p.ExpiresAt, p.RequestData, p.ResponseData,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return readErr("preauthorization update", err)
	}
	return nil
}

func (r *preauthRepoPG) List(ctx context.Context, filter PreauthFilter, limit, offset int) ([]*Preauthorization, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM afyalink_preauthorizations`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM afyalink_preauthorizations%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		preauthCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []*Preauthorization
	for rows.Next() {
		p, err := scanPreauth(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, p)
	}
	return list, total, rows.Err()
}

// -- Audit logs --

type auditRepoPG struct {
	db db.Querier
}

func NewAuditRepo(q db.Querier) AuditRepository {
	return &auditRepoPG{db: q}
}

const auditCols = `id, action, endpoint, patient_id, request_payload, response_data, status_code,
	error_message, user_id, ip_address, duration_ms, created_at`

func (r *auditRepoPG) Insert(ctx context.Context, l *AuditLog) error {
	err := db.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO afyalink_audit_logs (action, endpoint, patient_id, request_payload, response_data, status_code,
			error_message, user_id, ip_address, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, created_at`,
		l.Action, l.Endpoint, l.PatientID, l.RequestPayload, l.ResponseData, l.StatusCode,
		l.ErrorMessage, l.UserID, l.IPAddress, l.DurationMS,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}

func (r *auditRepoPG) List(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditLog, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Action != "" {
		args = append(args, filter.Action)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.db)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM afyalink_audit_logs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM afyalink_audit_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		auditCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.Action, &l.Endpoint, &l.PatientID, &l.RequestPayload, &l.ResponseData,
			&l.StatusCode, &l.ErrorMessage, &l.UserID, &l.IPAddress, &l.DurationMS, &l.CreatedAt); err != nil {
			return nil, 0, err
		}
		logs = append(logs, &l)
	}
	return logs, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.ClaimReference, &c.PatientID, &c.InvoiceID, &c.PreauthorizationID,
		&c.MemberNumber, &c.SchemeCode, &c.Diagnosis, &c.DiagnosisCode, &c.ServiceDate, &c.Services, &c.Attachments,
		&c.ClaimedAmount, &c.ApprovedAmount, &c.RejectedAmount, &c.Status, &c.RejectionReason,
		&c.SubmittedAt, &c.ApprovedAt, &c.PaidAt, &c.RequestData, &c.ResponseData, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanPreauth(row rowScanner) (*Preauthorization, error) {
	var p Preauthorization
	err := row.Scan(&p.ID, &p.PreauthReference, &p.PatientID, &p.MemberNumber, &p.SchemeCode, &p.Diagnosis, &p.DiagnosisCode,
		&p.ExpectedServiceDate, &p.Services, &p.RequestedAmount, &p.ApprovedAmount, &p.Status, &p.RejectionReason, &p.Notes,
		&p.SubmittedAt, &p.ExpiresAt, &p.RequestData, &p.ResponseData, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func readErr(entity string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(strings.TrimSuffix(entity, " update"))
	}
	return fmt.Errorf("%s: %w", entity, err)
}
