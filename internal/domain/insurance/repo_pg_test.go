package insurance

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestClaimRepoPG_ClaimNumberExists(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM afyalink_claims WHERE claim_number = $1)`)).
		WithArgs("CLM-20240315-ABC123").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := NewClaimRepo(mock).ClaimNumberExists(context.Background(), "CLM-20240315-ABC123")
	if err != nil {
		t.Fatalf("ClaimNumberExists failed: %v", err)
	}
	if !exists {
		t.Error("expected claim number to exist")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestClaimRepoPG_GetByID_NotFound(t *testing.T) {
	mock := newMockPool(t)
	id := uuid.New()
	mock.ExpectQuery(`(?s)SELECT .+ FROM afyalink_claims WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := NewClaimRepo(mock).GetByID(context.Background(), id)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err == nil || err.Error() != "claim not found" {
		t.Errorf("unexpected message %v", err)
	}
}

func TestClaimRepoPG_Create_DuplicateInvoice(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(`INSERT INTO afyalink_claims`).
		WithArgs(anyArgs(22)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "afyalink_claims_invoice_id_key"})
	mock.ExpectQuery(`INSERT INTO afyalink_claims`).
		WithArgs(anyArgs(22)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "afyalink_claims_claim_number_key"})

	repo := NewClaimRepo(mock)
	err := repo.Create(context.Background(), &Claim{InvoiceID: uuid.New()})
	if !errors.Is(err, ErrClaimExists) {
		t.Errorf("expected ErrClaimExists, got %v", err)
	}
	err = repo.Create(context.Background(), &Claim{InvoiceID: uuid.New()})
	if err == nil || errors.Is(err, ErrClaimExists) {
		t.Errorf("claim number collision should be a plain error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestClaimRepoPG_AppendAttachment(t *testing.T) {
	mock := newMockPool(t)
	id := uuid.New()
	a := Attachment{Type: "invoice", URL: "https://x/doc", FileName: "inv.pdf", UploadedAt: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}

	mock.ExpectExec(`UPDATE afyalink_claims\s+SET attachments = COALESCE`).
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE afyalink_claims\s+SET attachments = COALESCE`).
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewClaimRepo(mock)
	if err := repo.AppendAttachment(context.Background(), id, a); err != nil {
		t.Fatalf("AppendAttachment failed: %v", err)
	}
	if err := repo.AppendAttachment(context.Background(), id, a); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPreauthRepoPG_Update_NotFound(t *testing.T) {
	mock := newMockPool(t)
	p := &Preauthorization{ID: uuid.New(), Status: PreauthStatusSubmitted}
	mock.ExpectQuery(`UPDATE afyalink_preauthorizations SET`).
		WithArgs(append([]any{p.ID}, anyArgs(8)...)...).
		WillReturnError(pgx.ErrNoRows)

	err := NewPreauthRepo(mock).Update(context.Background(), p)
	if !errors.Is(err, ErrNotFound) || err.Error() != "preauthorization not found" {
		t.Errorf("expected preauthorization not found, got %v", err)
	}
}

func TestAuditRepoPG_Insert(t *testing.T) {
	mock := newMockPool(t)
	pid := uuid.New()
	msg := "timeout"
	now := time.Now()
	l := &AuditLog{
		Action:         "submit_claim",
		Endpoint:       "/claims/submit",
		PatientID:      &pid,
		RequestPayload: []byte(`{"claim_number":"CLM-20240315-ABC123"}`),
		StatusCode:     500,
		ErrorMessage:   &msg,
		DurationMS:     30001,
	}

	mock.ExpectQuery(`INSERT INTO afyalink_audit_logs`).
		WithArgs(l.Action, l.Endpoint, l.PatientID, l.RequestPayload, l.ResponseData, l.StatusCode,
			l.ErrorMessage, l.UserID, l.IPAddress, l.DurationMS).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	if err := NewAuditRepo(mock).Insert(context.Background(), l); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if l.ID != 7 || !l.CreatedAt.Equal(now) {
		t.Errorf("unexpected row %+v", l)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAuditRepoPG_ListCount(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM afyalink_audit_logs WHERE action = $1`)).
		WithArgs("verify_eligibility").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`(?s)SELECT .+ FROM afyalink_audit_logs WHERE action = \$1 ORDER BY created_at DESC, id DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("verify_eligibility", 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "action", "endpoint", "patient_id", "request_payload",
			"response_data", "status_code", "error_message", "user_id", "ip_address", "duration_ms", "created_at"}))

	logs, total, err := NewAuditRepo(mock).List(context.Background(), AuditFilter{Action: "verify_eligibility"}, 20, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 0 || len(logs) != 0 {
		t.Errorf("expected empty result, got %d/%d", len(logs), total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
