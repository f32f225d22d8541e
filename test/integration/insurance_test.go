//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/insurance"
	"github.com/hms/hms/internal/platform/afyalink"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/migrations"
)

func claimFor(patientID, invoiceID uuid.UUID) *insurance.ClaimRequest {
	return &insurance.ClaimRequest{
		PatientID:    patientID,
		InvoiceID:    invoiceID,
		MemberNumber: "MEM-100200",
		SchemeCode:   "NHIF",
		Diagnosis:    "Malaria",
		ServiceDate:  "2024-03-14",
		Services: []insurance.ServiceLine{
			{Code: "CONS", Description: "Consultation", Quantity: 1, UnitPrice: decimal.RequireFromString("1500.00")},
			{Code: "LAB", Description: "Blood smear", Quantity: 2, UnitPrice: decimal.RequireFromString("250.25")},
		},
	}
}

func TestMigrations_AreIdempotent(t *testing.T) {
	migrator, err := db.NewMigrator(pool, migrations.FS, "public")
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	n, err := migrator.Up(context.Background())
	if err != nil {
		t.Fatalf("second Up failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no pending migrations, applied %d", n)
	}
}

func TestClaimLifecycle(t *testing.T) {
	ctx := auth.WithIdentity(context.Background(), "officer-1", []string{auth.RoleClaimsOfficer})
	svc := newServices()
	patient := createTestPatient(t, svc, "Amina", "Wanjiru")
	invoice := createTestInvoice(t, svc, patient.ID, "1500.00", "500.50")

	claim, err := svc.insurance.SubmitClaim(ctx, claimFor(patient.ID, invoice.ID))
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if !insurance.ValidClaimNumber(claim.ClaimNumber) {
		t.Errorf("unexpected claim number %q", claim.ClaimNumber)
	}
	if !claim.ClaimedAmount.Equal(decimal.RequireFromString("2000.50")) {
		t.Errorf("expected claimed amount 2000.50, got %s", claim.ClaimedAmount)
	}

	stored, err := svc.insurance.GetClaim(ctx, claim.ID)
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}
	if stored.Reference() == "" || stored.Status != insurance.ClaimStatusSubmitted {
		t.Errorf("unexpected stored claim: ref=%q status=%q", stored.Reference(), stored.Status)
	}
	if len(stored.Services) != 2 || stored.CreatedBy == nil || *stored.CreatedBy != "officer-1" {
		t.Errorf("services or creator not persisted: %+v", stored)
	}

	refreshed, err := svc.insurance.RefreshClaimStatus(ctx, claim.ID)
	if err != nil {
		t.Fatalf("RefreshClaimStatus: %v", err)
	}
	if refreshed.Status != insurance.ClaimStatusSubmitted {
		t.Errorf("expected status to stay submitted, got %s", refreshed.Status)
	}

	att, err := svc.insurance.UploadClaimDocument(ctx, claim.ID, insurance.DocumentUpload{
		DocumentType: "lab_results",
		FileName:     "smear.pdf",
		Content:      []byte("%PDF-1.4 test document"),
	})
	if err != nil {
		t.Fatalf("UploadClaimDocument: %v", err)
	}
	if att.ArchiveKey == nil || svc.documents.Len() != 1 {
		t.Errorf("expected document to be archived")
	}

	stored, err = svc.insurance.GetClaim(ctx, claim.ID)
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}
	if len(stored.Attachments) != 1 || stored.Attachments[0].FileName != "smear.pdf" {
		t.Errorf("expected appended attachment, got %+v", stored.Attachments)
	}

	logs, total, err := svc.insurance.ListAuditLogs(ctx, insurance.AuditFilter{PatientID: &patient.ID}, 20, 0)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if total != 3 || len(logs) != 3 {
		t.Fatalf("expected 3 audit rows, got %d", total)
	}
	actions := map[string]bool{}
	for _, l := range logs {
		actions[l.Action] = true
		if l.UserID == nil || *l.UserID != "officer-1" {
			t.Errorf("audit row %d missing user", l.ID)
		}
	}
	for _, a := range []string{afyalink.ActionSubmitClaim, afyalink.ActionCheckClaimStatus, afyalink.ActionUploadDocument} {
		if !actions[a] {
			t.Errorf("missing audit row for %s", a)
		}
	}
}

func TestClaim_OnePerInvoiceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	patient := createTestPatient(t, svc, "Otieno", "Ouma")
	invoice := createTestInvoice(t, svc, patient.ID, "900.00")

	const attempts = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.insurance.SubmitClaim(ctx, claimFor(patient.ID, invoice.ID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, insurance.ErrClaimExists), errors.Is(err, insurance.ErrSubmissionInProgress):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicts != attempts-1 {
		t.Errorf("expected 1 success and %d conflicts, got %d and %d", attempts-1, succeeded, conflicts)
	}

	claims, total, err := svc.insurance.ListClaims(ctx, insurance.ClaimFilter{InvoiceID: &invoice.ID}, 20, 0)
	if err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	if total != 1 || len(claims) != 1 {
		t.Errorf("expected exactly one stored claim, got %d", total)
	}
}

func TestClaimRepo_DuplicateInvoiceRejectedByIndex(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	patient := createTestPatient(t, svc, "Njeri", "Kamau")
	invoice := createTestInvoice(t, svc, patient.ID, "100.00")

	repo := insurance.NewClaimRepo(pool)
	newClaim := func(number string) *insurance.Claim {
		return &insurance.Claim{
			ID:             uuid.New(),
			ClaimNumber:    number,
			PatientID:      patient.ID,
			InvoiceID:      invoice.ID,
			MemberNumber:   "MEM-1",
			SchemeCode:     "NHIF",
			Diagnosis:      "Flu",
			ServiceDate:    invoice.CreatedAt,
			ClaimedAmount:  decimal.RequireFromString("100.00"),
			ApprovedAmount: decimal.Zero,
			RejectedAmount: decimal.Zero,
			Status:         insurance.ClaimStatusSubmitted,
			SubmittedAt:    invoice.CreatedAt,
		}
	}

	if err := repo.Create(ctx, newClaim("CLM-20240314-DUP001")); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := repo.Create(ctx, newClaim("CLM-20240314-DUP002")); !errors.Is(err, insurance.ErrClaimExists) {
		t.Errorf("expected ErrClaimExists, got %v", err)
	}
}

func TestPreauthorizationFlow(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	patient := createTestPatient(t, svc, "Wanjiku", "Mwangi")

	pa, err := svc.insurance.CreatePreauthorization(ctx, &insurance.PreauthRequest{
		PatientID:           patient.ID,
		MemberNumber:        "MEM-7",
		SchemeCode:          "NHIF",
		Diagnosis:           "Appendicitis",
		ExpectedServiceDate: "2024-04-01",
		Services: []insurance.ServiceLine{
			{Description: "Appendectomy", Quantity: 1, UnitPrice: decimal.RequireFromString("85000.00")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePreauthorization: %v", err)
	}
	if pa.Status != insurance.PreauthStatusPending {
		t.Fatalf("expected pending, got %s", pa.Status)
	}

	submitted, err := svc.insurance.SubmitPreauthorization(ctx, pa.ID)
	if err != nil {
		t.Fatalf("SubmitPreauthorization: %v", err)
	}
	if submitted.Reference() == "" || submitted.Status != insurance.PreauthStatusSubmitted {
		t.Errorf("unexpected submitted preauth: ref=%q status=%q", submitted.Reference(), submitted.Status)
	}

	if _, err := svc.insurance.SubmitPreauthorization(ctx, pa.ID); err == nil {
		t.Error("expected resubmission of a submitted preauthorization to fail")
	}

	invoice := createTestInvoice(t, svc, patient.ID, "85000.00")
	req := claimFor(patient.ID, invoice.ID)
	req.PreauthorizationID = &pa.ID
	claim, err := svc.insurance.SubmitClaim(ctx, req)
	if err != nil {
		t.Fatalf("SubmitClaim with preauthorization: %v", err)
	}
	if claim.PreauthorizationID == nil || *claim.PreauthorizationID != pa.ID {
		t.Errorf("expected claim to reference preauthorization")
	}
}

func TestClaimStatistics_GroupsByStatus(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	patient := createTestPatient(t, svc, "Baraka", "Kiprop")
	for i := 0; i < 2; i++ {
		invoice := createTestInvoice(t, svc, patient.ID, "100.00")
		if _, err := svc.insurance.SubmitClaim(ctx, claimFor(patient.ID, invoice.ID)); err != nil {
			t.Fatalf("SubmitClaim: %v", err)
		}
	}

	stats, err := svc.insurance.ClaimStatistics(ctx, insurance.ClaimFilter{PatientID: &patient.ID})
	if err != nil {
		t.Fatalf("ClaimStatistics: %v", err)
	}
	if stats.TotalClaims != 2 {
		t.Errorf("expected 2 claims, got %d", stats.TotalClaims)
	}
	if !stats.TotalClaimed.Equal(decimal.RequireFromString("4001.00")) {
		t.Errorf("expected 4001.00 claimed, got %s", stats.TotalClaimed)
	}
	if len(stats.ByStatus) != 1 || stats.ByStatus[0].Status != insurance.ClaimStatusSubmitted {
		t.Errorf("unexpected status breakdown %+v", stats.ByStatus)
	}
}

func TestClaimSubmission_RedisLockReleased(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	patient := createTestPatient(t, svc, "Chebet", "Rotich")
	invoice := createTestInvoice(t, svc, patient.ID, "350.00")

	if _, err := svc.insurance.SubmitClaim(ctx, claimFor(patient.ID, invoice.ID)); err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}

	key := "hms:it:lock:claim-submission:" + invoice.ID.String()
	n, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		t.Fatalf("EXISTS: %v", err)
	}
	if n != 0 {
		t.Errorf("expected %s to be released after submission", key)
	}

	if _, err := svc.insurance.SubmitClaim(ctx, claimFor(patient.ID, invoice.ID)); !errors.Is(err, insurance.ErrClaimExists) {
		t.Errorf("expected ErrClaimExists on resubmission, got %v", err)
	}
}
