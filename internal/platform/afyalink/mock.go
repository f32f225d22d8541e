package afyalink

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Mock is a deterministic Gateway used when AFYALINK_MOCK is enabled. It
// performs no I/O and answers every call successfully.
type Mock struct {
	// Now is used for verified_at and uploaded timestamps. Defaults to a
	// fixed instant so responses are reproducible.
	Now func() time.Time
}

var _ Gateway = (*Mock)(nil)

var mockEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return mockEpoch
}

func mockRef(prefix string, parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return prefix + strings.ToUpper(hex.EncodeToString(sum[:])[:10])
}

func mockResult(path string, data map[string]any) (*Result, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, transportError(err)
	}
	return &Result{StatusCode: http.StatusOK, Endpoint: path, Data: data, Raw: raw}, nil
}

func (m *Mock) VerifyEligibility(_ context.Context, req EligibilityRequest) (*Result, error) {
	return mockResult(pathEligibility, map[string]any{
		"status":        "ACTIVE",
		"eligible":      true,
		"id_number":     req.IDNumber,
		"scheme_code":   req.SchemeCode,
		"facility_code": req.FacilityCode,
		"member_number": mockRef("MBR-", req.IDNumber, req.SchemeCode),
		"member_name":   "Mock Member",
		"scheme_name":   "Mock Scheme " + req.SchemeCode,
		"coverage": map[string]any{
			"inpatient":  true,
			"outpatient": true,
			"balance":    "100000.00",
		},
		"verified_at": m.now().Format(time.RFC3339),
		"mock":        true,
	})
}

func (m *Mock) SubmitClaim(_ context.Context, req ClaimSubmission) (*Result, error) {
	return mockResult(pathClaimSubmit, map[string]any{
		"claim_reference": mockRef("AFY-CLM-", req.ClaimNumber),
		"claim_number":    req.ClaimNumber,
		"status":          "submitted",
		"approved_amount": "0.00",
		"mock":            true,
	})
}

func (m *Mock) CheckClaimStatus(_ context.Context, reference, patientID string) (*Result, error) {
	return mockResult(claimStatusPath(reference, patientID), map[string]any{
		"claim_reference": reference,
		"status":          "submitted",
		"mock":            true,
	})
}

func (m *Mock) UploadDocument(_ context.Context, doc Document) (*Result, error) {
	return mockResult(pathDocumentUpload, map[string]any{
		"url": "https://mock.afyalink.invalid/documents/" +
			url.PathEscape(doc.ClaimReference) + "/" + url.PathEscape(doc.FileName),
		"document_id": mockRef("DOC-", doc.ClaimReference, doc.DocumentType, doc.FileName),
		"uploaded_at": m.now().Format(time.RFC3339),
		"mock":        true,
	})
}

func (m *Mock) SubmitPreauthorization(_ context.Context, req PreauthSubmission) (*Result, error) {
	return mockResult(pathPreauthSubmit, map[string]any{
		"preauth_reference": mockRef("AFY-PA-", req.MemberNumber, req.Diagnosis, req.ExpectedServiceDate),
		"status":            "submitted",
		"mock":              true,
	})
}

func (m *Mock) CheckPreauthorizationStatus(_ context.Context, reference string) (*Result, error) {
	return mockResult(preauthStatusPath(reference), map[string]any{
		"preauth_reference": reference,
		"status":            "submitted",
		"mock":              true,
	})
}
