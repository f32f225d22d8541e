package afyalink

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Amount is a money value sent to the insurer as a JSON number with two
// decimal places.
type Amount decimal.Decimal

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).StringFixed(2)), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*a = Amount(d)
	return nil
}

func (a Amount) Decimal() decimal.Decimal { return decimal.Decimal(a) }

// Timestamp accepts the date formats the insurer has been seen to emit.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// Value returns nil for an absent or zero timestamp.
func (t *Timestamp) Value() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

type EligibilityRequest struct {
	IDNumber     string `json:"id_number"`
	SchemeCode   string `json:"scheme_code"`
	FacilityCode string `json:"facility_code"`
}

type ClaimService struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Amount `json:"unit_price"`
	Amount      Amount `json:"amount"`
}

type AttachmentRef struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type ClaimSubmission struct {
	ClaimNumber      string          `json:"claim_number"`
	MemberNumber     string          `json:"member_number"`
	SchemeCode       string          `json:"scheme_code"`
	FacilityCode     string          `json:"facility_code"`
	PatientName      string          `json:"patient_name"`
	Diagnosis        string          `json:"diagnosis"`
	DiagnosisCode    string          `json:"diagnosis_code,omitempty"`
	ServiceDate      string          `json:"service_date"`
	Services         []ClaimService  `json:"services"`
	TotalAmount      Amount          `json:"total_amount"`
	PreauthReference *string         `json:"preauth_reference"`
	Attachments      []AttachmentRef `json:"attachments"`
}

type PreauthSubmission struct {
	MemberNumber        string         `json:"member_number"`
	SchemeCode          string         `json:"scheme_code"`
	FacilityCode        string         `json:"facility_code"`
	PatientName         string         `json:"patient_name"`
	Diagnosis           string         `json:"diagnosis"`
	DiagnosisCode       string         `json:"diagnosis_code,omitempty"`
	ExpectedServiceDate string         `json:"expected_service_date"`
	Services            []ClaimService `json:"services"`
	RequestedAmount     Amount         `json:"requested_amount"`
	Notes               string         `json:"notes,omitempty"`
}

// Document is a claim attachment forwarded as multipart form data.
type Document struct {
	ClaimReference string
	DocumentType   string
	FileName       string
	ContentType    string
	Content        []byte
}

// Response bodies. Pointer and Null fields distinguish "omitted" from zero.

type ClaimSubmitResponse struct {
	ClaimReference *string             `json:"claim_reference"`
	Status         *string             `json:"status"`
	ApprovedAmount decimal.NullDecimal `json:"approved_amount"`
}

type ClaimStatusResponse struct {
	Status          *string             `json:"status"`
	ApprovedAmount  decimal.NullDecimal `json:"approved_amount"`
	RejectedAmount  decimal.NullDecimal `json:"rejected_amount"`
	RejectionReason *string             `json:"rejection_reason"`
	ApprovedAt      *Timestamp          `json:"approved_at"`
}

type DocumentUploadResponse struct {
	URL        *string `json:"url"`
	DocumentID *string `json:"document_id"`
}

type PreauthSubmitResponse struct {
	PreauthReference *string `json:"preauth_reference"`
	Status           *string `json:"status"`
}

type PreauthStatusResponse struct {
	Status          *string             `json:"status"`
	ApprovedAmount  decimal.NullDecimal `json:"approved_amount"`
	RejectionReason *string             `json:"rejection_reason"`
	ExpiresAt       *Timestamp          `json:"expires_at"`
}
