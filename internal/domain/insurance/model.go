package insurance

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Claim statuses. The insurer may report others; they are stored as given.
const (
	ClaimStatusSubmitted = "submitted"
	ClaimStatusApproved  = "approved"
	ClaimStatusRejected  = "rejected"
	ClaimStatusPaid      = "paid"
)

const (
	PreauthStatusPending   = "pending"
	PreauthStatusSubmitted = "submitted"
	PreauthStatusApproved  = "approved"
	PreauthStatusRejected  = "rejected"
)

// ServiceLine is one billed service on a claim or pre-authorization.
// Amount is always Quantity * UnitPrice.
type ServiceLine struct {
	Code        string          `json:"code,omitempty"`
	Description string          `json:"description" validate:"required"`
	Quantity    int             `json:"quantity" validate:"min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Amount      decimal.Decimal `json:"amount"`
}

// Attachment is an entry in a claim's append-only document list.
type Attachment struct {
	Type       string    `json:"type" validate:"required,oneof=prescription lab_results medical_report invoice other"`
	URL        string    `json:"url" validate:"required"`
	FileName   string    `json:"file_name,omitempty"`
	DocumentID *string   `json:"document_id,omitempty"`
	ArchiveKey *string   `json:"archive_key,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Claim maps to afyalink_claims.
type Claim struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	ClaimNumber        string          `db:"claim_number" json:"claim_number"`
	ClaimReference     *string         `db:"claim_reference" json:"claim_reference"`
	PatientID          uuid.UUID       `db:"patient_id" json:"patient_id"`
	InvoiceID          uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	PreauthorizationID *uuid.UUID      `db:"preauthorization_id" json:"preauthorization_id,omitempty"`
	MemberNumber       string          `db:"member_number" json:"member_number"`
	SchemeCode         string          `db:"scheme_code" json:"scheme_code"`
	Diagnosis          string          `db:"diagnosis" json:"diagnosis"`
	DiagnosisCode      *string         `db:"diagnosis_code" json:"diagnosis_code,omitempty"`
	ServiceDate        time.Time       `db:"service_date" json:"service_date"`
	Services           []ServiceLine   `db:"services" json:"services"`
	Attachments        []Attachment    `db:"attachments" json:"attachments"`
	ClaimedAmount      decimal.Decimal `db:"claimed_amount" json:"claimed_amount"`
	ApprovedAmount     decimal.Decimal `db:"approved_amount" json:"approved_amount"`
	RejectedAmount     decimal.Decimal `db:"rejected_amount" json:"rejected_amount"`
	Status             string          `db:"status" json:"status"`
	RejectionReason    *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	SubmittedAt        time.Time       `db:"submitted_at" json:"submitted_at"`
	ApprovedAt         *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	PaidAt             *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	RequestData        json.RawMessage `db:"request_data" json:"request_data,omitempty"`
	ResponseData       json.RawMessage `db:"response_data" json:"response_data,omitempty"`
	CreatedBy          *string         `db:"created_by" json:"created_by,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

func (c *Claim) Reference() string {
	if c.ClaimReference == nil {
		return ""
	}
	return *c.ClaimReference
}

// Preauthorization maps to afyalink_preauthorizations.
type Preauthorization struct {
	ID                  uuid.UUID           `db:"id" json:"id"`
	PreauthReference    *string             `db:"preauth_reference" json:"preauth_reference"`
	PatientID           uuid.UUID           `db:"patient_id" json:"patient_id"`
	MemberNumber        string              `db:"member_number" json:"member_number"`
	SchemeCode          string              `db:"scheme_code" json:"scheme_code"`
	Diagnosis           string              `db:"diagnosis" json:"diagnosis"`
	DiagnosisCode       *string             `db:"diagnosis_code" json:"diagnosis_code,omitempty"`
	ExpectedServiceDate time.Time           `db:"expected_service_date" json:"expected_service_date"`
	Services            []ServiceLine       `db:"services" json:"services"`
	RequestedAmount     decimal.Decimal     `db:"requested_amount" json:"requested_amount"`
	ApprovedAmount      decimal.NullDecimal `db:"approved_amount" json:"approved_amount"`
	Status              string              `db:"status" json:"status"`
	RejectionReason     *string             `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Notes               *string             `db:"notes" json:"notes,omitempty"`
	SubmittedAt         *time.Time          `db:"submitted_at" json:"submitted_at,omitempty"`
	ExpiresAt           *time.Time          `db:"expires_at" json:"expires_at,omitempty"`
	RequestData         json.RawMessage     `db:"request_data" json:"request_data,omitempty"`
	ResponseData        json.RawMessage     `db:"response_data" json:"response_data,omitempty"`
	CreatedAt           time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time           `db:"updated_at" json:"updated_at"`
}

func (p *Preauthorization) Reference() string {
	if p.PreauthReference == nil {
		return ""
	}
	return *p.PreauthReference
}

// AuditLog maps to afyalink_audit_logs. Rows are never updated.
type AuditLog struct {
	ID             int64           `db:"id" json:"id"`
	Action         string          `db:"action" json:"action"`
	Endpoint       string          `db:"endpoint" json:"endpoint"`
	PatientID      *uuid.UUID      `db:"patient_id" json:"patient_id,omitempty"`
	RequestPayload json.RawMessage `db:"request_payload" json:"request_payload"`
	ResponseData   json.RawMessage `db:"response_data" json:"response_data,omitempty"`
	StatusCode     int             `db:"status_code" json:"status_code"`
	ErrorMessage   *string         `db:"error_message" json:"error_message,omitempty"`
	UserID         *string         `db:"user_id" json:"user_id,omitempty"`
	IPAddress      *string         `db:"ip_address" json:"ip_address,omitempty"`
	DurationMS     int64           `db:"duration_ms" json:"duration_ms"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

type ClaimFilter struct {
	PatientID *uuid.UUID
	InvoiceID *uuid.UUID
	Status    string
}

type PreauthFilter struct {
	PatientID *uuid.UUID
	Status    string
}

type AuditFilter struct {
	Action    string
	PatientID *uuid.UUID
}

// StatusTotals aggregates claims sharing a status.
type StatusTotals struct {
	Status        string          `json:"status"`
	Count         int             `json:"count"`
	ClaimedTotal  decimal.Decimal `json:"claimed_total"`
	ApprovedTotal decimal.Decimal `json:"approved_total"`
}

type ClaimStatistics struct {
	TotalClaims   int             `json:"total_claims"`
	TotalClaimed  decimal.Decimal `json:"total_claimed"`
	TotalApproved decimal.Decimal `json:"total_approved"`
	ByStatus      []StatusTotals  `json:"by_status"`
}

type EligibilityResult struct {
	PatientID  *uuid.UUID     `json:"patient_id,omitempty"`
	NationalID string         `json:"national_id"`
	SchemeCode string         `json:"scheme_code"`
	Data       map[string]any `json:"verification"`
	VerifiedAt time.Time      `json:"verified_at"`
}
