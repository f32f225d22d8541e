package insurance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/afyalink"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/lock"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/pkg/validation"
)

const defaultSubmissionLockTTL = 45 * time.Second

type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

type InvoiceLookup interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
}

// Deps wires a Service. Documents and Metrics may be nil.
type Deps struct {
	Gateway           afyalink.Gateway
	Claims            ClaimRepository
	Preauths          PreauthRepository
	Audit             *AuditLogger
	Patients          PatientLookup
	Invoices          InvoiceLookup
	Locker            lock.Locker
	Documents         blobstore.Store
	Metrics           *telemetry.InsuranceMetrics
	Logger            zerolog.Logger
	FacilityCode      string
	SubmissionLockTTL time.Duration
}

// Service drives the insurer workflows. Each operation makes at most one
// insurer call and every call is audited.
type Service struct {
	gateway      afyalink.Gateway
	claims       ClaimRepository
	preauths     PreauthRepository
	audit        *AuditLogger
	patients     PatientLookup
	invoices     InvoiceLookup
	locker       lock.Locker
	documents    blobstore.Store
	metrics      *telemetry.InsuranceMetrics
	logger       zerolog.Logger
	facilityCode string
	lockTTL      time.Duration
	now          func() time.Time
}

func NewService(d Deps) *Service {
	ttl := d.SubmissionLockTTL
	if ttl <= 0 {
		ttl = defaultSubmissionLockTTL
	}
	locker := d.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Service{
		gateway:      d.Gateway,
		claims:       d.Claims,
		preauths:     d.Preauths,
		audit:        d.Audit,
		patients:     d.Patients,
		invoices:     d.Invoices,
		locker:       locker,
		documents:    d.Documents,
		metrics:      d.Metrics,
		logger:       d.Logger,
		facilityCode: d.FacilityCode,
		lockTTL:      ttl,
		now:          time.Now,
	}
}

type callSpec struct {
	action    string
	endpoint  string
	patientID *uuid.UUID
	request   any
}

// call performs one gateway call and records it. Every failure comes back
// as *afyalink.Error.
func (s *Service) call(ctx context.Context, op callSpec, fn func(context.Context) (*afyalink.Result, error)) (*afyalink.Result, error) {
	start := time.Now()
	res, err := invoke(ctx, fn)
	elapsed := time.Since(start)

	entry := AuditEntry{
		Action:    op.action,
		Endpoint:  op.endpoint,
		PatientID: op.patientID,
		Request:   op.request,
		Duration:  elapsed,
	}
	outcome := telemetry.OutcomeSuccess

	if err != nil {
		ae := afyalink.AsError(err)
		if ae == nil {
			ae = &afyalink.Error{StatusCode: 500, Message: err.Error(), Err: err}
			err = ae
		}
		entry.StatusCode = ae.StatusCode
		entry.Response = ae.Body
		entry.Error = ae.Message
		outcome = telemetry.OutcomeRejected
		if ae.Transport() {
			outcome = telemetry.OutcomeTransport
		}
		s.logger.Warn().Err(err).Str("action", op.action).Int("status_code", ae.StatusCode).
			Dur("duration", elapsed).Msg("afyalink call failed")
	} else {
		entry.StatusCode = res.StatusCode
		entry.Response = res.Raw
		if res.Endpoint != "" {
			entry.Endpoint = res.Endpoint
		}
	}

	s.audit.Record(ctx, entry)
	s.metrics.ObserveCall(op.action, outcome, elapsed)
	return res, err
}

func invoke(ctx context.Context, fn func(context.Context) (*afyalink.Result, error)) (res *afyalink.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("gateway panic: %v", r)
			res, err = nil, &afyalink.Error{StatusCode: 500, Message: cause.Error(), Err: cause}
		}
	}()
	res, err = fn(ctx)
	if err == nil && res == nil {
		cause := errors.New("gateway returned no result")
		err = &afyalink.Error{StatusCode: 500, Message: cause.Error(), Err: cause}
	}
	return res, err
}

// EligibilityRequest is the body of POST /insurance/eligibility.
type EligibilityRequest struct {
	NationalID string     `json:"national_id" validate:"required"`
	SchemeCode string     `json:"scheme_code" validate:"required"`
	PatientID  *uuid.UUID `json:"patient_id"`
}

// VerifyEligibility checks a member's cover with the insurer. The optional
// patientID ties the audit row to a local patient.
func (s *Service) VerifyEligibility(ctx context.Context, nationalID, schemeCode string, patientID *uuid.UUID) (*EligibilityResult, error) {
	check := EligibilityRequest{
		NationalID: strings.TrimSpace(nationalID),
		SchemeCode: strings.TrimSpace(schemeCode),
		PatientID:  patientID,
	}
	if err := requests.Validate(&check); err != nil {
		return nil, err
	}
	nationalID, schemeCode = check.NationalID, check.SchemeCode
	if patientID != nil {
		if _, err := s.lookupPatient(ctx, *patientID); err != nil {
			return nil, err
		}
	}

	req := afyalink.EligibilityRequest{IDNumber: nationalID, SchemeCode: schemeCode, FacilityCode: s.facilityCode}
	res, err := s.call(ctx, callSpec{
		action:    afyalink.ActionVerifyEligibility,
		endpoint:  afyalink.Endpoint(afyalink.ActionVerifyEligibility, "", ""),
		patientID: patientID,
		request:   req,
	}, func(ctx context.Context) (*afyalink.Result, error) {
		return s.gateway.VerifyEligibility(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	return &EligibilityResult{
		PatientID:  patientID,
		NationalID: nationalID,
		SchemeCode: schemeCode,
		Data:       res.Data,
		VerifiedAt: s.now().UTC(),
	}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditLog, int, error) {
	return s.audit.List(ctx, filter, limit, offset)
}

func (s *Service) lookupPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, err := s.patients.GetPatient(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrPatientNotFound) {
			return nil, notFound("patient")
		}
		return nil, fmt.Errorf("patient lookup: %w", err)
	}
	return p, nil
}

func (s *Service) lookupInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	inv, err := s.invoices.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, billing.ErrInvoiceNotFound) {
			return nil, notFound("invoice")
		}
		return nil, fmt.Errorf("invoice lookup: %w", err)
	}
	return inv, nil
}

const dateLayout = "2006-01-02"

var requests = newRequestValidator()

func newRequestValidator() *validation.Validator {
	v := validation.New()
	v.RegisterStructRule(documentUploadRule, DocumentUpload{})
	return v
}

func normalizeServices(lines []ServiceLine) {
	for i := range lines {
		lines[i].Code = strings.TrimSpace(lines[i].Code)
		lines[i].Description = strings.TrimSpace(lines[i].Description)
	}
}

// priceServices returns copies of validated lines with Amount set, plus the total.
func priceServices(in []ServiceLine) ([]ServiceLine, decimal.Decimal) {
	total := decimal.Zero
	out := make([]ServiceLine, 0, len(in))
	for _, svc := range in {
		svc.Amount = svc.UnitPrice.Mul(decimal.NewFromInt(int64(svc.Quantity)))
		total = total.Add(svc.Amount)
		out = append(out, svc)
	}
	return out, total
}

func toGatewayServices(lines []ServiceLine) []afyalink.ClaimService {
	out := make([]afyalink.ClaimService, len(lines))
	for i, l := range lines {
		out[i] = afyalink.ClaimService{
			Code:        l.Code,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   afyalink.Amount(l.UnitPrice),
			Amount:      afyalink.Amount(l.Amount),
		}
	}
	return out
}

// mustParseDate is only called on values that passed the datetime rule.
func mustParseDate(value string) time.Time {
	t, _ := time.Parse(dateLayout, value)
	return t
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func normalizeStatus(s *string) string {
	if s == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*s))
}
