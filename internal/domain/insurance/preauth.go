package insurance

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/afyalink"
)

// PreauthRequest is the body of POST /preauthorizations.
type PreauthRequest struct {
	PatientID           uuid.UUID     `json:"patient_id" validate:"required"`
	MemberNumber        string        `json:"member_number" validate:"required"`
	SchemeCode          string        `json:"scheme_code" validate:"required"`
	Diagnosis           string        `json:"diagnosis" validate:"required"`
	DiagnosisCode       string        `json:"diagnosis_code"`
	ExpectedServiceDate string        `json:"expected_service_date" validate:"required,datetime=2006-01-02"`
	Services            []ServiceLine `json:"services" validate:"required,min=1,dive"`
	Notes               string        `json:"notes"`
}

// CreatePreauthorization stores a pending request locally. Nothing is sent
// to the insurer until SubmitPreauthorization.
func (s *Service) CreatePreauthorization(ctx context.Context, req *PreauthRequest) (*Preauthorization, error) {
	req.MemberNumber = strings.TrimSpace(req.MemberNumber)
	req.SchemeCode = strings.TrimSpace(req.SchemeCode)
	req.Diagnosis = strings.TrimSpace(req.Diagnosis)
	req.ExpectedServiceDate = strings.TrimSpace(req.ExpectedServiceDate)
	normalizeServices(req.Services)
	if err := requests.Validate(req); err != nil {
		return nil, err
	}
	expected := mustParseDate(req.ExpectedServiceDate)
	services, total := priceServices(req.Services)

	if _, err := s.lookupPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	p := &Preauthorization{
		PatientID:           req.PatientID,
		MemberNumber:        req.MemberNumber,
		SchemeCode:          req.SchemeCode,
		Diagnosis:           req.Diagnosis,
		DiagnosisCode:       optional(req.DiagnosisCode),
		ExpectedServiceDate: expected,
		Services:            services,
		RequestedAmount:     total,
		Status:              PreauthStatusPending,
		Notes:               optional(req.Notes),
	}
	if err := s.preauths.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SubmitPreauthorization sends a pending pre-authorization to the insurer.
func (s *Service) SubmitPreauthorization(ctx context.Context, id uuid.UUID) (*Preauthorization, error) {
	p, err := s.preauths.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != PreauthStatusPending || p.Reference() != "" {
		return nil, invalid("status", "Only pending pre-authorizations can be submitted.")
	}
	patient, err := s.lookupPatient(ctx, p.PatientID)
	if err != nil {
		return nil, err
	}

	payload := afyalink.PreauthSubmission{
		MemberNumber:        p.MemberNumber,
		SchemeCode:          p.SchemeCode,
		FacilityCode:        s.facilityCode,
		PatientName:         patient.FullName(),
		Diagnosis:           p.Diagnosis,
		DiagnosisCode:       deref(p.DiagnosisCode),
		ExpectedServiceDate: p.ExpectedServiceDate.Format(dateLayout),
		Services:            toGatewayServices(p.Services),
		RequestedAmount:     afyalink.Amount(p.RequestedAmount),
		Notes:               deref(p.Notes),
	}
	res, err := s.call(ctx, callSpec{
		action:    afyalink.ActionSubmitPreauthorization,
		endpoint:  afyalink.Endpoint(afyalink.ActionSubmitPreauthorization, "", ""),
		patientID: &p.PatientID,
		request:   payload,
	}, func(ctx context.Context) (*afyalink.Result, error) {
		return s.gateway.SubmitPreauthorization(ctx, payload)
	})
	if err != nil {
		return nil, err
	}

	var body afyalink.PreauthSubmitResponse
	if err := res.DecodeFields(&body); err != nil {
		s.logger.Warn().Err(err).Str("preauthorization_id", p.ID.String()).Msg("unexpected pre-authorization response shape")
	}

	now := s.now().UTC()
	p.PreauthReference = body.PreauthReference
	p.Status = PreauthStatusSubmitted
	if st := normalizeStatus(body.Status); st != "" {
		p.Status = st
	}
	p.SubmittedAt = &now
	p.RequestData = encodePayload(payload)
	p.ResponseData = res.Raw
	if err := s.preauths.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RefreshPreauthorizationStatus polls the insurer for a submitted request.
func (s *Service) RefreshPreauthorizationStatus(ctx context.Context, id uuid.UUID) (*Preauthorization, error) {
	p, err := s.preauths.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ref := p.Reference()
	if ref == "" {
		return nil, invalid("preauth_reference", "The pre-authorization has not been assigned an insurer reference.")
	}

	res, err := s.call(ctx, callSpec{
		action:    afyalink.ActionCheckPreauthorizationStatus,
		endpoint:  afyalink.Endpoint(afyalink.ActionCheckPreauthorizationStatus, ref, ""),
		patientID: &p.PatientID,
		request:   map[string]string{"preauth_reference": ref},
	}, func(ctx context.Context) (*afyalink.Result, error) {
		return s.gateway.CheckPreauthorizationStatus(ctx, ref)
	})
	if err != nil {
		return nil, err
	}

	var body afyalink.PreauthStatusResponse
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	applyPreauthStatus(p, body)
	p.ResponseData = res.Raw
	if err := s.preauths.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func applyPreauthStatus(p *Preauthorization, r afyalink.PreauthStatusResponse) {
	if st := normalizeStatus(r.Status); st != "" {
		p.Status = st
	}
	if r.ApprovedAmount.Valid {
		p.ApprovedAmount = decimal.NewNullDecimal(r.ApprovedAmount.Decimal)
	}
	if r.RejectionReason != nil && strings.TrimSpace(*r.RejectionReason) != "" {
		reason := *r.RejectionReason
		p.RejectionReason = &reason
	}
	if t := r.ExpiresAt.Value(); t != nil {
		p.ExpiresAt = t
	}
}

func (s *Service) GetPreauthorization(ctx context.Context, id uuid.UUID) (*Preauthorization, error) {
	return s.preauths.GetByID(ctx, id)
}

func (s *Service) ListPreauthorizations(ctx context.Context, filter PreauthFilter, limit, offset int) ([]*Preauthorization, int, error) {
	return s.preauths.List(ctx, filter, limit, offset)
}
