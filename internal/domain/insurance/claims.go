package insurance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/afyalink"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/lock"
)

// ClaimRequest is the body of POST /claims.
type ClaimRequest struct {
	PatientID          uuid.UUID     `json:"patient_id" validate:"required"`
	InvoiceID          uuid.UUID     `json:"invoice_id" validate:"required"`
	PreauthorizationID *uuid.UUID    `json:"preauthorization_id"`
	MemberNumber       string        `json:"member_number" validate:"required"`
	SchemeCode         string        `json:"scheme_code" validate:"required"`
	Diagnosis          string        `json:"diagnosis" validate:"required"`
	DiagnosisCode      string        `json:"diagnosis_code"`
	ServiceDate        string        `json:"service_date" validate:"required,datetime=2006-01-02"`
	Services           []ServiceLine `json:"services" validate:"required,min=1,dive"`
	Attachments        []Attachment  `json:"attachments" validate:"dive"`
}

// DocumentUpload is a claim document received from a client.
type DocumentUpload struct {
	DocumentType string `json:"document_type" validate:"required,oneof=prescription lab_results medical_report invoice other"`
	FileName     string `json:"file_name"`
	ContentType  string `json:"content_type"`
	Content      []byte `json:"file" validate:"required,min=1,max=5242880"`
}

const MaxDocumentSize = 5 << 20

var documentExtensions = map[string]bool{".pdf": true, ".jpg": true, ".jpeg": true, ".png": true}

func documentUploadRule(sl validator.StructLevel) {
	u := sl.Current().Interface().(DocumentUpload)
	if !documentExtensions[strings.ToLower(path.Ext(u.FileName))] {
		sl.ReportError(u.FileName, "file", "FileName", "mimes", "pdf, jpg, jpeg, png")
	}
}

type validatedClaim struct {
	serviceDate time.Time
	services    []ServiceLine
	total       decimal.Decimal
}

func (r *ClaimRequest) normalize() {
	r.MemberNumber = strings.TrimSpace(r.MemberNumber)
	r.SchemeCode = strings.TrimSpace(r.SchemeCode)
	r.Diagnosis = strings.TrimSpace(r.Diagnosis)
	r.DiagnosisCode = strings.TrimSpace(r.DiagnosisCode)
	r.ServiceDate = strings.TrimSpace(r.ServiceDate)
	normalizeServices(r.Services)
	for i := range r.Attachments {
		r.Attachments[i].Type = strings.TrimSpace(r.Attachments[i].Type)
		r.Attachments[i].URL = strings.TrimSpace(r.Attachments[i].URL)
	}
}

func (r *ClaimRequest) validate() (*validatedClaim, error) {
	r.normalize()
	if err := requests.Validate(r); err != nil {
		return nil, err
	}
	v := &validatedClaim{serviceDate: mustParseDate(r.ServiceDate)}
	v.services, v.total = priceServices(r.Services)
	return v, nil
}

// SubmitClaim validates the request, submits it to the insurer and persists
// the accepted claim. Submissions for one invoice are serialised and at most
// one claim per invoice is kept.
func (s *Service) SubmitClaim(ctx context.Context, req *ClaimRequest) (*Claim, error) {
	v, err := req.validate()
	if err != nil {
		return nil, err
	}

	patient, err := s.lookupPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.lookupInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.PatientID != patient.ID {
		return nil, invalid("invoice_id", "The invoice does not belong to this patient.")
	}

	var preauthRef *string
	if req.PreauthorizationID != nil {
		pa, err := s.preauths.GetByID(ctx, *req.PreauthorizationID)
		if err != nil {
			return nil, err
		}
		if pa.PatientID != patient.ID {
			return nil, invalid("preauthorization_id", "The pre-authorization does not belong to this patient.")
		}
		preauthRef = pa.PreauthReference
	}

	release, err := s.locker.Acquire(ctx, "claim-submission:"+invoice.ID.String(), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			s.metrics.SubmissionConflict()
			return nil, ErrSubmissionInProgress
		}
		return nil, fmt.Errorf("submission lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("invoice_id", invoice.ID.String()).Msg("failed to release submission lock")
		}
	}()

	if _, err := s.claims.GetByInvoice(ctx, invoice.ID); err == nil {
		s.metrics.SubmissionConflict()
		return nil, ErrClaimExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	number, err := s.nextClaimNumber(ctx)
	if err != nil {
		return nil, err
	}

	attachments := make([]afyalink.AttachmentRef, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, afyalink.AttachmentRef{Type: a.Type, URL: a.URL})
	}
	payload := afyalink.ClaimSubmission{
		ClaimNumber:      number,
		MemberNumber:     req.MemberNumber,
		SchemeCode:       req.SchemeCode,
		FacilityCode:     s.facilityCode,
		PatientName:      patient.FullName(),
		Diagnosis:        req.Diagnosis,
		DiagnosisCode:    strings.TrimSpace(req.DiagnosisCode),
		ServiceDate:      v.serviceDate.Format(dateLayout),
		Services:         toGatewayServices(v.services),
		TotalAmount:      afyalink.Amount(v.total),
		PreauthReference: preauthRef,
		Attachments:      attachments,
	}

	res, err := s.call(ctx, callSpec{
		action:    afyalink.ActionSubmitClaim,
		endpoint:  afyalink.Endpoint(afyalink.ActionSubmitClaim, "", ""),
		patientID: &patient.ID,
		request:   payload,
	}, func(ctx context.Context) (*afyalink.Result, error) {
		return s.gateway.SubmitClaim(ctx, payload)
	})
	if err != nil {
		return nil, err
	}

	var body afyalink.ClaimSubmitResponse
	if err := res.DecodeFields(&body); err != nil {
		s.logger.Warn().Err(err).Str("claim_number", number).Msg("unexpected claim submission response shape")
	}

	now := s.now().UTC()
	claim := &Claim{
		ID:                 uuid.New(),
		ClaimNumber:        number,
		ClaimReference:     body.ClaimReference,
		PatientID:          patient.ID,
		InvoiceID:          invoice.ID,
		PreauthorizationID: req.PreauthorizationID,
		MemberNumber:       req.MemberNumber,
		SchemeCode:         req.SchemeCode,
		Diagnosis:          req.Diagnosis,
		DiagnosisCode:      optional(req.DiagnosisCode),
		ServiceDate:        v.serviceDate,
		Services:           v.services,
		Attachments:        submittedAttachments(req.Attachments, now),
		ClaimedAmount:      v.total,
		ApprovedAmount:     decimal.Zero,
		RejectedAmount:     decimal.Zero,
		Status:             ClaimStatusSubmitted,
		SubmittedAt:        now,
		RequestData:        encodePayload(payload),
		ResponseData:       res.Raw,
	}
	applyClaimStatus(claim, afyalink.ClaimStatusResponse{
		Status:         body.Status,
		ApprovedAmount: body.ApprovedAmount,
	}, now)
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		claim.CreatedBy = &uid
	}

	if err := s.claims.Create(ctx, claim); err != nil {
		s.logger.Error().Err(err).
			Str("claim_number", number).
			Str("claim_reference", claim.Reference()).
			Str("invoice_id", invoice.ID.String()).
			Msg("insurer accepted claim but it could not be stored")
		return nil, err
	}

	s.logger.Info().
		Str("claim_number", number).
		Str("claim_reference", claim.Reference()).
		Str("claimed_amount", claim.ClaimedAmount.StringFixed(2)).
		Msg("claim submitted")
	return claim, nil
}

func submittedAttachments(in []Attachment, now time.Time) []Attachment {
	out := make([]Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, Attachment{Type: a.Type, URL: a.URL, FileName: a.FileName, UploadedAt: now})
	}
	return out
}

// RefreshClaimStatus polls the insurer and applies the reported status.
// A failed poll leaves the stored claim untouched.
func (s *Service) RefreshClaimStatus(ctx context.Context, id uuid.UUID) (*Claim, error) {
	claim, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ref := claim.Reference()
	if ref == "" {
		return nil, invalid("claim_reference", "The claim has not been assigned an insurer reference.")
	}

	patientID := claim.PatientID.String()
	res, err := s.call(ctx, callSpec{
		action:    afyalink.ActionCheckClaimStatus,
		endpoint:  afyalink.Endpoint(afyalink.ActionCheckClaimStatus, ref, patientID),
		patientID: &claim.PatientID,
		request:   map[string]string{"claim_reference": ref, "patient_id": patientID},
	}, func(ctx context.Context) (*afyalink.Result, error) {
		return s.gateway.CheckClaimStatus(ctx, ref, patientID)
	})
	if err != nil {
		return nil, err
	}

	var body afyalink.ClaimStatusResponse
	if err := res.Decode(&body); err != nil {
		return nil, err
	}

	applyClaimStatus(claim, body, s.now())
	claim.ResponseData = res.Raw
	if err := s.claims.UpdateStatus(ctx, claim); err != nil {
		return nil, err
	}
	return claim, nil
}

// applyClaimStatus overwrites each field the insurer reported and keeps the
// stored value for anything omitted. paid_at is set once.
func applyClaimStatus(c *Claim, r afyalink.ClaimStatusResponse, now time.Time) {
	if st := normalizeStatus(r.Status); st != "" {
		c.Status = st
	}
	if r.ApprovedAmount.Valid {
		c.ApprovedAmount = r.ApprovedAmount.Decimal
	}
	if r.RejectedAmount.Valid {
		c.RejectedAmount = r.RejectedAmount.Decimal
	}
	if r.RejectionReason != nil && strings.TrimSpace(*r.RejectionReason) != "" {
		reason := *r.RejectionReason
		c.RejectionReason = &reason
	}
	if t := r.ApprovedAt.Value(); t != nil {
		c.ApprovedAt = t
	}
	if c.Status == ClaimStatusPaid && c.PaidAt == nil {
		paid := now.UTC()
		c.PaidAt = &paid
	}
}

func (u *DocumentUpload) validate() error {
	u.DocumentType = strings.TrimSpace(u.DocumentType)
	u.FileName = path.Base(strings.ReplaceAll(strings.TrimSpace(u.FileName), `\`, "/"))
	if err := requests.Validate(u); err != nil {
		return err
	}
	if u.ContentType == "" || u.ContentType == "application/octet-stream" {
		u.ContentType = http.DetectContentType(u.Content)
	}
	return nil
}

// UploadClaimDocument forwards a document to the insurer and appends it to
// the claim's attachments. A configured document store also receives a copy.
func (s *Service) UploadClaimDocument(ctx context.Context, claimID uuid.UUID, up DocumentUpload) (*Attachment, error) {
	if err := up.validate(); err != nil {
		return nil, err
	}

	claim, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	ref := claim.Reference()
	if ref == "" {
		return nil, invalid("claim_reference", "The claim has not been assigned an insurer reference.")
	}

	doc := afyalink.Document{
		ClaimReference: ref,
		DocumentType:   up.DocumentType,
		FileName:       up.FileName,
		ContentType:    up.ContentType,
		Content:        up.Content,
	}
	res, err := s.call(ctx, callSpec{
		action:    afyalink.ActionUploadDocument,
		endpoint:  afyalink.Endpoint(afyalink.ActionUploadDocument, "", ""),
		patientID: &claim.PatientID,
		request: map[string]any{
			"claim_reference": ref,
			"document_type":   up.DocumentType,
			"file_name":       up.FileName,
			"content_type":    up.ContentType,
			"size":            len(up.Content),
		},
	}, func(ctx context.Context) (*afyalink.Result, error) {
		return s.gateway.UploadDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}

	var body afyalink.DocumentUploadResponse
	if err := res.DecodeFields(&body); err != nil {
		s.logger.Warn().Err(err).Str("claim_number", claim.ClaimNumber).Msg("unexpected document upload response shape")
	}

	att := Attachment{
		Type:       up.DocumentType,
		URL:        deref(body.URL),
		FileName:   up.FileName,
		DocumentID: body.DocumentID,
		UploadedAt: s.now().UTC(),
	}
	if key := s.archiveDocument(ctx, claim, up); key != "" {
		att.ArchiveKey = &key
	}

	if err := s.claims.AppendAttachment(ctx, claim.ID, att); err != nil {
		return nil, err
	}
	return &att, nil
}

func (s *Service) archiveDocument(ctx context.Context, claim *Claim, up DocumentUpload) string {
	if s.documents == nil {
		return ""
	}
	key, err := blobstore.DocumentKey(claim.ClaimNumber, up.DocumentType, up.FileName)
	if err == nil {
		_, err = s.documents.Put(ctx, key, up.ContentType, up.Content)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("claim_number", claim.ClaimNumber).Msg("claim document archive failed")
		return ""
	}
	return key
}

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.claims.GetByID(ctx, id)
}

func (s *Service) ListClaims(ctx context.Context, filter ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	return s.claims.List(ctx, filter, limit, offset)
}

func (s *Service) ClaimStatistics(ctx context.Context, filter ClaimFilter) (*ClaimStatistics, error) {
	rows, err := s.claims.Statistics(ctx, filter)
	if err != nil {
		return nil, err
	}
	stats := &ClaimStatistics{
		TotalClaimed:  decimal.Zero,
		TotalApproved: decimal.Zero,
		ByStatus:      make([]StatusTotals, 0, len(rows)),
	}
	for _, r := range rows {
		stats.TotalClaims += r.Count
		stats.TotalClaimed = stats.TotalClaimed.Add(r.ClaimedTotal)
		stats.TotalApproved = stats.TotalApproved.Add(r.ApprovedTotal)
		stats.ByStatus = append(stats.ByStatus, r)
	}
	return stats, nil
}
