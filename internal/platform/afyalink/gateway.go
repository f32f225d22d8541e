// Package afyalink talks to the Afyalink insurer API: eligibility checks,
// pre-authorizations, claim submission, claim status and claim documents.
//
// Gateway has two implementations. Client performs real HTTPS calls;
// Mock returns deterministic synthetic answers for environments without
// insurer connectivity. The composition root picks one.
package afyalink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// Actions, as recorded in the audit log.
const (
	ActionVerifyEligibility           = "verify_eligibility"
	ActionSubmitClaim                 = "submit_claim"
	ActionCheckClaimStatus            = "check_claim_status"
	ActionUploadDocument              = "upload_document"
	ActionSubmitPreauthorization      = "submit_preauthorization"
	ActionCheckPreauthorizationStatus = "check_preauthorization_status"
)

const (
	pathEligibility    = "/eligibility/verify"
	pathClaimSubmit    = "/claims/submit"
	pathDocumentUpload = "/claims/documents/upload"
	pathPreauthSubmit  = "/preauthorizations/submit"
)

func claimStatusPath(reference, patientID string) string {
	p := fmt.Sprintf("/claims/%s/status", url.PathEscape(reference))
	if patientID != "" {
		p += "?" + url.Values{"patient_id": {patientID}}.Encode()
	}
	return p
}

func preauthStatusPath(reference string) string {
	return fmt.Sprintf("/preauthorizations/%s/status", url.PathEscape(reference))
}

// Gateway is the insurer API.
type Gateway interface {
	VerifyEligibility(ctx context.Context, req EligibilityRequest) (*Result, error)
	SubmitClaim(ctx context.Context, req ClaimSubmission) (*Result, error)
	CheckClaimStatus(ctx context.Context, reference, patientID string) (*Result, error)
	UploadDocument(ctx context.Context, doc Document) (*Result, error)
	SubmitPreauthorization(ctx context.Context, req PreauthSubmission) (*Result, error)
	CheckPreauthorizationStatus(ctx context.Context, reference string) (*Result, error)
}

// Result is a successful (2xx) insurer response.
type Result struct {
	StatusCode int
	Endpoint   string
	Data       map[string]any
	Raw        json.RawMessage
}

// Decode unmarshals the raw response body into v.
func (r *Result) Decode(v any) error {
	if len(r.Raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("decode %s response: %w", r.Endpoint, err)
	}
	return nil
}

// DecodeFields decodes each json-tagged field of the struct v on its own.
// A field holding a malformed value is left zero and reported in the
// joined error while the remaining fields are still filled.
func (r *Result) DecodeFields(v any) error {
	if len(r.Raw) == 0 {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode %s response: need a struct pointer, got %T", r.Endpoint, v)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Raw, &fields); err != nil {
		return fmt.Errorf("decode %s response: %w", r.Endpoint, err)
	}

	elem := rv.Elem()
	var errs []error
	for i := 0; i < elem.NumField(); i++ {
		name, _, _ := strings.Cut(elem.Type().Field(i).Tag.Get("json"), ",")
		raw, ok := fields[name]
		if name == "" || name == "-" || !ok {
			continue
		}
		target := reflect.New(elem.Field(i).Type())
		if err := json.Unmarshal(raw, target.Interface()); err != nil {
			errs = append(errs, fmt.Errorf("decode %s response field %s: %w", r.Endpoint, name, err))
			continue
		}
		elem.Field(i).Set(target.Elem())
	}
	return errors.Join(errs...)
}

// Endpoint returns the request path used for action, for audit entries
// written before a call completes.
func Endpoint(action, reference, patientID string) string {
	switch action {
	case ActionVerifyEligibility:
		return pathEligibility
	case ActionSubmitClaim:
		return pathClaimSubmit
	case ActionCheckClaimStatus:
		return claimStatusPath(reference, patientID)
	case ActionUploadDocument:
		return pathDocumentUpload
	case ActionSubmitPreauthorization:
		return pathPreauthSubmit
	case ActionCheckPreauthorizationStatus:
		return preauthStatusPath(reference)
	}
	return ""
}
