package afyalink

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is returned for every failed insurer call. StatusCode mirrors the
// insurer's HTTP status for rejections and is 500 for transport failures.
type Error struct {
	StatusCode int
	Message    string
	Body       json.RawMessage
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != e.Err.Error() {
		return fmt.Sprintf("afyalink: %d %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("afyalink: %d %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transport reports whether the call never produced an insurer response.
func (e *Error) Transport() bool { return e.Body == nil && e.Err != nil }

func transportError(err error) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Message: err.Error(), Err: err}
}

// AsError unwraps err to *Error, or nil.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// Fallback messages used when the insurer omits error_msg.
var fallbackMessages = map[string]string{
	ActionVerifyEligibility:           "Eligibility verification failed",
	ActionSubmitClaim:                 "Claim submission failed",
	ActionCheckClaimStatus:            "Claim status check failed",
	ActionUploadDocument:              "Document upload failed",
	ActionSubmitPreauthorization:      "Pre-authorization submission failed",
	ActionCheckPreauthorizationStatus: "Pre-authorization status check failed",
}

func rejection(action string, status int, body []byte) *Error {
	msg := fallbackMessages[action]
	if msg == "" {
		msg = "Insurer request failed"
	}

	var parsed struct {
		ErrorMsg string `json:"error_msg"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.ErrorMsg != "" {
		msg = parsed.ErrorMsg
	}

	var raw json.RawMessage
	if json.Valid(body) {
		raw = json.RawMessage(body)
	} else if len(body) > 0 {
		raw, _ = json.Marshal(string(body))
	} else {
		raw = json.RawMessage("null")
	}

	return &Error{StatusCode: status, Message: msg, Body: raw}
}
