package insurance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/telemetry"
)

const auditWriteTimeout = 5 * time.Second

// AuditEntry describes one outbound insurer call.
type AuditEntry struct {
	Action     string
	Endpoint   string
	PatientID  *uuid.UUID
	Request    any
	Response   json.RawMessage
	StatusCode int
	Error      string
	Duration   time.Duration
}

// AuditLogger writes one afyalink_audit_logs row per insurer call. Write
// failures are logged and counted, never returned.
type AuditLogger struct {
	repo    AuditRepository
	metrics *telemetry.InsuranceMetrics
	logger  zerolog.Logger
}

func NewAuditLogger(repo AuditRepository, metrics *telemetry.InsuranceMetrics, logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{repo: repo, metrics: metrics, logger: logger}
}

func (a *AuditLogger) Record(ctx context.Context, e AuditEntry) {
	entry := &AuditLog{
		Action:         e.Action,
		Endpoint:       e.Endpoint,
		PatientID:      e.PatientID,
		RequestPayload: encodePayload(e.Request),
		ResponseData:   e.Response,
		StatusCode:     e.StatusCode,
		DurationMS:     e.Duration.Milliseconds(),
	}
	if e.Error != "" {
		entry.ErrorMessage = &e.Error
	}
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		entry.UserID = &uid
	}
	if ip := middleware.ClientIPFromContext(ctx); ip != "" {
		entry.IPAddress = &ip
	}

	// The caller's request may already be cancelled; the row is still owed.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := a.repo.Insert(wctx, entry); err != nil {
		a.metrics.AuditWriteFailed()
		a.logger.Error().Err(err).
			Str("action", e.Action).
			Int("status_code", e.StatusCode).
			Msg("failed to write afyalink audit log")
	}
}

func (a *AuditLogger) List(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditLog, int, error) {
	return a.repo.List(ctx, filter, limit, offset)
}

func encodePayload(v any) json.RawMessage {
	switch p := v.(type) {
	case nil:
		return json.RawMessage("{}")
	case json.RawMessage:
		return p
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
