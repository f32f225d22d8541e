package afyalink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("hms.internal.platform.afyalink")

// maxResponseBytes bounds how much of an insurer response is read.
const maxResponseBytes = 4 << 20

// Config holds configuration for the insurer client.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// HTTPClient overrides the default client; its Timeout is left alone.
	HTTPClient *http.Client
}

// Client is the HTTPS Gateway. It is immutable after construction and safe
// for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

var _ Gateway = (*Client)(nil)

// NewClient validates cfg and builds a Client. Timeout defaults to 30s.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("afyalink: BaseURL is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("afyalink: APIKey and APISecret are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: httpClient,
	}, nil
}

func (c *Client) VerifyEligibility(ctx context.Context, req EligibilityRequest) (*Result, error) {
	return c.postJSON(ctx, ActionVerifyEligibility, pathEligibility, req)
}

func (c *Client) SubmitClaim(ctx context.Context, req ClaimSubmission) (*Result, error) {
	if req.Attachments == nil {
		req.Attachments = []AttachmentRef{}
	}
	return c.postJSON(ctx, ActionSubmitClaim, pathClaimSubmit, req)
}

func (c *Client) CheckClaimStatus(ctx context.Context, reference, patientID string) (*Result, error) {
	return c.do(ctx, ActionCheckClaimStatus, http.MethodGet, claimStatusPath(reference, patientID), nil, "")
}

func (c *Client) SubmitPreauthorization(ctx context.Context, req PreauthSubmission) (*Result, error) {
	return c.postJSON(ctx, ActionSubmitPreauthorization, pathPreauthSubmit, req)
}

func (c *Client) CheckPreauthorizationStatus(ctx context.Context, reference string) (*Result, error) {
	return c.do(ctx, ActionCheckPreauthorizationStatus, http.MethodGet, preauthStatusPath(reference), nil, "")
}

func (c *Client) UploadDocument(ctx context.Context, doc Document) (*Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("claim_reference", doc.ClaimReference); err != nil {
		return nil, transportError(fmt.Errorf("build upload form: %w", err))
	}
	if err := w.WriteField("document_type", doc.DocumentType); err != nil {
		return nil, transportError(fmt.Errorf("build upload form: %w", err))
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.FileName))
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, transportError(fmt.Errorf("build upload form: %w", err))
	}
	if _, err := part.Write(doc.Content); err != nil {
		return nil, transportError(fmt.Errorf("build upload form: %w", err))
	}
	if err := w.Close(); err != nil {
		return nil, transportError(fmt.Errorf("build upload form: %w", err))
	}

	return c.do(ctx, ActionUploadDocument, http.MethodPost, pathDocumentUpload, &buf, w.FormDataContentType())
}

func (c *Client) postJSON(ctx context.Context, action, path string, payload any) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, transportError(fmt.Errorf("marshal %s payload: %w", action, err))
	}
	return c.do(ctx, action, http.MethodPost, path, bytes.NewReader(body), "application/json")
}

// do performs one request. It never retries. Every failure comes back as
// *Error.
func (c *Client) do(ctx context.Context, action, method, path string, body io.Reader, contentType string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "afyalink."+action)
	defer span.End()
	span.SetAttributes(
		attribute.String("afyalink.action", action),
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, transportError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-API-Secret", c.apiSecret)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, transportError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := rejection(action, resp.StatusCode, raw)
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, apiErr
	}

	result := &Result{StatusCode: resp.StatusCode, Endpoint: path, Data: map[string]any{}}
	if len(bytes.TrimSpace(raw)) == 0 {
		result.Raw = json.RawMessage("{}")
		return result, nil
	}

	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode body")
		return nil, &Error{
			StatusCode: http.StatusInternalServerError,
			Message:    fmt.Sprintf("invalid response from insurer: %v", err),
			Err:        err,
		}
	}
	// Non-object bodies stay available through Raw only.
	if obj, ok := decoded.(map[string]any); ok {
		result.Data = obj
	}
	result.Raw = json.RawMessage(raw)
	return result, nil
}
