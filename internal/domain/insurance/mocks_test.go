package insurance

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/afyalink"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/lock"
)

// -- repositories --

type mockClaimRepo struct {
	claims        map[uuid.UUID]*Claim
	takenNumbers  map[string]bool
	existsChecks  int
	getCalls      int
	statusUpdates int
	createErr     error
}

func newMockClaimRepo() *mockClaimRepo {
	return &mockClaimRepo{claims: make(map[uuid.UUID]*Claim), takenNumbers: make(map[string]bool)}
}

func (m *mockClaimRepo) Create(_ context.Context, c *Claim) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.claims {
		if existing.InvoiceID == c.InvoiceID {
			return ErrClaimExists
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.claims[c.ID] = &cp
	m.takenNumbers[c.ClaimNumber] = true
	return nil
}

func (m *mockClaimRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	m.getCalls++
	c, ok := m.claims[id]
	if !ok {
		return nil, notFound("claim")
	}
	cp := *c
	return &cp, nil
}

func (m *mockClaimRepo) GetByInvoice(_ context.Context, invoiceID uuid.UUID) (*Claim, error) {
	for _, c := range m.claims {
		if c.InvoiceID == invoiceID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, notFound("claim")
}

func (m *mockClaimRepo) ClaimNumberExists(_ context.Context, number string) (bool, error) {
	m.existsChecks++
	return m.takenNumbers[number], nil
}

func (m *mockClaimRepo) UpdateStatus(_ context.Context, c *Claim) error {
	if _, ok := m.claims[c.ID]; !ok {
		return notFound("claim")
	}
	m.statusUpdates++
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

func (m *mockClaimRepo) AppendAttachment(_ context.Context, claimID uuid.UUID, a Attachment) error {
	c, ok := m.claims[claimID]
	if !ok {
		return notFound("claim")
	}
	c.Attachments = append(append([]Attachment(nil), c.Attachments...), a)
	return nil
}

func (m *mockClaimRepo) List(_ context.Context, filter ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	var out []*Claim
	for _, c := range m.claims {
		if filter.PatientID != nil && c.PatientID != *filter.PatientID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockClaimRepo) Statistics(_ context.Context, filter ClaimFilter) ([]StatusTotals, error) {
	byStatus := map[string]*StatusTotals{}
	for _, c := range m.claims {
		if filter.PatientID != nil && c.PatientID != *filter.PatientID {
			continue
		}
		st, ok := byStatus[c.Status]
		if !ok {
			st = &StatusTotals{Status: c.Status}
			byStatus[c.Status] = st
		}
		st.Count++
		st.ClaimedTotal = st.ClaimedTotal.Add(c.ClaimedAmount)
		st.ApprovedTotal = st.ApprovedTotal.Add(c.ApprovedAmount)
	}
	var out []StatusTotals
	for _, st := range byStatus {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

type mockPreauthRepo struct {
	items map[uuid.UUID]*Preauthorization
}

func newMockPreauthRepo() *mockPreauthRepo {
	return &mockPreauthRepo{items: make(map[uuid.UUID]*Preauthorization)}
}

func (m *mockPreauthRepo) Create(_ context.Context, p *Preauthorization) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPreauthRepo) GetByID(_ context.Context, id uuid.UUID) (*Preauthorization, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, notFound("preauthorization")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPreauthRepo) Update(_ context.Context, p *Preauthorization) error {
	if _, ok := m.items[p.ID]; !ok {
		return notFound("preauthorization")
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPreauthRepo) List(_ context.Context, filter PreauthFilter, _, _ int) ([]*Preauthorization, int, error) {
	var out []*Preauthorization
	for _, p := range m.items {
		if filter.PatientID != nil && p.PatientID != *filter.PatientID {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockAuditRepo struct {
	logs      []*AuditLog
	insertErr error
}

func (m *mockAuditRepo) Insert(ctx context.Context, l *AuditLog) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	l.ID = int64(len(m.logs) + 1)
	l.CreatedAt = time.Now()
	m.logs = append(m.logs, l)
	return nil
}

func (m *mockAuditRepo) List(_ context.Context, filter AuditFilter, _, _ int) ([]*AuditLog, int, error) {
	var out []*AuditLog
	for _, l := range m.logs {
		if filter.Action != "" && l.Action != filter.Action {
			continue
		}
		out = append(out, l)
	}
	return out, len(out), nil
}

// -- lookups --

type mockPatients map[uuid.UUID]*identity.Patient

func (m mockPatients) GetPatient(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := m[id]
	if !ok {
		return nil, identity.ErrPatientNotFound
	}
	return p, nil
}

type mockInvoices map[uuid.UUID]*billing.Invoice

func (m mockInvoices) GetInvoice(_ context.Context, id uuid.UUID) (*billing.Invoice, error) {
	inv, ok := m[id]
	if !ok {
		return nil, billing.ErrInvoiceNotFound
	}
	return inv, nil
}

// -- gateway --

// fakeGateway delegates to afyalink.Mock unless a hook is set.
type fakeGateway struct {
	mock  *afyalink.Mock
	calls int

	submitClaim func(afyalink.ClaimSubmission) (*afyalink.Result, error)
	claimStatus func(ref, patientID string) (*afyalink.Result, error)
	upload      func(afyalink.Document) (*afyalink.Result, error)
	eligibility func(afyalink.EligibilityRequest) (*afyalink.Result, error)

	lastClaim  afyalink.ClaimSubmission
	lastUpload afyalink.Document
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{mock: afyalink.NewMock()}
}

func (g *fakeGateway) VerifyEligibility(ctx context.Context, req afyalink.EligibilityRequest) (*afyalink.Result, error) {
	g.calls++
	if g.eligibility != nil {
		return g.eligibility(req)
	}
	return g.mock.VerifyEligibility(ctx, req)
}

func (g *fakeGateway) SubmitClaim(ctx context.Context, req afyalink.ClaimSubmission) (*afyalink.Result, error) {
	g.calls++
	g.lastClaim = req
	if g.submitClaim != nil {
		return g.submitClaim(req)
	}
	return g.mock.SubmitClaim(ctx, req)
}

func (g *fakeGateway) CheckClaimStatus(ctx context.Context, ref, patientID string) (*afyalink.Result, error) {
	g.calls++
	if g.claimStatus != nil {
		return g.claimStatus(ref, patientID)
	}
	return g.mock.CheckClaimStatus(ctx, ref, patientID)
}

func (g *fakeGateway) UploadDocument(ctx context.Context, doc afyalink.Document) (*afyalink.Result, error) {
	g.calls++
	g.lastUpload = doc
	if g.upload != nil {
		return g.upload(doc)
	}
	return g.mock.UploadDocument(ctx, doc)
}

func (g *fakeGateway) SubmitPreauthorization(ctx context.Context, req afyalink.PreauthSubmission) (*afyalink.Result, error) {
	g.calls++
	return g.mock.SubmitPreauthorization(ctx, req)
}

func (g *fakeGateway) CheckPreauthorizationStatus(ctx context.Context, ref string) (*afyalink.Result, error) {
	g.calls++
	return g.mock.CheckPreauthorizationStatus(ctx, ref)
}

func jsonResult(t *testing.T, body string) *afyalink.Result {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return &afyalink.Result{StatusCode: 200, Endpoint: "/test", Data: data, Raw: json.RawMessage(body)}
}

// -- environment --

var testNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	svc      *Service
	gateway  *fakeGateway
	claims   *mockClaimRepo
	preauths *mockPreauthRepo
	audits   *mockAuditRepo
	docs     *blobstore.InMemoryStore
	locker   *lock.LocalLocker
	patient  *identity.Patient
	invoice  *billing.Invoice
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	patient := &identity.Patient{ID: uuid.New(), MRN: "MRN-0001", FirstName: "Amina", LastName: "Wanjiru"}
	invoice := &billing.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: "INV-000042",
		PatientID:     patient.ID,
		Status:        billing.StatusIssued,
		TotalAmount:   decimal.RequireFromString("1500.00"),
	}

	env := &testEnv{
		gateway:  newFakeGateway(),
		claims:   newMockClaimRepo(),
		preauths: newMockPreauthRepo(),
		audits:   &mockAuditRepo{},
		docs:     blobstore.NewInMemoryStore(),
		locker:   lock.NewLocalLocker(),
		patient:  patient,
		invoice:  invoice,
	}
	env.svc = NewService(Deps{
		Gateway:      env.gateway,
		Claims:       env.claims,
		Preauths:     env.preauths,
		Audit:        NewAuditLogger(env.audits, nil, zerolog.Nop()),
		Patients:     mockPatients{patient.ID: patient},
		Invoices:     mockInvoices{invoice.ID: invoice},
		Locker:       env.locker,
		Documents:    env.docs,
		Logger:       zerolog.Nop(),
		FacilityCode: "FAC-001",
	})
	env.svc.now = func() time.Time { return testNow }
	return env
}

func (e *testEnv) claimRequest(services ...ServiceLine) *ClaimRequest {
	return &ClaimRequest{
		PatientID:    e.patient.ID,
		InvoiceID:    e.invoice.ID,
		MemberNumber: "MBR-778899",
		SchemeCode:   "SHA-01",
		Diagnosis:    "Malaria",
		ServiceDate:  "2024-03-14",
		Services:     services,
	}
}

// storedClaim inserts a claim that has already been accepted by the insurer.
func (e *testEnv) storedClaim(t *testing.T, reference *string) *Claim {
	t.Helper()
	c := &Claim{
		ClaimNumber:    "CLM-20240314-AB12CD",
		ClaimReference: reference,
		PatientID:      e.patient.ID,
		InvoiceID:      e.invoice.ID,
		ClaimedAmount:  decimal.RequireFromString("1500.00"),
		ApprovedAmount: decimal.Zero,
		RejectedAmount: decimal.Zero,
		Status:         ClaimStatusSubmitted,
		SubmittedAt:    testNow,
	}
	if err := e.claims.Create(context.Background(), c); err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	return c
}

func svcLine(desc string, qty int, price string) ServiceLine {
	return ServiceLine{Description: desc, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func strPtr(s string) *string { return &s }

func asValidation(t *testing.T, err error) *ValidationError {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	return verr
}
