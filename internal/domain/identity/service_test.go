package identity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockPatientRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	for _, existing := range m.patients {
		if existing.MRN == p.MRN {
			return ErrDuplicateMRN
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) GetByMRN(_ context.Context, mrn string) (*Patient, error) {
	for _, p := range m.patients {
		if p.MRN == mrn && !p.Deleted() {
			return p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	existing, ok := m.patients[p.ID]
	if !ok || existing.Deleted() {
		return ErrPatientNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	p, ok := m.patients[id]
	if !ok || p.Deleted() {
		return ErrPatientNotFound
	}
	now := time.Now()
	p.DeletedAt = &now
	return nil
}

func (m *mockPatientRepo) active() []*Patient {
	var result []*Patient
	for _, p := range m.patients {
		if !p.Deleted() {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastName < result[j].LastName })
	return result
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	all := m.active()
	return page(all, limit, offset), len(all), nil
}

func (m *mockPatientRepo) Search(_ context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	var matched []*Patient
	q := strings.ToLower(query)
	for _, p := range m.active() {
		if strings.Contains(strings.ToLower(p.FirstName), q) ||
			strings.Contains(strings.ToLower(p.LastName), q) || p.MRN == query {
			matched = append(matched, p)
		}
	}
	return page(matched, limit, offset), len(matched), nil
}

func page(all []*Patient, limit, offset int) []*Patient {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func newTestService() *Service {
	return NewService(newMockPatientRepo())
}

func strPtr(s string) *string { return &s }

func TestService_CreatePatient(t *testing.T) {
	svc := newTestService()
	p := &Patient{FirstName: " Amina ", LastName: "Otieno", MRN: "MRN-001"}

	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if p.FirstName != "Amina" {
		t.Errorf("expected trimmed first name, got %q", p.FirstName)
	}
}

func TestService_CreatePatient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		patient Patient
	}{
		{"missing names", Patient{MRN: "M1"}},
		{"missing mrn", Patient{FirstName: "A", LastName: "B"}},
		{"bad gender", Patient{FirstName: "A", LastName: "B", MRN: "M1", Gender: strPtr("x")}},
		{"bad email", Patient{FirstName: "A", LastName: "B", MRN: "M1", Email: strPtr("not-an-email")}},
		{"member without scheme", Patient{FirstName: "A", LastName: "B", MRN: "M1", InsuranceMemberNumber: strPtr("MEM-1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService()
			p := tt.patient
			err := svc.CreatePatient(context.Background(), &p)
			if !errors.Is(err, ErrInvalidPatient) {
				t.Errorf("expected ErrInvalidPatient, got %v", err)
			}
		})
	}
}

func TestService_CreatePatient_EmailRules(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	p := &Patient{FirstName: "A", LastName: "B", MRN: "M-EMAIL-1", Email: strPtr("amina@example.co.ke"), Gender: strPtr("female")}
	if err := svc.CreatePatient(ctx, p); err != nil {
		t.Fatalf("valid email rejected: %v", err)
	}

	blank := &Patient{FirstName: "A", LastName: "B", MRN: "M-EMAIL-2", Email: strPtr("  ")}
	if err := svc.CreatePatient(ctx, blank); err != nil {
		t.Fatalf("blank email rejected: %v", err)
	}
	if blank.Email != nil {
		t.Errorf("blank email should be cleared, got %q", *blank.Email)
	}
}

func TestService_CreatePatient_DuplicateMRN(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	svc.CreatePatient(ctx, &Patient{FirstName: "A", LastName: "B", MRN: "MRN-1"})

	err := svc.CreatePatient(ctx, &Patient{FirstName: "C", LastName: "D", MRN: "MRN-1"})
	if !errors.Is(err, ErrDuplicateMRN) {
		t.Errorf("expected ErrDuplicateMRN, got %v", err)
	}
}

func TestService_DeletePatient_StillResolvableByID(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p := &Patient{FirstName: "Old", LastName: "Record", MRN: "MRN-OLD"}
	svc.CreatePatient(ctx, p)

	if err := svc.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := svc.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("deleted patient should resolve by id: %v", err)
	}
	if !got.Deleted() {
		t.Error("expected patient to be marked deleted")
	}

	list, total, _ := svc.ListPatients(ctx, 10, 0)
	if total != 0 || len(list) != 0 {
		t.Errorf("deleted patient should not be listed, got %d", total)
	}

	if err := svc.DeletePatient(ctx, p.ID); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("second delete should report not found, got %v", err)
	}
}

func TestService_SearchPatients(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	svc.CreatePatient(ctx, &Patient{FirstName: "Amina", LastName: "Otieno", MRN: "MRN-1"})
	svc.CreatePatient(ctx, &Patient{FirstName: "Brian", LastName: "Mwangi", MRN: "MRN-2"})

	got, total, err := svc.SearchPatients(ctx, "otie", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || got[0].MRN != "MRN-1" {
		t.Errorf("expected Otieno, got %d results", total)
	}

	_, total, _ = svc.SearchPatients(ctx, "  ", 10, 0)
	if total != 2 {
		t.Errorf("blank query should list all, got %d", total)
	}
}

func TestService_UpdatePatient(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p := &Patient{FirstName: "A", LastName: "B", MRN: "MRN-1"}
	svc.CreatePatient(ctx, p)

	upd := &Patient{ID: p.ID, FirstName: "A", LastName: "Changed", MRN: "MRN-1"}
	if err := svc.UpdatePatient(ctx, upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := svc.GetPatient(ctx, p.ID)
	if got.LastName != "Changed" {
		t.Errorf("expected updated last name, got %q", got.LastName)
	}

	missing := &Patient{ID: uuid.New(), FirstName: "A", LastName: "B", MRN: "X"}
	if err := svc.UpdatePatient(ctx, missing); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestDate_JSON(t *testing.T) {
	var p Patient
	if err := p.BirthDate.UnmarshalJSON([]byte(`"1990-05-01"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.BirthDate.String() != "1990-05-01" {
		t.Errorf("unexpected date %s", p.BirthDate)
	}
	b, _ := p.BirthDate.MarshalJSON()
	if string(b) != `"1990-05-01"` {
		t.Errorf("unexpected JSON %s", b)
	}

	if err := p.BirthDate.UnmarshalJSON([]byte(`"01/05/1990"`)); err == nil {
		t.Error("expected error for non ISO date")
	}

	var zero Date
	b, _ = zero.MarshalJSON()
	if string(b) != "null" {
		t.Errorf("zero date should encode as null, got %s", b)
	}
}

func TestDate_Scan(t *testing.T) {
	var d Date
	if err := d.Scan(time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2000-02-29" {
		t.Errorf("unexpected date %s", d)
	}
	if err := d.Scan(nil); err != nil || !d.IsZero() {
		t.Errorf("nil should scan to zero date")
	}
	if err := d.Scan(42); err == nil {
		t.Error("expected error for int")
	}
	if v, _ := d.Value(); v != nil {
		t.Errorf("zero date should be NULL, got %v", v)
	}
}
