package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/validation"
)

type Service struct {
	patients PatientRepository
}

func NewService(patients PatientRepository) *Service {
	return &Service{patients: patients}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

// GetPatient resolves a patient by id, including soft-deleted ones.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.patients.GetByMRN(ctx, mrn)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.SoftDelete(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) SearchPatients(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.patients.List(ctx, limit, offset)
	}
	return s.patients.Search(ctx, query, limit, offset)
}

var patientRules = validation.New()

func validatePatient(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.MRN = strings.TrimSpace(p.MRN)
	if p.Email != nil && strings.TrimSpace(*p.Email) == "" {
		p.Email = nil
	}

	if err := patientRules.Validate(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatient, err)
	}
	if p.InsuranceMemberNumber != nil && *p.InsuranceMemberNumber != "" &&
		(p.InsuranceSchemeCode == nil || *p.InsuranceSchemeCode == "") {
		return fmt.Errorf("%w: insurance_scheme_code is required with insurance_member_number", ErrInvalidPatient)
	}
	return nil
}
