package insurance

import (
	"context"

	"github.com/google/uuid"
)

type ClaimRepository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByInvoice(ctx context.Context, invoiceID uuid.UUID) (*Claim, error)
	ClaimNumberExists(ctx context.Context, number string) (bool, error)
	// UpdateStatus writes the fields a status poll may change.
	UpdateStatus(ctx context.Context, c *Claim) error
	AppendAttachment(ctx context.Context, claimID uuid.UUID, a Attachment) error
	List(ctx context.Context, filter ClaimFilter, limit, offset int) ([]*Claim, int, error)
	Statistics(ctx context.Context, filter ClaimFilter) ([]StatusTotals, error)
}

type PreauthRepository interface {
	Create(ctx context.Context, p *Preauthorization) error
	GetByID(ctx context.Context, id uuid.UUID) (*Preauthorization, error)
	Update(ctx context.Context, p *Preauthorization) error
	List(ctx context.Context, filter PreauthFilter, limit, offset int) ([]*Preauthorization, int, error)
}

type AuditRepository interface {
	Insert(ctx context.Context, l *AuditLog) error
	List(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditLog, int, error)
}
