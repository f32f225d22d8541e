package billing

import (
	"context"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	NextInvoiceNumber(ctx context.Context) (string, error)
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate locks the invoice row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	UpdateTotals(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, filter InvoiceFilter, limit, offset int) ([]*Invoice, int, error)

	AddItem(ctx context.Context, item *InvoiceItem) error
	GetItems(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceItem, error)

	AddPayment(ctx context.Context, p *Payment) error
	GetPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}
