package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/db"
)

// PatientLookup resolves patients by id, including soft-deleted ones.
type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

type Service struct {
	invoices InvoiceRepository
	patients PatientLookup
	tx       db.TxFunc
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(invoices InvoiceRepository, patients PatientLookup, tx db.TxFunc, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx
	}
	return &Service{invoices: invoices, patients: patients, tx: tx, logger: logger, now: time.Now}
}

var initialStatuses = map[string]bool{StatusDraft: true, StatusIssued: true}

// CreateInvoice writes the invoice and its items in one transaction.
func (s *Service) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidInvoice)
	}
	if inv.Status == "" {
		inv.Status = StatusDraft
	}
	if !initialStatuses[inv.Status] {
		return fmt.Errorf("%w: new invoices must be draft or issued", ErrInvalidInvoice)
	}

	total := decimal.Zero
	for i, it := range inv.Items {
		if err := priceItem(it); err != nil {
			return fmt.Errorf("%w: items[%d]: %v", ErrInvalidInvoice, i, err)
		}
		total = total.Add(it.Amount)
	}

	p, err := s.patients.GetPatient(ctx, inv.PatientID)
	if err != nil {
		return err
	}
	if p.Deleted() {
		return fmt.Errorf("%w: patient has been deleted", ErrInvalidInvoice)
	}

	inv.TotalAmount = total
	inv.PaidAmount = decimal.Zero

	err = s.tx(ctx, func(ctx context.Context) error {
		number, err := s.invoices.NextInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		for _, it := range inv.Items {
			it.InvoiceID = inv.ID
			if err := s.invoices.AddItem(ctx, it); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("invoice_number", inv.InvoiceNumber).
		Str("total_amount", inv.TotalAmount.StringFixed(2)).
		Msg("invoice created")
	return nil
}

// GetInvoice returns the invoice with its items and payments.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Items, err = s.invoices.GetItems(ctx, id); err != nil {
		return nil, err
	}
	if inv.Payments, err = s.invoices.GetPayments(ctx, id); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.List(ctx, filter, limit, offset)
}

// AddItem appends an item and recomputes the invoice total.
func (s *Service) AddItem(ctx context.Context, invoiceID uuid.UUID, item *InvoiceItem) (*Invoice, error) {
	if err := priceItem(item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}

	var inv *Invoice
	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Closed() {
			return fmt.Errorf("%w: status is %s", ErrInvoiceClosed, inv.Status)
		}
		item.InvoiceID = inv.ID
		if err := s.invoices.AddItem(ctx, item); err != nil {
			return err
		}
		inv.TotalAmount = inv.TotalAmount.Add(item.Amount)
		inv.Status = settledStatus(inv)
		return s.invoices.UpdateTotals(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// RecordPayment applies a payment. Payments that would take the paid
// amount past the total are rejected.
func (s *Service) RecordPayment(ctx context.Context, invoiceID uuid.UUID, p *Payment) (*Invoice, error) {
	p.Method = strings.ToLower(strings.TrimSpace(p.Method))
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInvoice)
	}
	if !validPaymentMethods[p.Method] {
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidInvoice, p.Method)
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = s.now().UTC()
	}

	var inv *Invoice
	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Closed() {
			return fmt.Errorf("%w: status is %s", ErrInvoiceClosed, inv.Status)
		}
		if inv.Status == StatusDraft {
			return fmt.Errorf("%w: invoice must be issued before payment", ErrInvalidInvoice)
		}
		if p.Amount.GreaterThan(inv.Balance()) {
			return fmt.Errorf("%w: balance is %s", ErrOverpayment, inv.Balance().StringFixed(2))
		}
		p.InvoiceID = inv.ID
		if err := s.invoices.AddPayment(ctx, p); err != nil {
			return err
		}
		inv.PaidAmount = inv.PaidAmount.Add(p.Amount)
		inv.Status = settledStatus(inv)
		return s.invoices.UpdateTotals(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("amount", p.Amount.StringFixed(2)).
		Str("method", p.Method).
		Str("status", inv.Status).
		Msg("payment recorded")
	return inv, nil
}

// IssueInvoice moves a draft to issued.
func (s *Service) IssueInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.transition(ctx, id, func(inv *Invoice) error {
		if inv.Status != StatusDraft {
			return fmt.Errorf("%w: only draft invoices can be issued", ErrInvalidInvoice)
		}
		if !inv.TotalAmount.IsPositive() {
			return fmt.Errorf("%w: cannot issue an empty invoice", ErrInvalidInvoice)
		}
		inv.Status = StatusIssued
		return nil
	})
}

// CancelInvoice cancels an invoice that has not received payments.
func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.transition(ctx, id, func(inv *Invoice) error {
		if inv.Closed() {
			return fmt.Errorf("%w: status is %s", ErrInvoiceClosed, inv.Status)
		}
		if inv.PaidAmount.IsPositive() {
			return fmt.Errorf("%w: invoice has payments", ErrInvalidInvoice)
		}
		inv.Status = StatusCancelled
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, apply func(*Invoice) error) (*Invoice, error) {
	var inv *Invoice
	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(inv); err != nil {
			return err
		}
		return s.invoices.UpdateTotals(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func priceItem(it *InvoiceItem) error {
	it.Description = strings.TrimSpace(it.Description)
	if it.Description == "" {
		return fmt.Errorf("description is required")
	}
	if it.Quantity < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}
	if it.UnitPrice.IsNegative() {
		return fmt.Errorf("unit_price must not be negative")
	}
	it.Amount = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
	return nil
}

// settledStatus derives the payment status of an invoice that is past draft.
func settledStatus(inv *Invoice) string {
	switch {
	case inv.Status == StatusDraft || inv.Status == StatusCancelled:
		return inv.Status
	case inv.PaidAmount.IsZero():
		return StatusIssued
	case inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount):
		return StatusPaid
	default:
		return StatusPartiallyPaid
	}
}
