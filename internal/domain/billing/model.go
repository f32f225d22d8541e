package billing

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvalidInvoice  = errors.New("invalid invoice")
	ErrInvoiceClosed   = errors.New("invoice is closed")
	ErrOverpayment     = errors.New("payment exceeds outstanding balance")
)

const (
	StatusDraft         = "draft"
	StatusIssued        = "issued"
	StatusPartiallyPaid = "partially_paid"
	StatusPaid          = "paid"
	StatusCancelled     = "cancelled"
)

// Invoice maps to the invoices table. TotalAmount is the sum of item
// amounts and PaidAmount the sum of payments; both are maintained by the
// service.
type Invoice struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	InvoiceNumber string          `db:"invoice_number" json:"invoice_number"`
	PatientID     uuid.UUID       `db:"patient_id" json:"patient_id"`
	Status        string          `db:"status" json:"status"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount    decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	DueDate       *time.Time      `db:"due_date" json:"due_date,omitempty"`
	Notes         *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`

	Items    []*InvoiceItem `json:"items,omitempty"`
	Payments []*Payment     `json:"payments,omitempty"`
}

func (inv *Invoice) Balance() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.PaidAmount)
}

// Closed reports whether the invoice accepts no more items or payments.
func (inv *Invoice) Closed() bool {
	return inv.Status == StatusPaid || inv.Status == StatusCancelled
}

func (inv Invoice) MarshalJSON() ([]byte, error) {
	type alias Invoice
	return json.Marshal(struct {
		alias
		Balance decimal.Decimal `json:"balance"`
	}{alias(inv), inv.Balance()})
}

// InvoiceItem maps to the invoice_items table. Amount is always
// Quantity * UnitPrice, computed when the item is written.
type InvoiceItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	InvoiceID   uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	ServiceCode *string         `db:"service_code" json:"service_code,omitempty"`
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Payment maps to the payments table.
type Payment struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	InvoiceID uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Method    string          `db:"method" json:"method"`
	Reference *string         `db:"reference" json:"reference,omitempty"`
	PaidAt    time.Time       `db:"paid_at" json:"paid_at"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

var validPaymentMethods = map[string]bool{
	"cash": true, "mpesa": true, "card": true, "bank_transfer": true, "insurance": true,
}

// InvoiceFilter narrows List. Zero values match everything.
type InvoiceFilter struct {
	PatientID *uuid.UUID
	Status    string
}
