package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hms/hms/internal/platform/db"
)

type invoiceRepoPG struct {
	db db.Querier
}

func NewInvoiceRepo(q db.Querier) InvoiceRepository {
	return &invoiceRepoPG{db: q}
}

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.db)
}

const invoiceCols = `id, invoice_number, patient_id, status, total_amount, paid_amount,
	due_date, notes, created_at, updated_at`

func (r *invoiceRepoPG) NextInvoiceNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("invoice number: %w", err)
	}
	return fmt.Sprintf("INV-%06d", seq), nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoices (id, invoice_number, patient_id, status, total_amount, paid_amount, due_date, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		inv.ID, inv.InvoiceNumber, inv.PatientID, inv.Status, inv.TotalAmount, inv.PaidAmount, inv.DueDate, inv.Notes,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("invoice create: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("invoice get", err)
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound("invoice lock", err)
	}
	return inv, nil
}

func (r *invoiceRepoPG) UpdateTotals(ctx context.Context, inv *Invoice) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices SET total_amount=$2, paid_amount=$3, status=$4, updated_at=NOW()
		WHERE id = $1`,
		inv.ID, inv.TotalAmount, inv.PaidAmount, inv.Status,
	)
	if err != nil {
		return fmt.Errorf("invoice update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *invoiceRepoPG) List(ctx context.Context, filter InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		invoiceCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

func (r *invoiceRepoPG) AddItem(ctx context.Context, item *InvoiceItem) error {
	item.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_items (id, invoice_id, service_code, description, quantity, unit_price, amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		item.ID, item.InvoiceID, item.ServiceCode, item.Description, item.Quantity, item.UnitPrice, item.Amount,
	).Scan(&item.CreatedAt)
	if err != nil {
		return fmt.Errorf("invoice item create: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) GetItems(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, service_code, description, quantity, unit_price, amount, created_at
		FROM invoice_items WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.ServiceCode, &it.Description,
			&it.Quantity, &it.UnitPrice, &it.Amount, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *invoiceRepoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, reference, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference, p.PaidAt,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("payment create: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) GetPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, paid_at, created_at
		FROM payments WHERE invoice_id = $1 ORDER BY paid_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.Status, &inv.TotalAmount, &inv.PaidAmount,
		&inv.DueDate, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvoiceNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
