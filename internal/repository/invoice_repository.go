package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/database"
)

// InvoiceRepository handles invoice and GL line persistence.
type InvoiceRepository struct {
	db *database.DB
}

// NewInvoiceRepository creates a new InvoiceRepository.
func NewInvoiceRepository(db *database.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `
	id, owner_id, supplier_number, supplier_name, invoice_number, reference,
	to_char(invoice_date, 'YYYY-MM-DD'),
	to_char(service_start, 'YYYY-MM-DD'),
	to_char(service_end, 'YYYY-MM-DD'),
	to_char(due_date, 'YYYY-MM-DD'),
	currency, amount, status, attachment_urls, created_at, updated_at
`

// Create inserts an invoice with its GL lines and the initial signer chain
// in one transaction. The first chain entry starts as to_sign.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *Invoice, signerIDs []string) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO invoices (owner_id, supplier_number, supplier_name, invoice_number,
			                      reference, invoice_date, service_start, service_end, due_date,
			                      currency, amount, status, attachment_urls)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::invoice_status, $13)
			RETURNING id, created_at, updated_at
		`

		err := r.db.QueryRow(ctx, query,
			invoice.OwnerID,
			invoice.SupplierNumber,
			invoice.SupplierName,
			invoice.InvoiceNumber,
			invoice.Reference,
			invoice.InvoiceDate,
			invoice.ServiceStart,
			invoice.ServiceEnd,
			invoice.DueDate,
			invoice.Currency,
			invoice.Amount,
			invoice.Status,
			invoice.AttachmentURLs,
		).Scan(&invoice.ID, &invoice.CreatedAt, &invoice.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create invoice")
		}

		if err := r.insertLines(ctx, invoice.ID, invoice.Lines); err != nil {
			return err
		}

		stepQuery := `
			INSERT INTO sign_steps (invoice_id, signer_id, round, position, status)
			VALUES ($1, $2, 1, $3, $4::step_status)
		`
		for i, signerID := range signerIDs {
			status := "pending"
			if i == 0 {
				status = "to_sign"
			}
			if _, err := r.db.Exec(ctx, stepQuery, invoice.ID, signerID, i+1, status); err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create sign step")
			}
		}

		return nil
	})
}

// GetByID retrieves an invoice with its GL lines.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	invoice, err := scanInvoice(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("invoice", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get invoice")
	}

	lines, err := r.GetLines(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines

	return invoice, nil
}

// GetLines retrieves all GL lines for an invoice ordered by line number.
func (r *InvoiceRepository) GetLines(ctx context.Context, invoiceID string) ([]*GLLine, error) {
	query := `
		SELECT id, invoice_id, line_number, gl_code, description,
		       cost_center, location, aircraft_type, route, amount,
		       created_at, updated_at
		FROM gl_lines
		WHERE invoice_id = $1
		ORDER BY line_number
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get GL lines")
	}
	defer rows.Close()

	lines := make([]*GLLine, 0)
	for rows.Next() {
		line := &GLLine{}
		err := rows.Scan(
			&line.ID,
			&line.InvoiceID,
			&line.LineNumber,
			&line.GLCode,
			&line.Description,
			&line.CostCenter,
			&line.Location,
			&line.AircraftType,
			&line.Route,
			&line.Amount,
			&line.CreatedAt,
			&line.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan GL line")
		}
		lines = append(lines, line)
	}

	return lines, nil
}

// ListByOwner retrieves an owner's invoices with optional status filtering
// and pagination.
func (r *InvoiceRepository) ListByOwner(ctx context.Context, ownerID string, status *string, limit, offset int) ([]*Invoice, int64, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE owner_id = $1`
	countQuery := `SELECT COUNT(*) FROM invoices WHERE owner_id = $1`

	args := []any{ownerID}
	if status != nil {
		query += ` AND status = $2::invoice_status`
		countQuery += ` AND status = $2::invoice_status`
		args = append(args, *status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count invoices")
	}

	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list invoices")
	}
	defer rows.Close()

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan invoice")
		}
		invoices = append(invoices, invoice)
	}

	return invoices, total, nil
}

// UpdateContent replaces the owner-editable fields (due date, total amount,
// attachments, GL lines) in one transaction.
func (r *InvoiceRepository) UpdateContent(ctx context.Context, invoice *Invoice) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		query := `
			UPDATE invoices
			SET due_date        = $2,
			    amount          = $3,
			    attachment_urls = $4,
			    updated_at      = NOW()
			WHERE id = $1
			RETURNING updated_at
		`

		err := r.db.QueryRow(ctx, query,
			invoice.ID,
			invoice.DueDate,
			invoice.Amount,
			invoice.AttachmentURLs,
		).Scan(&invoice.UpdatedAt)
		if err == pgx.ErrNoRows {
			return apperrors.NotFound("invoice", invoice.ID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update invoice")
		}

		if _, err := r.db.Exec(ctx, `DELETE FROM gl_lines WHERE invoice_id = $1`, invoice.ID); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to replace GL lines")
		}
		return r.insertLines(ctx, invoice.ID, invoice.Lines)
	})
}

// UpdateStatus sets the invoice status.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE invoices
		SET status     = $2::invoice_status,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("invoice", id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update invoice status")
	}
	return nil
}

// Delete removes an invoice in an owner-deletable status. GL lines, steps
// and comments cascade.
func (r *InvoiceRepository) Delete(ctx context.Context, id string) error {
	query := `
		DELETE FROM invoices
		WHERE id = $1 AND status IN ('pending', 'denied')
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to delete invoice")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("only pending or denied invoices can be deleted")
	}
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (r *InvoiceRepository) insertLines(ctx context.Context, invoiceID string, lines []*GLLine) error {
	query := `
		INSERT INTO gl_lines (invoice_id, line_number, gl_code, description,
		                      cost_center, location, aircraft_type, route, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	for _, line := range lines {
		err := r.db.QueryRow(ctx, query,
			invoiceID,
			line.LineNumber,
			line.GLCode,
			line.Description,
			line.CostCenter,
			line.Location,
			line.AircraftType,
			line.Route,
			line.Amount,
		).Scan(&line.ID, &line.CreatedAt, &line.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create GL line")
		}
		line.InvoiceID = invoiceID
	}
	return nil
}

type invoiceScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row invoiceScanner) (*Invoice, error) {
	invoice := &Invoice{}
	err := row.Scan(
		&invoice.ID,
		&invoice.OwnerID,
		&invoice.SupplierNumber,
		&invoice.SupplierName,
		&invoice.InvoiceNumber,
		&invoice.Reference,
		&invoice.InvoiceDate,
		&invoice.ServiceStart,
		&invoice.ServiceEnd,
		&invoice.DueDate,
		&invoice.Currency,
		&invoice.Amount,
		&invoice.Status,
		&invoice.AttachmentURLs,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return invoice, nil
}
