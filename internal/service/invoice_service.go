package service

import (
	"fmt"
	"strings"
	"time"

	"context"

	"github.com/rs/zerolog"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/auth"
	"github.com/skyfin/be-invoice-signoff/internal/repository"
	"github.com/skyfin/be-invoice-signoff/internal/workflow"
)

// InvoiceService handles invoice CRUD with lifecycle gating. Signer actions
// live in WorkflowService.
type InvoiceService struct {
	invoices InvoiceStore
	users    UserStore
	audit    AuditStore
	events   EventPublisher
	log      zerolog.Logger
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(invoices InvoiceStore, users UserStore, audit AuditStore, events EventPublisher, log zerolog.Logger) *InvoiceService {
	return &InvoiceService{
		invoices: invoices,
		users:    users,
		audit:    audit,
		events:   events,
		log:      log,
	}
}

// GLLineRequest is one GL allocation in a create/update request.
type GLLineRequest struct {
	LineNumber   int    `json:"line_number"`
	GLCode       string `json:"gl_code"`
	Description  string `json:"description"`
	CostCenter   string `json:"cost_center"`
	Location     string `json:"location"`
	AircraftType string `json:"aircraft_type"`
	Route        string `json:"route"`
	Amount       int64  `json:"amount"`
}

// CreateInvoiceRequest creates an invoice with its intended signer chain.
type CreateInvoiceRequest struct {
	SupplierNumber string           `json:"supplier_number"`
	SupplierName   string           `json:"supplier_name"`
	InvoiceNumber  string           `json:"invoice_number"`
	Reference      string           `json:"reference"`
	InvoiceDate    string           `json:"invoice_date"`
	ServiceStart   *string          `json:"service_start,omitempty"`
	ServiceEnd     *string          `json:"service_end,omitempty"`
	DueDate        string           `json:"due_date"`
	Currency       string           `json:"currency"`
	Amount         int64            `json:"amount"`
	AttachmentURLs []string         `json:"attachment_urls"`
	Lines          []*GLLineRequest `json:"gl_lines"`
	SignerIDs      []string         `json:"signer_ids"`
}

// UpdateInvoiceRequest carries the owner-editable fields.
type UpdateInvoiceRequest struct {
	DueDate        string           `json:"due_date"`
	Amount         int64            `json:"amount"`
	AttachmentURLs []string         `json:"attachment_urls"`
	Lines          []*GLLineRequest `json:"gl_lines"`
}

// Create validates and persists a new invoice. The first chain entry starts
// as to_sign and the invoice as pending.
func (s *InvoiceService) Create(ctx context.Context, sess *auth.Session, req *CreateInvoiceRequest) (*repository.Invoice, error) {
	if req.SupplierNumber == "" || req.SupplierName == "" {
		return nil, apperrors.InvalidInput("supplier", "supplier number and name are required")
	}
	if req.InvoiceNumber == "" {
		return nil, apperrors.InvalidInput("invoice_number", "invoice number is required")
	}

	invoiceDate, err := time.Parse("2006-01-02", req.InvoiceDate)
	if err != nil {
		return nil, apperrors.InvalidInput("invoice_date", "invalid date format, expected YYYY-MM-DD")
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		return nil, apperrors.InvalidInput("due_date", "invalid date format, expected YYYY-MM-DD")
	}
	if dueDate.Before(invoiceDate) {
		return nil, apperrors.InvalidInput("due_date", "due date cannot be before invoice date")
	}
	for _, d := range []*string{req.ServiceStart, req.ServiceEnd} {
		if d == nil {
			continue
		}
		if _, err := time.Parse("2006-01-02", *d); err != nil {
			return nil, apperrors.InvalidInput("service_period", "invalid date format, expected YYYY-MM-DD")
		}
	}

	if len(req.Currency) != 3 {
		return nil, apperrors.InvalidInput("currency", "currency must be 3-letter ISO code")
	}
	if req.Amount <= 0 {
		return nil, apperrors.InvalidInput("amount", "amount must be positive")
	}

	amounts := make([]int64, len(req.Lines))
	for i, l := range req.Lines {
		if l.GLCode == "" {
			return nil, apperrors.InvalidInput("gl_lines", fmt.Sprintf("line %d: GL code is required", i+1))
		}
		amounts[i] = l.Amount
	}
	if err := workflow.ValidateGLLines(amounts, req.Amount); err != nil {
		return nil, err
	}

	if err := s.validateSignerChain(ctx, sess, req.SignerIDs); err != nil {
		return nil, err
	}

	invoice := &repository.Invoice{
		OwnerID:        sess.UserID,
		SupplierNumber: req.SupplierNumber,
		SupplierName:   req.SupplierName,
		InvoiceNumber:  req.InvoiceNumber,
		Reference:      req.Reference,
		InvoiceDate:    req.InvoiceDate,
		ServiceStart:   req.ServiceStart,
		ServiceEnd:     req.ServiceEnd,
		DueDate:        req.DueDate,
		Currency:       strings.ToUpper(req.Currency),
		Amount:         req.Amount,
		Status:         string(workflow.StatusPending),
		AttachmentURLs: req.AttachmentURLs,
		Lines:          toGLLines(req.Lines),
	}

	if err := s.invoices.Create(ctx, invoice, req.SignerIDs); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		InvoiceID:   invoice.ID,
		Action:      "created",
		PerformedBy: sess.UserID,
		StatusAfter: strPtr(invoice.Status),
		Metadata: map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"amount":         invoice.Amount,
			"signer_count":   len(req.SignerIDs),
		},
	})
	s.events.PublishInvoiceEvent(ctx, "submitted", invoice.ID, sess.UserID,
		req.SignerIDs[:1], map[string]any{"invoice_number": invoice.InvoiceNumber})

	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("invoice_number", invoice.InvoiceNumber).
		Str("owner_id", sess.UserID).
		Int64("amount", invoice.Amount).
		Int("line_count", len(invoice.Lines)).
		Int("chain_length", len(req.SignerIDs)).
		Msg("Invoice created")

	return invoice, nil
}

// Get retrieves an invoice.
func (s *InvoiceService) Get(ctx context.Context, id string) (*repository.Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// List returns the session owner's invoices. Absent or out-of-range
// pagination params fall back to the first page with a capped page size.
func (s *InvoiceService) List(ctx context.Context, sess *auth.Session, status *string, page, pageSize int) ([]*repository.Invoice, int64, error) {
	if status != nil && !workflow.ValidStatus(workflow.Status(*status)) {
		return nil, 0, apperrors.InvalidInput("status", fmt.Sprintf("unknown status %q", *status))
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := (page - 1) * pageSize
	return s.invoices.ListByOwner(ctx, sess.UserID, status, pageSize, offset)
}

// Update mutates invoice content. Only the owner may edit, and only while
// the invoice is in an editable status.
func (s *InvoiceService) Update(ctx context.Context, sess *auth.Session, id string, req *UpdateInvoiceRequest) (*repository.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if invoice.OwnerID != sess.UserID {
		return nil, apperrors.Unauthorized("only the invoice owner may edit it")
	}
	if !workflow.Editable(workflow.Status(invoice.Status)) {
		return nil, apperrors.Unauthorized(
			fmt.Sprintf("invoice with status %q is not editable", invoice.Status))
	}

	if _, err := time.Parse("2006-01-02", req.DueDate); err != nil {
		return nil, apperrors.InvalidInput("due_date", "invalid date format, expected YYYY-MM-DD")
	}
	if req.Amount <= 0 {
		return nil, apperrors.InvalidInput("amount", "amount must be positive")
	}

	amounts := make([]int64, len(req.Lines))
	for i, l := range req.Lines {
		if l.GLCode == "" {
			return nil, apperrors.InvalidInput("gl_lines", fmt.Sprintf("line %d: GL code is required", i+1))
		}
		amounts[i] = l.Amount
	}
	if err := workflow.ValidateGLLines(amounts, req.Amount); err != nil {
		return nil, err
	}

	invoice.DueDate = req.DueDate
	invoice.Amount = req.Amount
	invoice.AttachmentURLs = req.AttachmentURLs
	invoice.Lines = toGLLines(req.Lines)

	if err := s.invoices.UpdateContent(ctx, invoice); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		InvoiceID:   invoice.ID,
		Action:      "updated",
		PerformedBy: sess.UserID,
		StatusAfter: strPtr(invoice.Status),
	})

	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("owner_id", sess.UserID).
		Msg("Invoice updated")

	return s.invoices.GetByID(ctx, id)
}

// Delete removes an invoice. Only the owner, and only while pending or
// denied.
func (s *InvoiceService) Delete(ctx context.Context, sess *auth.Session, id string) error {
	invoice, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if invoice.OwnerID != sess.UserID {
		return apperrors.Unauthorized("only the invoice owner may delete it")
	}
	if !workflow.Deletable(workflow.Status(invoice.Status)) {
		return apperrors.Conflict(
			fmt.Sprintf("cannot delete invoice with status %q", invoice.Status))
	}

	if err := s.invoices.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info().
		Str("invoice_id", id).
		Str("invoice_number", invoice.InvoiceNumber).
		Msg("Invoice deleted")

	return nil
}

// validateSignerChain checks the initial chain: non-empty, known users,
// no duplicates, owner excluded.
func (s *InvoiceService) validateSignerChain(ctx context.Context, sess *auth.Session, signerIDs []string) error {
	if len(signerIDs) == 0 {
		return apperrors.InvalidInput("signer_ids", "invoice requires at least one signer")
	}

	seen := make(map[string]bool, len(signerIDs))
	for _, id := range signerIDs {
		if id == sess.UserID {
			return apperrors.InvalidInput("signer_ids", "owner cannot sign their own invoice")
		}
		if seen[id] {
			return apperrors.InvalidInput("signer_ids", fmt.Sprintf("duplicate signer %q", id))
		}
		seen[id] = true
	}

	users, err := s.users.GetByIDs(ctx, signerIDs)
	if err != nil {
		return err
	}
	for _, id := range signerIDs {
		if _, ok := users[id]; !ok {
			return apperrors.InvalidInput("signer_ids", fmt.Sprintf("unknown signer %q", id))
		}
	}
	return nil
}

func (s *InvoiceService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("invoice_id", entry.InvoiceID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func toGLLines(reqs []*GLLineRequest) []*repository.GLLine {
	lines := make([]*repository.GLLine, 0, len(reqs))
	for i, l := range reqs {
		lineNumber := l.LineNumber
		if lineNumber == 0 {
			lineNumber = i + 1
		}
		lines = append(lines, &repository.GLLine{
			LineNumber:   lineNumber,
			GLCode:       l.GLCode,
			Description:  l.Description,
			CostCenter:   l.CostCenter,
			Location:     l.Location,
			AircraftType: l.AircraftType,
			Route:        l.Route,
			Amount:       l.Amount,
		})
	}
	return lines
}

func strPtr(s string) *string { return &s }
