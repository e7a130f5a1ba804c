package repository

import "time"

// ── Domain types for the sign-off workflow ───────────────────────────────────

// Invoice is the invoice header with its GL allocations.
type Invoice struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	SupplierNumber string    `json:"supplier_number"`
	SupplierName   string    `json:"supplier_name"`
	InvoiceNumber  string    `json:"invoice_number"`
	Reference      string    `json:"reference"`
	InvoiceDate    string    `json:"invoice_date"` // YYYY-MM-DD
	ServiceStart   *string   `json:"service_start,omitempty"`
	ServiceEnd     *string   `json:"service_end,omitempty"`
	DueDate        string    `json:"due_date"`
	Currency       string    `json:"currency"`
	Amount         int64     `json:"amount"` // minor currency units
	Status         string    `json:"status"`
	AttachmentURLs []string  `json:"attachment_urls"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Lines          []*GLLine `json:"gl_lines,omitempty"`
}

// GLLine is one ledger allocation of an invoice.
type GLLine struct {
	ID           string    `json:"id"`
	InvoiceID    string    `json:"invoice_id"`
	LineNumber   int       `json:"line_number"`
	GLCode       string    `json:"gl_code"`
	Description  string    `json:"description"`
	CostCenter   string    `json:"cost_center"`
	Location     string    `json:"location"`
	AircraftType string    `json:"aircraft_type"`
	Route        string    `json:"route"`
	Amount       int64     `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SignStep is one signer's entry in an invoice's approval chain. Round
// increments each time a denied or rolled-back invoice is resubmitted;
// earlier rounds stay in place as immutable history.
type SignStep struct {
	ID        string     `json:"id"`
	InvoiceID string     `json:"invoice_id"`
	SignerID  string     `json:"signer_id"`
	Round     int        `json:"round"`
	Position  int        `json:"position"`
	Status    string     `json:"status"`
	Signature *string    `json:"signature,omitempty"`
	PublicKey *string    `json:"public_key,omitempty"` // PEM, newline-stripped for transport
	ActedAt   *time.Time `json:"acted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Comment is one append-only remark on an invoice.
type Comment struct {
	ID        string    `json:"id"`
	InvoiceID string    `json:"invoice_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a workflow participant.
type User struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	Department       string    `json:"department"`
	Position         string    `json:"position"`
	HeadOfDepartment bool      `json:"head_of_department"`
	Office           *string   `json:"office,omitempty"` // "ceo" | "dceo" for office-proxy accounts
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SigningKey is a user's persisted ed25519 key pair. The private key never
// leaves the service.
type SigningKey struct {
	UserID        string    `json:"user_id"`
	PrivateKeyPEM string    `json:"-"`
	PublicKeyPEM  string    `json:"public_key_pem"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditEntry is one immutable record in the workflow audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	InvoiceID    string         `json:"invoice_id"`
	StepID       *string        `json:"step_id,omitempty"`
	Action       string         `json:"action"`
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
