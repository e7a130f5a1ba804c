package service

import (
	"context"

	"github.com/skyfin/be-invoice-signoff/internal/repository"
)

// Store interfaces sit between the services and the pgx repositories so
// tests can substitute fixtures.

// TxScope runs fn with every store write it issues inside one transaction.
// The pgx-backed implementation carries the transaction on the context.
type TxScope interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// InvoiceStore persists invoices and their GL lines.
type InvoiceStore interface {
	Create(ctx context.Context, invoice *repository.Invoice, signerIDs []string) error
	GetByID(ctx context.Context, id string) (*repository.Invoice, error)
	ListByOwner(ctx context.Context, ownerID string, status *string, limit, offset int) ([]*repository.Invoice, int64, error)
	UpdateContent(ctx context.Context, invoice *repository.Invoice) error
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
}

// StepStore persists approval chain entries.
type StepStore interface {
	GetByInvoiceID(ctx context.Context, invoiceID string) ([]*repository.SignStep, error)
	GetActiveRound(ctx context.Context, invoiceID string) ([]*repository.SignStep, error)
	Consume(ctx context.Context, id, status string, signature, publicKey *string) error
	Promote(ctx context.Context, invoiceID string, round, position int) error
	Append(ctx context.Context, invoiceID string, round, startPosition int, signerIDs []string) ([]*repository.SignStep, error)
	NewRound(ctx context.Context, invoiceID string, signerIDs []string) ([]*repository.SignStep, error)
	GetAwaitingSigner(ctx context.Context, signerID string) ([]*repository.SignStep, error)
}

// CommentStore persists append-only comments.
type CommentStore interface {
	Append(ctx context.Context, comment *repository.Comment) error
	GetByInvoiceID(ctx context.Context, invoiceID string) ([]*repository.Comment, error)
}

// UserStore reads workflow participants.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*repository.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*repository.User, error)
	ListEligibleSigners(ctx context.Context, department string, excludeIDs []string) ([]*repository.User, error)
	GetOfficeDesignates(ctx context.Context, office string) ([]*repository.User, error)
}

// KeyStore persists per-user signing keys.
type KeyStore interface {
	Get(ctx context.Context, userID string) (*repository.SigningKey, error)
	Create(ctx context.Context, key *repository.SigningKey) (*repository.SigningKey, error)
}

// AuditStore appends immutable audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByInvoiceID(ctx context.Context, invoiceID string) ([]*repository.AuditEntry, error)
}

// EventPublisher pushes workflow notifications. Implementations must be
// non-fatal: a publish failure never fails the action.
type EventPublisher interface {
	PublishInvoiceEvent(ctx context.Context, eventType, invoiceID, actorID string, recipients []string, payload map[string]any)
}
