package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/repository"
)

// fixture is a shared in-memory backend for the store fakes. It mirrors the
// constraints the real schema enforces, in particular the single-to_sign
// guard on step consumption.
type fixture struct {
	invoices   map[string]*repository.Invoice
	steps      []*repository.SignStep
	comments   []*repository.Comment
	users      map[string]*repository.User
	designates map[string][]*repository.User
	keys       map[string]*repository.SigningKey
	audit      []*repository.AuditEntry
	events     []publishedEvent
}

type publishedEvent struct {
	Type       string
	InvoiceID  string
	ActorID    string
	Recipients []string
}

func newFixture() *fixture {
	return &fixture{
		invoices:   make(map[string]*repository.Invoice),
		users:      make(map[string]*repository.User),
		designates: make(map[string][]*repository.User),
		keys:       make(map[string]*repository.SigningKey),
	}
}

func (f *fixture) addUser(u *repository.User) *repository.User {
	f.users[u.ID] = u
	return u
}

func strOf(s string) *string { return &s }

// ── TxScope ───────────────────────────────────────────────────────────────────

// fakeTx mirrors transactional behavior by snapshotting the fixture's
// workflow state and restoring it when fn fails.
type fakeTx struct{ f *fixture }

func (t fakeTx) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := t.f.snapshot()
	if err := fn(ctx); err != nil {
		t.f.restore(snap)
		return err
	}
	return nil
}

type fixtureSnapshot struct {
	invoices map[string]repository.Invoice
	steps    []repository.SignStep
	comments []repository.Comment
}

func (f *fixture) snapshot() fixtureSnapshot {
	snap := fixtureSnapshot{invoices: make(map[string]repository.Invoice, len(f.invoices))}
	for id, invoice := range f.invoices {
		snap.invoices[id] = *invoice
	}
	for _, step := range f.steps {
		snap.steps = append(snap.steps, *step)
	}
	for _, c := range f.comments {
		snap.comments = append(snap.comments, *c)
	}
	return snap
}

func (f *fixture) restore(snap fixtureSnapshot) {
	f.invoices = make(map[string]*repository.Invoice, len(snap.invoices))
	for id := range snap.invoices {
		invoice := snap.invoices[id]
		f.invoices[id] = &invoice
	}
	f.steps = nil
	for i := range snap.steps {
		f.steps = append(f.steps, &snap.steps[i])
	}
	f.comments = nil
	for i := range snap.comments {
		f.comments = append(f.comments, &snap.comments[i])
	}
}

// ── InvoiceStore ──────────────────────────────────────────────────────────────

type fakeInvoices struct{ f *fixture }

func (s fakeInvoices) Create(_ context.Context, invoice *repository.Invoice, signerIDs []string) error {
	invoice.ID = uuid.NewString()
	invoice.CreatedAt = time.Now()
	invoice.UpdatedAt = invoice.CreatedAt
	s.f.invoices[invoice.ID] = invoice
	for i, signerID := range signerIDs {
		status := "pending"
		if i == 0 {
			status = "to_sign"
		}
		s.f.steps = append(s.f.steps, &repository.SignStep{
			ID:        uuid.NewString(),
			InvoiceID: invoice.ID,
			SignerID:  signerID,
			Round:     1,
			Position:  i + 1,
			Status:    status,
		})
	}
	return nil
}

func (s fakeInvoices) GetByID(_ context.Context, id string) (*repository.Invoice, error) {
	invoice, ok := s.f.invoices[id]
	if !ok {
		return nil, apperrors.NotFound("invoice", id)
	}
	return invoice, nil
}

// ListByOwner follows the SQL LIMIT/OFFSET semantics: a zero limit yields
// zero rows and a negative limit or offset is an error.
func (s fakeInvoices) ListByOwner(_ context.Context, ownerID string, status *string, limit, offset int) ([]*repository.Invoice, int64, error) {
	if limit < 0 || offset < 0 {
		return nil, 0, apperrors.New(apperrors.ErrCodeInternal, "limit and offset must not be negative")
	}
	var out []*repository.Invoice
	for _, invoice := range s.f.invoices {
		if invoice.OwnerID != ownerID {
			continue
		}
		if status != nil && invoice.Status != *status {
			continue
		}
		out = append(out, invoice)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (s fakeInvoices) UpdateContent(_ context.Context, invoice *repository.Invoice) error {
	stored, ok := s.f.invoices[invoice.ID]
	if !ok {
		return apperrors.NotFound("invoice", invoice.ID)
	}
	*stored = *invoice
	stored.UpdatedAt = time.Now()
	return nil
}

func (s fakeInvoices) UpdateStatus(_ context.Context, id, status string) error {
	invoice, ok := s.f.invoices[id]
	if !ok {
		return apperrors.NotFound("invoice", id)
	}
	invoice.Status = status
	invoice.UpdatedAt = time.Now()
	return nil
}

func (s fakeInvoices) Delete(_ context.Context, id string) error {
	invoice, ok := s.f.invoices[id]
	if !ok {
		return apperrors.NotFound("invoice", id)
	}
	if invoice.Status != "pending" && invoice.Status != "denied" {
		return apperrors.Conflict(fmt.Sprintf("cannot delete invoice with status %q", invoice.Status))
	}
	delete(s.f.invoices, id)
	return nil
}

// ── StepStore ─────────────────────────────────────────────────────────────────

type fakeSteps struct{ f *fixture }

func (s fakeSteps) GetByInvoiceID(_ context.Context, invoiceID string) ([]*repository.SignStep, error) {
	var out []*repository.SignStep
	for _, step := range s.f.steps {
		if step.InvoiceID == invoiceID {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (s fakeSteps) GetActiveRound(ctx context.Context, invoiceID string) ([]*repository.SignStep, error) {
	all, _ := s.GetByInvoiceID(ctx, invoiceID)
	max := 0
	for _, step := range all {
		if step.Round > max {
			max = step.Round
		}
	}
	var out []*repository.SignStep
	for _, step := range all {
		if step.Round == max {
			out = append(out, step)
		}
	}
	return out, nil
}

func (s fakeSteps) Consume(_ context.Context, id, status string, signature, publicKey *string) error {
	for _, step := range s.f.steps {
		if step.ID != id {
			continue
		}
		if step.Status != "to_sign" {
			return apperrors.Conflict("step has already been acted on")
		}
		now := time.Now()
		step.Status = status
		step.Signature = signature
		step.PublicKey = publicKey
		step.ActedAt = &now
		return nil
	}
	return apperrors.Conflict("step has already been acted on")
}

func (s fakeSteps) Promote(_ context.Context, invoiceID string, round, position int) error {
	for _, step := range s.f.steps {
		if step.InvoiceID == invoiceID && step.Round == round && step.Position == position && step.Status == "pending" {
			step.Status = "to_sign"
			return nil
		}
	}
	return apperrors.NotFound("sign step", fmt.Sprintf("%s/%d/%d", invoiceID, round, position))
}

func (s fakeSteps) Append(_ context.Context, invoiceID string, round, startPosition int, signerIDs []string) ([]*repository.SignStep, error) {
	var out []*repository.SignStep
	for i, signerID := range signerIDs {
		status := "pending"
		if i == 0 {
			status = "to_sign"
		}
		step := &repository.SignStep{
			ID:        uuid.NewString(),
			InvoiceID: invoiceID,
			SignerID:  signerID,
			Round:     round,
			Position:  startPosition + i,
			Status:    status,
		}
		s.f.steps = append(s.f.steps, step)
		out = append(out, step)
	}
	return out, nil
}

func (s fakeSteps) NewRound(ctx context.Context, invoiceID string, signerIDs []string) ([]*repository.SignStep, error) {
	active, _ := s.GetActiveRound(ctx, invoiceID)
	round := 1
	if len(active) > 0 {
		round = active[0].Round + 1
	}
	return s.Append(ctx, invoiceID, round, 1, signerIDs)
}

func (s fakeSteps) GetAwaitingSigner(_ context.Context, signerID string) ([]*repository.SignStep, error) {
	var out []*repository.SignStep
	for _, step := range s.f.steps {
		if step.SignerID == signerID && step.Status == "to_sign" {
			out = append(out, step)
		}
	}
	return out, nil
}

// ── CommentStore ──────────────────────────────────────────────────────────────

type fakeComments struct{ f *fixture }

func (s fakeComments) Append(_ context.Context, comment *repository.Comment) error {
	comment.ID = uuid.NewString()
	comment.CreatedAt = time.Now()
	s.f.comments = append(s.f.comments, comment)
	return nil
}

func (s fakeComments) GetByInvoiceID(_ context.Context, invoiceID string) ([]*repository.Comment, error) {
	var out []*repository.Comment
	for _, c := range s.f.comments {
		if c.InvoiceID == invoiceID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ── UserStore ─────────────────────────────────────────────────────────────────

type fakeUsers struct{ f *fixture }

func (s fakeUsers) GetByID(_ context.Context, id string) (*repository.User, error) {
	u, ok := s.f.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return u, nil
}

func (s fakeUsers) GetByIDs(_ context.Context, ids []string) (map[string]*repository.User, error) {
	out := make(map[string]*repository.User, len(ids))
	for _, id := range ids {
		if u, ok := s.f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (s fakeUsers) ListEligibleSigners(_ context.Context, department string, excludeIDs []string) ([]*repository.User, error) {
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []*repository.User
	for _, u := range s.f.users {
		if u.Department != department || excluded[u.ID] || u.Office != nil {
			continue
		}
		if u.Role != "signer" && u.Role != "signer_admin" {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s fakeUsers) GetOfficeDesignates(_ context.Context, office string) ([]*repository.User, error) {
	return s.f.designates[office], nil
}

// ── KeyStore ──────────────────────────────────────────────────────────────────

type fakeKeys struct{ f *fixture }

func (s fakeKeys) Get(_ context.Context, userID string) (*repository.SigningKey, error) {
	return s.f.keys[userID], nil
}

func (s fakeKeys) Create(_ context.Context, key *repository.SigningKey) (*repository.SigningKey, error) {
	if existing, ok := s.f.keys[key.UserID]; ok {
		return existing, nil
	}
	key.CreatedAt = time.Now()
	s.f.keys[key.UserID] = key
	return key, nil
}

// ── AuditStore ────────────────────────────────────────────────────────────────

type fakeAudit struct{ f *fixture }

func (s fakeAudit) Append(_ context.Context, entry *repository.AuditEntry) error {
	entry.ID = uuid.NewString()
	entry.PerformedAt = time.Now()
	s.f.audit = append(s.f.audit, entry)
	return nil
}

func (s fakeAudit) GetByInvoiceID(_ context.Context, invoiceID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range s.f.audit {
		if e.InvoiceID == invoiceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── EventPublisher ────────────────────────────────────────────────────────────

type fakePublisher struct{ f *fixture }

func (s fakePublisher) PublishInvoiceEvent(_ context.Context, eventType, invoiceID, actorID string, recipients []string, _ map[string]any) {
	s.f.events = append(s.f.events, publishedEvent{
		Type:       eventType,
		InvoiceID:  invoiceID,
		ActorID:    actorID,
		Recipients: recipients,
	})
}
