package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/auth"
	"github.com/skyfin/be-invoice-signoff/internal/repository"
	"github.com/skyfin/be-invoice-signoff/internal/signing"
	"github.com/skyfin/be-invoice-signoff/internal/workflow"
)

// WorkflowService executes signer actions against an invoice's approval
// chain. The backend is the sole authority on the next valid step: every
// action returns the refetched tracking detail rather than a partial echo.
type WorkflowService struct {
	tx       TxScope
	invoices InvoiceStore
	steps    StepStore
	comments CommentStore
	users    UserStore
	keys     KeyStore
	audit    AuditStore
	events   EventPublisher
	log      zerolog.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	tx TxScope,
	invoices InvoiceStore,
	steps StepStore,
	comments CommentStore,
	users UserStore,
	keys KeyStore,
	audit AuditStore,
	events EventPublisher,
	log zerolog.Logger,
) *WorkflowService {
	return &WorkflowService{
		tx:       tx,
		invoices: invoices,
		steps:    steps,
		comments: comments,
		users:    users,
		keys:     keys,
		audit:    audit,
		events:   events,
		log:      log,
	}
}

// ApproveRequest carries a signer's approval decision. Final and NextSigners
// are mutually exclusive.
type ApproveRequest struct {
	Final       bool     `json:"final"`
	NextSigners []string `json:"next_signers"`
	Comment     string   `json:"comment,omitempty"`
}

// StepDetail is a chain entry enriched for display.
type StepDetail struct {
	*repository.SignStep
	SignerName      string `json:"signer_name"`
	SignerEmail     string `json:"signer_email"`
	VerificationURL string `json:"verification_url,omitempty"`
}

// TrackDetail is the full tracking view of one invoice.
type TrackDetail struct {
	Invoice  *repository.Invoice   `json:"invoice"`
	History  []*StepDetail         `json:"history"`
	Chain    []*StepDetail         `json:"chain"`
	Comments []*repository.Comment `json:"comments"`
}

// PendingSignature is one invoice awaiting the caller's signature.
type PendingSignature struct {
	Step    *repository.SignStep `json:"step"`
	Invoice *repository.Invoice  `json:"invoice"`
}

// VerifyResult is the outcome of an out-of-band signature check.
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve signs the invoice's current step on behalf of the session user and
// either advances the chain, forwards to newly selected signers, or
// finalizes the approval.
func (s *WorkflowService) Approve(ctx context.Context, sess *auth.Session, invoiceID string, req *ApproveRequest) (*TrackDetail, error) {
	invoice, chain, curIdx, err := s.loadActionable(ctx, sess, invoiceID)
	if err != nil {
		return nil, err
	}
	cur := chain[curIdx]

	mode, nextSigners, err := s.resolveApproval(ctx, sess, chain, curIdx, req)
	if err != nil {
		return nil, err
	}

	newStatus, err := workflow.Transition(workflow.Status(invoice.Status), workflow.ActionApprove, mode)
	if err != nil {
		return nil, err
	}

	sig, pubKey, err := s.signatureFor(ctx, sess.UserID, invoiceID)
	if err != nil {
		return nil, err
	}

	// The step consumption, chain mutation and status change commit or roll
	// back together, so a failure cannot strand the chain without a current
	// step.
	var recipients []string
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.steps.Consume(ctx, cur.ID, "signed", &sig, &pubKey); err != nil {
			return err
		}

		switch mode {
		case workflow.ApproveAdvance:
			next := chain[curIdx+1]
			if err := s.steps.Promote(ctx, invoiceID, next.Round, next.Position); err != nil {
				return err
			}
			recipients = []string{next.SignerID}
		case workflow.ApproveForward:
			appended, err := s.steps.Append(ctx, invoiceID, cur.Round, chain[len(chain)-1].Position+1, nextSigners)
			if err != nil {
				return err
			}
			recipients = []string{appended[0].SignerID}
		case workflow.ApproveFinal:
			recipients = []string{invoice.OwnerID}
		}

		if err := s.invoices.UpdateStatus(ctx, invoiceID, string(newStatus)); err != nil {
			return err
		}
		return s.recordComment(ctx, sess, invoiceID, req.Comment)
	})
	if err != nil {
		return nil, err
	}

	action := "approved"
	event := "approval_required"
	if mode == workflow.ApproveFinal {
		action = "signed"
		event = "approved"
	}
	s.appendAudit(ctx, &repository.AuditEntry{
		InvoiceID:    invoiceID,
		StepID:       &cur.ID,
		Action:       action,
		PerformedBy:  sess.UserID,
		StatusBefore: strPtr(invoice.Status),
		StatusAfter:  strPtr(string(newStatus)),
		Metadata: map[string]any{
			"position":     cur.Position,
			"round":        cur.Round,
			"final":        mode == workflow.ApproveFinal,
			"next_signers": nextSigners,
		},
	})
	s.events.PublishInvoiceEvent(ctx, event, invoiceID, sess.UserID, recipients,
		map[string]any{"invoice_number": invoice.InvoiceNumber})

	s.log.Info().
		Str("invoice_id", invoiceID).
		Str("signer_id", sess.UserID).
		Int("position", cur.Position).
		Bool("final", mode == workflow.ApproveFinal).
		Str("status", string(newStatus)).
		Msg("Invoice step signed")

	return s.Track(ctx, invoiceID)
}

// resolveApproval decides between advance, forward and final, applying the
// signer-selection rules.
func (s *WorkflowService) resolveApproval(
	ctx context.Context,
	sess *auth.Session,
	chain []*repository.SignStep,
	curIdx int,
	req *ApproveRequest,
) (workflow.ApproveMode, []string, error) {
	// Mid-chain: later entries already exist, the chain is fixed.
	if curIdx < len(chain)-1 {
		if req.Final || len(req.NextSigners) > 0 {
			return 0, nil, apperrors.Conflict("the signer chain is fixed; this approval can only advance it")
		}
		return workflow.ApproveAdvance, nil, nil
	}

	// Office proxies never select manually: the designated set decides.
	if sess.IsOfficeProxy() {
		if req.Final || len(req.NextSigners) > 0 {
			return 0, nil, apperrors.InvalidInput("next_signers",
				"office proxy approvals resolve the next signers automatically")
		}
		designates, err := s.users.GetOfficeDesignates(ctx, sess.Office)
		if err != nil {
			return 0, nil, err
		}
		ids := make([]string, 0, len(designates))
		for _, u := range designates {
			if u.ID != sess.UserID && !chainContains(chain, u.ID) {
				ids = append(ids, u.ID)
			}
		}
		if len(ids) == 0 {
			return workflow.ApproveFinal, nil, nil
		}
		return workflow.ApproveForward, ids, nil
	}

	// Exactly one of final / next_signers, rejected before any state change.
	if req.Final && len(req.NextSigners) > 0 {
		return 0, nil, apperrors.InvalidInput("next_signers",
			"a final approval cannot also forward to next signers")
	}
	if !req.Final && len(req.NextSigners) == 0 {
		return 0, nil, apperrors.InvalidInput("next_signers",
			"select at least one next signer or mark the approval final")
	}

	if req.Final {
		return workflow.ApproveFinal, nil, nil
	}

	// Chain extension is a first-step privilege of department heads and
	// signer admins; later signers inherit the chain.
	cur := chain[curIdx]
	if cur.Position > 1 {
		return 0, nil, apperrors.Conflict(
			"the signer chain is fixed after the first step; only a final approval is possible here")
	}
	if !sess.HeadOfDepartment && sess.Role != "signer_admin" {
		return 0, nil, apperrors.Unauthorized(
			"only a head of department or signer admin may select the signer chain")
	}

	seen := make(map[string]bool, len(req.NextSigners))
	for _, id := range req.NextSigners {
		if id == sess.UserID {
			return 0, nil, apperrors.InvalidInput("next_signers", "cannot forward an invoice to yourself")
		}
		if chainContains(chain, id) {
			return 0, nil, apperrors.InvalidInput("next_signers",
				fmt.Sprintf("user %q is already in the signer chain", id))
		}
		if seen[id] {
			return 0, nil, apperrors.InvalidInput("next_signers", fmt.Sprintf("duplicate signer %q", id))
		}
		seen[id] = true
	}

	users, err := s.users.GetByIDs(ctx, req.NextSigners)
	if err != nil {
		return 0, nil, err
	}
	for _, id := range req.NextSigners {
		if _, ok := users[id]; !ok {
			return 0, nil, apperrors.InvalidInput("next_signers", fmt.Sprintf("unknown signer %q", id))
		}
	}

	return workflow.ApproveForward, req.NextSigners, nil
}

// ── Deny / Rollback ───────────────────────────────────────────────────────────

// Deny marks the current step denied and the invoice denied. The owner may
// then edit and resubmit.
func (s *WorkflowService) Deny(ctx context.Context, sess *auth.Session, invoiceID, comment string) (*TrackDetail, error) {
	return s.reject(ctx, sess, invoiceID, comment, workflow.ActionDeny, "denied", "denied")
}

// Rollback marks the current step rolled back and returns the invoice to its
// owner for re-approval. Like deny, this is a forward-only transition, not
// an undo.
func (s *WorkflowService) Rollback(ctx context.Context, sess *auth.Session, invoiceID, comment string) (*TrackDetail, error) {
	return s.reject(ctx, sess, invoiceID, comment, workflow.ActionRollback, "rollback", "rolled_back")
}

func (s *WorkflowService) reject(ctx context.Context, sess *auth.Session, invoiceID, comment string, action workflow.Action, stepStatus, event string) (*TrackDetail, error) {
	invoice, chain, curIdx, err := s.loadActionable(ctx, sess, invoiceID)
	if err != nil {
		return nil, err
	}
	cur := chain[curIdx]

	newStatus, err := workflow.Transition(workflow.Status(invoice.Status), action, 0)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.steps.Consume(ctx, cur.ID, stepStatus, nil, nil); err != nil {
			return err
		}
		if err := s.invoices.UpdateStatus(ctx, invoiceID, string(newStatus)); err != nil {
			return err
		}
		return s.recordComment(ctx, sess, invoiceID, comment)
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		InvoiceID:    invoiceID,
		StepID:       &cur.ID,
		Action:       string(action),
		PerformedBy:  sess.UserID,
		StatusBefore: strPtr(invoice.Status),
		StatusAfter:  strPtr(string(newStatus)),
		Metadata:     map[string]any{"position": cur.Position, "round": cur.Round},
	})
	s.events.PublishInvoiceEvent(ctx, event, invoiceID, sess.UserID,
		[]string{invoice.OwnerID}, map[string]any{"invoice_number": invoice.InvoiceNumber})

	s.log.Info().
		Str("invoice_id", invoiceID).
		Str("signer_id", sess.UserID).
		Str("action", string(action)).
		Str("status", string(newStatus)).
		Msg("Invoice step rejected")

	return s.Track(ctx, invoiceID)
}

// ── Resubmit ──────────────────────────────────────────────────────────────────

// Resubmit reopens a denied or rolled-back invoice for a fresh approval
// round. The previous round stays in place as immutable history and the
// same signer sequence is recreated with step 1 awaiting signature.
func (s *WorkflowService) Resubmit(ctx context.Context, sess *auth.Session, invoiceID string) (*TrackDetail, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.OwnerID != sess.UserID {
		return nil, apperrors.Unauthorized("only the invoice owner may resubmit it")
	}

	newStatus, err := workflow.Transition(workflow.Status(invoice.Status), workflow.ActionResubmit, 0)
	if err != nil {
		return nil, err
	}

	prev, err := s.steps.GetActiveRound(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if len(prev) == 0 {
		return nil, apperrors.Conflict("invoice has no signer chain to resubmit")
	}
	signerIDs := make([]string, 0, len(prev))
	for _, step := range prev {
		signerIDs = append(signerIDs, step.SignerID)
	}

	var steps []*repository.SignStep
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		steps, err = s.steps.NewRound(ctx, invoiceID, signerIDs)
		if err != nil {
			return err
		}
		if err := s.invoices.UpdateStatus(ctx, invoiceID, string(newStatus)); err != nil {
			return err
		}
		return s.recordComment(ctx, sess, invoiceID, "Invoice resubmitted for approval.")
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		InvoiceID:    invoiceID,
		Action:       "resubmitted",
		PerformedBy:  sess.UserID,
		StatusBefore: strPtr(invoice.Status),
		StatusAfter:  strPtr(string(newStatus)),
		Metadata:     map[string]any{"round": steps[0].Round},
	})
	s.events.PublishInvoiceEvent(ctx, "resubmitted", invoiceID, sess.UserID,
		[]string{steps[0].SignerID}, map[string]any{"invoice_number": invoice.InvoiceNumber})

	s.log.Info().
		Str("invoice_id", invoiceID).
		Str("owner_id", sess.UserID).
		Int("round", steps[0].Round).
		Msg("Invoice resubmitted")

	return s.Track(ctx, invoiceID)
}

// ── Comment ───────────────────────────────────────────────────────────────────

// Comment appends a remark to the invoice's trail, independent of any status
// transition.
func (s *WorkflowService) Comment(ctx context.Context, sess *auth.Session, invoiceID, content string) (*repository.Comment, error) {
	if content == "" {
		return nil, apperrors.InvalidInput("content", "comment content is required")
	}
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	comment := &repository.Comment{
		InvoiceID: invoiceID,
		AuthorID:  sess.UserID,
		Content:   content,
	}
	if err := s.comments.Append(ctx, comment); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		InvoiceID:   invoiceID,
		Action:      "commented",
		PerformedBy: sess.UserID,
	})
	s.events.PublishInvoiceEvent(ctx, "commented", invoiceID, sess.UserID,
		[]string{invoice.OwnerID}, map[string]any{"invoice_number": invoice.InvoiceNumber})

	return comment, nil
}

// Comments returns an invoice's comment trail.
func (s *WorkflowService) Comments(ctx context.Context, invoiceID string) ([]*repository.Comment, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.comments.GetByInvoiceID(ctx, invoiceID)
}

// ── Track ─────────────────────────────────────────────────────────────────────

// Track returns the invoice with its full history, the filtered display
// chain for the active round, and the comment trail.
func (s *WorkflowService) Track(ctx context.Context, invoiceID string) (*TrackDetail, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	history, err := s.steps.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	signerIDs := make([]string, 0, len(history))
	for _, step := range history {
		signerIDs = append(signerIDs, step.SignerID)
	}
	users, err := s.users.GetByIDs(ctx, signerIDs)
	if err != nil {
		return nil, err
	}

	historyView := make([]*StepDetail, 0, len(history))
	activeRound := 0
	for _, step := range history {
		if step.Round > activeRound {
			activeRound = step.Round
		}
		historyView = append(historyView, newStepDetail(step, users))
	}

	// Display chain: active round only, filtered through the chain's
	// visibility rule so office-proxy entries surface only while they hold
	// the pen.
	activeSteps := make([]*repository.SignStep, 0, len(history))
	activeChain := make([]workflow.ChainStep, 0, len(history))
	for _, step := range history {
		if step.Round != activeRound {
			continue
		}
		activeSteps = append(activeSteps, step)
		activeChain = append(activeChain, toChainStep(step, users[step.SignerID]))
	}
	visible := make(map[int]bool, len(activeChain))
	for _, cs := range workflow.Visible(activeChain) {
		visible[cs.Position] = true
	}
	chainView := make([]*StepDetail, 0, len(activeSteps))
	for _, step := range activeSteps {
		if !visible[step.Position] {
			continue
		}
		chainView = append(chainView, newStepDetail(step, users))
	}

	comments, err := s.comments.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	return &TrackDetail{
		Invoice:  invoice,
		History:  historyView,
		Chain:    chainView,
		Comments: comments,
	}, nil
}

// ── Next signers ──────────────────────────────────────────────────────────────

// NextSigners returns the candidate set the acting user may forward to:
// the office designates for proxies, otherwise the department-scoped signer
// list.
func (s *WorkflowService) NextSigners(ctx context.Context, sess *auth.Session, invoiceID string) ([]*repository.User, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if sess.IsOfficeProxy() {
		return s.users.GetOfficeDesignates(ctx, sess.Office)
	}
	return s.users.ListEligibleSigners(ctx, sess.Department, []string{sess.UserID, invoice.OwnerID})
}

// ── Pending signatures ────────────────────────────────────────────────────────

// PendingSignatures returns the invoices currently awaiting the caller's
// signature.
func (s *WorkflowService) PendingSignatures(ctx context.Context, sess *auth.Session) ([]*PendingSignature, error) {
	steps, err := s.steps.GetAwaitingSigner(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	pending := make([]*PendingSignature, 0, len(steps))
	for _, step := range steps {
		invoice, err := s.invoices.GetByID(ctx, step.InvoiceID)
		if err != nil {
			return nil, err
		}
		pending = append(pending, &PendingSignature{Step: step, Invoice: invoice})
	}
	return pending, nil
}

// ── Verify ────────────────────────────────────────────────────────────────────

// VerifySignature re-derives validity from the (signature, public key,
// invoice id) triple alone. It never errors on malformed input: the verdict
// is the answer.
func (s *WorkflowService) VerifySignature(ctx context.Context, signature, publicKey, invoiceID string) *VerifyResult {
	if signing.Verify(publicKey, invoiceID, signature) {
		return &VerifyResult{Valid: true, Message: "signature is valid for this invoice"}
	}
	return &VerifyResult{Valid: false, Message: "signature verification failed"}
}

// ── helpers ───────────────────────────────────────────────────────────────────

// loadActionable fetches the invoice and its active chain, checks the
// invoice can be acted on, validates the chain invariant, and verifies the
// session user holds the current step.
func (s *WorkflowService) loadActionable(ctx context.Context, sess *auth.Session, invoiceID string) (*repository.Invoice, []*repository.SignStep, int, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, nil, 0, err
	}
	if !workflow.Actionable(workflow.Status(invoice.Status)) {
		return nil, nil, 0, apperrors.Conflict(
			fmt.Sprintf("invoice with status %q cannot be acted on", invoice.Status))
	}

	steps, err := s.steps.GetActiveRound(ctx, invoiceID)
	if err != nil {
		return nil, nil, 0, err
	}

	signerIDs := make([]string, 0, len(steps))
	for _, step := range steps {
		signerIDs = append(signerIDs, step.SignerID)
	}
	users, err := s.users.GetByIDs(ctx, signerIDs)
	if err != nil {
		return nil, nil, 0, err
	}

	chain := make([]workflow.ChainStep, 0, len(steps))
	for _, step := range steps {
		chain = append(chain, toChainStep(step, users[step.SignerID]))
	}
	if err := workflow.Validate(chain); err != nil {
		return nil, nil, 0, err
	}
	if err := workflow.CanAct(chain, sess.UserID); err != nil {
		return nil, nil, 0, err
	}

	curIdx, err := workflow.Current(chain)
	if err != nil {
		return nil, nil, 0, err
	}
	return invoice, steps, curIdx, nil
}

// signatureFor signs the invoice with the user's key, generating and
// persisting a key pair on first use. The public key is returned in
// transport form.
func (s *WorkflowService) signatureFor(ctx context.Context, userID, invoiceID string) (string, string, error) {
	key, err := s.keys.Get(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if key == nil {
		pair, err := signing.GenerateKeyPair()
		if err != nil {
			return "", "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to generate signing key")
		}
		key, err = s.keys.Create(ctx, &repository.SigningKey{
			UserID:        userID,
			PrivateKeyPEM: pair.PrivateKeyPEM,
			PublicKeyPEM:  pair.PublicKeyPEM,
		})
		if err != nil {
			return "", "", err
		}
	}

	sig, err := signing.Sign(key.PrivateKeyPEM, invoiceID)
	if err != nil {
		return "", "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to sign invoice")
	}
	return sig, signing.TransportForm(key.PublicKeyPEM), nil
}

func (s *WorkflowService) recordComment(ctx context.Context, sess *auth.Session, invoiceID, content string) error {
	if content == "" {
		return nil
	}
	return s.comments.Append(ctx, &repository.Comment{
		InvoiceID: invoiceID,
		AuthorID:  sess.UserID,
		Content:   content,
	})
}

func (s *WorkflowService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("invoice_id", entry.InvoiceID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func toChainStep(step *repository.SignStep, u *repository.User) workflow.ChainStep {
	return workflow.ChainStep{
		Position:      step.Position,
		Status:        workflow.StepStatus(step.Status),
		SignerID:      step.SignerID,
		IsOfficeProxy: u != nil && u.Office != nil,
	}
}

func newStepDetail(step *repository.SignStep, users map[string]*repository.User) *StepDetail {
	d := &StepDetail{SignStep: step}
	if u, ok := users[step.SignerID]; ok {
		d.SignerName = u.Name
		d.SignerEmail = u.Email
	}
	if step.Status == "signed" && step.Signature != nil && step.PublicKey != nil {
		d.VerificationURL = signing.VerificationURL(step.InvoiceID, *step.PublicKey, *step.Signature)
	}
	return d
}

func chainContains(chain []*repository.SignStep, userID string) bool {
	for _, step := range chain {
		if step.SignerID == userID {
			return true
		}
	}
	return false
}
