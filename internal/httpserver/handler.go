package httpserver

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/auth"
	"github.com/skyfin/be-invoice-signoff/internal/service"
)

// Handler exposes the sign-off workflow over HTTP.
type Handler struct {
	invoices *service.InvoiceService
	workflow *service.WorkflowService
	log      zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(invoices *service.InvoiceService, workflow *service.WorkflowService, log zerolog.Logger) *Handler {
	return &Handler{
		invoices: invoices,
		workflow: workflow,
		log:      log,
	}
}

// Router assembles the route table. Signature verification and the health
// check are public; everything else requires a bearer token.
func (h *Handler) Router(jwtSecret string) http.Handler {
	mux := http.NewServeMux()
	authed := Auth(jwtSecret)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Public out-of-band verification, both as POST body and as the link
	// embedded next to each signed step.
	mux.HandleFunc("POST /invoice/verify_signature/{$}", h.VerifySignature)
	mux.HandleFunc("GET /verify-signature/{id}/{publicKey}/{signature}", h.VerifySignatureLink)

	mux.Handle("POST /invoice/{$}", authed(http.HandlerFunc(h.CreateInvoice)))
	mux.Handle("GET /invoice/{$}", authed(http.HandlerFunc(h.ListInvoices)))
	mux.Handle("GET /invoice/{id}", authed(http.HandlerFunc(h.GetInvoice)))
	mux.Handle("PUT /invoice/{id}/{$}", authed(http.HandlerFunc(h.UpdateInvoice)))
	mux.Handle("DELETE /invoice/{id}/{$}", authed(http.HandlerFunc(h.DeleteInvoice)))

	mux.Handle("PUT /invoice/sign-invoice/{id}/{$}", authed(http.HandlerFunc(h.SignInvoice)))
	mux.Handle("POST /invoice/resubmit-invoice/{id}/{$}", authed(http.HandlerFunc(h.ResubmitInvoice)))
	mux.Handle("POST /invoice/comment-invoice/{id}/{$}", authed(http.HandlerFunc(h.CommentInvoice)))
	mux.Handle("GET /invoice/{id}/comments/{$}", authed(http.HandlerFunc(h.GetComments)))
	mux.Handle("GET /invoice/track-invoice/{id}", authed(http.HandlerFunc(h.TrackInvoice)))
	mux.Handle("GET /invoice/next-signers/{id}", authed(http.HandlerFunc(h.NextSigners)))
	mux.Handle("GET /invoice/pending-signatures/{$}", authed(http.HandlerFunc(h.PendingSignatures)))

	return mux
}

func sessionOr401(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	sess, ok := auth.SessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return nil, false
	}
	return sess, true
}

// CreateInvoice handles invoice creation.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOr401(w, r)
	if !ok {
		return
	}
	var req service.CreateInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	invoice, err := h.invoices.Create(r.Context(), sess, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, invoice)
}

// ListInvoices lists the caller's invoices with optional status filter and
// pagination.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOr401(w, r)
	if !ok {
		return
	}

	var status *string
	if s := r.URL.Query().Get("status"); s != "" {
		status = &s
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	invoices, total, err := h.invoices.List(r.Context(), sess, status, page, pageSize)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"invoices": invoices,
		"total":    total,
	})
}

// GetInvoice returns one invoice with its GL lines.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := sessionOr401(w, r); !ok {
		return
	}
	invoice, err := h.invoices.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, invoice)
}

// UpdateInvoice replaces the editable content of an invoice.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOr401(w, r)
	if !ok {
		return
	}
	var req service.UpdateInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	invoice, err := h.invoices.Update(r.Context(), sess, r.PathValue("id"), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, invoice)
}

// DeleteInvoice removes a pending or denied invoice.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOr401(w, r)
	if !ok {
		return
	}
	if err := h.invoices.Delete(r.Context(), sess, r.PathValue("id")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type signRequest struct {
	Status      string   `json:"status"`
	Final       bool     `json:"final"`
	NextSigners []string `json:"next_signers"`
	Comment     string   `json:"comment"`
}

// SignInvoice dispatches a signer decision on the current step. The body's
// status selects the action: signed, denied or rollback.
func (h *Handler) SignInvoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOr401(w, r)
	if !ok {
		return
	}
	var req signRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	id := r.PathValue("id")

	var (
		detail *service.TrackDetail
		err    error
	)
	switch req.Status {
	case "signed":
		detail, err = h.workflow.Approve(r.Context(), sess, id, &service.ApproveRequest{
			Final:       req.Final,
			NextSigners: req.NextSigners,
			Comment:     req.Comment,
		})
	case "denied":
		detail, err = h.workflow.Deny(r.Context(), sess, id, req.Comment)
	case "rollback":
		detail, err = h.workflow.Rollback(r.Context(), sess, id, req.Comment)
	default:
		err = apperrors.InvalidInput("status", "must be one of signed, denied, rollback")
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// ResubmitInvoice reopens a denied or rolled-back invoice for a fresh round.
func (h *Handler) ResubmitInvoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOr401(w, r)
	if !ok {
		return
	}
	detail, err := h.workflow.Resubmit(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

type commentRequest struct {
	Content string `json:"content"`
}

// CommentInvoice appends a comment to the invoice trail.
func (h *Handler) CommentInvoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOr401(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	comment, err := h.workflow.Comment(r.Context(), sess, r.PathValue("id"), req.Content)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, comment)
}

// GetComments returns the invoice's comment trail.
func (h *Handler) GetComments(w http.ResponseWriter, r *http.Request) {
	if _, ok := sessionOr401(w, r); !ok {
		return
	}
	comments, err := h.workflow.Comments(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

// TrackInvoice returns the full tracking view of an invoice.
func (h *Handler) TrackInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := sessionOr401(w, r); !ok {
		return
	}
	detail, err := h.workflow.Track(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// NextSigners returns the caller's candidate set for forwarding the invoice.
func (h *Handler) NextSigners(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOr401(w, r)
	if !ok {
		return
	}
	users, err := h.workflow.NextSigners(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"signers": users})
}

// PendingSignatures lists invoices awaiting the caller's signature.
func (h *Handler) PendingSignatures(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOr401(w, r)
	if !ok {
		return
	}
	pending, err := h.workflow.PendingSignatures(r.Context(), sess)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

type verifyRequest struct {
	InvoiceID string `json:"invoice_id"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// VerifySignature checks a signature triple supplied in the request body.
func (h *Handler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	if req.InvoiceID == "" || req.PublicKey == "" || req.Signature == "" {
		respondServiceError(w, apperrors.InvalidInput("body",
			"invoice_id, public_key and signature are required"))
		return
	}
	result := h.workflow.VerifySignature(r.Context(), req.Signature, req.PublicKey, req.InvoiceID)
	respondJSON(w, http.StatusOK, result)
}

// VerifySignatureLink is the GET form backing the verification links
// attached to signed steps.
func (h *Handler) VerifySignatureLink(w http.ResponseWriter, r *http.Request) {
	result := h.workflow.VerifySignature(r.Context(),
		r.PathValue("signature"), r.PathValue("publicKey"), r.PathValue("id"))
	respondJSON(w, http.StatusOK, result)
}
