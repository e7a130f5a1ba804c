package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/auth"
	"github.com/skyfin/be-invoice-signoff/internal/repository"
	"github.com/skyfin/be-invoice-signoff/internal/service"
	"github.com/skyfin/be-invoice-signoff/internal/signing"
)

const testSecret = "test-secret"

// emptyInvoices satisfies service.InvoiceStore with a backend holding no
// invoices, enough to exercise routing, auth and error mapping.
type emptyInvoices struct{}

func (emptyInvoices) Create(context.Context, *repository.Invoice, []string) error {
	return apperrors.New(apperrors.ErrCodeInternal, "not implemented")
}
func (emptyInvoices) GetByID(_ context.Context, id string) (*repository.Invoice, error) {
	return nil, apperrors.NotFound("invoice", id)
}
func (emptyInvoices) ListByOwner(context.Context, string, *string, int, int) ([]*repository.Invoice, int64, error) {
	return nil, 0, nil
}
func (emptyInvoices) UpdateContent(_ context.Context, invoice *repository.Invoice) error {
	return apperrors.NotFound("invoice", invoice.ID)
}
func (emptyInvoices) UpdateStatus(_ context.Context, id, _ string) error {
	return apperrors.NotFound("invoice", id)
}
func (emptyInvoices) Delete(_ context.Context, id string) error {
	return apperrors.NotFound("invoice", id)
}

type noEvents struct{}

func (noEvents) PublishInvoiceEvent(context.Context, string, string, string, []string, map[string]any) {
}

// passTx runs fn directly; nothing here needs rollback.
type passTx struct{}

func (passTx) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	log := zerolog.Nop()
	invoices := service.NewInvoiceService(emptyInvoices{}, nil, nil, noEvents{}, log)
	workflow := service.NewWorkflowService(passTx{}, emptyInvoices{}, nil, nil, nil, nil, nil, noEvents{}, log)
	handler := NewHandler(invoices, workflow, log)

	var h http.Handler = handler.Router(testSecret)
	h = RequestID(h)
	h = Logger(&log)(h)
	h = Recovery(&log)(h)
	h = CORS([]string{"*"})(h)
	return h
}

func bearerFor(t *testing.T, sess auth.Session) string {
	t.Helper()
	token, err := auth.MintToken(testSecret, sess, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "healthy")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/invoice/"},
		{http.MethodGet, "/invoice/track-invoice/abc"},
		{http.MethodPut, "/invoice/sign-invoice/abc/"},
		{http.MethodGet, "/invoice/pending-signatures/"},
	} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/invoice/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	token := bearerFor(t, auth.Session{UserID: "u-1"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/invoice/track-invoice/missing", nil)
	req.Header.Set("Authorization", token)
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not_found", body.Error.Code)
	require.Contains(t, body.Error.Message, "missing")
}

func TestSignRejectsUnknownStatus(t *testing.T) {
	srv := newTestServer(t)
	token := bearerFor(t, auth.Session{UserID: "u-1"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/invoice/sign-invoice/abc/",
		strings.NewReader(`{"status":"maybe"}`))
	req.Header.Set("Authorization", token)
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_input")
}

func TestSignRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t)
	token := bearerFor(t, auth.Session{UserID: "u-1"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/invoice/sign-invoice/abc/",
		strings.NewReader(`{`))
	req.Header.Set("Authorization", token)
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifySignatureEndpointIsPublic(t *testing.T) {
	srv := newTestServer(t)

	pair, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	sig, err := signing.Sign(pair.PrivateKeyPEM, "inv-1")
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{
		"invoice_id": "inv-1",
		"public_key": signing.TransportForm(pair.PublicKeyPEM),
		"signature":  sig,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invoice/verify_signature/",
		strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Valid)

	// Wrong invoice id gives a clean false verdict, not an error.
	body, err = json.Marshal(map[string]string{
		"invoice_id": "inv-2",
		"public_key": signing.TransportForm(pair.PublicKeyPEM),
		"signature":  sig,
	})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invoice/verify_signature/",
		strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.False(t, result.Valid)
}

func TestVerifySignatureRequiresFields(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invoice/verify_signature/",
		strings.NewReader(`{"invoice_id":"inv-1"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerificationLinkRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	pair, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	sig, err := signing.Sign(pair.PrivateKeyPEM, "inv-9")
	require.NoError(t, err)

	url := signing.VerificationURL("inv-9", pair.PublicKeyPEM, sig)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Valid, "the generated link must verify its own signature")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/invoice/", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
