package signing

import (
	"strings"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	const invoiceID = "9d3f6a3e-0c1d-4f3a-9e0a-2f1b5c7d8e90"
	sig, err := Sign(pair.PrivateKeyPEM, invoiceID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if !Verify(pair.PublicKeyPEM, invoiceID, sig) {
		t.Fatal("valid signature did not verify")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	const invoiceID = "inv-1"
	sig, err := Sign(pair.PrivateKeyPEM, invoiceID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if Verify(pair.PublicKeyPEM, "inv-2", sig) {
		t.Fatal("signature verified against a different invoice")
	}
	if Verify(other.PublicKeyPEM, invoiceID, sig) {
		t.Fatal("signature verified against a different key")
	}
	if Verify(pair.PublicKeyPEM, invoiceID, "AAAA"+sig[4:]) {
		t.Fatal("mutated signature verified")
	}
}

func TestVerifyMalformedInputIsFalse(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if Verify("not a key", "inv-1", "not base64!") {
		t.Fatal("garbage input must verify false")
	}
	if Verify(pair.PublicKeyPEM, "inv-1", "%%%") {
		t.Fatal("invalid base64 signature must verify false")
	}
	if Verify("", "inv-1", "") {
		t.Fatal("empty input must verify false")
	}
}

func TestVerifyAcceptsTransportForm(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	const invoiceID = "inv-42"
	sig, err := Sign(pair.PrivateKeyPEM, invoiceID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	stripped := TransportForm(pair.PublicKeyPEM)
	if strings.Contains(stripped, "\n") {
		t.Fatal("transport form must not contain newlines")
	}
	if !Verify(stripped, invoiceID, sig) {
		t.Fatal("stripped PEM did not verify")
	}
}

func TestMessageIsVersioned(t *testing.T) {
	msg := string(Message("abc"))
	if !strings.HasPrefix(msg, "invoice-signoff:v1:") {
		t.Fatalf("unexpected message %q", msg)
	}
	if !strings.HasSuffix(msg, "abc") {
		t.Fatalf("message must end with the invoice id, got %q", msg)
	}
}

func TestVerificationURL(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	sig, err := Sign(pair.PrivateKeyPEM, "inv-7")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	u := VerificationURL("inv-7", pair.PublicKeyPEM, sig)
	if !strings.HasPrefix(u, "/verify-signature/inv-7/") {
		t.Fatalf("unexpected url %q", u)
	}
	if strings.Contains(u, "\n") {
		t.Fatal("url must not contain newlines")
	}
	// Base64 slashes must be escaped so the path keeps three segments.
	if strings.Count(u, "/") != 4 {
		t.Fatalf("url must have exactly four slashes, got %q", u)
	}
}
