// Package signing produces and verifies the ed25519 signatures attached to
// signed approval steps. The signed message is derived from the invoice id
// alone so a third party can verify a (signature, public key, invoice id)
// triple without any other server state.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/url"
	"strings"
)

// messagePrefix versions the signed payload format.
const messagePrefix = "invoice-signoff:v1:"

// KeyPair is a user's persisted signing key, PEM-encoded.
type KeyPair struct {
	PrivateKeyPEM string
	PublicKeyPEM  string
}

// GenerateKeyPair creates a fresh ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
	}, nil
}

// Message returns the canonical byte string signed for an invoice.
func Message(invoiceID string) []byte {
	return []byte(messagePrefix + invoiceID)
}

// Sign signs the invoice message with a PEM private key and returns the
// base64 signature.
func Sign(privateKeyPEM, invoiceID string) (string, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return "", fmt.Errorf("invalid private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return "", fmt.Errorf("private key is not ed25519")
	}

	sig := ed25519.Sign(priv, Message(invoiceID))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature over the invoice message against a public
// key in either full or transport (newline-stripped) PEM form. Any malformed
// input verifies false rather than erroring: the caller only needs a verdict.
func Verify(publicKeyPEM, invoiceID, signatureB64 string) bool {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, Message(invoiceID), sig)
}

// ParsePublicKey accepts a PEM public key with or without newlines. Transport
// strips newlines from the PEM, so the base64 body is recovered from between
// the BEGIN/END markers directly.
func ParsePublicKey(publicKeyPEM string) (ed25519.PublicKey, error) {
	const (
		begin = "-----BEGIN PUBLIC KEY-----"
		end   = "-----END PUBLIC KEY-----"
	)

	s := strings.TrimSpace(publicKeyPEM)
	start := strings.Index(s, begin)
	stop := strings.Index(s, end)
	if start < 0 || stop < 0 || stop <= start {
		return nil, fmt.Errorf("invalid public key PEM")
	}
	body := strings.TrimSpace(s[start+len(begin) : stop])
	body = strings.ReplaceAll(body, "\n", "")
	body = strings.ReplaceAll(body, " ", "")

	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ed25519")
	}
	return pub, nil
}

// TransportForm strips newlines from a PEM string for embedding in JSON and
// URLs.
func TransportForm(pemStr string) string {
	return strings.ReplaceAll(pemStr, "\n", "")
}

// VerificationURL builds the QR-encoded out-of-band verification path.
func VerificationURL(invoiceID, publicKeyPEM, signatureB64 string) string {
	return fmt.Sprintf("/verify-signature/%s/%s/%s",
		url.PathEscape(invoiceID),
		url.PathEscape(TransportForm(publicKeyPEM)),
		url.PathEscape(signatureB64),
	)
}
