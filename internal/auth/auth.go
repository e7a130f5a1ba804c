// Package auth validates bearer tokens and carries the resulting session
// identity through request contexts. The session is resolved once per
// request and passed to services explicitly.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
)

// Session is the authenticated caller's identity, including the capability
// flags signer resolution depends on.
type Session struct {
	UserID           string `json:"user_id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	Department       string `json:"department"`
	HeadOfDepartment bool   `json:"head_of_department"`
	// Office is "ceo" or "dceo" for office-proxy accounts, empty otherwise.
	Office string `json:"office,omitempty"`
}

// IsOfficeProxy reports whether the session acts on behalf of an executive
// office.
func (s *Session) IsOfficeProxy() bool { return s.Office != "" }

type claims struct {
	Session
	jwt.RegisteredClaims
}

// MintToken issues an HS256 token for a session. Used by tests and by
// whatever identity service fronts this one.
func MintToken(secret string, session Session, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Session: session,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// ParseToken validates a bearer token and returns its session.
func ParseToken(secret, tokenStr string) (*Session, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, apperrors.New(apperrors.ErrCodeUnauthorized, "invalid or expired token")
	}
	if c.UserID == "" {
		return nil, apperrors.New(apperrors.ErrCodeUnauthorized, "token carries no user identity")
	}
	return &c.Session, nil
}

type contextKey struct{}

// WithSession attaches a session to a context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// SessionFrom extracts the session from a context.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}
