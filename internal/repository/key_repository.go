package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/database"
)

// KeyRepository stores per-user signing key pairs.
type KeyRepository struct {
	db *database.DB
}

// NewKeyRepository creates a new KeyRepository.
func NewKeyRepository(db *database.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Get retrieves a user's signing key, or nil when none exists yet.
func (r *KeyRepository) Get(ctx context.Context, userID string) (*SigningKey, error) {
	query := `
		SELECT user_id, private_key_pem, public_key_pem, created_at
		FROM signing_keys
		WHERE user_id = $1
	`

	k := &SigningKey{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&k.UserID, &k.PrivateKeyPEM, &k.PublicKeyPEM, &k.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get signing key")
	}
	return k, nil
}

// Create persists a user's key pair. A concurrent first-sign race is
// absorbed by ON CONFLICT: the stored key wins and is returned.
func (r *KeyRepository) Create(ctx context.Context, key *SigningKey) (*SigningKey, error) {
	query := `
		INSERT INTO signing_keys (user_id, private_key_pem, public_key_pem)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`

	if _, err := r.db.Exec(ctx, query, key.UserID, key.PrivateKeyPEM, key.PublicKeyPEM); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to store signing key")
	}

	stored, err := r.Get(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, apperrors.New(apperrors.ErrCodeInternal, "signing key vanished after insert")
	}
	return stored, nil
}
