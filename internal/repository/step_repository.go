package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/database"
)

// StepRepository handles reads and updates on sign-off chain entries.
// Initial chain creation happens in InvoiceRepository.Create.
type StepRepository struct {
	db *database.DB
}

// NewStepRepository creates a new StepRepository.
func NewStepRepository(db *database.DB) *StepRepository {
	return &StepRepository{db: db}
}

const stepColumns = `
	id, invoice_id, signer_id, round, position, status,
	signature, public_key, acted_at, created_at, updated_at
`

// GetByInvoiceID returns every chain entry for an invoice across all rounds,
// oldest round first.
func (r *StepRepository) GetByInvoiceID(ctx context.Context, invoiceID string) ([]*SignStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM sign_steps
		WHERE invoice_id = $1
		ORDER BY round ASC, position ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get sign steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// GetActiveRound returns the chain entries of the invoice's latest round,
// ordered by position.
func (r *StepRepository) GetActiveRound(ctx context.Context, invoiceID string) ([]*SignStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM sign_steps
		WHERE invoice_id = $1
		  AND round = (SELECT COALESCE(MAX(round), 1) FROM sign_steps WHERE invoice_id = $1)
		ORDER BY position ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get active chain")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// Consume stamps the outcome of the current to_sign step. The update is
// conditional on the step still being to_sign, so the loser of a
// double-approval race gets a conflict instead of a second signature.
func (r *StepRepository) Consume(ctx context.Context, id, status string, signature, publicKey *string) error {
	query := `
		UPDATE sign_steps
		SET status     = $2::step_status,
		    signature  = $3,
		    public_key = $4,
		    acted_at   = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'to_sign'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, signature, publicKey).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.Conflict("step has already been acted on")
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update sign step")
	}
	return nil
}

// Promote moves the pending entry at the given round and position to
// to_sign, making it the chain's current step.
func (r *StepRepository) Promote(ctx context.Context, invoiceID string, round, position int) error {
	query := `
		UPDATE sign_steps
		SET status     = 'to_sign'::step_status,
		    updated_at = NOW()
		WHERE invoice_id = $1
		  AND round = $2
		  AND position = $3
		  AND status = 'pending'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, invoiceID, round, position).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.Conflict("no pending step to promote at this position")
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to promote sign step")
	}
	return nil
}

// Append adds forwarded signers to the end of the active round. The first
// appended entry becomes the current to_sign step; later entries wait as
// pending placeholders.
func (r *StepRepository) Append(ctx context.Context, invoiceID string, round, startPosition int, signerIDs []string) ([]*SignStep, error) {
	steps := make([]*SignStep, 0, len(signerIDs))

	err := r.db.InTransaction(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO sign_steps (invoice_id, signer_id, round, position, status)
			VALUES ($1, $2, $3, $4, $5::step_status)
			RETURNING ` + stepColumns + `
		`

		for i, signerID := range signerIDs {
			status := "pending"
			if i == 0 {
				status = "to_sign"
			}
			step, err := scanStep(r.db.QueryRow(ctx, query, invoiceID, signerID, round, startPosition+i, status))
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append sign step")
			}
			steps = append(steps, step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// NewRound recreates the signer chain for a resubmitted invoice as round
// max+1, leaving the previous round untouched as history.
func (r *StepRepository) NewRound(ctx context.Context, invoiceID string, signerIDs []string) ([]*SignStep, error) {
	steps := make([]*SignStep, 0, len(signerIDs))

	err := r.db.InTransaction(ctx, func(ctx context.Context) error {
		var round int
		err := r.db.QueryRow(ctx,
			`SELECT COALESCE(MAX(round), 0) + 1 FROM sign_steps WHERE invoice_id = $1`,
			invoiceID,
		).Scan(&round)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to determine next round")
		}

		query := `
			INSERT INTO sign_steps (invoice_id, signer_id, round, position, status)
			VALUES ($1, $2, $3, $4, $5::step_status)
			RETURNING ` + stepColumns + `
		`
		for i, signerID := range signerIDs {
			status := "pending"
			if i == 0 {
				status = "to_sign"
			}
			step, err := scanStep(r.db.QueryRow(ctx, query, invoiceID, signerID, round, i+1, status))
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create sign step")
			}
			steps = append(steps, step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// GetAwaitingSigner returns the to_sign steps currently assigned to a user.
func (r *StepRepository) GetAwaitingSigner(ctx context.Context, signerID string) ([]*SignStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM sign_steps
		WHERE signer_id = $1
		  AND status = 'to_sign'
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, signerID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get pending signatures")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type stepScanner interface {
	Scan(dest ...any) error
}

func scanStep(row stepScanner) (*SignStep, error) {
	s := &SignStep{}
	err := row.Scan(
		&s.ID,
		&s.InvoiceID,
		&s.SignerID,
		&s.Round,
		&s.Position,
		&s.Status,
		&s.Signature,
		&s.PublicKey,
		&s.ActedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanSteps(rows pgx.Rows) ([]*SignStep, error) {
	var steps []*SignStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan sign step")
		}
		steps = append(steps, step)
	}
	return steps, nil
}
