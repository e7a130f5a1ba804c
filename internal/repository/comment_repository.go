package repository

import (
	"context"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/database"
)

// CommentRepository appends and reads invoice comments. The table forbids
// updates, so append and read are the only operations exposed.
type CommentRepository struct {
	db *database.DB
}

// NewCommentRepository creates a new CommentRepository.
func NewCommentRepository(db *database.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Append inserts one comment.
func (r *CommentRepository) Append(ctx context.Context, comment *Comment) error {
	query := `
		INSERT INTO comments (invoice_id, author_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		comment.InvoiceID,
		comment.AuthorID,
		comment.Content,
	).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append comment")
	}
	return nil
}

// GetByInvoiceID returns an invoice's comments oldest-first.
func (r *CommentRepository) GetByInvoiceID(ctx context.Context, invoiceID string) ([]*Comment, error) {
	query := `
		SELECT id, invoice_id, author_id, content, created_at
		FROM comments
		WHERE invoice_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get comments")
	}
	defer rows.Close()

	comments := make([]*Comment, 0)
	for rows.Next() {
		c := &Comment{}
		if err := rows.Scan(&c.ID, &c.InvoiceID, &c.AuthorID, &c.Content, &c.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan comment")
		}
		comments = append(comments, c)
	}

	return comments, nil
}
