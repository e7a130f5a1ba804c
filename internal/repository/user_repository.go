package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
	"github.com/skyfin/be-invoice-signoff/internal/database"
)

// UserRepository reads workflow participants and office designations.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, name, email, role, department, position,
	head_of_department, office, created_at, updated_at
`

// GetByID retrieves a user.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("user", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get user")
	}
	return user, nil
}

// GetByIDs retrieves several users keyed by id. Missing ids are absent from
// the map, not an error.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	if len(ids) == 0 {
		return map[string]*User{}, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get users")
	}
	defer rows.Close()

	users := make(map[string]*User, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan user")
		}
		users[user.ID] = user
	}
	return users, nil
}

// ListEligibleSigners returns the department-scoped next-signer candidates:
// signer or signer_admin users in the department, excluding the given ids
// (typically the acting user and the invoice owner).
func (r *UserRepository) ListEligibleSigners(ctx context.Context, department string, excludeIDs []string) ([]*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE department = $1
		  AND role IN ('signer', 'signer_admin')
		  AND office IS NULL
		  AND NOT (id = ANY($2))
		ORDER BY head_of_department DESC, name ASC
	`

	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	rows, err := r.db.Query(ctx, query, department, excludeIDs)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list eligible signers")
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, user)
	}
	return users, nil
}

// GetOfficeDesignates returns the designated signer set for an executive
// office, in designation order.
func (r *UserRepository) GetOfficeDesignates(ctx context.Context, office string) ([]*User, error) {
	query := `
		SELECT ` + prefixedUserColumns("u") + `
		FROM office_designates d
		JOIN users u ON u.id = d.user_id
		WHERE d.office = $1
		ORDER BY d.position ASC
	`

	rows, err := r.db.Query(ctx, query, office)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get office designates")
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, user)
	}
	return users, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func prefixedUserColumns(alias string) string {
	return alias + `.id, ` + alias + `.name, ` + alias + `.email, ` + alias + `.role, ` +
		alias + `.department, ` + alias + `.position, ` + alias + `.head_of_department, ` +
		alias + `.office, ` + alias + `.created_at, ` + alias + `.updated_at`
}

type userScanner interface {
	Scan(dest ...any) error
}

func scanUser(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.Department,
		&u.Position,
		&u.HeadOfDepartment,
		&u.Office,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}
