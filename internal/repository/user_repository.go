package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"storefront-api/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) (uuid.UUID, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByGoogleIDOrEmail(ctx context.Context, googleID, email string) (*model.User, error)
	LinkGoogle(ctx context.Context, id uuid.UUID, googleID string, avatarURL *string) error
	UpdateAvatar(ctx context.Context, id uuid.UUID, avatarURL string) error
	UpdateName(ctx context.Context, id uuid.UUID, name string) error
	UpdateRole(ctx context.Context, id uuid.UUID, role model.Role) error
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// rejection. The users table's unique indexes are the serialization point
// for concurrent first-time logins; callers retry the lookup path on this.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type postgresUserRepository struct {
	db *sqlx.DB
}

func NewPostgresUserRepository(db *sqlx.DB) UserRepository {
	return &postgresUserRepository{db: db}
}

const userColumns = `id, email, name, password_hash, google_id, avatar_url, provider, is_verified, role, created_at, updated_at`

func (r *postgresUserRepository) Create(ctx context.Context, user *model.User) (uuid.UUID, error) {
	query := `INSERT INTO users (email, name, password_hash, google_id, avatar_url, provider, is_verified, role) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	var newID uuid.UUID
	err := r.db.QueryRowxContext(ctx, query,
		user.Email, user.Name, user.PasswordHash, user.GoogleID, user.AvatarURL,
		user.Provider, user.IsVerified, user.Role,
	).Scan(&newID)

	if err != nil {
		return uuid.Nil, err
	}

	return newID, nil
}

func (r *postgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	err := r.db.GetContext(ctx, &user, query, id)

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *postgresUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	err := r.db.GetContext(ctx, &user, query, email)

	if err != nil {
		return nil, err
	}

	return &user, nil
}

// FindByGoogleIDOrEmail is the single resolution query for external-identity
// login. The google_id match sorts first: under the uniqueness invariants
// both predicates cannot name different rows, but the ordering asserts the
// precedence anyway.
func (r *postgresUserRepository) FindByGoogleIDOrEmail(ctx context.Context, googleID, email string) (*model.User, error) {
	var user model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE google_id = $1 OR email = $2 ORDER BY (google_id = $1) DESC NULLS LAST LIMIT 1`
	err := r.db.GetContext(ctx, &user, query, googleID, email)

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *postgresUserRepository) LinkGoogle(ctx context.Context, id uuid.UUID, googleID string, avatarURL *string) error {
	query := `UPDATE users SET google_id = $1, provider = 'google', is_verified = TRUE, avatar_url = COALESCE($2, avatar_url), updated_at = now() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, googleID, avatarURL, id)
	return err
}

func (r *postgresUserRepository) UpdateAvatar(ctx context.Context, id uuid.UUID, avatarURL string) error {
	query := `UPDATE users SET avatar_url = $1, updated_at = now() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, avatarURL, id)
	return err
}

func (r *postgresUserRepository) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	query := `UPDATE users SET name = $1, updated_at = now() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, name, id)
	return err
}

func (r *postgresUserRepository) UpdateRole(ctx context.Context, id uuid.UUID, role model.Role) error {
	query := `UPDATE users SET role = $1, updated_at = now() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, role, id)
	return err
}
