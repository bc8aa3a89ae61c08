package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/samber/oops"

	"github.com/tryhardly/apiserver/types"
)

const userColumns = `id, email, username, display_name, password_hash, class, level, xp, created_at, updated_at`

// UserRepository handles persistence for users in PostgreSQL. Uniqueness of
// email and username is enforced by unique indexes, so concurrent inserts
// cannot both succeed.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`
	return r.findOne(ctx, query, email)
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.findOne(ctx, query, username)
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		INSERT INTO users (id, email, username, display_name, password_hash, class, level, xp, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING email`
	err := r.db.QueryRowContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.Username,
		user.DisplayName,
		user.PasswordHash,
		string(user.Class),
		user.Level,
		user.XP,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.Email)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, oops.Code("STORE_USER_CONFLICT").
				With("constraint", constraintName(err)).
				Wrap(ErrConflict)
		}
		return types.User{}, oops.Code("STORE_USER_CREATE_FAILED").Wrap(err)
	}
	return user, nil
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (types.User, error) {
	var (
		user  types.User
		class string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.DisplayName,
		&user.PasswordHash,
		&class,
		&user.Level,
		&user.XP,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, oops.Code("STORE_USER_QUERY_FAILED").Wrap(err)
	}
	user.Class = types.Class(class)
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}

func constraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
