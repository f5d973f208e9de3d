package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NordCoder/Sentinel/internal/domain/user"
	"github.com/jackc/pgx/v5"
)

var _ user.Repo = (*UserRepo)(nil)

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, username, email, password_hash, role, is_active, created_at, updated_at`

const (
	qUserInsert = `
INSERT INTO users (username, email, password_hash, role, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + userColumns + `;`

	qUserByID = `
SELECT ` + userColumns + `
FROM users
WHERE id = $1;`

	qUserByUsername = `
SELECT ` + userColumns + `
FROM users
WHERE username = $1;`

	qUserUpdate = `
UPDATE users
SET email         = $2,
    password_hash = $3,
    role          = $4,
    updated_at    = NOW()
WHERE id = $1
RETURNING ` + userColumns + `;`

	qUserSetActive = `
UPDATE users
SET is_active  = $2,
    updated_at = NOW()
WHERE id = $1;`
)

func (r *UserRepo) Create(ctx context.Context, u *user.User) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserInsert, u.Username, u.Email, u.PasswordHash, u.Role, u.Active), u)
	if err != nil {
		return fmt.Errorf("user insert: %w", mapUserConflict(err))
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserByID, id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserByUsername, username), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Update(ctx context.Context, u *user.User) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserUpdate, u.ID, u.Email, u.PasswordHash, u.Role), u)
	if err != nil {
		return fmt.Errorf("user update: %w", mapUserConflict(err))
	}
	return nil
}

func (r *UserRepo) SetActive(ctx context.Context, id int64, active bool) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qUserSetActive, id, active)
	if err != nil {
		return fmt.Errorf("user set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row, out *user.User) error {
	if err := row.Scan(&out.ID, &out.Username, &out.Email, &out.PasswordHash, &out.Role,
		&out.Active, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.ErrNotFound
		}
		return err
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return nil
}

func mapUserConflict(err error) error {
	cerr := asConflict(err)
	if cerr == nil {
		return err
	}
	var c *ConflictError
	errors.As(cerr, &c)
	switch {
	case strings.Contains(c.Constraint, "username"):
		return errors.Join(user.ErrDuplicateUsername, cerr)
	case strings.Contains(c.Constraint, "email"):
		return errors.Join(user.ErrDuplicateEmail, cerr)
	}
	return cerr
}
