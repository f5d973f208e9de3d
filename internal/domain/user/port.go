package user

import "context"

type Repo interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// PasswordHasher is the external password hashing capability.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}
