package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/user"
)

var _ user.Repo = (*UserRepo)(nil)

// UserRepo keeps users in process. Used for local runs and tests.
type UserRepo struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]user.User
}

func NewUserRepo() *UserRepo {
	return &UserRepo{byID: map[int64]user.User{}}
}

func (r *UserRepo) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if existing.Username == u.Username {
			return user.ErrDuplicateUsername
		}
		if existing.Email == u.Email {
			return user.ErrDuplicateEmail
		}
	}
	r.nextID++
	now := time.Now().UTC()
	u.ID = r.nextID
	u.CreatedAt, u.UpdatedAt = now, now
	r.byID[u.ID] = *u
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id int64) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepo) GetByUsername(_ context.Context, username string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *UserRepo) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[u.ID]
	if !ok {
		return user.ErrNotFound
	}
	for id, other := range r.byID {
		if id != u.ID && other.Email == u.Email {
			return user.ErrDuplicateEmail
		}
	}
	cur.Email, cur.PasswordHash, cur.Role = u.Email, u.PasswordHash, u.Role
	cur.UpdatedAt = time.Now().UTC()
	r.byID[u.ID] = cur
	*u = cur
	return nil
}

func (r *UserRepo) SetActive(_ context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return user.ErrNotFound
	}
	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return nil
}
