package users

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is the dev-mode account table. Merging follows User.signIn so it
// agrees with PGRepo.
type MemoryRepo struct {
	mu       sync.RWMutex
	accounts map[string]User
	now      func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{accounts: make(map[string]User), now: time.Now}
}

func (r *MemoryRepo) Upsert(ctx context.Context, fresh User) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[fresh.ID]
	if !ok {
		stored = fresh
		stored.CreatedAt = now
	}
	stored = stored.signIn(fresh, now)
	r.accounts[stored.ID] = stored
	return stored, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	u, ok := r.accounts[userID]
	r.mu.RUnlock()
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

var _ Repo = (*MemoryRepo)(nil)
