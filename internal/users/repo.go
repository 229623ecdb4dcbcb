package users

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("user not found")

// Repo persists signed-in identities. Guests never reach it.
type Repo interface {
	// Upsert records a login and returns the merged account as stored.
	Upsert(ctx context.Context, user User) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)
}
