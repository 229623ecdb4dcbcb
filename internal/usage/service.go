package usage

import (
	"context"
	"strings"
)

type store interface {
	Get(ctx context.Context, userID string) (Usage, error)
	EnsurePeriod(ctx context.Context, userID string) (Usage, error)
	Consume(ctx context.Context, userID string, n int) (Usage, error)
	Reset(ctx context.Context, userID string) (Usage, error)
}

// Service manages weekly analysis quotas via an underlying store.
type Service struct {
	store store
}

// NewService constructs a Service with in-memory store. limit <= 0 uses DefaultLimit.
func NewService(limit int) *Service {
	return &Service{store: newMemoryStore(limit)}
}

// NewPostgresService constructs a Service backed by Postgres.
func NewPostgresService(pgStore store) *Service {
	return &Service{store: pgStore}
}

// Get returns the current usage for a user, initializing defaults if absent.
func (s *Service) Get(ctx context.Context, userID string) (Usage, error) {
	if strings.TrimSpace(userID) == "" {
		return Usage{}, ErrMissingUser
	}
	return finish(s.store.Get(ctx, userID))
}

// EnsurePeriod resets usage if the period has expired.
func (s *Service) EnsurePeriod(ctx context.Context, userID string) (Usage, error) {
	if strings.TrimSpace(userID) == "" {
		return Usage{}, ErrMissingUser
	}
	return finish(s.store.EnsurePeriod(ctx, userID))
}

// CanConsume reports whether the user can consume n units.
func (s *Service) CanConsume(ctx context.Context, userID string, n int) (bool, Usage, error) {
	u, err := s.EnsurePeriod(ctx, userID)
	if err != nil {
		return false, Usage{}, err
	}
	if n <= 0 {
		return true, u, nil
	}
	if u.Used+n > u.Limit {
		return false, u, nil
	}
	return true, u, nil
}

// Consume increments usage by n if within limit.
func (s *Service) Consume(ctx context.Context, userID string, n int) (Usage, error) {
	if strings.TrimSpace(userID) == "" {
		return Usage{}, ErrMissingUser
	}
	return finish(s.store.Consume(ctx, userID, n))
}

// Reset sets usage to zero and resets the window.
func (s *Service) Reset(ctx context.Context, userID string) (Usage, error) {
	if strings.TrimSpace(userID) == "" {
		return Usage{}, ErrMissingUser
	}
	return finish(s.store.Reset(ctx, userID))
}

func finish(u Usage, err error) (Usage, error) {
	if err != nil {
		return Usage{}, err
	}
	return u.withRemaining(), nil
}
