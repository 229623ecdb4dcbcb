package usage

import (
	"context"
	"sync"
	"time"
)

// memoryStore is the dev/test quota store. State dies with the process.
type memoryStore struct {
	mu    sync.Mutex
	limit int
	now   func() time.Time
	data  map[string]Usage
}

func newMemoryStore(limit int) *memoryStore {
	return &memoryStore{
		limit: limit,
		now:   func() time.Time { return time.Now().UTC() },
		data:  make(map[string]Usage),
	}
}

func (s *memoryStore) Get(ctx context.Context, userID string) (Usage, error) {
	return s.EnsurePeriod(ctx, userID)
}

func (s *memoryStore) EnsurePeriod(ctx context.Context, userID string) (Usage, error) {
	return s.update(ctx, userID, func(*Usage) error { return nil })
}

func (s *memoryStore) Consume(ctx context.Context, userID string, n int) (Usage, error) {
	return s.update(ctx, userID, func(u *Usage) error {
		if n <= 0 {
			return nil
		}
		if !u.fits(n) {
			return ErrLimitReached
		}
		u.Used += n
		return nil
	})
}

func (s *memoryStore) Reset(ctx context.Context, userID string) (Usage, error) {
	return s.update(ctx, userID, func(u *Usage) error {
		u.Used = 0
		u.ResetsAt = s.now().Add(window)
		return nil
	})
}

// update applies fn to the caller's current window and stores the result
// unless fn fails.
func (s *memoryStore) update(ctx context.Context, userID string, fn func(*Usage) error) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	u, ok := s.data[userID]
	if !ok {
		u = newUsage(s.limit, now)
	}
	u.rolled(now)
	if err := fn(&u); err != nil {
		return Usage{}, err
	}
	s.data[userID] = u
	return u, nil
}
