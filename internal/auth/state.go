package auth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redisstore "studyguide-backend/internal/shared/storage/redis"
)

// LoginState is what a login start remembers until its callback arrives.
type LoginState struct {
	GuestID   string    `json:"guestId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StateStore holds one-time OAuth state values. Take must remove the entry so
// a state can be redeemed once.
type StateStore interface {
	Put(ctx context.Context, state string, ls LoginState) error
	Take(ctx context.Context, state string) (LoginState, bool, error)
}

// MemoryStates keeps states in process. Fine for one API instance.
type MemoryStates struct {
	mu    sync.Mutex
	items map[string]LoginState
	now   func() time.Time
}

func NewMemoryStates() *MemoryStates {
	return &MemoryStates{items: make(map[string]LoginState), now: time.Now}
}

func (m *MemoryStates) Put(_ context.Context, state string, ls LoginState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.items {
		if now.After(v.ExpiresAt) {
			delete(m.items, k)
		}
	}
	m.items[state] = ls
	return nil
}

func (m *MemoryStates) Take(_ context.Context, state string) (LoginState, bool, error) {
	m.mu.Lock()
	ls, ok := m.items[state]
	delete(m.items, state)
	m.mu.Unlock()
	if !ok || m.now().After(ls.ExpiresAt) {
		return LoginState{}, false, nil
	}
	return ls, true, nil
}

const stateKeyPrefix = "oauth:state:"

// RedisStates shares states across instances so the callback may land on a
// different process than the start.
type RedisStates struct {
	Client *redisstore.Client
}

func (r RedisStates) Put(ctx context.Context, state string, ls LoginState) error {
	raw, err := json.Marshal(ls)
	if err != nil {
		return err
	}
	ttl := time.Until(ls.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return r.Client.Set(ctx, stateKeyPrefix+state, raw, ttl)
}

func (r RedisStates) Take(ctx context.Context, state string) (LoginState, bool, error) {
	raw, err := r.Client.Take(ctx, stateKeyPrefix+state)
	if err != nil || raw == "" {
		return LoginState{}, false, err
	}
	var ls LoginState
	if err := json.Unmarshal([]byte(raw), &ls); err != nil {
		return LoginState{}, false, err
	}
	if time.Now().After(ls.ExpiresAt) {
		return LoginState{}, false, nil
	}
	return ls, true, nil
}
