package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	redisstore "studyguide-backend/internal/shared/storage/redis"
	"studyguide-backend/internal/studyguide"
)

// ErrContended is returned when a session kept changing under Update.
var ErrContended = errors.New("session update contended")

// UpdateFunc computes the next session from the stored one. ok is false when
// nothing is stored. It may run more than once and must not have side effects.
type UpdateFunc func(s studyguide.Session, ok bool) (studyguide.Session, error)

// Store persists one Session per owner.
type Store interface {
	// Load returns ok=false when the owner has no stored session.
	Load(ctx context.Context, ownerID string) (studyguide.Session, bool, error)
	Save(ctx context.Context, ownerID string, s studyguide.Session) error
	// Update applies fn atomically against writers in any process. When fn
	// fails nothing is written and the stored session is returned with the error.
	Update(ctx context.Context, ownerID string, fn UpdateFunc) (studyguide.Session, error)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]studyguide.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]studyguide.Session)}
}

func (m *MemoryStore) Load(ctx context.Context, ownerID string) (studyguide.Session, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[ownerID]
	return s, ok, nil
}

func (m *MemoryStore) Save(ctx context.Context, ownerID string, s studyguide.Session) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[ownerID] = s
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, ownerID string, fn UpdateFunc) (studyguide.Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[ownerID]
	next, err := fn(cur, ok)
	if err != nil {
		return cur, err
	}
	m.sessions[ownerID] = next
	return next, nil
}

const (
	redisKeyPrefix    = "studyguide:session:"
	maxUpdateAttempts = 8
)

// RedisStore keeps sessions as JSON values that expire after TTL of inactivity.
type RedisStore struct {
	Client *redisstore.Client
	TTL    time.Duration
}

func NewRedisStore(client *redisstore.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{Client: client, TTL: ttl}
}

func (r *RedisStore) Load(ctx context.Context, ownerID string) (studyguide.Session, bool, error) {
	raw, err := r.Client.Get(ctx, redisKeyPrefix+ownerID)
	if err != nil {
		return studyguide.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(raw)
}

func (r *RedisStore) Save(ctx context.Context, ownerID string, s studyguide.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.Client.Set(ctx, redisKeyPrefix+ownerID, payload, r.TTL); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Update watches the session key so a write from another process between the
// read and the SET aborts the transaction, which is then retried on fresh data.
func (r *RedisStore) Update(ctx context.Context, ownerID string, fn UpdateFunc) (studyguide.Session, error) {
	key := redisKeyPrefix + ownerID
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var (
			out   studyguide.Session
			fnErr error
		)
		err := r.Client.Raw().Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("load session: %w", err)
			}
			cur, ok, err := decodeSession(raw)
			if err != nil {
				return err
			}
			next, err := fn(cur, ok)
			if err != nil {
				out, fnErr = cur, err
				return nil
			}
			payload, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode session: %w", err)
			}
			if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, payload, r.TTL)
				return nil
			}); err != nil {
				return err
			}
			out = next
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return studyguide.Session{}, err
		}
		return out, fnErr
	}
	return studyguide.Session{}, ErrContended
}

func decodeSession(raw string) (studyguide.Session, bool, error) {
	if raw == "" {
		return studyguide.Session{}, false, nil
	}
	var s studyguide.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return studyguide.Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	if s.Chat == nil {
		s.Chat = []studyguide.ChatMessage{}
	}
	if s.History == nil {
		s.History = []studyguide.HistoryEntry{}
	}
	return s, true, nil
}
