package history

import (
	"context"
	"sort"
	"sync"

	"studyguide-backend/internal/studyguide"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]map[string]studyguide.HistoryEntry // ownerID -> entryID -> entry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]map[string]studyguide.HistoryEntry)}
}

func (r *MemoryRepo) Save(ctx context.Context, ownerID string, entry studyguide.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[ownerID] == nil {
		r.data[ownerID] = make(map[string]studyguide.HistoryEntry)
	}
	if _, exists := r.data[ownerID][entry.ID]; exists {
		return nil
	}
	entry.AnalysisResult = entry.AnalysisResult.Clone()
	r.data[ownerID][entry.ID] = entry
	return nil
}

// List returns entries newest first.
func (r *MemoryRepo) List(ctx context.Context, ownerID string, limit int) ([]studyguide.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	r.mu.RLock()
	out := make([]studyguide.HistoryEntry, 0, len(r.data[ownerID]))
	for _, e := range r.data[ownerID] {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date == out[j].Date {
			return out[i].ID > out[j].ID
		}
		return out[i].Date > out[j].Date
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Get(ctx context.Context, ownerID, entryID string) (studyguide.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return studyguide.HistoryEntry{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.data[ownerID][entryID]
	if !ok {
		return studyguide.HistoryEntry{}, ErrNotFound
	}
	e.AnalysisResult = e.AnalysisResult.Clone()
	return e, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, ownerID, entryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[ownerID][entryID]; !ok {
		return ErrNotFound
	}
	delete(r.data[ownerID], entryID)
	return nil
}

// ClaimGuest moves a guest's entries to ownerID. Entries whose id the owner
// already has are left with the guest.
func (r *MemoryRepo) ClaimGuest(ctx context.Context, guestID, ownerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[ownerID] == nil {
		r.data[ownerID] = make(map[string]studyguide.HistoryEntry)
	}
	moved := 0
	for id, e := range r.data[guestID] {
		if _, exists := r.data[ownerID][id]; exists {
			continue
		}
		r.data[ownerID][id] = e
		delete(r.data[guestID], id)
		moved++
	}
	return moved, nil
}

var _ Repo = (*MemoryRepo)(nil)
