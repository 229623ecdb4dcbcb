package analyses

import (
	"context"
	"sort"
	"sync"
	"time"

	"studyguide-backend/internal/studyguide"
)

// MemoryRepo stores analyses in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[string]Analysis
	byUser map[string][]string
}

var _ Repo = (*MemoryRepo)(nil)

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]Analysis),
		byUser: make(map[string][]string),
	}
}

// Create stores the analysis.
func (r *MemoryRepo) Create(ctx context.Context, analysis Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[analysis.ID] = analysis.clone()
	r.byUser[analysis.UserID] = append(r.byUser[analysis.UserID], analysis.ID)
	return nil
}

// GetByID returns an analysis by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return analysis.clone(), nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, analysisID, status string, startedAt time.Time) error {
	return r.mutate(ctx, analysisID, func(a *Analysis) {
		a.Status = status
		if a.StartedAt == nil {
			a.StartedAt = &startedAt
		}
	})
}

func (r *MemoryRepo) UpdateSnapshot(ctx context.Context, analysisID string, result studyguide.AnalysisResult, fragments int) error {
	return r.mutate(ctx, analysisID, func(a *Analysis) {
		if a.Status != StatusProcessing {
			return
		}
		snap := result.Clone()
		a.Result = &snap
		a.Fragments = fragments
	})
}

func (r *MemoryRepo) Complete(ctx context.Context, analysisID string, result studyguide.AnalysisResult, fragments int, completedAt time.Time) error {
	return r.mutate(ctx, analysisID, func(a *Analysis) {
		final := result.Clone()
		a.Status = StatusCompleted
		a.Result = &final
		a.Fragments = fragments
		a.ErrorCode = ""
		a.ErrorMessage = ""
		a.ErrorRetryable = false
		a.CompletedAt = &completedAt
	})
}

func (r *MemoryRepo) SetHistoryID(ctx context.Context, analysisID, historyID string) error {
	return r.mutate(ctx, analysisID, func(a *Analysis) {
		a.HistoryID = historyID
	})
}

func (r *MemoryRepo) Fail(ctx context.Context, analysisID string, failure Failure) error {
	return r.mutate(ctx, analysisID, func(a *Analysis) {
		a.Status = failure.Status
		a.Result = nil
		a.Fragments = failure.Fragments
		a.ErrorCode = failure.Code
		a.ErrorMessage = failure.Message
		a.ErrorRetryable = failure.Retryable
		completedAt := failure.CompletedAt
		a.CompletedAt = &completedAt
	})
}

func (r *MemoryRepo) mutate(ctx context.Context, analysisID string, fn func(*Analysis)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return ErrNotFound
	}
	fn(&analysis)
	analysis.UpdatedAt = time.Now().UTC()
	r.byID[analysisID] = analysis
	return nil
}

// ListByUser returns analyses for a user, newest first, with limit/offset.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	ids := r.byUser[userID]
	analyses := make([]Analysis, 0, len(ids))
	for _, id := range ids {
		analyses = append(analyses, r.byID[id].clone())
	}
	r.mu.RUnlock()

	if offset >= len(analyses) {
		return []Analysis{}, nil
	}
	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].CreatedAt.After(analyses[j].CreatedAt)
	})

	end := len(analyses)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return analyses[offset:end], nil
}

// ClaimGuest moves a guest's analyses to an authenticated user.
func (r *MemoryRepo) ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byUser[guestUserID]
	for _, id := range ids {
		a := r.byID[id]
		a.UserID = authedUserID
		r.byID[id] = a
	}
	r.byUser[authedUserID] = append(r.byUser[authedUserID], ids...)
	delete(r.byUser, guestUserID)
	return len(ids), nil
}
