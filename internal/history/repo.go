package history

import (
	"context"
	"errors"

	"studyguide-backend/internal/studyguide"
)

var ErrNotFound = errors.New("history entry not found")

// Repo archives completed study guides per owner. Entry IDs are the analysis
// IDs, so saving the same entry twice is a no-op.
type Repo interface {
	Save(ctx context.Context, ownerID string, entry studyguide.HistoryEntry) error
	List(ctx context.Context, ownerID string, limit int) ([]studyguide.HistoryEntry, error)
	Get(ctx context.Context, ownerID, entryID string) (studyguide.HistoryEntry, error)
	Delete(ctx context.Context, ownerID, entryID string) error
	// ClaimGuest moves a guest's entries to ownerID and reports how many moved.
	ClaimGuest(ctx context.Context, guestID, ownerID string) (int, error)
}

const defaultListLimit = 50
