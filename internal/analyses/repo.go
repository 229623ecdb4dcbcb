package analyses

import (
	"context"
	"time"

	"studyguide-backend/internal/studyguide"
)

// Repo defines persistence operations for analyses.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	UpdateStatus(ctx context.Context, analysisID, status string, startedAt time.Time) error
	// UpdateSnapshot stores the latest partial result of a processing analysis.
	UpdateSnapshot(ctx context.Context, analysisID string, result studyguide.AnalysisResult, fragments int) error
	Complete(ctx context.Context, analysisID string, result studyguide.AnalysisResult, fragments int, completedAt time.Time) error
	// SetHistoryID records the history entry a completed result was archived as.
	SetHistoryID(ctx context.Context, analysisID, historyID string) error
	// Fail moves the analysis to a terminal non-success status and clears its result.
	Fail(ctx context.Context, analysisID string, failure Failure) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error)
	ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (int, error)
}

// Failure describes how an analysis ended without a result.
type Failure struct {
	Status      string
	Code        string
	Message     string
	Retryable   bool
	Fragments   int
	CompletedAt time.Time
}
