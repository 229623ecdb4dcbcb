package analyses

import (
	"time"

	"studyguide-backend/internal/studyguide"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	// StatusCanceled marks a stream whose session moved on before it finished.
	StatusCanceled = "canceled"
)

// Analysis is one study-guide generation over a set of uploaded pages.
type Analysis struct {
	ID             string                     `json:"id"`
	UserID         string                     `json:"userId"`
	DocumentIDs    []string                   `json:"documentIds"`
	Title          string                     `json:"title"`
	Status         string                     `json:"status"`
	Result         *studyguide.AnalysisResult `json:"result,omitempty"`
	Fragments      int                        `json:"fragments"`
	ErrorCode      string                     `json:"errorCode,omitempty"`
	ErrorMessage   string                     `json:"errorMessage,omitempty"`
	ErrorRetryable bool                       `json:"errorRetryable,omitempty"`
	HistoryID      string                     `json:"historyId,omitempty"`
	Provider       string                     `json:"provider"`
	Model          string                     `json:"model"`
	CreatedAt      time.Time                  `json:"createdAt"`
	StartedAt      *time.Time                 `json:"startedAt,omitempty"`
	CompletedAt    *time.Time                 `json:"completedAt,omitempty"`
	UpdatedAt      time.Time                  `json:"updatedAt"`
}

// Terminal reports whether the analysis will not change again.
func (a Analysis) Terminal() bool {
	switch a.Status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func (a Analysis) clone() Analysis {
	out := a
	out.DocumentIDs = append([]string(nil), a.DocumentIDs...)
	if a.Result != nil {
		r := a.Result.Clone()
		out.Result = &r
	}
	return out
}
