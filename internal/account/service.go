package account

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"studyguide-backend/internal/shared/telemetry"
)

// Claimer moves rows owned by a guest identity to a signed-in user.
type Claimer interface {
	ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (int, error)
}

// HistoryRefresher reloads a live session's history list.
type HistoryRefresher interface {
	RefreshHistory(ctx context.Context, ownerID string) error
}

// Service reassigns a guest's documents, analyses and saved study guides
// after the guest signs in. When DB is set every table moves in one
// transaction; otherwise each claimer runs in turn.
type Service struct {
	DB        *sql.DB
	Documents Claimer
	Analyses  Claimer
	History   Claimer
	Sessions  HistoryRefresher
}

type ClaimResult struct {
	MigratedDocuments int `json:"migratedDocuments"`
	MigratedAnalyses  int `json:"migratedAnalyses"`
	MigratedHistory   int `json:"migratedHistory"`
}

var ErrMissingIdentity = errors.New("guest and user ids are required")

func (s *Service) ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (ClaimResult, error) {
	if strings.TrimSpace(guestUserID) == "" || strings.TrimSpace(authedUserID) == "" {
		return ClaimResult{}, ErrMissingIdentity
	}

	var (
		result ClaimResult
		err    error
	)
	if s.DB != nil {
		result, err = claimWithTx(ctx, s.DB, guestUserID, authedUserID)
	} else {
		result, err = s.claimEach(ctx, guestUserID, authedUserID)
	}
	if err != nil {
		telemetry.Error("account.claim_failed", map[string]any{"user_id": authedUserID, "error": err.Error()})
		return ClaimResult{}, err
	}
	if s.Sessions != nil && result.MigratedHistory > 0 {
		if err := s.Sessions.RefreshHistory(ctx, authedUserID); err != nil {
			// the archive is authoritative; the list catches up on the next reset
			telemetry.Warn("account.session_refresh_failed", map[string]any{"user_id": authedUserID, "error": err.Error()})
		}
	}
	telemetry.Info("account.claimed", map[string]any{
		"user_id":   authedUserID,
		"documents": result.MigratedDocuments,
		"analyses":  result.MigratedAnalyses,
		"history":   result.MigratedHistory,
	})
	return result, nil
}

func (s *Service) claimEach(ctx context.Context, guestUserID, authedUserID string) (ClaimResult, error) {
	var result ClaimResult
	steps := []struct {
		claimer Claimer
		count   *int
	}{
		{s.Documents, &result.MigratedDocuments},
		{s.Analyses, &result.MigratedAnalyses},
		{s.History, &result.MigratedHistory},
	}
	for _, step := range steps {
		if step.claimer == nil {
			continue
		}
		n, err := step.claimer.ClaimGuest(ctx, guestUserID, authedUserID)
		if err != nil {
			return ClaimResult{}, err
		}
		*step.count = n
	}
	return result, nil
}

// History entries keep their ids, so a guest entry whose id the user
// already owns stays behind.
const claimHistorySQL = `
UPDATE history_entries h
SET owner_id = $1
WHERE h.owner_id = $2 AND h.deleted_at IS NULL
  AND NOT EXISTS (SELECT 1 FROM history_entries u WHERE u.owner_id = $1 AND u.id = h.id)`

func claimWithTx(ctx context.Context, db *sql.DB, guestUserID, authedUserID string) (ClaimResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ClaimResult{}, err
	}
	defer tx.Rollback()

	exec := func(query string) (int, error) {
		res, err := tx.ExecContext(ctx, query, authedUserID, guestUserID)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	var result ClaimResult
	if result.MigratedDocuments, err = exec(`UPDATE documents SET user_id = $1 WHERE user_id = $2 AND deleted_at IS NULL`); err != nil {
		return ClaimResult{}, err
	}
	if result.MigratedAnalyses, err = exec(`UPDATE analyses SET user_id = $1 WHERE user_id = $2 AND deleted_at IS NULL`); err != nil {
		return ClaimResult{}, err
	}
	if result.MigratedHistory, err = exec(claimHistorySQL); err != nil {
		return ClaimResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ClaimResult{}, err
	}
	return result, nil
}
