package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"studyguide-backend/internal/studyguide"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

const analysisColumns = `id, user_id, document_ids, title, status, result, fragments,
       error_code, error_message, error_retryable, provider, model,
       created_at, started_at, completed_at, updated_at, history_id`

// Create inserts a new analysis.
func (r *PGRepo) Create(ctx context.Context, analysis Analysis) error {
	const query = `
INSERT INTO analyses (id, user_id, document_ids, title, status, provider, model, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`
	docIDs, err := json.Marshal(nonNilStrings(analysis.DocumentIDs))
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		analysis.ID,
		analysis.UserID,
		docIDs,
		analysis.Title,
		analysis.Status,
		analysis.Provider,
		analysis.Model,
		analysis.CreatedAt,
	)
	return err
}

// GetByID returns an analysis by ID.
func (r *PGRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	query := `
SELECT ` + analysisColumns + `
FROM analyses
WHERE id = $1 AND deleted_at IS NULL
LIMIT 1`
	a, err := scanAnalysis(r.DB.QueryRowContext(ctx, query, analysisID))
	if errors.Is(err, sql.ErrNoRows) {
		return Analysis{}, ErrNotFound
	}
	return a, err
}

func (r *PGRepo) UpdateStatus(ctx context.Context, analysisID, status string, startedAt time.Time) error {
	const query = `
UPDATE analyses
SET status = $2, started_at = COALESCE(started_at, $3), updated_at = NOW()
WHERE id = $1`
	return execOne(ctx, r.DB, query, analysisID, status, startedAt)
}

// UpdateSnapshot is a no-op once the analysis left processing, so a late
// snapshot never overwrites a terminal row.
func (r *PGRepo) UpdateSnapshot(ctx context.Context, analysisID string, result studyguide.AnalysisResult, fragments int) error {
	const query = `
UPDATE analyses
SET result = $2, fragments = $3, updated_at = NOW()
WHERE id = $1 AND status = 'processing'`
	payload, err := json.Marshal(result.Normalize())
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query, analysisID, payload, fragments)
	return err
}

func (r *PGRepo) Complete(ctx context.Context, analysisID string, result studyguide.AnalysisResult, fragments int, completedAt time.Time) error {
	const query = `
UPDATE analyses
SET status = 'completed', result = $2, fragments = $3,
    error_code = NULL, error_message = NULL, error_retryable = false,
    completed_at = $4, updated_at = $4
WHERE id = $1`
	payload, err := json.Marshal(result.Normalize())
	if err != nil {
		return err
	}
	return execOne(ctx, r.DB, query, analysisID, payload, fragments, completedAt)
}

func (r *PGRepo) SetHistoryID(ctx context.Context, analysisID, historyID string) error {
	const query = `
UPDATE analyses
SET history_id = $2, updated_at = NOW()
WHERE id = $1`
	return execOne(ctx, r.DB, query, analysisID, nullString(historyID))
}

func (r *PGRepo) Fail(ctx context.Context, analysisID string, failure Failure) error {
	const query = `
UPDATE analyses
SET status = $2, result = NULL, fragments = $3,
    error_code = $4, error_message = $5, error_retryable = $6,
    completed_at = $7, updated_at = $7
WHERE id = $1`
	return execOne(ctx, r.DB, query,
		analysisID,
		failure.Status,
		failure.Fragments,
		nullString(failure.Code),
		nullString(failure.Message),
		failure.Retryable,
		failure.CompletedAt,
	)
}

// ListByUser returns analyses for a user ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `
SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClaimGuest reassigns analyses owned by a guest user to an authenticated user.
func (r *PGRepo) ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (int, error) {
	const query = `
UPDATE analyses
SET user_id = $1
WHERE user_id = $2 AND deleted_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, authedUserID, guestUserID)
	if err != nil {
		return 0, err
	}
	updated, _ := res.RowsAffected()
	return int(updated), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (Analysis, error) {
	var a Analysis
	var docIDs []byte
	var title sql.NullString
	var result []byte
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var provider sql.NullString
	var model sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	var historyID sql.NullString
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&docIDs,
		&title,
		&a.Status,
		&result,
		&a.Fragments,
		&errorCode,
		&errorMessage,
		&a.ErrorRetryable,
		&provider,
		&model,
		&a.CreatedAt,
		&startedAt,
		&completedAt,
		&a.UpdatedAt,
		&historyID,
	)
	if err != nil {
		return Analysis{}, err
	}
	a.DocumentIDs = []string{}
	if len(docIDs) > 0 {
		if err := json.Unmarshal(docIDs, &a.DocumentIDs); err != nil {
			return Analysis{}, err
		}
	}
	if len(result) > 0 {
		parsed := studyguide.NewAnalysisResult()
		if err := json.Unmarshal(result, &parsed); err != nil {
			return Analysis{}, err
		}
		parsed = parsed.Normalize()
		a.Result = &parsed
	}
	a.Title = title.String
	a.ErrorCode = errorCode.String
	a.ErrorMessage = errorMessage.String
	a.Provider = provider.String
	a.Model = model.String
	a.HistoryID = historyID.String
	if startedAt.Valid {
		a.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return a, nil
}

func execOne(ctx context.Context, db *sql.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
