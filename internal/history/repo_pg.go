package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"studyguide-backend/internal/studyguide"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Save(ctx context.Context, ownerID string, entry studyguide.HistoryEntry) error {
	const query = `
INSERT INTO history_entries (id, owner_id, title, date_ms, result)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (owner_id, id) DO NOTHING`
	payload, err := json.Marshal(entry.AnalysisResult.Normalize())
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query, entry.ID, ownerID, entry.Title, entry.Date, payload)
	return err
}

func (r *PGRepo) List(ctx context.Context, ownerID string, limit int) ([]studyguide.HistoryEntry, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	const query = `
SELECT id, title, date_ms, result
FROM history_entries
WHERE owner_id = $1 AND deleted_at IS NULL
ORDER BY date_ms DESC, id DESC
LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []studyguide.HistoryEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *PGRepo) Get(ctx context.Context, ownerID, entryID string) (studyguide.HistoryEntry, error) {
	const query = `
SELECT id, title, date_ms, result
FROM history_entries
WHERE owner_id = $1 AND id = $2 AND deleted_at IS NULL`
	entry, err := scanEntry(r.DB.QueryRowContext(ctx, query, ownerID, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return studyguide.HistoryEntry{}, ErrNotFound
	}
	return entry, err
}

func (r *PGRepo) Delete(ctx context.Context, ownerID, entryID string) error {
	const query = `
UPDATE history_entries
SET deleted_at = NOW()
WHERE owner_id = $1 AND id = $2 AND deleted_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, ownerID, entryID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) ClaimGuest(ctx context.Context, guestID, ownerID string) (int, error) {
	const query = `
UPDATE history_entries h
SET owner_id = $1
WHERE h.owner_id = $2 AND h.deleted_at IS NULL
  AND NOT EXISTS (SELECT 1 FROM history_entries u WHERE u.owner_id = $1 AND u.id = h.id)`
	res, err := r.DB.ExecContext(ctx, query, ownerID, guestID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (studyguide.HistoryEntry, error) {
	var entry studyguide.HistoryEntry
	var title sql.NullString
	var raw []byte
	if err := row.Scan(&entry.ID, &title, &entry.Date, &raw); err != nil {
		return studyguide.HistoryEntry{}, err
	}
	entry.Title = title.String
	result := studyguide.NewAnalysisResult()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return studyguide.HistoryEntry{}, err
		}
	}
	entry.AnalysisResult = result.Normalize()
	return entry, nil
}

var _ Repo = (*PGRepo)(nil)
