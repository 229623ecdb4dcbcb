package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGStore keeps quotas in the usage table. Every operation runs in its own
// transaction and locks the caller's row, so concurrent analyses from one
// user cannot overspend.
type PGStore struct {
	DB    *sql.DB
	limit int
	now   func() time.Time
}

// NewPGStore builds a store. limit seeds rows created from now on.
func NewPGStore(db *sql.DB, limit int) *PGStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &PGStore{DB: db, limit: limit, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PGStore) Get(ctx context.Context, userID string) (Usage, error) {
	return s.EnsurePeriod(ctx, userID)
}

func (s *PGStore) EnsurePeriod(ctx context.Context, userID string) (u Usage, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		u, err = s.load(ctx, tx, userID)
		return err
	})
	return u, err
}

func (s *PGStore) Consume(ctx context.Context, userID string, n int) (u Usage, err error) {
	if n <= 0 {
		return s.EnsurePeriod(ctx, userID)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if u, err = s.load(ctx, tx, userID); err != nil {
			return err
		}
		if !u.fits(n) {
			return ErrLimitReached
		}
		u.Used += n
		_, err := tx.ExecContext(ctx, `
UPDATE usage SET used = $1 WHERE user_id = $2`, u.Used, userID)
		return err
	})
	if err != nil {
		return Usage{}, err
	}
	return u, nil
}

// Reset zeroes usage and starts a new window, keeping any custom limit.
func (s *PGStore) Reset(ctx context.Context, userID string) (u Usage, err error) {
	u = newUsage(s.limit, s.now())
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
INSERT INTO usage (user_id, plan, limit_amount, used, resets_at)
VALUES ($1, $2, $3, 0, $4)
ON CONFLICT (user_id) DO UPDATE SET used = 0, resets_at = EXCLUDED.resets_at
RETURNING limit_amount`, userID, u.Plan, u.Limit, u.ResetsAt).Scan(&u.Limit)
	})
	if err != nil {
		return Usage{}, err
	}
	return u, nil
}

func (s *PGStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// load locks the caller's row, creating it or rolling its window as needed.
func (s *PGStore) load(ctx context.Context, tx *sql.Tx, userID string) (Usage, error) {
	now := s.now()
	var u Usage
	err := tx.QueryRowContext(ctx, `
SELECT plan, limit_amount, used, resets_at FROM usage WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&u.Plan, &u.Limit, &u.Used, &u.ResetsAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		u = newUsage(s.limit, now)
		_, err = tx.ExecContext(ctx, `
INSERT INTO usage (user_id, plan, limit_amount, used, resets_at) VALUES ($1, $2, $3, $4, $5)`,
			userID, u.Plan, u.Limit, u.Used, u.ResetsAt)
		return u, err
	case err != nil:
		return Usage{}, err
	}

	if u.rolled(now) {
		if _, err := tx.ExecContext(ctx, `UPDATE usage SET used = $1, resets_at = $2 WHERE user_id = $3`, u.Used, u.ResetsAt, userID); err != nil {
			return Usage{}, err
		}
	}
	return u, nil
}
