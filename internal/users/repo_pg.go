package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = `id, email, name, picture_url, provider, created_at, updated_at, last_login_at`

// PGRepo stores accounts in the users table.
type PGRepo struct {
	DB *sql.DB
}

// Upsert merges a login into the stored row. NULL name or picture keeps the
// previous value, matching User.signIn.
func (r *PGRepo) Upsert(ctx context.Context, fresh User) (User, error) {
	const query = `
INSERT INTO users (id, email, name, picture_url, provider, created_at, updated_at, last_login_at)
VALUES ($1, $2, $3, $4, $5, now(), now(), now())
ON CONFLICT (id) DO UPDATE SET
  email = EXCLUDED.email,
  name = COALESCE(EXCLUDED.name, users.name),
  picture_url = COALESCE(EXCLUDED.picture_url, users.picture_url),
  updated_at = now(),
  last_login_at = now()
RETURNING ` + userColumns
	row := r.DB.QueryRowContext(ctx, query,
		fresh.ID,
		fresh.Email,
		nullIfEmpty(fresh.FullName),
		nullIfEmpty(fresh.PictureURL),
		fresh.Provider,
	)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("upsert user %s: %w", fresh.ID, err)
	}
	return u, nil
}

func (r *PGRepo) GetByID(ctx context.Context, userID string) (User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u         User
		name, pic sql.NullString
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &name, &pic, &u.Provider, &u.CreatedAt, &u.UpdatedAt, &lastLogin); err != nil {
		return User{}, err
	}
	u.FullName = name.String
	u.PictureURL = pic.String
	if lastLogin.Valid {
		u.LastLoginAt = lastLogin.Time
	}
	return u, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
