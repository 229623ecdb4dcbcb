package users

import (
	"strings"
	"time"
)

const ProviderGoogle = "google"

// guestPrefix mirrors the owner-id namespace minted by the auth middleware.
const guestPrefix = "guest:"

// User is a signed-in account. Guests never get a row.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"fullName"`
	PictureURL string    `json:"pictureUrl"`
	Provider   string    `json:"provider"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	// LastLoginAt is zero for rows written before logins were tracked.
	LastLoginAt time.Time `json:"lastLoginAt,omitempty"`
}

// IsGuestID reports whether id belongs to an anonymous owner.
func IsGuestID(id string) bool {
	return strings.HasPrefix(id, guestPrefix)
}

func (u User) normalized() User {
	u.ID = strings.TrimSpace(u.ID)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.FullName = strings.TrimSpace(u.FullName)
	u.PictureURL = strings.TrimSpace(u.PictureURL)
	if u.Provider == "" {
		u.Provider = ProviderGoogle
	}
	return u
}

// signIn applies a fresh login to a stored account. Email follows the
// provider; name and picture survive logins that omit them; provider and
// creation time never change.
func (u User) signIn(fresh User, now time.Time) User {
	u.Email = fresh.Email
	if fresh.FullName != "" {
		u.FullName = fresh.FullName
	}
	if fresh.PictureURL != "" {
		u.PictureURL = fresh.PictureURL
	}
	u.UpdatedAt = now
	u.LastLoginAt = now
	return u
}
