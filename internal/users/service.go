package users

import (
	"context"
	"errors"
	"strings"

	"studyguide-backend/internal/shared/telemetry"
)

var (
	ErrNotConfigured  = errors.New("users service not configured")
	ErrInvalidUser    = errors.New("user id and email are required")
	ErrGuestNotStored = errors.New("guests are not persisted")
)

type Service struct {
	Repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// UpsertFromAuth records the identity from a completed OAuth login and
// returns the stored account. Emails are stored lowercased and the provider
// defaults to google.
func (s *Service) UpsertFromAuth(ctx context.Context, user User) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, ErrNotConfigured
	}
	user = user.normalized()
	if user.ID == "" || user.Email == "" {
		return User{}, ErrInvalidUser
	}
	if IsGuestID(user.ID) {
		return User{}, ErrGuestNotStored
	}
	stored, err := s.Repo.Upsert(ctx, user)
	if err != nil {
		telemetry.Error("users.upsert_failed", map[string]any{
			"user_id":  user.ID,
			"provider": user.Provider,
			"error":    err.Error(),
		})
		return User{}, err
	}
	return stored, nil
}

func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, ErrNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrInvalidUser
	}
	if IsGuestID(userID) {
		return User{}, ErrNotFound
	}
	return s.Repo.GetByID(ctx, userID)
}
