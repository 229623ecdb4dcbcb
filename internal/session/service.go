package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"studyguide-backend/internal/history"
	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/shared/metrics"
	"studyguide-backend/internal/shared/telemetry"
	"studyguide-backend/internal/studyguide"
)

// ErrEmptyReply is returned when the tutor stream ends without text.
var ErrEmptyReply = errors.New("tutor returned an empty reply")

// Service applies session transitions and persists the result. Archive is
// optional; without it history lives only in the session.
type Service struct {
	Store   Store
	Archive history.Repo
	LLM     llm.Streamer
	Now     func() time.Time

	locks ownerLocks
}

func NewService(store Store, archive history.Repo, streamer llm.Streamer) *Service {
	return &Service{Store: store, Archive: archive, LLM: streamer}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the owner's session, creating one hydrated from the archive.
func (s *Service) Get(ctx context.Context, ownerID string) (studyguide.Session, error) {
	unlock := s.locks.lock(ownerID)
	defer unlock()
	return s.load(ctx, ownerID)
}

func (s *Service) load(ctx context.Context, ownerID string) (studyguide.Session, error) {
	sess, ok, err := s.Store.Load(ctx, ownerID)
	if err != nil {
		return studyguide.Session{}, err
	}
	if ok {
		return sess, nil
	}
	return s.fresh(ctx, ownerID)
}

// fresh builds a new session with history hydrated from the archive.
func (s *Service) fresh(ctx context.Context, ownerID string) (studyguide.Session, error) {
	sess := studyguide.NewSession()
	if s.Archive != nil {
		entries, err := s.Archive.List(ctx, ownerID, 0)
		if err != nil {
			return studyguide.Session{}, fmt.Errorf("hydrate history: %w", err)
		}
		sess.History = entries
	}
	return sess, nil
}

// update runs one transition and saves the outcome through Store.Update, so
// writers in other processes cannot interleave. A rejected transition is not
// saved. fn may be retried and must only read from the archive.
func (s *Service) update(ctx context.Context, ownerID string, fn func(studyguide.Session) (studyguide.Session, error)) (studyguide.Session, error) {
	unlock := s.locks.lock(ownerID)
	defer unlock()
	return s.Store.Update(ctx, ownerID, func(sess studyguide.Session, ok bool) (studyguide.Session, error) {
		if !ok {
			var err error
			if sess, err = s.fresh(ctx, ownerID); err != nil {
				return sess, err
			}
		}
		return fn(sess)
	})
}

// RefreshHistory reloads the owner's history list from the archive, used
// after entries were moved in from another owner.
func (s *Service) RefreshHistory(ctx context.Context, ownerID string) error {
	if s.Archive == nil {
		return nil
	}
	_, err := s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		entries, err := s.Archive.List(ctx, ownerID, 0)
		if err != nil {
			return sess, fmt.Errorf("refresh history: %w", err)
		}
		sess.History = entries
		return sess, nil
	})
	return err
}

func (s *Service) StartAnalysis(ctx context.Context, ownerID, analysisID string) error {
	_, err := s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		return sess.StartAnalysis(analysisID)
	})
	return err
}

// ChunkReceived shows a newer snapshot. studyguide.ErrStaleStream means the
// owner has moved on and the producer should stop.
func (s *Service) ChunkReceived(ctx context.Context, ownerID, analysisID string, snapshot studyguide.AnalysisResult) error {
	_, err := s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		return sess.ChunkReceived(analysisID, snapshot)
	})
	return err
}

// CompleteAnalysis archives the final result and makes it the displayed one.
// The history entry shares the analysis ID.
func (s *Service) CompleteAnalysis(ctx context.Context, ownerID, analysisID string, final studyguide.AnalysisResult) (studyguide.HistoryEntry, error) {
	entry := studyguide.HistoryEntry{
		ID:             analysisID,
		Title:          final.Title(),
		Date:           s.now().UnixMilli(),
		AnalysisResult: final.Normalize(),
	}
	_, err := s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		return sess.StreamComplete(analysisID, entry)
	})
	if err != nil {
		return studyguide.HistoryEntry{}, err
	}
	if s.Archive != nil {
		if err := s.Archive.Save(ctx, ownerID, entry); err != nil {
			telemetry.Error("history.save_failed", map[string]any{
				"user_id":     ownerID,
				"analysis_id": analysisID,
				"error":       err.Error(),
			})
		}
	}
	return entry, nil
}

func (s *Service) FailAnalysis(ctx context.Context, ownerID, analysisID string) error {
	_, err := s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		return sess.StreamFailed(analysisID)
	})
	return err
}

// Reset starts a fresh session and abandons any in-flight stream.
func (s *Service) Reset(ctx context.Context, ownerID string) (studyguide.Session, error) {
	return s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		return sess.Reset(), nil
	})
}

// Restore displays an archived result, pulling it from the archive when the
// session has not seen it.
func (s *Service) Restore(ctx context.Context, ownerID, entryID string) (studyguide.Session, error) {
	return s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		next, err := sess.RestoreFromHistory(entryID)
		if !errors.Is(err, studyguide.ErrEntryNotFound) || s.Archive == nil {
			return next, err
		}
		entry, archErr := s.Archive.Get(ctx, ownerID, entryID)
		if errors.Is(archErr, history.ErrNotFound) {
			return sess, studyguide.ErrEntryNotFound
		}
		if archErr != nil {
			return sess, archErr
		}
		sess.History = append(append([]studyguide.HistoryEntry{}, sess.History...), entry)
		return sess.RestoreFromHistory(entryID)
	})
}

// DeleteHistory removes an entry from the archive and the session.
func (s *Service) DeleteHistory(ctx context.Context, ownerID, entryID string) (studyguide.Session, error) {
	archived := false
	if s.Archive != nil {
		err := s.Archive.Delete(ctx, ownerID, entryID)
		switch {
		case err == nil:
			archived = true
		case !errors.Is(err, history.ErrNotFound):
			return studyguide.Session{}, err
		}
	}
	return s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		next, err := sess.DeleteHistoryEntry(entryID)
		if errors.Is(err, studyguide.ErrEntryNotFound) && archived {
			return sess, nil
		}
		return next, err
	})
}

// History lists archived study guides, newest first.
func (s *Service) History(ctx context.Context, ownerID string) ([]studyguide.HistoryEntry, error) {
	sess, err := s.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return sess.History, nil
}

func (s *Service) GetEntry(ctx context.Context, ownerID, entryID string) (studyguide.HistoryEntry, error) {
	sess, err := s.Get(ctx, ownerID)
	if err != nil {
		return studyguide.HistoryEntry{}, err
	}
	for _, e := range sess.History {
		if e.ID == entryID {
			return e, nil
		}
	}
	if s.Archive == nil {
		return studyguide.HistoryEntry{}, studyguide.ErrEntryNotFound
	}
	entry, err := s.Archive.Get(ctx, ownerID, entryID)
	if errors.Is(err, history.ErrNotFound) {
		return studyguide.HistoryEntry{}, studyguide.ErrEntryNotFound
	}
	return entry, err
}

// Chat asks the tutor about the displayed study guide. Each delta is applied
// to the session before onDelta sees it. The finished reply is returned.
func (s *Service) Chat(ctx context.Context, ownerID, question string, onDelta func(delta string)) (studyguide.ChatMessage, error) {
	question = strings.TrimSpace(question)
	started, err := s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		return sess.ChatStarted(question)
	})
	if err != nil {
		return studyguide.ChatMessage{}, err
	}

	transcript := started.Transcript()
	req := llm.ChatRequest{
		Guide:    *started.Result,
		History:  transcript[:len(transcript)-1],
		Question: question,
	}

	reply, err := s.streamChat(ctx, ownerID, req, onDelta)
	if err != nil {
		if !errors.Is(err, studyguide.ErrNoChatInFlight) {
			metrics.IncChatFailed()
			telemetry.Error("chat.failed", map[string]any{"user_id": ownerID, "error": err.Error()})
			if _, ferr := s.update(context.WithoutCancel(ctx), ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
				return sess.ChatFailed()
			}); ferr != nil && !errors.Is(ferr, studyguide.ErrNoChatInFlight) {
				telemetry.Error("chat.fail_update_failed", map[string]any{"user_id": ownerID, "error": ferr.Error()})
			}
		}
		return studyguide.ChatMessage{}, err
	}

	if _, err := s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
		return sess.ChatComplete()
	}); err != nil {
		return studyguide.ChatMessage{}, err
	}
	metrics.IncChatTurn()
	telemetry.Info("chat.completed", map[string]any{"user_id": ownerID, "reply_chars": len(reply)})
	return studyguide.ChatMessage{Role: studyguide.RoleAssistant, Content: reply}, nil
}

func (s *Service) streamChat(ctx context.Context, ownerID string, req llm.ChatRequest, onDelta func(string)) (string, error) {
	if s.LLM == nil {
		return "", llm.ErrNotImplemented
	}
	stream, err := s.LLM.StreamChat(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		delta, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if delta == "" {
			continue
		}
		// ErrNoChatInFlight here means the session was reset mid-reply.
		if _, err := s.update(ctx, ownerID, func(sess studyguide.Session) (studyguide.Session, error) {
			return sess.ChatChunkReceived(delta)
		}); err != nil {
			return "", err
		}
		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if reply.Len() == 0 {
		return "", ErrEmptyReply
	}
	return reply.String(), nil
}
