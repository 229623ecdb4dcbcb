package analyses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"studyguide-backend/internal/documents"
	"studyguide-backend/internal/extract"
	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/queue"
	"studyguide-backend/internal/session"
	"studyguide-backend/internal/shared/broker"
	"studyguide-backend/internal/shared/metrics"
	"studyguide-backend/internal/shared/telemetry"
	"studyguide-backend/internal/studyguide"
	"studyguide-backend/internal/usage"
)

// Event types published on an analysis topic.
const (
	EventStatus   = "status"
	EventSnapshot = "snapshot"
	EventComplete = "complete"
	EventFailed   = "failed"
	EventCanceled = "canceled"
)

const defaultSnapshotInterval = 500 * time.Millisecond

// DocumentLoader resolves the documents an analysis runs over.
type DocumentLoader interface {
	LoadOwned(ctx context.Context, userID string, documentIDs []string) ([]documents.Document, error)
}

// PageLoader turns documents into model inputs.
type PageLoader interface {
	Pages(ctx context.Context, docs []documents.Document) ([]llm.Page, error)
}

// Service contains business logic for analyses.
type Service struct {
	Repo     Repo
	Usage    *usage.Service
	Docs     DocumentLoader
	Pages    PageLoader
	LLM      llm.Streamer
	Sessions *session.Service
	Broker   broker.Broker
	// JobQueue hands processing to the worker. Without it analyses run in-process.
	JobQueue queue.Client
	Provider string
	Model    string
	// SnapshotInterval throttles partial-result writes to the repo. Events
	// and the session still see every snapshot.
	SnapshotInterval time.Duration
	Now              func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create records a new analysis, makes it the session's active stream and
// dispatches it.
func (s *Service) Create(ctx context.Context, userID string, documentIDs []string, title string) (Analysis, error) {
	if userID == "" {
		return Analysis{}, errors.New("userID is required")
	}

	if s.Usage != nil {
		ok, _, err := s.Usage.CanConsume(ctx, userID, 1)
		if err != nil {
			return Analysis{}, err
		}
		if !ok {
			return Analysis{}, usage.ErrLimitReached
		}
	}

	docs, err := s.Docs.LoadOwned(ctx, userID, documentIDs)
	if err != nil {
		return Analysis{}, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = docs[0].FileName
	}

	now := s.now()
	analysis := Analysis{
		ID:          uuid.NewString(),
		UserID:      userID,
		DocumentIDs: ids,
		Title:       title,
		Status:      StatusQueued,
		Provider:    normalizeProvider(s.Provider),
		Model:       s.Model,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if s.Sessions != nil {
		if err := s.Sessions.StartAnalysis(ctx, userID, analysis.ID); err != nil {
			return Analysis{}, err
		}
	}

	if err := s.Repo.Create(ctx, analysis); err != nil {
		s.abandonSession(ctx, analysis)
		return Analysis{}, err
	}

	if s.Usage != nil {
		if _, err := s.Usage.Consume(ctx, userID, 1); err != nil {
			s.failAnalysis(ctx, analysis, 0, fmt.Errorf("usage consume: %w", err), nil)
			return Analysis{}, err
		}
	}

	telemetry.Info("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           userID,
		"analysis_id":       analysis.ID,
		"document_count":    len(ids),
		"status":            StatusQueued,
		"status_transition": "none->queued",
	})

	if err := s.dispatch(ctx, analysis); err != nil {
		s.failAnalysis(ctx, analysis, 0, fmt.Errorf("enqueue: %w", err), nil)
		return Analysis{}, err
	}
	return analysis, nil
}

func (s *Service) dispatch(ctx context.Context, analysis Analysis) error {
	if s.JobQueue == nil {
		go s.processAsync(detached(ctx), analysis.ID)
		return nil
	}
	return s.JobQueue.Send(ctx, queue.NewMessage(analysis.ID, RequestIDFromContext(ctx), s.now()))
}

func (s *Service) processAsync(ctx context.Context, analysisID string) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("analysis.panic", map[string]any{
				"analysis_id": analysisID,
				"panic":       fmt.Sprint(r),
			})
			if a, err := s.Repo.GetByID(ctx, analysisID); err == nil && !a.Terminal() {
				s.failAnalysis(ctx, a, a.Fragments, fmt.Errorf("panic: %v", r), nil)
			}
		}
	}()
	_ = s.ProcessAnalysis(ctx, analysisID)
}

// ProcessAnalysis streams the study guide for a queued analysis. Every
// fragment produces a snapshot that is shown in the owner's session and
// published to subscribers. A terminal analysis is left untouched, so a
// redelivered job is harmless.
func (s *Service) ProcessAnalysis(ctx context.Context, analysisID string) error {
	analysis, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		return err
	}
	if analysis.Terminal() {
		return nil
	}

	startedAt := s.now()
	if err := s.Repo.UpdateStatus(ctx, analysisID, StatusProcessing, startedAt); err != nil {
		s.failAnalysis(ctx, analysis, 0, fmt.Errorf("set processing failed: %w", err), &startedAt)
		return err
	}
	analysis.Status = StatusProcessing
	metrics.IncAnalysisStarted()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           analysis.UserID,
		"analysis_id":       analysis.ID,
		"status":            StatusProcessing,
		"status_transition": "queued->processing",
	})
	s.publish(ctx, analysis.ID, EventStatus, statusPayload{AnalysisID: analysis.ID, Status: StatusProcessing})

	if s.Docs == nil || s.Pages == nil || s.LLM == nil {
		err := errors.New("missing analysis dependencies")
		s.failAnalysis(ctx, analysis, 0, err, &startedAt)
		return err
	}

	docs, err := s.Docs.LoadOwned(ctx, analysis.UserID, analysis.DocumentIDs)
	if err != nil {
		err = fmt.Errorf("document lookup: %w", err)
		s.failAnalysis(ctx, analysis, 0, err, &startedAt)
		return err
	}
	pages, err := s.Pages.Pages(ctx, docs)
	if err != nil {
		s.failAnalysis(ctx, analysis, 0, err, &startedAt)
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := openAnalysisStream(streamCtx, s.LLM, llm.AnalysisRequest{Title: analysis.Title, Pages: pages}, analysis.ID)
	if err != nil {
		err = fmt.Errorf("llm open: %w", err)
		s.failAnalysis(ctx, analysis, 0, err, &startedAt)
		return err
	}
	defer stream.Close()

	var (
		fragments   int
		abandoned   bool
		lastPersist time.Time
	)
	interval := s.SnapshotInterval
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}
	final, err := studyguide.Consume(streamCtx, stream, func(snapshot studyguide.AnalysisResult, n int) {
		fragments = n
		if n == 1 {
			metrics.ObserveFirstFragmentMs(durationMs(&startedAt, ptr(s.now())))
		}
		if s.Sessions != nil {
			err := s.Sessions.ChunkReceived(streamCtx, analysis.UserID, analysis.ID, snapshot)
			if errors.Is(err, studyguide.ErrStaleStream) {
				abandoned = true
				cancel()
				return
			}
			if err != nil {
				telemetry.Warn("session.update_failed", map[string]any{
					"analysis_id": analysis.ID,
					"error":       sanitizeError(err),
				})
			}
		}
		s.publish(ctx, analysis.ID, EventSnapshot, snapshotPayload{AnalysisID: analysis.ID, Fragments: n, Result: snapshot})
		if now := s.now(); now.Sub(lastPersist) >= interval {
			lastPersist = now
			if err := s.Repo.UpdateSnapshot(ctx, analysis.ID, snapshot, n); err != nil {
				telemetry.Warn("analysis.snapshot_failed", map[string]any{
					"analysis_id": analysis.ID,
					"error":       sanitizeError(err),
				})
			}
		}
	})
	metrics.AddStreamFragments(fragments)

	if abandoned && errors.Is(err, context.Canceled) {
		s.cancelAnalysis(ctx, analysis, fragments, &startedAt)
		return nil
	}
	if err != nil {
		err = fmt.Errorf("llm stream: %w", err)
		s.failAnalysis(ctx, analysis, fragments, err, &startedAt)
		return err
	}

	completedAt := s.now()
	if err := s.Repo.Complete(ctx, analysis.ID, final, fragments, completedAt); err != nil {
		err = fmt.Errorf("set analysis result failed: %w", err)
		s.failAnalysis(ctx, analysis, fragments, err, &startedAt)
		return err
	}

	historyID := ""
	if s.Sessions != nil {
		entry, err := s.Sessions.CompleteAnalysis(ctx, analysis.UserID, analysis.ID, final)
		switch {
		case err == nil:
			historyID = entry.ID
			if err := s.Repo.SetHistoryID(ctx, analysis.ID, historyID); err != nil {
				telemetry.Warn("analysis.history_link_failed", map[string]any{
					"analysis_id": analysis.ID,
					"error":       sanitizeError(err),
				})
			}
		case errors.Is(err, studyguide.ErrStaleStream):
			// reset after the last fragment; the result stays on the analysis only
			telemetry.Info("analysis.stale_completion", map[string]any{"analysis_id": analysis.ID})
		default:
			telemetry.Error("session.complete_failed", map[string]any{
				"analysis_id": analysis.ID,
				"error":       sanitizeError(err),
			})
		}
	}

	s.publish(ctx, analysis.ID, EventComplete, completePayload{
		AnalysisID: analysis.ID,
		HistoryID:  historyID,
		Fragments:  fragments,
		Result:     final,
	})
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(durationMs(&startedAt, &completedAt))
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           analysis.UserID,
		"analysis_id":       analysis.ID,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"fragments":         fragments,
		"duration_ms":       durationMs(&startedAt, &completedAt),
	})
	return nil
}

// Get returns an analysis owned by userID.
func (s *Service) Get(ctx context.Context, userID, analysisID string) (Analysis, error) {
	if analysisID == "" {
		return Analysis{}, errors.New("analysisID is required")
	}
	analysis, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	if analysis.UserID != userID {
		return Analysis{}, ErrForbidden
	}
	return analysis, nil
}

// List returns analyses for a user ordered newest-first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// Subscribe opens the live event feed of one analysis.
func (s *Service) Subscribe(ctx context.Context, analysisID string) (<-chan broker.Event, func(), error) {
	if s.Broker == nil {
		return nil, nil, errors.New("event broker not configured")
	}
	return s.Broker.Subscribe(ctx, topic(analysisID))
}

// TerminalEvent describes a finished analysis the way the live feed would have.
// historyId is only present when the result made it into history.
func TerminalEvent(a Analysis) (broker.Event, error) {
	switch a.Status {
	case StatusCompleted:
		result := studyguide.NewAnalysisResult()
		if a.Result != nil {
			result = *a.Result
		}
		return broker.NewEvent(EventComplete, completePayload{
			AnalysisID: a.ID,
			HistoryID:  a.HistoryID,
			Fragments:  a.Fragments,
			Result:     result,
		})
	case StatusCanceled:
		return broker.NewEvent(EventCanceled, statusPayload{AnalysisID: a.ID, Status: StatusCanceled})
	default:
		return broker.NewEvent(EventFailed, failedPayload{
			AnalysisID: a.ID,
			Code:       a.ErrorCode,
			Message:    studyguide.AnalysisFailedNotice,
			Retryable:  a.ErrorRetryable,
		})
	}
}

// IsTerminalEvent reports whether no further events follow ev.
func IsTerminalEvent(eventType string) bool {
	switch eventType {
	case EventComplete, EventFailed, EventCanceled:
		return true
	}
	return false
}

type statusPayload struct {
	AnalysisID string `json:"analysisId"`
	Status     string `json:"status"`
}

type snapshotPayload struct {
	AnalysisID string                    `json:"analysisId"`
	Fragments  int                       `json:"fragments"`
	Result     studyguide.AnalysisResult `json:"result"`
}

type completePayload struct {
	AnalysisID string                    `json:"analysisId"`
	HistoryID  string                    `json:"historyId,omitempty"`
	Fragments  int                       `json:"fragments"`
	Result     studyguide.AnalysisResult `json:"result"`
}

type failedPayload struct {
	AnalysisID string `json:"analysisId"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func topic(analysisID string) string {
	return "analysis:" + analysisID
}

func (s *Service) publish(ctx context.Context, analysisID, eventType string, payload any) {
	if s.Broker == nil {
		return
	}
	ev, err := broker.NewEvent(eventType, payload)
	if err == nil {
		err = s.Broker.Publish(context.WithoutCancel(ctx), topic(analysisID), ev)
	}
	if err != nil {
		telemetry.Warn("analysis.publish_failed", map[string]any{
			"analysis_id": analysisID,
			"event":       eventType,
			"error":       sanitizeError(err),
		})
	}
}

func (s *Service) abandonSession(ctx context.Context, analysis Analysis) {
	if s.Sessions == nil {
		return
	}
	err := s.Sessions.FailAnalysis(context.WithoutCancel(ctx), analysis.UserID, analysis.ID)
	if err != nil && !errors.Is(err, studyguide.ErrStaleStream) {
		telemetry.Warn("session.update_failed", map[string]any{
			"analysis_id": analysis.ID,
			"error":       sanitizeError(err),
		})
	}
}

func (s *Service) failAnalysis(ctx context.Context, analysis Analysis, fragments int, err error, startedAt *time.Time) {
	code, retryable := classifyFailure(err)
	msg := sanitizeError(err)
	completedAt := s.now()
	writeCtx := context.WithoutCancel(ctx)
	if updateErr := s.Repo.Fail(writeCtx, analysis.ID, Failure{
		Status:      StatusFailed,
		Code:        code,
		Message:     msg,
		Retryable:   retryable,
		Fragments:   fragments,
		CompletedAt: completedAt,
	}); updateErr != nil {
		telemetry.Error("analysis.fail_update_failed", map[string]any{
			"analysis_id": analysis.ID,
			"error":       sanitizeError(updateErr),
			"cause":       msg,
		})
	}
	s.abandonSession(ctx, analysis)
	s.publish(ctx, analysis.ID, EventFailed, failedPayload{
		AnalysisID: analysis.ID,
		Code:       code,
		Message:    studyguide.AnalysisFailedNotice,
		Retryable:  retryable,
	})
	metrics.IncAnalysisFailed()
	if startedAt != nil {
		metrics.ObserveAnalysisDurationMs(durationMs(startedAt, &completedAt))
	}
	telemetry.Error("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           analysis.UserID,
		"analysis_id":       analysis.ID,
		"status":            StatusFailed,
		"status_transition": analysis.Status + "->failed",
		"error_code":        code,
		"error":             msg,
		"duration_ms":       durationMs(startedAt, &completedAt),
	})
}

func (s *Service) cancelAnalysis(ctx context.Context, analysis Analysis, fragments int, startedAt *time.Time) {
	completedAt := s.now()
	if err := s.Repo.Fail(context.WithoutCancel(ctx), analysis.ID, Failure{
		Status:      StatusCanceled,
		Fragments:   fragments,
		CompletedAt: completedAt,
	}); err != nil {
		telemetry.Error("analysis.fail_update_failed", map[string]any{
			"analysis_id": analysis.ID,
			"error":       sanitizeError(err),
		})
	}
	s.publish(ctx, analysis.ID, EventCanceled, statusPayload{AnalysisID: analysis.ID, Status: StatusCanceled})
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           analysis.UserID,
		"analysis_id":       analysis.ID,
		"status":            StatusCanceled,
		"status_transition": "processing->canceled",
		"fragments":         fragments,
		"duration_ms":       durationMs(startedAt, &completedAt),
	})
}

func normalizeProvider(provider string) string {
	if strings.TrimSpace(provider) == "" {
		return "openai"
	}
	return provider
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func ptr[T any](v T) *T { return &v }

func classifyFailure(err error) (string, bool) {
	if err == nil {
		return ErrorCodeInternal, false
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeLLMTimeout, true
	case errors.Is(err, studyguide.ErrEmptyStream):
		return ErrorCodeStreamEmpty, true
	case errors.Is(err, extract.ErrExtractionFailed):
		return ErrorCodeExtraction, false
	case errors.Is(err, documents.ErrNotFound), errors.Is(err, documents.ErrInvalidInput):
		return ErrorCodeStorage, false
	case errors.Is(err, llm.ErrNotImplemented):
		return ErrorCodeLLMUnavailable, false
	}
	msg := strings.ToLower(err.Error())
	if isRateLimited(msg) {
		return ErrorCodeLLMRateLimit, true
	}
	if strings.Contains(msg, "timeout") && strings.Contains(msg, "llm") {
		return ErrorCodeLLMTimeout, true
	}
	if strings.Contains(msg, "llm") && shouldRetryLLM(err) {
		return ErrorCodeLLMUnavailable, true
	}
	if strings.Contains(msg, "storage") || strings.Contains(msg, "analysis result") || strings.Contains(msg, "set processing") {
		return ErrorCodeStorage, true
	}
	return ErrorCodeInternal, false
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
