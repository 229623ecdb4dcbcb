package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studyguide-backend/internal/history"
	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/studyguide"
)

func newTestService(streamer llm.Streamer) (*Service, *history.MemoryRepo) {
	archive := history.NewMemoryRepo()
	svc := NewService(NewMemoryStore(), archive, streamer)
	svc.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	return svc, archive
}

func completeAnalysis(t *testing.T, svc *Service, owner, id string) studyguide.HistoryEntry {
	t.Helper()
	ctx := context.Background()
	if err := svc.StartAnalysis(ctx, owner, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	final := studyguide.Reconstruct(llm.SampleAnalysis)
	entry, err := svc.CompleteAnalysis(ctx, owner, id, final)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	return entry
}

func TestServiceCompleteArchivesEntry(t *testing.T) {
	svc, archive := newTestService(llm.FakeStreamer{})
	ctx := context.Background()
	entry := completeAnalysis(t, svc, "u1", "an_1")

	if entry.ID != "an_1" || entry.Date != 1700000000000 || entry.Title != "Linear equations" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	archived, err := archive.Get(ctx, "u1", "an_1")
	if err != nil {
		t.Fatalf("archive get: %v", err)
	}
	if len(archived.AnalysisResult.Questions) != 2 {
		t.Fatalf("expected archived questions, got %#v", archived.AnalysisResult)
	}
	s, _ := svc.Get(ctx, "u1")
	if s.Phase != studyguide.PhaseComplete || len(s.History) != 1 {
		t.Fatalf("unexpected session %#v", s)
	}
}

func TestServiceStaleChunkAfterReset(t *testing.T) {
	svc, archive := newTestService(llm.FakeStreamer{})
	ctx := context.Background()
	if err := svc.StartAnalysis(ctx, "u1", "an_1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Reset(ctx, "u1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	err := svc.ChunkReceived(ctx, "u1", "an_1", studyguide.NewAnalysisResult())
	if !errors.Is(err, studyguide.ErrStaleStream) {
		t.Fatalf("expected stale stream, got %v", err)
	}
	if _, err := svc.CompleteAnalysis(ctx, "u1", "an_1", studyguide.NewAnalysisResult()); !errors.Is(err, studyguide.ErrStaleStream) {
		t.Fatalf("expected stale completion, got %v", err)
	}
	if _, err := archive.Get(ctx, "u1", "an_1"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("abandoned analysis must not be archived, got %v", err)
	}
}

func TestServiceHydratesHistoryFromArchive(t *testing.T) {
	svc, archive := newTestService(llm.FakeStreamer{})
	ctx := context.Background()
	_ = archive.Save(ctx, "u1", studyguide.HistoryEntry{ID: "old", Title: "Old", Date: 1, AnalysisResult: studyguide.NewAnalysisResult()})

	entries, err := svc.History(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "old" {
		t.Fatalf("expected archived entry, got %#v", entries)
	}
	s, err := svc.Restore(ctx, "u1", "old")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if s.DisplayedID != "old" || s.Result == nil {
		t.Fatalf("unexpected restored session %#v", s)
	}
}

func TestServiceDeleteHistory(t *testing.T) {
	svc, archive := newTestService(llm.FakeStreamer{})
	ctx := context.Background()
	completeAnalysis(t, svc, "u1", "an_1")

	s, err := svc.DeleteHistory(ctx, "u1", "an_1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(s.History) != 0 || s.Result != nil {
		t.Fatalf("expected cleared view, got %#v", s)
	}
	if _, err := archive.Get(ctx, "u1", "an_1"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected archive delete, got %v", err)
	}
	if _, err := svc.DeleteHistory(ctx, "u1", "an_1"); !errors.Is(err, studyguide.ErrEntryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceChatStreamsDeltas(t *testing.T) {
	svc, _ := newTestService(llm.FakeStreamer{Chat: "Because 2x = 8.", ChunkSize: 4})
	ctx := context.Background()
	completeAnalysis(t, svc, "u1", "an_1")

	var deltas []string
	reply, err := svc.Chat(ctx, "u1", "  why is x 4? ", func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply.Content != "Because 2x = 8." || len(deltas) < 2 {
		t.Fatalf("unexpected reply %q with deltas %v", reply.Content, deltas)
	}
	s, _ := svc.Get(ctx, "u1")
	if s.ChatStreaming || len(s.Chat) != 2 || s.Chat[0].Content != "why is x 4?" || s.Chat[1].Content != reply.Content {
		t.Fatalf("unexpected chat state %#v", s.Chat)
	}
}

type recordingStreamer struct {
	llm.FakeStreamer
	mu   sync.Mutex
	last llm.ChatRequest
}

func (r *recordingStreamer) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	r.mu.Lock()
	r.last = req
	r.mu.Unlock()
	return r.FakeStreamer.StreamChat(ctx, req)
}

func TestServiceChatSendsPriorTranscript(t *testing.T) {
	rec := &recordingStreamer{FakeStreamer: llm.FakeStreamer{Chat: "ok"}}
	svc, _ := newTestService(rec)
	ctx := context.Background()
	completeAnalysis(t, svc, "u1", "an_1")

	if _, err := svc.Chat(ctx, "u1", "first", nil); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	if _, err := svc.Chat(ctx, "u1", "second", nil); err != nil {
		t.Fatalf("second chat: %v", err)
	}
	if rec.last.Question != "second" || len(rec.last.History) != 2 {
		t.Fatalf("unexpected request %#v", rec.last)
	}
	if rec.last.Guide.Summary == "" {
		t.Fatalf("expected guide context")
	}
}

func TestServiceChatFailureDropsPartialReply(t *testing.T) {
	boom := errors.New("connection reset")
	svc, _ := newTestService(llm.FakeStreamer{Chat: "half an ans", StreamErr: boom})
	ctx := context.Background()
	completeAnalysis(t, svc, "u1", "an_1")

	if _, err := svc.Chat(ctx, "u1", "explain", nil); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	s, _ := svc.Get(ctx, "u1")
	if s.ChatStreaming || s.Notice != studyguide.ChatFailedNotice || len(s.Chat) != 1 {
		t.Fatalf("unexpected state after chat failure %#v", s)
	}
}

func TestServiceChatRequiresResult(t *testing.T) {
	svc, _ := newTestService(llm.FakeStreamer{})
	if _, err := svc.Chat(context.Background(), "u1", "hello", nil); !errors.Is(err, studyguide.ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestServiceRefreshHistoryPicksUpMovedEntries(t *testing.T) {
	svc, archive := newTestService(llm.FakeStreamer{})
	ctx := context.Background()
	completeAnalysis(t, svc, "u1", "an_1")

	if err := archive.Save(ctx, "u1", studyguide.HistoryEntry{ID: "claimed", Title: "From guest", Date: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	before, _ := svc.Get(ctx, "u1")
	if len(before.History) != 1 {
		t.Fatalf("stored session should not see the new entry yet, got %d", len(before.History))
	}

	if err := svc.RefreshHistory(ctx, "u1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	after, _ := svc.Get(ctx, "u1")
	if len(after.History) != 2 {
		t.Fatalf("expected 2 history entries after refresh, got %d", len(after.History))
	}
	if after.Phase != studyguide.PhaseComplete || after.Result == nil {
		t.Fatalf("refresh must keep the displayed result, got %#v", after)
	}
}
