package analyses

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"studyguide-backend/internal/documents"
	"studyguide-backend/internal/extract"
	"studyguide-backend/internal/history"
	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/queue"
	"studyguide-backend/internal/session"
	"studyguide-backend/internal/shared/broker"
	localstore "studyguide-backend/internal/shared/storage/object/local"
	redisstore "studyguide-backend/internal/shared/storage/redis"
	"studyguide-backend/internal/studyguide"
	"studyguide-backend/internal/usage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type queueStub struct {
	mu       sync.Mutex
	messages []queue.Message
}

func (q *queueStub) Send(ctx context.Context, msg queue.Message) error {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

type testEnv struct {
	svc      *Service
	repo     *MemoryRepo
	sessions *session.Service
	archive  *history.MemoryRepo
	broker   *broker.MemoryBroker
	queue    *queueStub
	docs     *documents.Service
}

func newTestEnv(t *testing.T, streamer llm.Streamer, limit int) *testEnv {
	t.Helper()
	store := localstore.New(t.TempDir())
	docs := &documents.Service{Store: store, Repo: documents.NewMemoryRepo(), StorageProvider: "local"}
	archive := history.NewMemoryRepo()
	sessions := session.NewService(session.NewMemoryStore(), archive, streamer)
	env := &testEnv{
		repo:     NewMemoryRepo(),
		sessions: sessions,
		archive:  archive,
		broker:   broker.NewMemoryBroker(),
		queue:    &queueStub{},
		docs:     docs,
	}
	env.svc = &Service{
		Repo:     env.repo,
		Usage:    usage.NewService(limit),
		Docs:     docs,
		Pages:    &extract.Loader{Store: store, Repo: docs.Repo},
		LLM:      streamer,
		Sessions: sessions,
		Broker:   env.broker,
		JobQueue: env.queue,
		Provider: "fake",
	}
	return env
}

func (e *testEnv) upload(t *testing.T, userID string) string {
	t.Helper()
	doc, err := e.docs.Upload(context.Background(), userID, "page1.png", bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return doc.ID
}

func (e *testEnv) create(t *testing.T, userID string) Analysis {
	t.Helper()
	a, err := e.svc.Create(context.Background(), userID, []string{e.upload(t, userID)}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return a
}

func drain(ch <-chan broker.Event) []broker.Event {
	var out []broker.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestProcessAnalysisCompletes(t *testing.T) {
	env := newTestEnv(t, llm.FakeStreamer{ChunkSize: 200}, 10)
	ctx := context.Background()
	a := env.create(t, "u1")
	if a.Title != "page1.png" || a.Status != StatusQueued {
		t.Fatalf("unexpected analysis %#v", a)
	}
	if len(env.queue.messages) != 1 || env.queue.messages[0].AnalysisID != a.ID {
		t.Fatalf("expected one queued message, got %#v", env.queue.messages)
	}

	events, cancel, err := env.svc.Subscribe(ctx, a.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := env.svc.ProcessAnalysis(ctx, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := env.repo.GetByID(ctx, a.ID)
	want := studyguide.Reconstruct(llm.SampleAnalysis)
	if got.Status != StatusCompleted || got.Result == nil || !reflect.DeepEqual(*got.Result, want) {
		t.Fatalf("unexpected stored analysis %#v", got)
	}
	if got.Fragments == 0 || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("expected fragments and timestamps, got %#v", got)
	}

	sess, _ := env.sessions.Get(ctx, "u1")
	if sess.Phase != studyguide.PhaseComplete || len(sess.History) != 1 || sess.History[0].ID != a.ID {
		t.Fatalf("unexpected session %#v", sess)
	}
	if entry, err := env.archive.Get(ctx, "u1", a.ID); err != nil || entry.Title != "Linear equations" {
		t.Fatalf("expected archived entry, got %#v err=%v", entry, err)
	}

	evs := drain(events)
	if len(evs) < 3 {
		t.Fatalf("expected status, snapshots and complete, got %d events", len(evs))
	}
	if evs[0].Type != EventStatus || evs[1].Type != EventSnapshot || evs[len(evs)-1].Type != EventComplete {
		t.Fatalf("unexpected event order: first %s, last %s", evs[0].Type, evs[len(evs)-1].Type)
	}

	u, _ := env.svc.Usage.Get(ctx, "u1")
	if u.Used != 1 {
		t.Fatalf("expected one analysis consumed, got %d", u.Used)
	}

	// a redelivered job is a no-op
	if err := env.svc.ProcessAnalysis(ctx, a.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if list, _ := env.archive.List(ctx, "u1", 0); len(list) != 1 {
		t.Fatalf("expected a single history entry, got %d", len(list))
	}
}

func TestQueuedWorkerCompletesThroughSharedSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	connect := func() *redisstore.Client {
		client, err := redisstore.Connect("redis://" + mr.Addr())
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() { _ = client.Close() })
		return client
	}
	streamer := llm.FakeStreamer{ChunkSize: 200}
	env := newTestEnv(t, streamer, 10)
	env.sessions.Store = session.NewRedisStore(connect(), time.Hour)
	ctx := context.Background()
	a := env.create(t, "u1")

	// the worker process has its own session service over the same Redis
	worker := &Service{
		Repo:     env.repo,
		Docs:     env.docs,
		Pages:    env.svc.Pages,
		LLM:      streamer,
		Sessions: session.NewService(session.NewRedisStore(connect(), time.Hour), env.archive, streamer),
		Broker:   env.broker,
		Provider: "fake",
	}
	if err := worker.ProcessAnalysis(ctx, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := env.repo.GetByID(ctx, a.ID)
	if got.Status != StatusCompleted || got.HistoryID != a.ID {
		t.Fatalf("unexpected stored analysis status=%s historyID=%q", got.Status, got.HistoryID)
	}
	if _, err := env.archive.Get(ctx, "u1", a.ID); err != nil {
		t.Fatalf("expected archived entry: %v", err)
	}
	sess, err := env.sessions.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Streaming || sess.Phase != studyguide.PhaseComplete || len(sess.History) != 1 {
		t.Fatalf("API session did not see the completion: %#v", sess)
	}
	ev, err := TerminalEvent(got)
	if err != nil || !bytes.Contains(ev.Data, []byte(`"historyId":"`+a.ID+`"`)) {
		t.Fatalf("expected historyId in replay, got %s err=%v", ev.Data, err)
	}

	// the API accepts the next analysis
	env.create(t, "u1")
}

func TestStaleCompletionHasNoHistoryID(t *testing.T) {
	streamer := &hookStreamer{fragments: []string{llm.SampleAnalysis}}
	env := newTestEnv(t, streamer, 10)
	ctx := context.Background()
	// the second Next is the end of the stream, after the only snapshot
	streamer.onSecond = func() {
		if _, err := env.sessions.Reset(ctx, "u1"); err != nil {
			t.Errorf("reset: %v", err)
		}
	}
	a := env.create(t, "u1")

	events, cancel, err := env.svc.Subscribe(ctx, a.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := env.svc.ProcessAnalysis(ctx, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := env.repo.GetByID(ctx, a.ID)
	if got.Status != StatusCompleted || got.HistoryID != "" {
		t.Fatalf("unexpected stored analysis status=%s historyID=%q", got.Status, got.HistoryID)
	}
	if list, _ := env.archive.List(ctx, "u1", 0); len(list) != 0 {
		t.Fatalf("stale completion must not be archived")
	}

	ev, err := TerminalEvent(got)
	if err != nil {
		t.Fatalf("terminal event: %v", err)
	}
	if ev.Type != EventComplete || bytes.Contains(ev.Data, []byte("historyId")) {
		t.Fatalf("unexpected replay %s %s", ev.Type, ev.Data)
	}
	evs := drain(events)
	if len(evs) == 0 || evs[len(evs)-1].Type != EventComplete || bytes.Contains(evs[len(evs)-1].Data, []byte("historyId")) {
		t.Fatalf("live complete event must not carry historyId: %#v", evs)
	}
}

func TestProcessAnalysisTransportFailure(t *testing.T) {
	env := newTestEnv(t, llm.FakeStreamer{ChunkSize: 50, StreamErr: errors.New("connection reset by peer")}, 10)
	ctx := context.Background()
	a := env.create(t, "u1")

	if err := env.svc.ProcessAnalysis(ctx, a.ID); err == nil {
		t.Fatalf("expected stream error")
	}
	got, _ := env.repo.GetByID(ctx, a.ID)
	if got.Status != StatusFailed || got.Result != nil {
		t.Fatalf("failed analysis must not keep a result: %#v", got)
	}
	if got.ErrorCode != ErrorCodeLLMUnavailable || !got.ErrorRetryable {
		t.Fatalf("unexpected classification %q retryable=%v", got.ErrorCode, got.ErrorRetryable)
	}

	sess, _ := env.sessions.Get(ctx, "u1")
	if sess.Result != nil || sess.Notice != studyguide.AnalysisFailedNotice || sess.Streaming {
		t.Fatalf("unexpected session after failure %#v", sess)
	}
	if len(sess.History) != 0 {
		t.Fatalf("failed analysis must not be archived")
	}
}

type countingStreamer struct {
	mu    sync.Mutex
	calls int
	fails int
	err   error
}

func (s *countingStreamer) StreamAnalysis(ctx context.Context, req llm.AnalysisRequest) (llm.Stream, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n <= s.fails {
		return nil, s.err
	}
	return llm.FakeStreamer{ChunkSize: 400}.StreamAnalysis(ctx, req)
}

func (s *countingStreamer) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	return llm.FakeStreamer{}.StreamChat(ctx, req)
}

func TestProcessAnalysisRetriesOpen(t *testing.T) {
	prev := llmRetryBaseDelay
	llmRetryBaseDelay = time.Millisecond
	t.Cleanup(func() { llmRetryBaseDelay = prev })

	streamer := &countingStreamer{fails: 2, err: errors.New("http status 503")}
	env := newTestEnv(t, streamer, 10)
	a := env.create(t, "u1")
	if err := env.svc.ProcessAnalysis(context.Background(), a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if streamer.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", streamer.calls)
	}

	streamer = &countingStreamer{fails: 5, err: errors.New("invalid api key")}
	env = newTestEnv(t, streamer, 10)
	a = env.create(t, "u1")
	if err := env.svc.ProcessAnalysis(context.Background(), a.ID); err == nil {
		t.Fatalf("expected failure")
	}
	if streamer.calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d attempts", streamer.calls)
	}
}

type hookStream struct {
	llm.Stream
	calls    int
	onSecond func()
}

func (h *hookStream) Next() (string, error) {
	h.calls++
	if h.calls == 2 && h.onSecond != nil {
		h.onSecond()
	}
	return h.Stream.Next()
}

type hookStreamer struct {
	fragments []string
	onSecond  func()
}

func (s *hookStreamer) StreamAnalysis(ctx context.Context, req llm.AnalysisRequest) (llm.Stream, error) {
	return &hookStream{Stream: llm.SliceStream(s.fragments, nil), onSecond: s.onSecond}, nil
}

func (s *hookStreamer) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	return llm.SliceStream(nil, nil), nil
}

func TestResetAbandonsRunningAnalysis(t *testing.T) {
	streamer := &hookStreamer{fragments: studyguide.SplitFragments(llm.SampleAnalysis, 100)}
	env := newTestEnv(t, streamer, 10)
	ctx := context.Background()
	streamer.onSecond = func() {
		if _, err := env.sessions.Reset(ctx, "u1"); err != nil {
			t.Errorf("reset: %v", err)
		}
	}
	a := env.create(t, "u1")

	if err := env.svc.ProcessAnalysis(ctx, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := env.repo.GetByID(ctx, a.ID)
	if got.Status != StatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
	sess, _ := env.sessions.Get(ctx, "u1")
	if sess.Phase != studyguide.PhaseIdle || sess.Result != nil || len(sess.History) != 0 {
		t.Fatalf("abandoned stream leaked into the session: %#v", sess)
	}
	if list, _ := env.archive.List(ctx, "u1", 0); len(list) != 0 {
		t.Fatalf("abandoned stream must not be archived")
	}
}

func TestCreateRejectsWhileStreaming(t *testing.T) {
	env := newTestEnv(t, llm.FakeStreamer{}, 10)
	ctx := context.Background()
	env.create(t, "u1")

	_, err := env.svc.Create(ctx, "u1", []string{env.upload(t, "u1")}, "second")
	if !errors.Is(err, studyguide.ErrStreamBusy) {
		t.Fatalf("expected ErrStreamBusy, got %v", err)
	}
	list, _ := env.repo.ListByUser(ctx, "u1", 0, 0)
	if len(list) != 1 {
		t.Fatalf("rejected analysis must not be recorded, got %d", len(list))
	}
	u, _ := env.svc.Usage.Get(ctx, "u1")
	if u.Used != 1 {
		t.Fatalf("rejected analysis must not consume quota, used=%d", u.Used)
	}
}

func TestCreateEnforcesQuota(t *testing.T) {
	env := newTestEnv(t, llm.FakeStreamer{ChunkSize: 400}, 1)
	ctx := context.Background()
	a := env.create(t, "u1")
	if err := env.svc.ProcessAnalysis(ctx, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	_, err := env.svc.Create(ctx, "u1", []string{env.upload(t, "u1")}, "")
	if !errors.Is(err, usage.ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
}

func TestCreateRejectsForeignDocuments(t *testing.T) {
	env := newTestEnv(t, llm.FakeStreamer{}, 10)
	docID := env.upload(t, "u2")
	_, err := env.svc.Create(context.Background(), "u1", []string{docID}, "")
	if !errors.Is(err, documents.ErrNotFound) {
		t.Fatalf("expected documents.ErrNotFound, got %v", err)
	}
	sess, _ := env.sessions.Get(context.Background(), "u1")
	if sess.Streaming {
		t.Fatalf("session must not start for a rejected analysis")
	}
}

func TestGetChecksOwnership(t *testing.T) {
	env := newTestEnv(t, llm.FakeStreamer{}, 10)
	a := env.create(t, "u1")
	if _, err := env.svc.Get(context.Background(), "u2", a.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Get(context.Background(), "u1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		err       error
		code      string
		retryable bool
	}{
		{context.DeadlineExceeded, ErrorCodeLLMTimeout, true},
		{studyguide.ErrEmptyStream, ErrorCodeStreamEmpty, true},
		{errors.New("llm open: 429 Too Many Requests"), ErrorCodeLLMRateLimit, true},
		{errors.New("llm stream: connection reset"), ErrorCodeLLMUnavailable, true},
		{extract.ErrExtractionFailed, ErrorCodeExtraction, false},
		{errors.New("llm open: invalid api key"), ErrorCodeInternal, false},
	}
	for _, tc := range cases {
		code, retryable := classifyFailure(tc.err)
		if code != tc.code || retryable != tc.retryable {
			t.Errorf("%v: got %s/%v, want %s/%v", tc.err, code, retryable, tc.code, tc.retryable)
		}
	}
}

func TestCreateFailsAnalysisWhenEnqueueFails(t *testing.T) {
	env := newTestEnv(t, llm.FakeStreamer{}, 10)
	ctx := context.Background()
	env.svc.JobQueue = queue.ClientFunc(func(ctx context.Context, msg queue.Message) error {
		return errors.New("queue unavailable")
	})

	if _, err := env.svc.Create(ctx, "u1", []string{env.upload(t, "u1")}, ""); err == nil {
		t.Fatal("expected enqueue error")
	}
	list, err := env.repo.ListByUser(ctx, "u1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != StatusFailed {
		t.Fatalf("expected one failed analysis, got %#v", list)
	}

	env.svc.JobQueue = env.queue
	if _, err := env.svc.Create(ctx, "u1", []string{env.upload(t, "u1")}, ""); err != nil {
		t.Fatalf("session should accept a new analysis after the failure: %v", err)
	}
}
