package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"studyguide-backend/internal/queue"
)

type stubProcessor struct {
	fail map[string]bool
	seen []string
}

func (s *stubProcessor) ProcessAnalysis(ctx context.Context, analysisID string) error {
	s.seen = append(s.seen, analysisID)
	if s.fail[analysisID] {
		return errors.New("llm unavailable")
	}
	return nil
}

func record(t *testing.T, id string, msg queue.Message) events.SQSMessage {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestHandleBatchReportsOnlyRetryableFailures(t *testing.T) {
	proc := &stubProcessor{fail: map[string]bool{"an-2": true}}
	event := events.SQSEvent{Records: []events.SQSMessage{
		record(t, "m1", queue.Message{AnalysisID: "an-1"}),
		record(t, "m2", queue.Message{AnalysisID: "an-2"}),
		{MessageId: "m3", Body: "{not json"},
		{MessageId: "m4", Body: ""},
	}}

	resp := handleBatch(context.Background(), proc, event)

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("unexpected failures %+v", resp.BatchItemFailures)
	}
	if len(proc.seen) != 2 {
		t.Fatalf("expected 2 processed analyses, got %v", proc.seen)
	}
}

func TestHandleBatchEmpty(t *testing.T) {
	resp := handleBatch(context.Background(), &stubProcessor{}, events.SQSEvent{})
	if resp.BatchItemFailures == nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected empty non-nil failures, got %+v", resp.BatchItemFailures)
	}
}
