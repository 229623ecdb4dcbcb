package jetify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/studyguide"
)

func TestTranscriptPrompt(t *testing.T) {
	if got := transcriptPrompt(nil, "why?"); got != "why?" {
		t.Fatalf("expected bare question, got %q", got)
	}
	got := transcriptPrompt([]studyguide.ChatMessage{
		{Role: studyguide.RoleUser, Content: "what is q1 about?"},
		{Role: studyguide.RoleAssistant, Content: " Linear equations. "},
	}, "and q2?")
	want := "Conversation so far:\nStudent: what is q1 about?\nTutor: Linear equations.\n\nStudent: and q2?"
	if got != want {
		t.Fatalf("unexpected prompt:\n%q\nwant\n%q", got, want)
	}
}

func TestNewTutorRequiresKey(t *testing.T) {
	if _, err := NewTutor(Provider{Type: "openai"}, llm.Options{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
	tutor, err := NewTutor(Provider{Type: "anthropic", APIKey: "k"}, llm.Options{})
	if err != nil {
		t.Fatalf("new tutor: %v", err)
	}
	if _, err := tutor.StreamAnalysis(context.Background(), llm.AnalysisRequest{}); !errors.Is(err, llm.ErrNotImplemented) {
		t.Fatalf("analysis should not be served by the tutor, got %v", err)
	}
}

func TestBuildMessagesSkipsEmptySystem(t *testing.T) {
	if n := len(buildMessages("", "hi")); n != 1 {
		t.Fatalf("expected 1 message, got %d", n)
	}
	if n := len(buildMessages(strings.Repeat("s", 3), "hi")); n != 2 {
		t.Fatalf("expected 2 messages, got %d", n)
	}
}
