package anthropic

import (
	"testing"

	"studyguide-backend/internal/llm"
)

func TestNewClientDefaults(t *testing.T) {
	if _, err := NewClient("", "", llm.Options{}, 0); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	c, err := NewClient("key", "https://proxy.example.com/", llm.Options{Model: " claude-sonnet-4-5 "}, 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.Model() != "claude-sonnet-4-5" {
		t.Fatalf("unexpected model %q", c.Model())
	}
}
