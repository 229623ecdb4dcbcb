package llm

import (
	"context"
	"strings"

	"studyguide-backend/internal/studyguide"
)

// FakeStreamer replays canned output in fixed-size fragments. It backs the
// "fake" provider in development and the tests.
type FakeStreamer struct {
	Analysis  string
	Chat      string
	ChunkSize int
	// StreamErr is returned after all fragments instead of io.EOF.
	StreamErr error
	// OpenErr fails the call that opens the stream.
	OpenErr error
}

// SampleAnalysis is the canned study guide used by the fake provider.
const SampleAnalysis = `{
  "summary": "A short algebra paper. Expect **linear equations** and one question on factorising.",
  "keyConcepts": [
    {"name": "Linear equations", "description": "Isolate the variable by applying inverse operations to both sides.", "importance": "High"},
    {"name": "Factorising", "description": "Rewrite quadratics as a product of two brackets.", "importance": "Medium"}
  ],
  "questions": [
    {"questionNumber": "1", "questionText": "Solve 2x + 3 = 11.", "mainTopic": "Linear equations", "marks": 2, "difficulty": "Easy", "correctAnswer": "2x = 8, so **x = 4**.", "similarQuestions": ["Solve 3x - 5 = 10.", "Solve 4x + 1 = 9."]},
    {"questionNumber": "2", "questionText": "Factorise x^2 + 5x + 6.", "mainTopic": "Factorising", "marks": 3, "difficulty": "Medium", "correctAnswer": "(x + 2)(x + 3)", "similarQuestions": ["Factorise x^2 + 7x + 12."]}
  ]
}`

func (f FakeStreamer) StreamAnalysis(ctx context.Context, req AnalysisRequest) (Stream, error) {
	_ = req
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	text := f.Analysis
	if text == "" {
		text = SampleAnalysis
	}
	return f.replay(ctx, text), nil
}

func (f FakeStreamer) StreamChat(ctx context.Context, req ChatRequest) (Stream, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	text := f.Chat
	if text == "" {
		text = "Let's look at that again: " + strings.TrimSpace(req.Question)
	}
	return f.replay(ctx, text), nil
}

func (f FakeStreamer) replay(ctx context.Context, text string) Stream {
	size := f.ChunkSize
	if size <= 0 {
		size = 24
	}
	fragments := studyguide.SplitFragments(text, size)
	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		for _, fragment := range fragments {
			if !emit(fragment) {
				return ctx.Err()
			}
		}
		return f.StreamErr
	})
}
