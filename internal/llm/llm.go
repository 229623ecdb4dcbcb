package llm

import (
	"context"
	"errors"
	"strings"

	"studyguide-backend/internal/studyguide"
)

// Streamer abstracts providers that stream study guides and tutor replies.
type Streamer interface {
	StreamAnalysis(ctx context.Context, req AnalysisRequest) (Stream, error)
	StreamChat(ctx context.Context, req ChatRequest) (Stream, error)
}

// AnalysisRequest carries the exam pages to analyse.
type AnalysisRequest struct {
	Title string
	Pages []Page
}

// Page is one uploaded page. Images travel as Data; PDFs are reduced to Text.
type Page struct {
	Name     string
	MimeType string
	Data     []byte
	Text     string
}

// IsImage reports whether the page is sent to the model as an image.
func (p Page) IsImage() bool {
	return len(p.Data) > 0 && strings.HasPrefix(p.MimeType, "image/")
}

// ChatRequest asks the tutor a follow-up question about a finished study guide.
type ChatRequest struct {
	Guide    studyguide.AnalysisResult
	History  []studyguide.ChatMessage
	Question string
}

// Options tune a provider.
type Options struct {
	Model           string
	MaxOutputTokens int
}

const defaultMaxOutputTokens = 8192

// OutputTokens returns the configured limit or the default.
func (o Options) OutputTokens() int {
	if o.MaxOutputTokens > 0 {
		return o.MaxOutputTokens
	}
	return defaultMaxOutputTokens
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is used when no provider is configured.
type PlaceholderClient struct{}

func (PlaceholderClient) StreamAnalysis(ctx context.Context, req AnalysisRequest) (Stream, error) {
	_ = ctx
	_ = req
	return nil, ErrNotImplemented
}

func (PlaceholderClient) StreamChat(ctx context.Context, req ChatRequest) (Stream, error) {
	_ = ctx
	_ = req
	return nil, ErrNotImplemented
}

type combined struct {
	analysis Streamer
	chat     Streamer
}

// Combine routes analyses and chat to different providers. A nil side falls back to the other.
func Combine(analysis, chat Streamer) Streamer {
	if analysis == nil {
		analysis = chat
	}
	if chat == nil {
		chat = analysis
	}
	if analysis == nil {
		return PlaceholderClient{}
	}
	return combined{analysis: analysis, chat: chat}
}

func (c combined) StreamAnalysis(ctx context.Context, req AnalysisRequest) (Stream, error) {
	return c.analysis.StreamAnalysis(ctx, req)
}

func (c combined) StreamChat(ctx context.Context, req ChatRequest) (Stream, error) {
	return c.chat.StreamChat(ctx, req)
}
