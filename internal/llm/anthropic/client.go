package anthropic

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/shared/telemetry"
)

const defaultModel = "claude-haiku-4-5-20251001"

// Client streams study guides and tutor replies from the Anthropic Messages API.
type Client struct {
	client anthropicsdk.Client
	model  string
	opts   llm.Options
}

func NewClient(apiKey, baseURL string, opts llm.Options, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	return &Client{
		client: anthropicsdk.NewClient(reqOpts...),
		model:  model,
		opts:   opts,
	}, nil
}

func (c *Client) StreamAnalysis(ctx context.Context, req llm.AnalysisRequest) (llm.Stream, error) {
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(req.Pages)+1)
	for _, p := range req.Pages {
		if !p.IsImage() {
			continue
		}
		blocks = append(blocks, anthropicsdk.NewImageBlockBase64(p.MimeType, base64.StdEncoding.EncodeToString(p.Data)))
	}
	blocks = append(blocks, anthropicsdk.NewTextBlock(llm.AnalysisUserText(req)))
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: int64(c.opts.OutputTokens()),
		System:    []anthropicsdk.TextBlockParam{{Text: llm.AnalysisSystemPrompt()}},
		Messages:  []anthropicsdk.MessageParam{anthropicsdk.NewUserMessage(blocks...)},
	}
	return c.stream(ctx, "analysis", params), nil
}

func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	messages := make([]anthropicsdk.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == "assistant" {
			messages = append(messages, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
			continue
		}
		messages = append(messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
	}
	messages = append(messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Question)))
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: int64(c.opts.OutputTokens()),
		System:    []anthropicsdk.TextBlockParam{{Text: llm.TutorSystemPrompt(req.Guide)}},
		Messages:  messages,
	}
	return c.stream(ctx, "chat", params), nil
}

func (c *Client) stream(ctx context.Context, kind string, params anthropicsdk.MessageNewParams) llm.Stream {
	return llm.NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		started := time.Now()
		stream := c.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropicsdk.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropicsdk.TextDelta)
			if !ok {
				continue
			}
			if !emit(text.Text) {
				return ctx.Err()
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic stream: %w", err)
		}
		telemetry.Info("llm.stream_done", map[string]any{
			"provider":   "anthropic",
			"kind":       kind,
			"model":      c.model,
			"durationMs": time.Since(started).Milliseconds(),
		})
		return nil
	})
}

func (c *Client) Model() string { return c.model }

var _ llm.Streamer = (*Client)(nil)
