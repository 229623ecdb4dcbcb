package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	neturl "net/url"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/shared/telemetry"
)

const defaultModel = "gpt-4o-mini"

// Client streams study guides and tutor replies from OpenAI Chat Completions.
type Client struct {
	client openaisdk.Client
	model  string
	opts   llm.Options
}

// NewClient constructs a new OpenAI client. baseURL may point at any compatible endpoint.
func NewClient(apiKey, baseURL string, opts llm.Options, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
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
	if normalized := normalizeBaseURL(baseURL); normalized != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(normalized))
	}
	return &Client{
		client: openaisdk.NewClient(reqOpts...),
		model:  model,
		opts:   opts,
	}, nil
}

func (c *Client) StreamAnalysis(ctx context.Context, req llm.AnalysisRequest) (llm.Stream, error) {
	parts := []openaisdk.ChatCompletionContentPartUnionParam{
		openaisdk.TextContentPart(llm.AnalysisUserText(req)),
	}
	for _, p := range req.Pages {
		if !p.IsImage() {
			continue
		}
		parts = append(parts, openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL(p.MimeType, p.Data),
		}))
	}
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(llm.AnalysisSystemPrompt()),
			openaisdk.UserMessage(parts),
		},
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openaisdk.ResponseFormatJSONObjectParam{},
		},
		MaxCompletionTokens: openaisdk.Int(int64(c.opts.OutputTokens())),
	}
	return c.stream(ctx, "analysis", params), nil
}

func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	messages := []openaisdk.ChatCompletionMessageParamUnion{
		openaisdk.SystemMessage(llm.TutorSystemPrompt(req.Guide)),
	}
	for _, m := range req.History {
		if m.Role == "assistant" {
			messages = append(messages, openaisdk.AssistantMessage(m.Content))
			continue
		}
		messages = append(messages, openaisdk.UserMessage(m.Content))
	}
	messages = append(messages, openaisdk.UserMessage(req.Question))
	params := openaisdk.ChatCompletionNewParams{
		Model:               openaisdk.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openaisdk.Int(int64(c.opts.OutputTokens())),
	}
	return c.stream(ctx, "chat", params), nil
}

func (c *Client) stream(ctx context.Context, kind string, params openaisdk.ChatCompletionNewParams) llm.Stream {
	return llm.NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		started := time.Now()
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if !emit(choice.Delta.Content) {
					return ctx.Err()
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		telemetry.Info("llm.stream_done", map[string]any{
			"provider":   "openai",
			"kind":       kind,
			"model":      c.model,
			"durationMs": time.Since(started).Milliseconds(),
		})
		return nil
	})
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func normalizeBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}
	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/") + "/"
}

var _ llm.Streamer = (*Client)(nil)
