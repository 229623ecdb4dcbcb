package jetify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"

	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/studyguide"
)

// Provider selects the vendor behind the language model.
type Provider struct {
	Type    string // "openai" or "anthropic"
	APIKey  string
	BaseURL string
	Model   string
}

// Tutor streams chat replies through the provider-neutral jetify SDK.
// Analyses need multimodal JSON output and go through the vendor clients instead.
type Tutor struct {
	model     jetapi.LanguageModel
	maxTokens int
}

func NewTutor(p Provider, opts llm.Options) (*Tutor, error) {
	model, err := buildLanguageModel(p)
	if err != nil {
		return nil, err
	}
	return &Tutor{model: model, maxTokens: opts.OutputTokens()}, nil
}

func (t *Tutor) StreamAnalysis(ctx context.Context, req llm.AnalysisRequest) (llm.Stream, error) {
	_ = ctx
	_ = req
	return nil, llm.ErrNotImplemented
}

func (t *Tutor) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	messages := buildMessages(llm.TutorSystemPrompt(req.Guide), transcriptPrompt(req.History, req.Question))
	return llm.NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		resp, err := jetai.StreamText(ctx, messages,
			jetai.WithModel(t.model),
			jetai.WithMaxOutputTokens(t.maxTokens),
		)
		if err != nil {
			return err
		}
		for event := range resp.Stream {
			switch evt := event.(type) {
			case *jetapi.TextDeltaEvent:
				if !emit(evt.TextDelta) {
					return ctx.Err()
				}
			case *jetapi.ErrorEvent:
				if evt.Err == nil {
					return errors.New("AI stream returned an unknown error")
				}
				return fmt.Errorf("%v", evt.Err)
			}
		}
		return nil
	}), nil
}

func buildMessages(systemPrompt, prompt string) []jetapi.Message {
	messages := make([]jetapi.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: systemPrompt})
	}
	messages = append(messages, &jetapi.UserMessage{Content: jetapi.ContentFromText(prompt)})
	return messages
}

// transcriptPrompt folds earlier turns into the user message.
func transcriptPrompt(history []studyguide.ChatMessage, question string) string {
	if len(history) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		speaker := "Student"
		if m.Role == studyguide.RoleAssistant {
			speaker = "Tutor"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, strings.TrimSpace(m.Content))
	}
	b.WriteString("\nStudent: ")
	b.WriteString(question)
	return b.String()
}

func buildLanguageModel(p Provider) (jetapi.LanguageModel, error) {
	apiKey := strings.TrimSpace(p.APIKey)
	if apiKey == "" {
		return nil, errors.New("AI provider api key is empty")
	}
	modelID := strings.TrimSpace(p.Model)
	endpoint := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")

	if strings.EqualFold(strings.TrimSpace(p.Type), "anthropic") {
		if modelID == "" {
			modelID = "claude-haiku-4-5-20251001"
		}
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(0),
		}
		if endpoint != "" {
			opts = append(opts, anthropicoption.WithBaseURL(endpoint))
		}
		client := anthropicclient.NewClient(opts...)
		return jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client)), nil
	}

	if modelID == "" {
		modelID = "gpt-4o-mini"
	}
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if endpoint != "" {
		if !strings.HasSuffix(endpoint, "/v1") {
			endpoint += "/v1"
		}
		opts = append(opts, openaioption.WithBaseURL(endpoint))
	}
	client := openaiclient.NewClient(opts...)
	return jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client)), nil
}

var _ llm.Streamer = (*Tutor)(nil)
