package render

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"

	"studyguide-backend/internal/studyguide"
)

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Table,
		extension.Strikethrough,
		extension.TaskList,
		extension.Linkify,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

// model output is untrusted; everything leaving Markdown passes through this policy
var policy = bluemonday.UGCPolicy()

// Markdown renders model-produced markdown to sanitized HTML.
func Markdown(markdownText string) string {
	text := strings.TrimSpace(markdownText)
	if text == "" {
		return ""
	}
	var out bytes.Buffer
	if err := markdownEngine.Convert([]byte(text), &out); err != nil {
		return template.HTMLEscapeString(text)
	}
	return policy.Sanitize(out.String())
}

// PlainText escapes text that is displayed verbatim.
func PlainText(text string) string {
	return template.HTMLEscapeString(text)
}

// RenderedQuestion mirrors QuestionAnalysis with display-ready HTML.
type RenderedQuestion struct {
	QuestionNumber   string   `json:"questionNumber"`
	QuestionText     string   `json:"questionText"`
	MainTopic        string   `json:"mainTopic"`
	Marks            float64  `json:"marks"`
	Difficulty       string   `json:"difficulty"`
	CorrectAnswer    string   `json:"correctAnswerHtml"`
	SimilarQuestions []string `json:"similarQuestions"`
}

type RenderedConcept struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Importance  string `json:"importance"`
}

// RenderedResult is an AnalysisResult prepared for display.
type RenderedResult struct {
	Summary     string             `json:"summaryHtml"`
	KeyConcepts []RenderedConcept  `json:"keyConcepts"`
	Questions   []RenderedQuestion `json:"questions"`
}

// Result renders the markdown fields and escapes the plain ones. The input is not modified.
func Result(r studyguide.AnalysisResult) RenderedResult {
	r = r.Normalize()
	out := RenderedResult{
		Summary:     Markdown(r.Summary),
		KeyConcepts: make([]RenderedConcept, 0, len(r.KeyConcepts)),
		Questions:   make([]RenderedQuestion, 0, len(r.Questions)),
	}
	for _, c := range r.KeyConcepts {
		out.KeyConcepts = append(out.KeyConcepts, RenderedConcept{
			Name:        PlainText(c.Name),
			Description: PlainText(c.Description),
			Importance:  PlainText(string(c.Importance)),
		})
	}
	for _, q := range r.Questions {
		similar := make([]string, 0, len(q.SimilarQuestions))
		for _, s := range q.SimilarQuestions {
			similar = append(similar, PlainText(s))
		}
		out.Questions = append(out.Questions, RenderedQuestion{
			QuestionNumber:   PlainText(q.QuestionNumber),
			QuestionText:     PlainText(q.QuestionText),
			MainTopic:        PlainText(q.MainTopic),
			Marks:            q.Marks,
			Difficulty:       PlainText(q.Difficulty),
			CorrectAnswer:    Markdown(q.CorrectAnswer),
			SimilarQuestions: similar,
		})
	}
	return out
}

// Chat renders every message body.
func Chat(messages []studyguide.ChatMessage) []studyguide.ChatMessage {
	out := make([]studyguide.ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, studyguide.ChatMessage{Role: m.Role, Content: Markdown(m.Content)})
	}
	return out
}
