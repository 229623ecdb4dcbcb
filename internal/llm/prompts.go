package llm

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"studyguide-backend/internal/studyguide"
)

var (
	//go:embed prompts/analysis.txt
	analysisPrompt string
	//go:embed prompts/tutor.txt
	tutorPrompt string
)

const maxPageTextRunes = 20000

// AnalysisSystemPrompt returns the instructions for study guide generation.
func AnalysisSystemPrompt() string {
	return strings.TrimSpace(analysisPrompt)
}

// AnalysisUserText describes the attached pages. Text extracted from PDFs is inlined.
func AnalysisUserText(req AnalysisRequest) string {
	var b strings.Builder
	if title := strings.TrimSpace(req.Title); title != "" {
		fmt.Fprintf(&b, "Paper: %s\n", title)
	}
	images := 0
	for _, p := range req.Pages {
		if p.IsImage() {
			images++
		}
	}
	if images > 0 {
		fmt.Fprintf(&b, "%d page image(s) are attached in order.\n", images)
	}
	for _, p := range req.Pages {
		if p.IsImage() || strings.TrimSpace(p.Text) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", p.Name, truncateRunes(p.Text, maxPageTextRunes))
	}
	b.WriteString("\nReturn the study guide JSON now.")
	return b.String()
}

// TutorSystemPrompt embeds the finished study guide as context for follow-up questions.
func TutorSystemPrompt(guide studyguide.AnalysisResult) string {
	payload, err := json.Marshal(guide.Normalize())
	if err != nil {
		payload = []byte("{}")
	}
	return strings.TrimSpace(tutorPrompt) + "\n\nStudy guide:\n" + string(payload)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
