package render

import (
	"strings"
	"testing"

	"studyguide-backend/internal/studyguide"
)

func TestMarkdownRendersFormatting(t *testing.T) {
	got := Markdown("**x = 4**\n\n| a | b |\n|---|---|\n| 1 | 2 |")
	if !strings.Contains(got, "<strong>x = 4</strong>") {
		t.Fatalf("expected bold, got %s", got)
	}
	if !strings.Contains(got, "<table>") {
		t.Fatalf("expected table, got %s", got)
	}
}

func TestMarkdownStripsScripts(t *testing.T) {
	inputs := []string{
		"<script>alert(1)</script>",
		"[click](javascript:alert(1))",
		`<img src=x onerror="alert(1)">`,
	}
	for _, in := range inputs {
		got := Markdown(in)
		lower := strings.ToLower(got)
		if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") || strings.Contains(lower, "onerror") {
			t.Fatalf("unsafe output for %q: %s", in, got)
		}
	}
}

func TestMarkdownEmpty(t *testing.T) {
	if got := Markdown("   "); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestResultEscapesPlainFields(t *testing.T) {
	r := studyguide.AnalysisResult{
		Summary:     "_focus_",
		KeyConcepts: []studyguide.KeyConcept{{Name: "<b>Sets</b>", Importance: studyguide.ImportanceHigh}},
		Questions: []studyguide.QuestionAnalysis{{
			QuestionNumber: "1",
			QuestionText:   "Is 1 < 2?",
			CorrectAnswer:  "`yes`",
		}},
	}
	out := Result(r)
	if !strings.Contains(out.Summary, "<em>focus</em>") {
		t.Fatalf("summary not rendered: %s", out.Summary)
	}
	if out.KeyConcepts[0].Name != "&lt;b&gt;Sets&lt;/b&gt;" {
		t.Fatalf("name not escaped: %s", out.KeyConcepts[0].Name)
	}
	if out.Questions[0].QuestionText != "Is 1 &lt; 2?" {
		t.Fatalf("question text not escaped: %s", out.Questions[0].QuestionText)
	}
	if !strings.Contains(out.Questions[0].CorrectAnswer, "<code>yes</code>") {
		t.Fatalf("answer not rendered: %s", out.Questions[0].CorrectAnswer)
	}
	if out.Questions[0].SimilarQuestions == nil {
		t.Fatalf("expected empty similar questions slice")
	}
	if r.Summary != "_focus_" {
		t.Fatalf("input mutated")
	}
}
