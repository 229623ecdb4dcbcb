package studyguide

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

const fullDocument = `{
  "summary": "Paper covers \"linear\" algebra.\nFocus on {matrices}.",
  "keyConcepts": [
    {"name": "Algebra", "description": "focus here", "importance": "High"},
    {"name": "Set {theory}", "description": "braces } inside a string", "importance": "Low"}
  ],
  "questions": [
    {"questionNumber": "1", "questionText": "Solve x + 1 = 2", "mainTopic": "Algebra", "marks": 5, "difficulty": "Easy", "correctAnswer": "**x = 1**", "similarQuestions": ["Solve x + 2 = 3", "Solve 2x = 4"]},
    {"questionNumber": "2", "questionText": "Is \"[]\" empty? {yes}", "mainTopic": "Sets", "marks": 2.5, "difficulty": "Medium", "correctAnswer": "Yes", "similarQuestions": []}
  ]
}`

func TestReconstructUnterminatedSummary(t *testing.T) {
	got := Reconstruct(`{"summary": "Hello`)
	if got.Summary != "" {
		t.Fatalf("expected empty summary, got %q", got.Summary)
	}
	if got.KeyConcepts == nil || len(got.KeyConcepts) != 0 {
		t.Fatalf("expected empty keyConcepts, got %#v", got.KeyConcepts)
	}
	if got.Questions == nil || len(got.Questions) != 0 {
		t.Fatalf("expected empty questions, got %#v", got.Questions)
	}
}

func TestReconstructIncompleteObjectIsHidden(t *testing.T) {
	partial := `{"summary": "Hi there", "keyConcepts": [{"name":"Algebra","description":"focus here","importance":"High"`
	got := Reconstruct(partial)
	if got.Summary != "Hi there" {
		t.Fatalf("expected summary %q, got %q", "Hi there", got.Summary)
	}
	if len(got.KeyConcepts) != 0 {
		t.Fatalf("expected no key concepts yet, got %#v", got.KeyConcepts)
	}

	got = Reconstruct(partial + `}]`)
	want := []KeyConcept{{Name: "Algebra", Description: "focus here", Importance: ImportanceHigh}}
	if !reflect.DeepEqual(got.KeyConcepts, want) {
		t.Fatalf("expected %#v, got %#v", want, got.KeyConcepts)
	}
}

func TestReconstructDedupFirstWins(t *testing.T) {
	text := `"questions":[` +
		`{"questionNumber":"1","questionText":"x","mainTopic":"y","marks":5,"difficulty":"Easy","correctAnswer":"z","similarQuestions":["a","b"]},` +
		`{"questionNumber":"1","questionText":"other","mainTopic":"more complete","marks":10,"difficulty":"Hard","correctAnswer":"w","similarQuestions":["c","d","e"]}]`
	got := Reconstruct(text)
	if len(got.Questions) != 1 {
		t.Fatalf("expected one question, got %d", len(got.Questions))
	}
	q := got.Questions[0]
	if q.QuestionText != "x" || q.Marks != 5 || !reflect.DeepEqual(q.SimilarQuestions, []string{"a", "b"}) {
		t.Fatalf("expected first occurrence, got %#v", q)
	}

	// same law on the fallback path: the array is still open
	open := strings.TrimSuffix(text, "]") + `,{"questionNumber":"2"`
	got = Reconstruct(open)
	if len(got.Questions) != 1 || got.Questions[0].QuestionText != "x" {
		t.Fatalf("expected first occurrence on partial input, got %#v", got.Questions)
	}
}

func TestReconstructCompleteMinimalDocument(t *testing.T) {
	got := Reconstruct(`{"summary":"s","keyConcepts":[],"questions":[]}`)
	want := AnalysisResult{Summary: "s", KeyConcepts: []KeyConcept{}, Questions: []QuestionAnalysis{}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
}

func TestReconstructMatchesStandardParseOnCompleteInput(t *testing.T) {
	var want AnalysisResult
	if err := json.Unmarshal([]byte(fullDocument), &want); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := Reconstruct(fullDocument)
	if !reflect.DeepEqual(got, want.Normalize()) {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
	if got.Summary != "Paper covers \"linear\" algebra.\nFocus on {matrices}." {
		t.Fatalf("summary not unescaped: %q", got.Summary)
	}
	if len(got.KeyConcepts) != 2 || len(got.Questions) != 2 {
		t.Fatalf("expected 2 concepts and 2 questions, got %d and %d", len(got.KeyConcepts), len(got.Questions))
	}
}

func TestReconstructMonotonicAcrossPrefixes(t *testing.T) {
	prev := Reconstruct("")
	for i := 1; i <= len(fullDocument); i++ {
		cur := Reconstruct(fullDocument[:i])
		for _, c := range prev.KeyConcepts {
			if !containsConcept(cur.KeyConcepts, c) {
				t.Fatalf("prefix %d lost key concept %q", i, c.Name)
			}
		}
		for _, q := range prev.Questions {
			if !containsQuestion(cur.Questions, q) {
				t.Fatalf("prefix %d lost question %q", i, q.QuestionNumber)
			}
		}
		prev = cur
	}
	if len(prev.KeyConcepts) != 2 || len(prev.Questions) != 2 {
		t.Fatalf("expected complete result at full length, got %#v", prev)
	}
}

func TestReconstructBracesInsideStrings(t *testing.T) {
	// second object still open; the braces in its strings must not close it
	text := `{"keyConcepts":[{"name":"A","description":"{","importance":"High"},{"name":"B","description":"} ] {","importance":"Lo`
	got := Reconstruct(text)
	if len(got.KeyConcepts) != 1 || got.KeyConcepts[0].Name != "A" {
		t.Fatalf("expected only A, got %#v", got.KeyConcepts)
	}
}

func TestReconstructTrailingComma(t *testing.T) {
	got := Reconstruct(`{"keyConcepts":[{"name":"A","description":"d","importance":"Medium"},]}`)
	want := []KeyConcept{{Name: "A", Description: "d", Importance: ImportanceMedium}}
	if !reflect.DeepEqual(got.KeyConcepts, want) {
		t.Fatalf("expected %#v, got %#v", want, got.KeyConcepts)
	}

	got = Reconstruct(`{"keyConcepts":[{"name":"A","description":"d","importance":"Medium"} ,
	]}`)
	if !reflect.DeepEqual(got.KeyConcepts, want) {
		t.Fatalf("expected %#v with whitespace before bracket, got %#v", want, got.KeyConcepts)
	}
}

func TestReconstructStopsAtArrayEnd(t *testing.T) {
	// the malformed first entry forces the fallback; objects after ']' belong to another field
	text := `{"keyConcepts":[{"name":"A","description":"d","importance":"High"},{bad}],"other":[{"name":"Z"}]`
	got := Reconstruct(text)
	if len(got.KeyConcepts) != 1 || got.KeyConcepts[0].Name != "A" {
		t.Fatalf("expected only A, got %#v", got.KeyConcepts)
	}
}

func TestReconstructSkipsMalformedObjects(t *testing.T) {
	text := `{"questions":[{"questionNumber":"1","similarQuestions":"not a list"},{"questionNumber":"2","marks":3},{"questionNumber":{"n":3}},{"questionNumber":"4"`
	got := Reconstruct(text)
	if len(got.Questions) != 1 || got.Questions[0].QuestionNumber != "2" {
		t.Fatalf("expected only question 2, got %#v", got.Questions)
	}
	if got.Questions[0].SimilarQuestions == nil {
		t.Fatalf("expected similarQuestions to default to empty")
	}
}

func TestReconstructAcceptsNumbersAndStrings(t *testing.T) {
	body := `[{"questionNumber":1,"marks":"5"},{"questionNumber":"2a","marks":2.5},{"questionNumber":"3","marks":"five"},{"questionNumber":null,"marks":null}]`
	want := []QuestionAnalysis{
		{QuestionNumber: "1", Marks: 5, SimilarQuestions: []string{}},
		{QuestionNumber: "2a", Marks: 2.5, SimilarQuestions: []string{}},
		{QuestionNumber: "3", Marks: 0, SimilarQuestions: []string{}},
		{QuestionNumber: "", Marks: 0, SimilarQuestions: []string{}},
	}
	// closed array and still-open array take different decode paths
	for _, text := range []string{
		`{"questions":` + body + `}`,
		`{"questions":` + strings.TrimSuffix(body, "]") + `,{"questionNumber":"9"`,
	} {
		got := Reconstruct(text)
		if !reflect.DeepEqual(got.Questions, want) {
			t.Fatalf("Reconstruct(%q)\n got %#v\nwant %#v", text, got.Questions, want)
		}
	}
}

func TestReconstructSkipsNullEntries(t *testing.T) {
	want := []KeyConcept{{Name: "A"}}
	for _, text := range []string{
		`{"keyConcepts":[null,{"name":"A"}]}`,
		`{"keyConcepts":[null,{"name":"A"},`,
	} {
		got := Reconstruct(text)
		if !reflect.DeepEqual(got.KeyConcepts, want) {
			t.Fatalf("Reconstruct(%q) = %#v, want %#v", text, got.KeyConcepts, want)
		}
	}
}

func TestReconstructSummaryWithEscapedQuote(t *testing.T) {
	got := Reconstruct(`{"summary": "say \"hi\" twice", "keyConcepts": [`)
	if got.Summary != `say "hi" twice` {
		t.Fatalf("unexpected summary %q", got.Summary)
	}
}

func TestReconstructSummaryInvalidEscapeKeepsRaw(t *testing.T) {
	got := Reconstruct(`{"summary": "bad \q escape"}`)
	if got.Summary != `bad \q escape` {
		t.Fatalf("expected raw capture, got %q", got.Summary)
	}
}

func TestReconstructNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"\x00\xff\xfe garbage",
		`{{{{`,
		`}}}]]]`,
		`"summary"`,
		`"summary":`,
		`"summary" "x"`,
		`{"keyConcepts":`,
		`{"keyConcepts": "not an array"}`,
		`{"questions":[[[[{"questionNumber":"1"}`,
		`{"questions":["a",{"questionNumber":"1"}]}`,
		`{"summary":"\`,
		strings.Repeat(`{"keyConcepts":[`, 50),
	}
	for _, in := range inputs {
		got := Reconstruct(in)
		if got.KeyConcepts == nil || got.Questions == nil {
			t.Fatalf("nil slices for input %q", in)
		}
	}
}

func TestSplitFragmentsKeepsRunes(t *testing.T) {
	text := `{"summary":"Grüße – π"}`
	parts := SplitFragments(text, 3)
	if strings.Join(parts, "") != text {
		t.Fatalf("fragments do not rejoin")
	}
	for _, p := range parts {
		if !utf8.ValidString(p) {
			t.Fatalf("fragment %q splits a rune", p)
		}
	}
}

func containsConcept(list []KeyConcept, c KeyConcept) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, c) {
			return true
		}
	}
	return false
}

func containsQuestion(list []QuestionAnalysis, q QuestionAnalysis) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, q) {
			return true
		}
	}
	return false
}
