package studyguide

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Importance ranks a key concept. Values outside the known set are kept as-is.
type Importance string

const (
	ImportanceHigh   Importance = "High"
	ImportanceMedium Importance = "Medium"
	ImportanceLow    Importance = "Low"
)

// AnalysisResult is the study guide reconstructed from a model stream.
type AnalysisResult struct {
	Summary     string             `json:"summary"`
	KeyConcepts []KeyConcept       `json:"keyConcepts"`
	Questions   []QuestionAnalysis `json:"questions"`
}

// KeyConcept is identified by Name.
type KeyConcept struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Importance  Importance `json:"importance"`
}

// QuestionAnalysis is identified by QuestionNumber.
type QuestionAnalysis struct {
	QuestionNumber   string   `json:"questionNumber"`
	QuestionText     string   `json:"questionText"`
	MainTopic        string   `json:"mainTopic"`
	Marks            float64  `json:"marks"`
	Difficulty       string   `json:"difficulty"`
	CorrectAnswer    string   `json:"correctAnswer"`
	SimilarQuestions []string `json:"similarQuestions"`
}

// UnmarshalJSON accepts questionNumber and marks as either strings or
// numbers. Marks that do not parse as a number decode to zero.
func (q *QuestionAnalysis) UnmarshalJSON(data []byte) error {
	type plain QuestionAnalysis
	var raw struct {
		plain
		QuestionNumber json.RawMessage `json:"questionNumber"`
		Marks          json.RawMessage `json:"marks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	number, err := looseString(raw.QuestionNumber)
	if err != nil {
		return fmt.Errorf("questionNumber: %w", err)
	}
	marks, err := looseNumber(raw.Marks)
	if err != nil {
		return fmt.Errorf("marks: %w", err)
	}
	*q = QuestionAnalysis(raw.plain)
	q.QuestionNumber = number
	q.Marks = marks
	return nil
}

var errNotScalar = errors.New("want a string or a number")

func looseString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case '{', '[', 't', 'f':
		return "", errNotScalar
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func looseNumber(raw json.RawMessage) (float64, error) {
	s, err := looseString(raw)
	if err != nil || s == "" {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, nil
	}
	return f, nil
}

// HistoryEntry is an archived, completed study guide. Date is unix milliseconds.
type HistoryEntry struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Date           int64          `json:"date"`
	AnalysisResult AnalysisResult `json:"analysisResult"`
}

// NewAnalysisResult returns the empty result. Callers never see nil slices.
func NewAnalysisResult() AnalysisResult {
	return AnalysisResult{
		KeyConcepts: []KeyConcept{},
		Questions:   []QuestionAnalysis{},
	}
}

// Normalize fills nil slices so the result always serializes with every field present.
func (r AnalysisResult) Normalize() AnalysisResult {
	if r.KeyConcepts == nil {
		r.KeyConcepts = []KeyConcept{}
	}
	if r.Questions == nil {
		r.Questions = []QuestionAnalysis{}
	}
	for i := range r.Questions {
		if r.Questions[i].SimilarQuestions == nil {
			r.Questions[i].SimilarQuestions = []string{}
		}
	}
	return r
}

// Clone returns a deep copy.
func (r AnalysisResult) Clone() AnalysisResult {
	out := AnalysisResult{
		Summary:     r.Summary,
		KeyConcepts: append([]KeyConcept{}, r.KeyConcepts...),
		Questions:   make([]QuestionAnalysis, len(r.Questions)),
	}
	for i, q := range r.Questions {
		q.SimilarQuestions = append([]string{}, q.SimilarQuestions...)
		out.Questions[i] = q
	}
	return out
}

// IsEmpty reports whether nothing has been reconstructed yet.
func (r AnalysisResult) IsEmpty() bool {
	return r.Summary == "" && len(r.KeyConcepts) == 0 && len(r.Questions) == 0
}

// Title derives a short history title from the result.
func (r AnalysisResult) Title() string {
	if len(r.Questions) > 0 && r.Questions[0].MainTopic != "" {
		return truncateTitle(r.Questions[0].MainTopic)
	}
	if len(r.KeyConcepts) > 0 && r.KeyConcepts[0].Name != "" {
		return truncateTitle(r.KeyConcepts[0].Name)
	}
	if r.Summary != "" {
		return truncateTitle(r.Summary)
	}
	return "Untitled analysis"
}

const maxTitleRunes = 60

func truncateTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxTitleRunes {
		return s
	}
	return string(runes[:maxTitleRunes-3]) + "..."
}
