package studyguide

import "encoding/json"

const (
	keySummary     = "summary"
	keyKeyConcepts = "keyConcepts"
	keyQuestions   = "questions"
)

// Reconstruct returns the most complete AnalysisResult derivable from text,
// the cumulative output of a model stream so far. It never fails: anything
// that cannot be parsed yet is left empty. Array entries appear only once
// their object is closed, and duplicates by identity key keep the first one.
func Reconstruct(text string) AnalysisResult {
	result := NewAnalysisResult()
	result.Summary = extractSummary(text)
	result.KeyConcepts = extractArray(text, keyKeyConcepts, func(c KeyConcept) string { return c.Name })
	result.Questions = extractArray(text, keyQuestions, func(q QuestionAnalysis) string { return q.QuestionNumber })
	return result.Normalize()
}

func extractSummary(text string) string {
	pos := valueStart(text, keySummary)
	if pos < 0 || text[pos] != '"' {
		return ""
	}
	raw, ok := scanString(text, pos+1)
	if !ok {
		return ""
	}
	return decodeString(raw)
}

// decodeString unescapes a raw JSON string body, keeping it verbatim when it is not valid JSON.
func decodeString(raw string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &out); err != nil {
		return raw
	}
	return out
}

func extractArray[T any](text, key string, identity func(T) string) []T {
	out := []T{}
	pos := valueStart(text, key)
	if pos < 0 || text[pos] != '[' {
		return out
	}

	if end := matchingBracket(text, pos); end >= 0 {
		// pointers so a null element can be told apart from an empty object
		var whole []*T
		if err := json.Unmarshal([]byte(stripTrailingComma(text[pos:end+1])), &whole); err == nil {
			items := make([]T, 0, len(whole))
			for _, item := range whole {
				if item != nil {
					items = append(items, *item)
				}
			}
			return dedupe(items, identity)
		}
	}

	seen := make(map[string]struct{})
	scanObjects(text, pos+1, func(obj string) {
		var item T
		if err := json.Unmarshal([]byte(obj), &item); err != nil {
			return
		}
		id := identity(item)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, item)
	})
	return out
}

func dedupe[T any](items []T, identity func(T) string) []T {
	out := make([]T, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		id := identity(item)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	return out
}
