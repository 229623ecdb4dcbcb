package studyguide

import "strings"

// skipSpace returns the first index at or after i that is not JSON whitespace.
func skipSpace(text string, i int) int {
	for i < len(text) {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// valueStart finds `"key"` followed by a colon and returns the index of the
// first non-space byte of its value. Occurrences not followed by a colon are
// skipped. Returns -1 when the key or its colon has not arrived yet.
func valueStart(text, key string) int {
	needle := `"` + key + `"`
	off := 0
	for {
		i := strings.Index(text[off:], needle)
		if i < 0 {
			return -1
		}
		off += i + len(needle)
		pos := skipSpace(text, off)
		if pos >= len(text) {
			return -1
		}
		if text[pos] != ':' {
			continue
		}
		pos = skipSpace(text, pos+1)
		if pos >= len(text) {
			return -1
		}
		return pos
	}
}

// scanString reads a JSON string body starting just after its opening quote.
// It returns the raw body (escapes intact) and false when the closing quote is missing.
func scanString(text string, start int) (string, bool) {
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case '"':
			return text[start:i], true
		}
	}
	return "", false
}

// matchingBracket returns the index of the ']' closing the array that opens at
// text[open], or -1 when the array is still open. Brackets and braces inside
// strings are ignored.
func matchingBracket(text string, open int) int {
	depth := 0
	inString := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				if c == ']' {
					return i
				}
				return -1
			}
		}
	}
	return -1
}

// scanObjects walks the array body from start and calls emit with every
// top-level object whose braces are balanced. Braces inside strings do not
// count. Scanning stops at a top-level ']' or at the end of the text; an
// unfinished trailing object is never emitted.
func scanObjects(text string, start int, emit func(obj string)) {
	depth := 0
	objStart := -1
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				objStart = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				emit(text[objStart : i+1])
				objStart = -1
			}
		case ']':
			if depth == 0 {
				return
			}
		}
	}
}

// stripTrailingComma removes a dangling comma right before the final ']'.
func stripTrailingComma(array string) string {
	end := len(array) - 1
	if end < 0 || array[end] != ']' {
		return array
	}
	j := end - 1
	for j >= 0 {
		switch array[j] {
		case ' ', '\t', '\n', '\r':
			j--
			continue
		}
		break
	}
	if j >= 0 && array[j] == ',' {
		return array[:j] + array[j+1:]
	}
	return array
}
