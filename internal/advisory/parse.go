package advisory

import (
	"encoding/json"
	"strings"
)

// StripFences removes a surrounding Markdown code fence, with or without a
// language tag. Text without a leading fence is returned trimmed.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = s[3:]
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// ExtractJSON finds a JSON object or array in a model response. It tries a
// ```json fence, then any fence holding valid JSON, then the first balanced
// object or array in the raw text. It returns "" when nothing parses.
func ExtractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			if candidate := strings.TrimSpace(text[start : start+end]); isJSON(candidate) {
				return candidate
			}
		}
	}

	if stripped := StripFences(text); isJSON(stripped) {
		return stripped
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			if candidate := extractBalanced(text[i:]); candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isJSON(s string) bool {
	if s == "" {
		return false
	}
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced returns the balanced object or array at the start of s,
// honoring string literals and escapes.
func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}

	open := s[0]
	var closer byte
	switch open {
	case '{':
		closer = '}'
	case '[':
		closer = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// ParseYesNo reads a strict YES/NO answer. Only the first word counts,
// case-insensitive and ignoring trailing punctuation. ok is false for
// anything else.
func ParseYesNo(text string) (yes bool, ok bool) {
	fields := strings.Fields(StripFences(text))
	if len(fields) == 0 {
		return false, false
	}
	word := strings.ToUpper(strings.TrimRight(fields[0], ".,!:;"))
	switch word {
	case "YES":
		return true, true
	case "NO":
		return false, true
	}
	return false, false
}
