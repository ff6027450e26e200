package jobs

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Field names the service has been observed to put answer content under,
// in priority order. Keep this list explicit; ExtractContent tries each name
// at the top level, then inside conventional wrapper objects, then falls
// back to the only sufficiently long string field.
var contentFields = []string{"answer", "response", "content", "result", "text", "output", "summary"}

var wrapperFields = []string{"data", "payload"}

// minFallbackLen is the threshold for the long-string-field heuristic.
const minFallbackLen = 40

// ExtractContent pulls the answer text out of a raw result payload. Plain
// non-JSON bodies are returned as-is.
func ExtractContent(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		// Not a JSON object; could still be a bare JSON string.
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return s
		}
		return trimmed
	}

	if s, ok := findNamedField(obj); ok {
		return s
	}
	for _, wrap := range wrapperFields {
		inner, ok := obj[wrap]
		if !ok {
			continue
		}
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err != nil {
			continue
		}
		if s, ok := findNamedField(nested); ok {
			return s
		}
	}

	return longestStringField(obj)
}

func findNamedField(obj map[string]json.RawMessage) (string, bool) {
	for _, name := range contentFields {
		raw, ok := obj[name]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, true
		}
	}
	return "", false
}

// longestStringField returns the single longest string value in obj, provided
// it clears the fallback threshold. Rune count, not bytes: payloads are
// frequently non-ASCII.
func longestStringField(obj map[string]json.RawMessage) string {
	var best string
	for _, raw := range obj {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if utf8.RuneCountInString(s) > utf8.RuneCountInString(best) {
			best = s
		}
	}
	if utf8.RuneCountInString(best) < minFallbackLen {
		return ""
	}
	return best
}
