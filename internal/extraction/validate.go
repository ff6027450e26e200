package extraction

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Placeholder labels the extractor emits when it has nothing concrete.
var placeholderLabels = map[string]bool{
	"unknown":      true,
	"unnamed":      true,
	"n/a":          true,
	"na":           true,
	"none":         true,
	"entity":       true,
	"placeholder":  true,
	"unspecified":  true,
	"not provided": true,
	"tbd":          true,
	"redacted":     true,
}

// validLabel applies the per-type genericness rule: empty and
// placeholder-like names are rejected so the graph never accumulates
// entities nobody can act on.
func validLabel(typ EntityType, label string) bool {
	trimmed := strings.TrimSpace(label)
	if utf8.RuneCountInString(trimmed) < 2 {
		return false
	}
	lower := strings.ToLower(trimmed)
	if placeholderLabels[lower] {
		return false
	}
	// A label equal to its own type name says nothing.
	if lower == string(typ) {
		return false
	}
	if typ == TypePerson && isAllDigits(trimmed) {
		return false
	}
	return true
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != ' ' && r != '-' {
			return false
		}
	}
	return true
}

// labelOf pulls the primary display label out of a draft's properties,
// trying the conventional field names in order.
func labelOf(d EntityDraft) string {
	for _, key := range []string{"label", "name", "title", "full_name"} {
		if v, ok := d.Properties[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
