package jobs

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Elements whose entire subtree is removed from result content.
var blockedElements = map[string]bool{
	"script": true,
	"iframe": true,
	"object": true,
	"embed":  true,
}

var markdownLink = regexp.MustCompile(`(\[[^\]]*\]\()\s*([^)\s]+)([^)]*\))`)

// Sanitize rewrites result content so it is safe to render: script, iframe,
// object, and embed elements are removed, and javascript: or non-image data:
// targets in markdown and HTML links are neutralized. Content without any
// markup passes through byte-identical.
func Sanitize(content string) string {
	out := markdownLink.ReplaceAllStringFunc(content, func(m string) string {
		parts := markdownLink.FindStringSubmatch(m)
		if unsafeTarget(parts[2]) {
			return parts[1] + "#" + parts[3]
		}
		return m
	})
	if !strings.Contains(out, "<") {
		return out
	}
	return sanitizeHTML(out)
}

// unsafeTarget reports whether a link destination must be neutralized.
// data: URIs are allowed only for inline images.
func unsafeTarget(target string) bool {
	t := strings.ToLower(strings.TrimSpace(target))
	if strings.HasPrefix(t, "javascript:") {
		return true
	}
	if strings.HasPrefix(t, "data:") && !strings.HasPrefix(t, "data:image/") {
		return true
	}
	return false
}

// sanitizeHTML walks the token stream, copying raw bytes verbatim except for
// blocked elements (dropped with their contents) and unsafe link targets.
// Raw-byte copying keeps untouched content identical, entities included.
func sanitizeHTML(content string) string {
	z := html.NewTokenizer(strings.NewReader(content))
	var b strings.Builder
	skipDepth := 0
	var skipTag string

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := string(z.Raw())

		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipDepth > 0 {
				if tag == skipTag {
					skipDepth++
				}
				continue
			}
			if blockedElements[tag] {
				// embed is a void element: drop the tag alone, there is
				// no closing tag to wait for.
				if tag != "embed" {
					skipDepth = 1
					skipTag = tag
				}
				continue
			}
			b.WriteString(rewriteUnsafeHrefs(raw, tag))
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipDepth > 0 {
				if tag == skipTag {
					skipDepth--
				}
				continue
			}
			b.WriteString(raw)
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if skipDepth > 0 || blockedElements[string(name)] {
				continue
			}
			b.WriteString(rewriteUnsafeHrefs(raw, string(name)))
		default:
			if skipDepth > 0 {
				continue
			}
			b.WriteString(raw)
		}
	}
	return b.String()
}

var hrefAttr = regexp.MustCompile(`(?i)(href\s*=\s*)("([^"]*)"|'([^']*)')`)

// rewriteUnsafeHrefs neutralizes javascript:/non-image data: href values in
// a single raw tag. Tags without an offending href are returned unchanged.
func rewriteUnsafeHrefs(raw, tag string) string {
	if tag != "a" && tag != "area" {
		return raw
	}
	return hrefAttr.ReplaceAllStringFunc(raw, func(m string) string {
		parts := hrefAttr.FindStringSubmatch(m)
		val := parts[3]
		if val == "" {
			val = parts[4]
		}
		if unsafeTarget(val) {
			return parts[1] + `"#"`
		}
		return m
	})
}
