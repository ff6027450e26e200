package jobs

import (
	"strings"
	"testing"
)

func TestSanitize_OrdinaryMarkdownUntouched(t *testing.T) {
	in := "# Findings\n\nThe subject was seen near **Dock 4** ([map](https://maps.example/d4)).\n\n- item one\n- item two\n"
	if got := Sanitize(in); got != in {
		t.Errorf("ordinary markdown was modified:\n got: %q\nwant: %q", got, in)
	}
}

func TestSanitize_StripsScript(t *testing.T) {
	in := "before <script>alert(1)</script> after"
	got := Sanitize(in)
	if strings.Contains(got, "script") || strings.Contains(got, "alert") {
		t.Errorf("script survived: %q", got)
	}
	if !strings.Contains(got, "before ") || !strings.Contains(got, " after") {
		t.Errorf("surrounding text lost: %q", got)
	}
}

func TestSanitize_StripsEmbeddedElements(t *testing.T) {
	for _, in := range []string{
		`x <iframe src="https://evil.example"></iframe> y`,
		`x <object data="movie.swf"><param name="a" value="b"></object> y`,
		`x <embed src="evil.swf"> y`,
	} {
		got := Sanitize(in)
		for _, bad := range []string{"iframe", "object", "embed", "evil", "swf"} {
			if strings.Contains(got, bad) {
				t.Errorf("Sanitize(%q) kept %q: %q", in, bad, got)
			}
		}
	}
}

func TestSanitize_NeutralizesMarkdownJavascriptLink(t *testing.T) {
	in := "click [here](javascript:evil()) now"
	got := Sanitize(in)
	if strings.Contains(got, "javascript:") {
		t.Errorf("javascript: target survived: %q", got)
	}
	if !strings.Contains(got, "[here](#)") {
		t.Errorf("link target not neutralized to #: %q", got)
	}
}

func TestSanitize_DataURIs(t *testing.T) {
	img := "![pic](data:image/png;base64,AAAA)"
	if got := Sanitize(img); got != img {
		t.Errorf("image data URI should be kept: %q", got)
	}
	html := `see [doc](data:text/html;base64,PHNjcmlwdD4=)`
	got := Sanitize(html)
	if strings.Contains(got, "data:text/html") {
		t.Errorf("non-image data URI survived: %q", got)
	}
}

func TestSanitize_HTMLHref(t *testing.T) {
	in := `<p>go <a href="javascript:steal()">here</a> or <a href="https://ok.example">there</a></p>`
	got := Sanitize(in)
	if strings.Contains(got, "javascript:") {
		t.Errorf("html javascript href survived: %q", got)
	}
	if !strings.Contains(got, `https://ok.example`) {
		t.Errorf("legitimate href lost: %q", got)
	}
}

func TestSanitize_ScriptAndLinkTogether(t *testing.T) {
	in := "<script>alert(1)</script> plus [link](javascript:evil())"
	got := Sanitize(in)
	if strings.Contains(got, "alert") || strings.Contains(got, "javascript:") {
		t.Errorf("unsafe content survived: %q", got)
	}
}
