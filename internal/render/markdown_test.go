package render

import (
	"strings"
	"testing"
)

func TestMarkdownBasics(t *testing.T) {
	out := Markdown("Total is **100** and `x := 1`.\n\n- one\n- two")
	for _, want := range []string{"<strong>100</strong>", "<code>x := 1</code>", "<li>one</li>", "<ul>", "<p>"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered output missing %q: %s", want, out)
		}
	}
}

func TestMarkdownStripsScripts(t *testing.T) {
	out := Markdown("hello <script>alert(1)</script> [x](javascript:alert(1))")
	if strings.Contains(out, "<script") {
		t.Fatalf("script survived sanitization: %s", out)
	}
	if strings.Contains(out, "javascript:") {
		t.Fatalf("javascript link survived sanitization: %s", out)
	}
}
