package render

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)
	policy = bluemonday.UGCPolicy()
)

// Markdown renders model or user text to HTML safe for direct insertion into a page.
// Raw HTML in the input is dropped by goldmark and anything left is sanitized.
func Markdown(text string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return policy.Sanitize(text)
	}
	return strings.TrimSpace(policy.Sanitize(buf.String()))
}
