// Package cleanse strips templating and markup noise from extracted content.
package cleanse

import (
	"regexp"
	"strings"
)

var (
	templateTokenRe = regexp.MustCompile(`\{%[^%]*%\}`)
	htmlTagRe       = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// Clean normalizes a raw content string. Templated {%...%} tokens and
// HTML-like tags become single spaces, whitespace runs collapse, and the
// result is trimmed. Returns "" when nothing survives.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	out := templateTokenRe.ReplaceAllString(text, " ")
	out = htmlTagRe.ReplaceAllString(out, " ")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// IsEmpty reports whether the cleansed form of text carries no content.
// Items with empty cleansed content are skipped by the pipeline.
func IsEmpty(text string) bool {
	return Clean(text) == ""
}
