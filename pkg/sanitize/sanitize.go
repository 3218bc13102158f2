// Package sanitize cleans user-supplied free text before it is stored or
// echoed back to the other call party.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	scriptRegex = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRegex    = regexp.MustCompile(`<[^>]*>`)
	spaceRegex  = regexp.MustCompile(`\s+`)
)

// Text removes HTML tags and control characters and collapses runs of
// whitespace into one space
func Text(input string) string {
	input = scriptRegex.ReplaceAllString(input, "")
	input = tagRegex.ReplaceAllString(input, "")
	input = spaceRegex.ReplaceAllString(input, " ")
	return strings.TrimSpace(StripControlCharacters(input))
}

// OptionalText applies Text and maps a blank result to nil
func OptionalText(input *string) *string {
	if input == nil {
		return nil
	}
	out := Text(*input)
	if out == "" {
		return nil
	}
	return &out
}

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
