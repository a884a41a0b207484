// Package sanitize cleans user-supplied run names before they are stored.
// Names reach MCP clients, archive headers and listings, so control
// characters, markup tags and code fences are removed.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxNameLength is the maximum allowed length for run names, in runes.
const MaxNameLength = 80

var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	reBackticks  = regexp.MustCompile("`+")
	reWhitespace = regexp.MustCompile(`\s+`)

	// reRepeatedHyphens matches 2 or more consecutive hyphens.
	reRepeatedHyphens = regexp.MustCompile(`-{2,}`)
)

// RunName sanitizes a run name for storage and display:
//  1. Strip null bytes and control characters
//  2. Strip XML/HTML tags and backticks
//  3. Collapse whitespace runs to one space, and hyphen runs to one hyphen
//  4. Trim and truncate to MaxNameLength
func RunName(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reBackticks.ReplaceAllString(s, "")
	s = reWhitespace.ReplaceAllString(s, " ")
	s = reRepeatedHyphens.ReplaceAllString(s, "-")
	s = strings.TrimSpace(s)

	if r := []rune(s); len(r) > MaxNameLength {
		s = strings.TrimSpace(string(r[:MaxNameLength]))
	}
	return s
}

// stripControlChars removes ASCII control characters and DEL. Tabs and
// newlines become spaces.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteRune(' ')
		case r < 0x20 || r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
