package flatten

import (
	"regexp"
	"strings"
)

var (
	separatorRuns = regexp.MustCompile(`[\s\-/]+`)
	leadingDashes = regexp.MustCompile(`^-+\s*`)
	lineBreaks    = regexp.MustCompile(`(<br\s*/?>|\\n|\r\n|[\r\n])+`)
	spaceRuns     = regexp.MustCompile(`  +`)
)

// Sanitize converts a vendor key into a legal column identifier: characters
// illegal in a column name (parentheses, plus signs) are removed, then every
// run of whitespace, hyphens or slashes becomes a single underscore.
// Sanitizing is idempotent: applying it to its own output changes nothing.
func Sanitize(key string) string {
	s := strings.NewReplacer("(", "", ")", "", "+", "").Replace(key)
	s = separatorRuns.ReplaceAllString(strings.TrimSpace(s), "_")
	return s
}

// ScrubText cleans a free-text value for the comma-delimited row-exchange
// format: leading dash runs and literal line-break markup are removed,
// backslash-escaped quotes are unescaped, and in-field commas become
// semicolons.
func ScrubText(s string) string {
	s = leadingDashes.ReplaceAllString(s, "")
	s = lineBreaks.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, ",", ";")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
