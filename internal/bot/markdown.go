package bot

import (
	"strings"
)

// Taken from https://core.telegram.org/bots/api#markdownv2-style.
const (
	mdV2SpecialChars = `._[](){}#|!+-=*~>` + "`"
	mdV2LinkChars    = `)\`
)

//nolint:gochecknoglobals // Lookup tables meant to be immutable.
var (
	mdV2Lookup     = newLookup(mdV2SpecialChars + `\`)
	mdV2LinkLookup = newLookup(mdV2LinkChars)
)

func newLookup(chars string) [256]bool {
	var m [256]bool
	for i := 0; i < len(chars); i++ {
		m[chars[i]] = true
	}
	return m
}

func escapeMarkdownV2(input string) string {
	return escapeWith(input, &mdV2Lookup)
}

// markdownV2Link renders an inline link. Inside the URL part only ')' and '\'
// are escaped.
func markdownV2Link(text string, url string) string {
	return "[" + escapeMarkdownV2(text) + "](" + escapeWith(url, &mdV2LinkLookup) + ")"
}

func escapeWith(input string, lookup *[256]bool) string {
	charsToEscape := 0

	for i := 0; i < len(input); i++ {
		if lookup[input[i]] {
			charsToEscape++
		}
	}

	if charsToEscape == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input) + charsToEscape)

	for i := 0; i < len(input); i++ {
		c := input[i]
		if lookup[c] {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}

	return b.String()
}
