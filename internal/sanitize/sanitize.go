package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxOutputLen is the maximum number of runes an answer may carry after
// sanitization. Longer text is truncated, not rejected.
const MaxOutputLen = 10000

// htmlPolicy strips all markup. StrictPolicy allows no elements and no
// attributes, so only the text content survives.
var htmlPolicy = bluemonday.StrictPolicy()

// maxStripPasses bounds the markup-stripping loop. Each pass removes one
// layer of entity encoding; real backend output never nests this deep.
const maxStripPasses = 8

// Sanitize normalizes raw backend text: HTML markup is removed, entities
// are decoded, control characters are dropped, whitespace runs collapse
// to a single space, and the result is trimmed and capped at
// MaxOutputLen runes. Sanitize never fails and is idempotent.
func Sanitize(raw string) string {
	s := stripMarkup(raw)
	s = stripControl(s)
	s = collapseWhitespace(s)
	s = truncateRunes(s, MaxOutputLen)
	// Truncation may cut between words and leave a trailing space.
	return strings.TrimSpace(s)
}

// stripMarkup removes markup until the text is stable. A single
// strip-then-decode pass is not enough: entity-encoded markup
// ("&lt;script&gt;") decodes into live markup that an earlier strip
// never saw, so the pass repeats until nothing changes.
func stripMarkup(s string) string {
	for i := 0; i < maxStripPasses; i++ {
		next := html.UnescapeString(htmlPolicy.Sanitize(s))
		if next == s {
			return s
		}
		s = next
	}
	return s
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
