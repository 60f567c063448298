package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Placeholder replaces every redacted span. The original content is
// discarded and never appears in logs or metrics.
const Placeholder = "[REDACTED]"

// ErrOutputValidation reports answer text that failed the post-redaction
// checks and must not be delivered.
var ErrOutputValidation = errors.New("output validation failed")

// Result carries redacted text plus the categories that matched, in
// redaction order. Categories lists names only, never matched content.
type Result struct {
	Text       string
	Categories []string
}

// category order matters: more specific patterns run first so a card
// number is not partially consumed by the phone pattern.
type category struct {
	name    string
	pattern *regexp.Regexp
}

var categories = []category{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"card", regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{1,4}\b`)},
	{"phone", regexp.MustCompile(`(?:\+?1[ .-]?)?(?:\(\d{3}\)|\b\d{3})[ .-]\d{3}[ .-]\d{4}\b`)},
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
}

// HasPotentialPII is a cheap structural pre-filter for the full pattern
// scan. It triggers on any '@', more than one dash, or ten or more
// digits. It may report false positives but never misses text that one
// of the category patterns would match.
func HasPotentialPII(clean string) bool {
	if strings.Count(clean, "@") > 0 {
		return true
	}
	if strings.Count(clean, "-") > 1 {
		return true
	}
	digits := 0
	for _, r := range clean {
		if r >= '0' && r <= '9' {
			digits++
			if digits >= 10 {
				return true
			}
		}
	}
	return false
}

// Redact replaces every match of the category patterns with Placeholder
// and reports which categories were hit. Text without PII indicators is
// returned unchanged without running the patterns.
func Redact(clean string) Result {
	if !HasPotentialPII(clean) {
		return Result{Text: clean}
	}
	text := clean
	var hit []string
	for _, c := range categories {
		if !c.pattern.MatchString(text) {
			continue
		}
		text = c.pattern.ReplaceAllString(text, Placeholder)
		hit = append(hit, c.name)
	}
	return Result{Text: text, Categories: hit}
}

// Validate rejects answer text that is empty (or whitespace only) or
// exceeds MaxOutputLen runes. Sanitized text always passes the length
// check; the empty check catches answers that were nothing but markup.
func Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty answer", ErrOutputValidation)
	}
	if len([]rune(text)) > MaxOutputLen {
		return fmt.Errorf("%w: answer exceeds %d characters", ErrOutputValidation, MaxOutputLen)
	}
	return nil
}
