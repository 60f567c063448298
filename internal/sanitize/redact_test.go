package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantText   string
		categories []string
	}{
		{
			name:     "clean text unchanged",
			input:    "goroutines are cheap",
			wantText: "goroutines are cheap",
		},
		{
			name:       "phone number",
			input:      "call me at 555-123-4567 for details",
			wantText:   "call me at [REDACTED] for details",
			categories: []string{"phone"},
		},
		{
			name:       "phone with area code parens",
			input:      "support: (555) 123-4567",
			wantText:   "support: [REDACTED]",
			categories: []string{"phone"},
		},
		{
			name:       "email address",
			input:      "contact admin@example.com today",
			wantText:   "contact [REDACTED] today",
			categories: []string{"email"},
		},
		{
			name:       "social security number",
			input:      "ssn 123-45-6789 on file",
			wantText:   "ssn [REDACTED] on file",
			categories: []string{"ssn"},
		},
		{
			name:       "card number spaced",
			input:      "pay with 4111 1111 1111 1111 please",
			wantText:   "pay with [REDACTED] please",
			categories: []string{"card"},
		},
		{
			name:       "card number dashed",
			input:      "4111-1111-1111-1111",
			wantText:   "[REDACTED]",
			categories: []string{"card"},
		},
		{
			name:       "multiple categories in order",
			input:      "email bob@test.io or dial 555-123-4567",
			wantText:   "email [REDACTED] or dial [REDACTED]",
			categories: []string{"phone", "email"},
		},
		{
			name:       "repeated matches single category entry",
			input:      "a@x.com and b@y.com",
			wantText:   "[REDACTED] and [REDACTED]",
			categories: []string{"email"},
		},
		{
			name:     "version numbers untouched",
			input:    "upgrade from 1.2.3 to 1.2.4",
			wantText: "upgrade from 1.2.3 to 1.2.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.input)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.categories, got.Categories)
		})
	}
}

// Every category pattern match must also trip the pre-filter, otherwise
// the fast path would skip real PII.
func TestHasPotentialPIICoversPatterns(t *testing.T) {
	samples := map[string]string{
		"ssn":          "123-45-6789",
		"card spaced":  "4111 1111 1111 1111",
		"card dashed":  "4111-1111-1111-1111",
		"phone dashed": "555-123-4567",
		"phone dotted": "555.123.4567",
		"phone parens": "(555) 123-4567",
		"phone with 1": "+1 555 123 4567",
		"email":        "user@example.com",
	}
	for name, s := range samples {
		assert.True(t, HasPotentialPII(s), "%s: %q must trip the pre-filter", name, s)
	}
}

func TestHasPotentialPIISkipsCleanText(t *testing.T) {
	for _, s := range []string{
		"",
		"plain prose about channels",
		"version 1.2.3 released",
	} {
		assert.False(t, HasPotentialPII(s), "%q", s)
	}
}

func TestRedactNeverLeaksMatchedContent(t *testing.T) {
	got := Redact("reach me at secret.person@example.com")
	require.NotContains(t, got.Text, "secret.person")
	for _, c := range got.Categories {
		assert.NotContains(t, c, "@")
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("a useful answer"))

	err := Validate("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutputValidation)

	err = Validate("   \n\t ")
	assert.ErrorIs(t, err, ErrOutputValidation)

	err = Validate(strings.Repeat("a", MaxOutputLen+1))
	assert.ErrorIs(t, err, ErrOutputValidation)
}
