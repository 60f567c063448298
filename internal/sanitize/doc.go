// Package sanitize normalizes and redacts answer text returned by the
// search backend before it is shown to MCP clients.
//
// Processing happens in two stages:
//
//   - Sanitize strips HTML markup and control characters, collapses
//     whitespace runs and caps the length. It is a total function: any
//     input string produces a valid output, and applying it twice yields
//     the same result.
//   - Redact replaces sensitive-looking substrings (national IDs, card
//     numbers, phone numbers, email addresses) with a fixed placeholder
//     and reports which categories were hit. A cheap structural
//     pre-filter skips the pattern scan entirely for clearly clean text;
//     the pre-filter is allowed false positives but never false
//     negatives relative to the full pattern set.
//
// Only category names ever leave this package; matched content is
// replaced in place and never logged.
package sanitize
