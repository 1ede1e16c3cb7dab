// Package prompt implements the request-side text pipeline: injection
// scrubbing, metric filtering and quantization, task complexity scoring,
// prompt optimization, and the short-lived response cache.
package prompt

import "regexp"

// Redacted replaces every matched injection pattern. The token matches none
// of the patterns itself, so Sanitize is idempotent.
const Redacted = "[REDACTED_UNSAFE_PATTERN]"

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)output\s+(all\s+)?(api\s+)?keys`),
	regexp.MustCompile(`(?i)execute\s+code`),
	regexp.MustCompile(`(?i)<script>`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)disregard\s+`),
}

// Sanitize scrubs prompt-injection patterns from s, returning the cleaned
// string and the number of redactions made.
func Sanitize(s string) (string, int) {
	hits := 0
	for _, re := range unsafePatterns {
		s = re.ReplaceAllStringFunc(s, func(string) string {
			hits++
			return Redacted
		})
	}
	return s, hits
}

// SanitizeValue recursively scrubs every string reachable from v. Maps and
// slices are rebuilt; everything else passes through unchanged. Returns the
// sanitized value and the total redaction count.
func SanitizeValue(v any) (any, int) {
	switch t := v.(type) {
	case string:
		return Sanitize(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		hits := 0
		for k, val := range t {
			clean, n := SanitizeValue(val)
			out[k] = clean
			hits += n
		}
		return out, hits
	case []any:
		out := make([]any, len(t))
		hits := 0
		for i, val := range t {
			clean, n := SanitizeValue(val)
			out[i] = clean
			hits += n
		}
		return out, hits
	default:
		return v, 0
	}
}
