package outbox

import (
	"regexp"
	"strings"
)

// Error messages land in the error_message column (varchar 500) and may carry
// broker or store errors that embed connection strings. Redact before storing.
const maxErrorLength = 500

const errorTruncatedSuffix = "... (truncated)"

const redactedValue = "[REDACTED]"

var sensitiveDataPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{
		pattern:     regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`),
		replacement: `$1:` + redactedValue + `@`,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(password|secret|token|api[-_ ]?key)\s*[:=]\s*([^\s,;&]+)`),
		replacement: `$1=` + redactedValue,
	},
}

func sanitizeErrorForStorage(err error) string {
	if err == nil {
		return ""
	}

	return SanitizeErrorMessageForStorage(err.Error())
}

// SanitizeErrorMessageForStorage redacts credential-shaped values and bounds
// the message length to fit the error_message column.
func SanitizeErrorMessageForStorage(msg string) string {
	redacted := strings.TrimSpace(msg)

	for _, matcher := range sensitiveDataPatterns {
		redacted = matcher.pattern.ReplaceAllString(redacted, matcher.replacement)
	}

	return truncateError(redacted, maxErrorLength, errorTruncatedSuffix)
}

func truncateError(msg string, maxRunes int, suffix string) string {
	runes := []rune(msg)
	if len(runes) <= maxRunes {
		return msg
	}

	suffixRunes := []rune(suffix)
	if maxRunes <= len(suffixRunes) {
		return string(runes[:maxRunes])
	}

	return string(runes[:maxRunes-len(suffixRunes)]) + suffix
}
