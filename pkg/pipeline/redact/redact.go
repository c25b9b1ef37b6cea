package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(x-api-key|api[_-]?key|(?:gemini|openai|anthropic)[_-]?api[_-]?key)\b\s*[:=]\s*[^\s"'&]+`)

	// Query-string keys as used by the Gemini REST API.
	queryKeyRe = regexp.MustCompile(`([?&]key=)[^\s"'&]+`)

	// OpenAI / Anthropic style secret keys.
	skKeyRe = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = queryKeyRe.ReplaceAllString(out, "${1}<redacted>")
	out = skKeyRe.ReplaceAllString(out, "sk-<redacted>")
	return strings.TrimSpace(out)
}

// Truncate redacts s and caps it at max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	s = Secrets(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
