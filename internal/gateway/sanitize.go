package gateway

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// safePattern is the allow-list of upstream error fragments that carry an
// actionable signal for the user. Anything else (stack traces, internal
// identifiers) collapses to the generic message.
var safePattern = regexp.MustCompile(`(?i)rate limit|quota|credits|unauthorized|invalid`)

// maxUpstreamMessageLen bounds passed-through upstream text.
const maxUpstreamMessageLen = 200

// SanitizeUpstream reduces a raw provider error body to something safe to
// surface: allow-listed messages pass through truncated, the rest is replaced.
func SanitizeUpstream(body string) string {
	body = strings.TrimSpace(body)
	if body == "" || !safePattern.MatchString(body) {
		return MsgGeneric
	}
	return truncate(body, maxUpstreamMessageLen)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}
