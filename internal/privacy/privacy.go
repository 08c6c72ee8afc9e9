// Package privacy redacts credentials and query strings from URLs and free-form
// messages before they reach logs or telemetry.
package privacy

import (
	"net/url"
	"regexp"
	"strings"
)

// Redaction markers
const (
	Redacted       = "[REDACTED]"
	APIKeyRedacted = "[API_KEY_REDACTED]"
	InvalidURL     = "[INVALID_URL]"
)

var (
	urlPattern = regexp.MustCompile(`\b(?:https?|mqtts?|tcp|ssl|wss?)://[^\s"'<>]+`)

	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api[_-]?key[=:]\s*\S+`),
		regexp.MustCompile(`(?i)(?:token|password|secret)[=:]\s*\S+`),
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
		regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`),
		regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
	}
)

// RedactURL drops user info and fragment, and replaces the query string with a
// marker. Scheme, host and path are kept.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return InvalidURL
	}
	if u.Scheme == "" || u.Host == "" {
		// not absolute; only the query can carry secrets
		path, _, hasQuery := strings.Cut(rawURL, "?")
		if hasQuery {
			return path + "?" + Redacted
		}
		return path
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" || u.ForceQuery {
		b.WriteString("?")
		b.WriteString(Redacted)
	}
	return b.String()
}

// ScrubMessage redacts every URL found in message and masks API keys, tokens
// and long hex strings.
func ScrubMessage(message string) string {
	scrubbed := urlPattern.ReplaceAllStringFunc(message, RedactURL)
	for _, re := range secretPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, APIKeyRedacted)
	}
	return scrubbed
}
