package logging

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(key|token|secret|password)[=:]["']?([a-zA-Z0-9+/=_-]{16,})["']?`),
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)

// Redact replaces credentials and email local parts in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return emailPattern.ReplaceAllString(result, "***@$1")
}

// RedactContent summarizes message content so bodies never reach the logs.
// Up to preview runes are kept; preview <= 0 keeps none.
func RedactContent(content string, preview int) string {
	n := utf8.RuneCountInString(content)
	if preview <= 0 || n == 0 {
		return fmt.Sprintf("[%d chars]", n)
	}
	if n <= preview {
		return Redact(content)
	}
	runes := []rune(content)
	return Redact(string(runes[:preview])) + fmt.Sprintf("... [%d chars]", n)
}

// RedactDSN strips user info and query parameters from a database DSN.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		if i := strings.IndexByte(dsn, '?'); i >= 0 {
			return dsn[:i]
		}
		return dsn
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	u.RawQuery = ""
	return u.String()
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}

// RedactMap redacts sensitive fields in a settings map, recursing into nested maps.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveField(k):
			result[k] = RedactedValue
		default:
			switch typed := v.(type) {
			case map[string]any:
				result[k] = RedactMap(typed)
			case string:
				result[k] = Redact(typed)
			default:
				result[k] = v
			}
		}
	}
	return result
}
