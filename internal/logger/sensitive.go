package logger

import (
	"net/url"
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// SensitiveDataPatterns contains regex patterns for secrets that must not reach log output
var SensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api[_-]?key|token|secret|passw(or)?d|key)[\s:=]+)([^;,&\s]{4,})`),
	regexp.MustCompile(`(sk-)([A-Za-z0-9_-]{8,})`),
}

var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey", "authorization",
}

// RedactSensitiveData replaces secrets in free text with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range SensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "${1}"+redactedValue)
	}
	return input
}

// RedactQuery returns the raw query with sensitive parameter values replaced.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return rawQuery
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return RedactSensitiveData(rawQuery)
	}
	for key := range values {
		if isSensitiveKey(key) || strings.EqualFold(key, "key") {
			values.Set(key, redactedValue)
		}
	}
	return values.Encode()
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
