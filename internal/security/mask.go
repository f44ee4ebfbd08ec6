// Package security masks credentials before they reach logs or audit entries.
package security

import (
	"regexp"
	"strings"
)

const redacted = "***REDACTED***"

// MaskToken shows only the first and last 4 characters of a token.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// sensitivePatterns match credentials that can show up in error text echoed back by the API.
var sensitivePatterns = []*regexp.Regexp{
	// Platform tokens and OAuth client ids: dt0s16.XXXX.YYYY, dt0c01.XXXX.YYYY
	regexp.MustCompile(`()\bdt0[a-z]\d{2}\.[A-Za-z0-9._-]+`),
	regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_.-]{20,})`),
	regexp.MustCompile(`(?i)(client_secret[=:]\s*["']?)([^"'\s&]+)`),
	regexp.MustCompile(`(?i)((?:secret|token|password)[=:]\s*["']?)([a-zA-Z0-9_.-]{16,})`),
}

// MaskSensitiveData replaces credential values in s, keeping their key names.
func MaskSensitiveData(s string) string {
	for _, pattern := range sensitivePatterns {
		s = pattern.ReplaceAllString(s, "${1}"+redacted)
	}
	return s
}

// MaskSensitiveHeaders returns the first value of each header with credentials redacted.
func MaskSensitiveHeaders(headers map[string][]string) map[string]string {
	masked := make(map[string]string, len(headers))
	for key, values := range headers {
		switch strings.ToLower(key) {
		case "authorization", "cookie", "set-cookie", "x-api-key":
			masked[key] = redacted
		default:
			if len(values) > 0 {
				masked[key] = values[0]
			}
		}
	}
	return masked
}
