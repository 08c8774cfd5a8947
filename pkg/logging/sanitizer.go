package logging

import "regexp"

const (
	// MaxQueryLogLength caps how much query text a log line may carry.
	MaxQueryLogLength = 120
	// RedactedText replaces sensitive fragments.
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx key/value pairs in DSNs and error text
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host credentials embedded in connection URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// Basic auth headers from HTTP datasource errors
	basicAuthPattern = regexp.MustCompile(`(?i)basic\s+[A-Za-z0-9+/=]{8,}`)
)

// SanitizeConnectionString strips credentials from a connection string or URL
// so it can be logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError strips credentials from an error message. Driver errors often
// echo the full DSN back; never log them raw.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return basicAuthPattern.ReplaceAllString(sanitized, "Basic "+RedactedText)
}

// SanitizeQuery truncates query text for logging and strips key/value secrets.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	sanitized := query
	if len(sanitized) > MaxQueryLogLength {
		sanitized = sanitized[:MaxQueryLogLength] + "..."
	}
	return passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}
