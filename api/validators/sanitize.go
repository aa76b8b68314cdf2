package validators

import (
	"strings"
	"unicode"
)

// SanitizeHeader trims a header value and drops control characters. Values
// longer than maxLen are returned untouched so validation can reject them;
// truncating would make two distinct keys collide.
func SanitizeHeader(value string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(value))
	if maxLen > 0 && len(cleaned) > maxLen {
		return value
	}
	return cleaned
}
