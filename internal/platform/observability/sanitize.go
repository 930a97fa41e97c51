package observability

import (
	"strings"
	"unicode"
)

// logSafe drops control characters and truncates to limit runes so header values cannot forge log lines.
func logSafe(value string, limit int) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		cleaned = string(runes[:limit])
	}
	return cleaned
}
