package util

import "fmt"

// TruncateForLog shortens s to max runes for log fields, noting how much was cut
func TruncateForLog(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return fmt.Sprintf("%s...(+%d chars)", string(runes[:max]), len(runes)-max)
}
