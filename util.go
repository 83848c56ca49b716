package docsig

import "strings"

const maskedSuffix = "****"

// maskSecret keeps at most the first four characters of s.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + maskedSuffix
}
