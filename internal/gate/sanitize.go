package gate

import "strings"

// sanitize normalizes caller content: literal backslash-n sequences from
// double-encoded JSON bodies become real newlines, and surrounding
// whitespace is trimmed. Applying it twice yields the same result.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.TrimSpace(s)
}
