package loop

import "fmt"

// truncateResult applies head-and-tail truncation to an oversized tool
// result before it is folded into the conversation. The middle is replaced
// with a marker naming how much was removed; the step's Observation still
// records the full content.
func truncateResult(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	half := maxBytes / 2
	removed := len(s) - maxBytes
	return s[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool result was truncated. %d characters were removed from the middle.]\n\n", removed) +
		s[len(s)-half:]
}
