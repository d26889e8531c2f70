package agent

import "unicode/utf8"

// ClipText bounds s to at most limit bytes and appends marker when anything
// was cut. The cut point backs up to a rune boundary so a multi-byte
// character is never split.
func ClipText(s string, limit int, marker string) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}
