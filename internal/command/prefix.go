package command

import "strings"

// SplitPrefix finds the first of prefixes that text starts with, compared
// case-insensitively against the raw text, and returns it together with the
// remaining body trimmed of surrounding whitespace. ok is false when no
// prefix applies; such text is not a command.
func SplitPrefix(text string, prefixes []string) (prefix, body string, ok bool) {
	for _, p := range prefixes {
		if p == "" || len(text) < len(p) {
			continue
		}
		if strings.EqualFold(text[:len(p)], p) {
			return p, strings.TrimSpace(text[len(p):]), true
		}
	}
	return "", "", false
}
