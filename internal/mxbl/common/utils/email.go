package utils

import "strings"

// DomainFromEmail returns the part after the last '@' of an address, or the
// input unchanged when it has none, so callers may pass either a bare domain
// or a full address. Trailing ')' left over from service notices is dropped.
func DomainFromEmail(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimRight(s, ")")
}
