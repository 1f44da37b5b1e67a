package utils

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// CanonicalDNSName returns a DNS name in canonical form:
// - Trimmed of surrounding whitespace
// - Internationalized labels converted to their ASCII (punycode) form
// - Lowercased
// - No trailing root dot
//
// Names that fail IDNA conversion are kept as-is apart from case and dots; a
// candidate observed in DNS is never rejected here.
func CanonicalDNSName(name string) string {
	name = strings.TrimSpace(name)
	if !isASCII(name) {
		if ascii, err := idna.Lookup.ToASCII(name); err == nil {
			name = ascii
		}
	}
	name = strings.ToLower(name)
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
