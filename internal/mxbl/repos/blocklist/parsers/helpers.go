package parsers

import (
	"strings"
	"unicode"

	"github.com/haukened/mxbl/internal/mxbl/domain"
)

// Entry is one pattern read from an import list.
type Entry struct {
	Pattern domain.Pattern
	Reason  string // empty when the line carried none
	Line    int
}

// isValidFQDN checks whether the provided string is a usable host name:
//   - The total length must not exceed 255 characters.
//   - The name must contain at least two labels.
//   - Each label must be between 1 and 63 characters long.
//   - The first label must start with a letter or number.
func isValidFQDN(name string) bool {
	if len(name) > 255 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) > 63 || len(label) == 0 {
			return false
		}
	}
	first := []rune(labels[0])
	return isAlphaNumeric(first[0])
}

// isAlphaNumeric reports whether the given rune is a letter or digit.
func isAlphaNumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// stripLineBOM removes a UTF-8 byte order mark at the start of a line.
func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// classifyLine reports whether a line is blank or a whole-line comment.
func classifyLine(line string) (isEmpty, isComment bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true, false
	}
	return false, strings.HasPrefix(trimmed, "#")
}

// stripInlineComment drops a trailing "# ..." comment. The '#' must follow
// whitespace so that regex bodies containing '#' survive.
func stripInlineComment(line string) string {
	body, _ := splitInlineComment(line)
	return body
}

// splitInlineComment separates a line from its trailing comment text.
func splitInlineComment(line string) (body, comment string) {
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return line[:i], strings.TrimSpace(line[i+1:])
		}
	}
	return line, ""
}

// entryKey identifies an entry for de-duplication.
func entryKey(p domain.Pattern) string {
	return p.Kind().String() + "|" + p.String()
}
