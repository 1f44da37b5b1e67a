package parsers

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/domain"
)

// ParsePlainList parses a newline-delimited list of patterns, one per line,
// optionally followed by a free-text reason:
//
//	%*.throwaway.example%   disposable mail provider
//	/^mx[0-9]+\.spam\./
//	198.51.100.0/24 [cidr]  bulletproof hoster
//
// Behavior:
// - Supports comments starting with '#' (whole-line, or inline after whitespace)
// - Patterns are classified exactly like operator input (see domain.ParsePattern)
// - Lines whose pattern does not parse are skipped and logged
// - De-duplicates by kind and canonical pattern while preserving first-seen order
func ParsePlainList(r io.Reader, source string, logger logpkg.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]Entry, 0, 256)
	logger.Debug(map[string]any{"source": source}, "parse_plain_list_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}

		fields := strings.Fields(stripInlineComment(line))
		if len(fields) == 0 {
			continue
		}
		text, rest := fields[0], fields[1:]
		// keep the annotation that Render appends
		if len(rest) > 0 && (rest[0] == "[cidr]" || rest[0] == "[ip]") {
			text += " " + rest[0]
			rest = rest[1:]
		}

		p, err := domain.ParsePattern(text)
		if err != nil {
			logger.Debug(map[string]any{"line": lineNum, "raw": text, "error": err}, "skip_invalid_pattern")
			continue
		}

		key := entryKey(p)
		if _, ok := seen[key]; ok {
			logger.Debug(map[string]any{"line": lineNum, "pattern": p.Render()}, "skip_duplicate")
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Entry{Pattern: p, Reason: strings.Join(rest, " "), Line: lineNum})
		logger.Debug(map[string]any{"line": lineNum, "pattern": p.Render(), "kind": p.Kind().String()}, "emit_entry")
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err}, "parse_plain_list_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_plain_list_done")
	return out, nil
}
