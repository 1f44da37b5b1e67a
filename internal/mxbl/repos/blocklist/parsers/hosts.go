package parsers

import (
	"bufio"
	"io"
	"net/netip"
	"strings"

	logpkg "github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/common/utils"
	"github.com/haukened/mxbl/internal/mxbl/domain"
)

// ParseHostsFile reads a hosts-format list, the layout most published
// sinkhole lists use:
//
//	0.0.0.0 spam.example mx.spam.example   # snowshoe sender
//
// Every host name after the address becomes a Domain entry. A trailing
// comment becomes the reason of the names on its line. Lines whose first
// field is not an address are skipped, as are wildcards, names starting
// with '.' and single-label names such as localhost. Names are
// de-duplicated in first-seen order.
func ParseHostsFile(r io.Reader, source string, logger logpkg.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]Entry, 0, 256)

	logger.Debug(map[string]any{"source": source}, "parse_hosts_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())
		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}

		body, reason := splitInlineComment(line)
		fields := strings.Fields(body)
		if len(fields) < 2 {
			logger.Debug(map[string]any{"line": lineNum}, "hosts_no_hostnames")
			continue
		}
		if _, err := netip.ParseAddr(fields[0]); err != nil {
			logger.Debug(map[string]any{"line": lineNum, "field": fields[0]}, "hosts_skip_no_address")
			continue
		}

		for _, raw := range fields[1:] {
			if name, ok := hostEntryName(raw); ok {
				if _, dup := seen[name]; dup {
					continue
				}
				p, err := domain.NewPattern(name, domain.PatternDomain)
				if err != nil {
					logger.Debug(map[string]any{"line": lineNum, "name": name, "error": err}, "hosts_skip_pattern_error")
					continue
				}
				seen[name] = struct{}{}
				out = append(out, Entry{Pattern: p, Reason: reason, Line: lineNum})
				continue
			}
			logger.Debug(map[string]any{"line": lineNum, "raw": raw}, "hosts_skip_invalid_name")
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err}, "parse_hosts_scan_error")
		return nil, err
	}

	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_hosts_done")
	return out, nil
}

// hostEntryName canonicalizes one host token, rejecting wildcards, leading
// dots and names that are not fully qualified.
func hostEntryName(raw string) (string, bool) {
	if strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
		return "", false
	}
	name := utils.CanonicalDNSName(raw)
	return name, isValidFQDN(name)
}
