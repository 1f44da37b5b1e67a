package admin

import (
	"context"
	"fmt"
	"io"

	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist/parsers"
)

// Import formats.
const (
	FormatPlain = "plain"
	FormatHosts = "hosts"
)

// ImportResult summarises a bulk import.
type ImportResult struct {
	Added   []domain.Rule
	Skipped int // entries equivalent to a rule already stored
}

// Import reads a list in the given format and adds every entry not already
// present. Entries without their own reason get defaultReason.
func (s *Service) Import(ctx context.Context, r io.Reader, format, source, defaultReason, addedBy string) (ImportResult, error) {
	var (
		entries []parsers.Entry
		err     error
	)
	switch format {
	case FormatPlain, "":
		entries, err = parsers.ParsePlainList(r, source, s.logger)
	case FormatHosts:
		entries, err = parsers.ParseHostsFile(r, source, s.logger)
	default:
		return ImportResult{}, invalid("unknown import format %q", format)
	}
	if err != nil {
		return ImportResult{}, fmt.Errorf("parse %s: %w", source, err)
	}

	existing, err := s.store.ListRules(ctx, true)
	if err != nil {
		return ImportResult{}, err
	}

	var (
		res     ImportResult
		pending []domain.Pattern
	)
	// The cache is swept once for everything stored, even when a later
	// entry fails.
	defer func() { s.invalidate(ctx, pending...) }()

	for _, e := range entries {
		if containsEquivalent(existing, e.Pattern) {
			res.Skipped++
			continue
		}
		reason := e.Reason
		if reason == "" {
			reason = defaultReason
		}
		rule, err := s.storePattern(ctx, e.Pattern, reason, addedBy)
		if err != nil {
			return res, fmt.Errorf("%s line %d: %w", source, e.Line, err)
		}
		existing = append(existing, rule)
		pending = append(pending, rule.Pattern)
		res.Added = append(res.Added, rule)
	}
	s.logger.Info(map[string]any{"source": source, "added": len(res.Added), "skipped": res.Skipped}, "import finished")
	return res, nil
}

func containsEquivalent(rules []domain.Rule, p domain.Pattern) bool {
	for _, r := range rules {
		if domain.EquivalentPatterns(r.Pattern, p) {
			return true
		}
	}
	return false
}
