// Package admin implements the operator operations over the blocklist and the
// handling of account events.
package admin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/haukened/mxbl/internal/mxbl/common/clock"
	"github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/common/utils"
	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
)

var (
	// ErrInvalidInput marks operator input the service refuses.
	ErrInvalidInput = errors.New("invalid input")
)

// Service exposes the operator commands. Settings are held as an explicit
// snapshot, loaded by ReloadSettings and replaced by SetSetting.
type Service struct {
	store    blocklist.Store
	checker  Checker
	cache    blocklist.DecisionCache
	enforcer Enforcer
	clock    clock.Clock
	logger   log.Logger
	operator string

	mu       sync.RWMutex
	settings domain.Settings

	handlers map[domain.EventKind][]EventHandler
}

// Options configures a Service.
type Options struct {
	Store    blocklist.Store
	Checker  Checker
	Cache    blocklist.DecisionCache
	Enforcer Enforcer
	Clock    clock.Clock
	Logger   log.Logger
	// Operator is recorded as added_by when a caller supplies none.
	Operator string
}

// New builds a Service with empty settings; call ReloadSettings before use.
func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	s := &Service{
		store:    opts.Store,
		checker:  opts.Checker,
		cache:    opts.Cache,
		enforcer: opts.Enforcer,
		clock:    opts.Clock,
		logger:   opts.Logger.Named("admin"),
		operator: opts.Operator,
		settings: domain.NewSettings(nil),
	}
	s.handlers = s.buildHandlers()
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Add stores a new active rule and evicts cached clean domains it now matches.
func (s *Service) Add(ctx context.Context, text, reason, addedBy string) (domain.Rule, error) {
	p, err := domain.ParsePattern(text)
	if err != nil {
		return domain.Rule{}, err
	}
	return s.addPattern(ctx, p, reason, addedBy)
}

func (s *Service) addPattern(ctx context.Context, p domain.Pattern, reason, addedBy string) (domain.Rule, error) {
	r, err := s.storePattern(ctx, p, reason, addedBy)
	if err != nil {
		return domain.Rule{}, err
	}
	s.invalidate(ctx, p)
	return r, nil
}

// storePattern saves a new active rule without touching the cache.
func (s *Service) storePattern(ctx context.Context, p domain.Pattern, reason, addedBy string) (domain.Rule, error) {
	if strings.TrimSpace(addedBy) == "" {
		addedBy = s.operator
	}
	r, err := domain.NewRule(p, reason, addedBy, s.clock.Now())
	if err != nil {
		return domain.Rule{}, invalid("%v", err)
	}
	r, err = s.store.AddRule(ctx, r)
	if err != nil {
		return domain.Rule{}, err
	}
	s.logger.Info(map[string]any{"rule": r.ID, "pattern": p.Render(), "reason": r.Reason, "by": r.AddedBy}, "rule added")
	return r, nil
}

// Delete removes a rule. Removing a rule cannot make a clean domain unclean,
// so the cache is left alone.
func (s *Service) Delete(ctx context.Context, id int64) (domain.Rule, error) {
	r, err := s.store.DeleteRule(ctx, id)
	if err != nil {
		return domain.Rule{}, err
	}
	s.logger.Info(map[string]any{"rule": r.ID, "pattern": r.Pattern.Render(), "reason": r.Reason}, "rule deleted")
	return r, nil
}

// Get returns one rule.
func (s *Service) Get(ctx context.Context, id int64) (domain.Rule, error) {
	return s.store.GetRule(ctx, id)
}

// List returns rules by ascending id. A limit of zero means no limit.
func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.Rule, error) {
	if limit < 0 {
		return nil, invalid("limit must be >= 0")
	}
	if offset < 0 {
		return nil, invalid("offset must be >= 0")
	}
	if limit > 0 {
		return s.store.ListPage(ctx, limit, offset)
	}
	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(rules, func(a, b domain.Rule) int { return cmpID(a.ID, b.ID) })
	if offset >= len(rules) {
		return nil, nil
	}
	return rules[offset:], nil
}

// Search returns rules whose rendered pattern or reason matches the glob
// query, case-insensitively, by ascending id.
func (s *Service) Search(ctx context.Context, query string) ([]domain.Rule, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, invalid("search query must not be empty")
	}
	g, err := glob.Compile(query)
	if err != nil {
		return nil, invalid("bad search query %q: %v", query, err)
	}
	rules, err := s.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	var out []domain.Rule
	for _, r := range rules {
		if g.Match(strings.ToLower(r.Pattern.Render())) || g.Match(strings.ToLower(r.Reason)) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Toggle flips a rule between ACTIVE and WARN.
func (s *Service) Toggle(ctx context.Context, id int64) (domain.Rule, error) {
	r, err := s.store.ToggleRule(ctx, id)
	if err != nil {
		return domain.Rule{}, err
	}
	old := domain.Rule{Active: !r.Active}.Mode()
	s.logger.Info(map[string]any{"rule": r.ID, "pattern": r.Pattern.Render(), "from": old, "to": r.Mode()}, "rule toggled")
	return r, nil
}

// EditPattern replaces a rule's pattern and evicts cached clean domains the
// new pattern matches.
func (s *Service) EditPattern(ctx context.Context, id int64, text string) (domain.Rule, error) {
	p, err := domain.ParsePattern(text)
	if err != nil {
		return domain.Rule{}, err
	}
	r, err := s.store.EditPattern(ctx, id, p)
	if err != nil {
		return domain.Rule{}, err
	}
	s.logger.Info(map[string]any{"rule": r.ID, "pattern": p.Render()}, "rule pattern updated")
	s.invalidate(ctx, p)
	return r, nil
}

// EditReason replaces a rule's reason.
func (s *Service) EditReason(ctx context.Context, id int64, reason string) (domain.Rule, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Rule{}, invalid("reason must not be empty")
	}
	r, err := s.store.EditReason(ctx, id, reason)
	if err != nil {
		return domain.Rule{}, err
	}
	s.logger.Info(map[string]any{"rule": r.ID, "reason": reason}, "rule reason updated")
	return r, nil
}

// Check runs the live check for an address or domain.
func (s *Service) Check(ctx context.Context, emailOrDomain string) (domain.Verdict, error) {
	return s.checker.Check(ctx, utils.DomainFromEmail(emailOrDomain))
}

// Test checks an address or domain against every rule without side effects.
func (s *Service) Test(ctx context.Context, emailOrDomain string) (domain.Verdict, error) {
	return s.checker.Test(ctx, utils.DomainFromEmail(emailOrDomain))
}

// TestPattern checks an address or domain against one pattern.
func (s *Service) TestPattern(ctx context.Context, text, emailOrDomain string) (domain.Verdict, error) {
	p, err := domain.ParsePattern(text)
	if err != nil {
		return domain.Verdict{}, err
	}
	return s.checker.CheckPattern(ctx, utils.DomainFromEmail(emailOrDomain), p)
}

// CacheShow lists the cached clean domains, oldest first.
func (s *Service) CacheShow() []string {
	return s.cache.Keys()
}

// CacheDelete evicts one domain and reports whether it was cached.
func (s *Service) CacheDelete(name string) bool {
	name = utils.CanonicalDNSName(name)
	removed := s.cache.Remove(name)
	if removed {
		s.logger.Info(map[string]any{"domain": name}, "removed from clean domain cache")
	}
	return removed
}

// CacheStats reports decision cache counters.
func (s *Service) CacheStats() blocklist.CacheStats {
	return s.cache.Stats()
}

// invalidate runs one cache re-check for patterns. The rules are already
// stored by then, so the sweep is detached from ctx's cancellation: a caller
// going away must not leave clean entries the new rules would match.
// Failures only cost cache freshness.
func (s *Service) invalidate(ctx context.Context, patterns ...domain.Pattern) {
	if len(patterns) == 0 {
		return
	}
	evicted, err := s.checker.InvalidateIfAffected(context.WithoutCancel(ctx), patterns...)
	if err != nil {
		s.logger.Warn(map[string]any{"patterns": len(patterns), "error": err}, "cache invalidation incomplete")
	}
	if len(evicted) > 0 {
		s.logger.Info(map[string]any{"patterns": len(patterns), "domains": evicted}, "evicted cached clean domains")
	}
}

func cmpID(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
