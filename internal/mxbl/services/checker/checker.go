// Package checker decides whether a domain is blocklisted, either directly or
// through the mail exchangers and addresses it resolves to.
package checker

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/haukened/mxbl/internal/mxbl/common/clock"
	"github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/common/metrics"
	"github.com/haukened/mxbl/internal/mxbl/common/utils"
	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
)

var (
	// ErrRuleSource wraps failures to load the rule set.
	ErrRuleSource = errors.New("rule source unavailable")
	// ErrHitRecord wraps failures to record a rule hit. The verdict returned
	// alongside it is still valid.
	ErrHitRecord = errors.New("rule hit not recorded")
	// ErrEmptyDomain is returned for a blank domain.
	ErrEmptyDomain = errors.New("empty domain")

	errMaxLookups = errors.New("lookup limit reached")
)

const (
	modeLive     = "live"
	modeOverride = "override"
	modeTest     = "test"
)

// Checker runs checks against the current rule set, remembering clean domains
// in a decision cache.
type Checker struct {
	rules    RuleSource
	hits     HitRecorder
	cache    blocklist.DecisionCache
	walker   *Walker
	clock    clock.Clock
	logger   log.Logger
	workers  int
	coalesce bool
	flight   singleflight.Group
}

// Options configures a Checker.
type Options struct {
	Rules  RuleSource
	Hits   HitRecorder
	Cache  blocklist.DecisionCache
	Walker *Walker
	Clock  clock.Clock
	Logger log.Logger
	// InvalidateWorkers bounds concurrent re-checks in InvalidateIfAffected.
	InvalidateWorkers int
	// Coalesce shares one in-flight live check among callers asking about the
	// same domain.
	Coalesce bool
}

type flightResult struct {
	verdict domain.Verdict
}

// New builds a Checker.
func New(opts Options) *Checker {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.InvalidateWorkers <= 0 {
		opts.InvalidateWorkers = 1
	}
	return &Checker{
		rules:    opts.Rules,
		hits:     opts.Hits,
		cache:    opts.Cache,
		walker:   opts.Walker,
		clock:    opts.Clock,
		logger:   opts.Logger.Named("checker"),
		workers:  opts.InvalidateWorkers,
		coalesce: opts.Coalesce,
	}
}

// Check is the live check. A cached clean domain returns at once. Otherwise
// the domain is tested directly and then walked against every rule. A match
// bumps the rule's hit counter; a clean result is cached.
//
// Rule set failures return ErrRuleSource and no verdict. A failed hit
// increment returns the match together with ErrHitRecord.
func (c *Checker) Check(ctx context.Context, name string) (domain.Verdict, error) {
	name = utils.CanonicalDNSName(name)
	if name == "" {
		return domain.Clean(), ErrEmptyDomain
	}
	if !c.coalesce {
		return c.check(ctx, name)
	}
	// The shared check outlives any single caller; each caller stops waiting
	// on its own context.
	ch := c.flight.DoChan(name, func() (any, error) {
		v, err := c.check(context.WithoutCancel(ctx), name)
		return flightResult{verdict: v}, err
	})
	select {
	case res := <-ch:
		return res.Val.(flightResult).verdict, res.Err
	case <-ctx.Done():
		return domain.Clean(), ctx.Err()
	}
}

func (c *Checker) check(ctx context.Context, name string) (domain.Verdict, error) {
	hit := c.cache.Lookup(name)
	metrics.ObserveCacheLookup(hit)
	if hit {
		metrics.ObserveCheck(modeLive, false)
		return domain.Clean(), nil
	}

	snap, err := c.rules.Snapshot(ctx)
	if err != nil {
		c.logger.Error(map[string]any{"domain": name, "error": err}, "failed to load rules")
		return domain.Clean(), fmt.Errorf("%w: %w", ErrRuleSource, err)
	}

	v, complete := c.evaluate(ctx, name, snap)
	metrics.ObserveCheck(modeLive, v.Matched)
	if !v.Matched {
		if complete {
			c.cache.Insert(name)
		}
		return v, nil
	}
	return c.recordHit(ctx, name, v)
}

// recordHit increments the matched rule's counter and logs the match.
func (c *Checker) recordHit(ctx context.Context, name string, v domain.Verdict) (domain.Verdict, error) {
	now := c.clock.Now()
	fields := map[string]any{
		"domain":    name,
		"rule":      v.Rule.ID,
		"pattern":   v.Rule.Pattern.Render(),
		"candidate": v.Candidate,
		"via":       v.Via.String(),
		"mode":      v.Rule.Mode(),
	}
	if v.Rule.Active {
		c.logger.Info(fields, "domain matched rule")
	} else {
		c.logger.Warn(fields, "domain matched rule")
	}
	metrics.ObserveRuleHit(v.Rule.Active)

	count, err := c.hits.IncrementHit(ctx, v.Rule.ID, now)
	if err != nil {
		c.logger.Error(map[string]any{"domain": name, "rule": v.Rule.ID, "error": err}, "failed to record rule hit")
		return v, fmt.Errorf("%w: rule %d: %w", ErrHitRecord, v.Rule.ID, err)
	}
	v.Rule.Hits = count
	v.Rule.LastHit = &now
	return v, nil
}

// CheckPattern tests name against p alone. The cache and the stored rules are
// not consulted and nothing is recorded. The matched rule is a synthetic
// active rule with id 0.
func (c *Checker) CheckPattern(ctx context.Context, name string, p domain.Pattern) (domain.Verdict, error) {
	name = utils.CanonicalDNSName(name)
	if name == "" {
		return domain.Clean(), ErrEmptyDomain
	}
	v, _ := c.evaluate(ctx, name, patternSnapshot(p))
	metrics.ObserveCheck(modeOverride, v.Matched)
	return v, nil
}

// Test runs name against every stored rule without touching the cache or hit
// counters.
func (c *Checker) Test(ctx context.Context, name string) (domain.Verdict, error) {
	name = utils.CanonicalDNSName(name)
	if name == "" {
		return domain.Clean(), ErrEmptyDomain
	}
	snap, err := c.rules.Snapshot(ctx)
	if err != nil {
		return domain.Clean(), fmt.Errorf("%w: %w", ErrRuleSource, err)
	}
	v, _ := c.evaluate(ctx, name, snap)
	metrics.ObserveCheck(modeTest, v.Matched)
	return v, nil
}

// evaluate tests name itself and then walks it. The bool is false when the
// walk was cut short, in which case a clean verdict is not conclusive.
func (c *Checker) evaluate(ctx context.Context, name string, snap *blocklist.Snapshot) (domain.Verdict, bool) {
	if rule, ok := snap.Match(name); ok {
		return domain.MatchedBy(rule, name, domain.RecordNone), true
	}
	res := c.walker.Walk(ctx, name, snap)
	return res.Verdict, res.Complete
}

func patternSnapshot(p domain.Pattern) *blocklist.Snapshot {
	return blocklist.SingleRule(domain.Rule{Pattern: p, Active: true})
}
