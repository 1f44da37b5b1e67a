package checker

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/mxbl/internal/mxbl/common/metrics"
	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
)

// InvalidateIfAffected re-checks every cached clean domain against patterns
// and evicts those that now match any of them. A domain whose re-check is cut
// short, by the walk limits or by ctx, is evicted as well: it can only stay
// cached once it is known not to match. The evicted names come back sorted,
// together with ctx's error if the sweep was interrupted.
//
// Callers run it after adding rules or changing a rule's pattern. A bulk
// change passes all of its patterns at once so the cache is swept one time.
func (c *Checker) InvalidateIfAffected(ctx context.Context, patterns ...domain.Pattern) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	names := c.cache.Keys()
	if len(names) == 0 {
		return nil, nil
	}
	snap := patternsSnapshot(patterns)

	var (
		mu         sync.Mutex
		evicted    []string
		unverified int
	)
	var g errgroup.Group
	g.SetLimit(c.workers)
	for _, name := range names {
		g.Go(func() error {
			v, complete := c.evaluate(ctx, name, snap)
			if !v.Matched && complete {
				return nil
			}
			if !c.cache.Remove(name) {
				return nil
			}
			mu.Lock()
			evicted = append(evicted, name)
			if !v.Matched {
				unverified++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(evicted)
	metrics.AddInvalidations(len(evicted))
	fields := map[string]any{
		"patterns":   len(patterns),
		"checked":    len(names),
		"evicted":    len(evicted),
		"unverified": unverified,
	}
	if len(patterns) == 1 {
		fields["pattern"] = patterns[0].Render()
	}
	c.logger.Info(fields, "cache invalidated by pattern")
	return evicted, ctx.Err()
}

// patternsSnapshot holds patterns as synthetic active rules.
func patternsSnapshot(patterns []domain.Pattern) *blocklist.Snapshot {
	if len(patterns) == 1 {
		return patternSnapshot(patterns[0])
	}
	rules := make([]domain.Rule, len(patterns))
	for i, p := range patterns {
		rules[i] = domain.Rule{Pattern: p, Active: true}
	}
	return blocklist.NewSnapshot(rules, nil, 0)
}
