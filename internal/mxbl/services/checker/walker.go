package checker

import (
	"context"
	"time"

	"github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/common/metrics"
	"github.com/haukened/mxbl/internal/mxbl/common/utils"
	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
)

// Walker expands a seed domain into the hosts and addresses it routes mail
// through and tests each one against a rule snapshot.
//
// The queue starts with (seed, MX), (seed, A), (seed, AAAA). An MX answer puts
// (exchange, A) and (exchange, AAAA) at the front of the queue, so the
// addresses of a mail exchanger are tested before anything queued earlier.
// Lookup failures only end their own leg.
type Walker struct {
	resolver     Resolver
	logger       log.Logger
	queryTimeout time.Duration
	maxLookups   int
	budget       time.Duration
}

// WalkerOptions configures a Walker.
type WalkerOptions struct {
	Resolver Resolver
	Logger   log.Logger
	// QueryTimeout bounds each lookup. Zero leaves it to the resolver.
	QueryTimeout time.Duration
	// MaxLookups caps the queue items processed per walk. Zero means no cap.
	MaxLookups int
	// Budget bounds a whole walk in wall-clock time. Zero means no bound.
	Budget time.Duration
}

// WalkResult is the outcome of one walk.
type WalkResult struct {
	Verdict domain.Verdict
	// Lookups is the number of resolver calls made.
	Lookups int
	// Complete is false when the walk stopped on MaxLookups, Budget or
	// cancellation before draining its queue without a match.
	Complete bool
}

// leg is one pending lookup.
type leg struct {
	name string
	rt   domain.RecordType
}

// walkState carries the progress of a single Walk.
type walkState struct {
	seed    string
	queue   []leg
	lookups int
}

func newWalkState(seed string) *walkState {
	return &walkState{
		seed: seed,
		queue: []leg{
			{name: seed, rt: domain.RecordMX},
			{name: seed, rt: domain.RecordA},
			{name: seed, rt: domain.RecordAAAA},
		},
	}
}

func (st *walkState) pop() leg {
	l := st.queue[0]
	st.queue = st.queue[1:]
	return l
}

// pushFront queues the address legs of an exchange ahead of everything else.
func (st *walkState) pushFront(exchange string) {
	front := []leg{{name: exchange, rt: domain.RecordA}, {name: exchange, rt: domain.RecordAAAA}}
	st.queue = append(front, st.queue...)
}

// NewWalker builds a Walker. A nil logger discards output.
func NewWalker(opts WalkerOptions) *Walker {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Walker{
		resolver:     opts.Resolver,
		logger:       logger,
		queryTimeout: opts.QueryTimeout,
		maxLookups:   opts.MaxLookups,
		budget:       opts.Budget,
	}
}

// Walk resolves seed and tests every answer against snap in queue order. The
// first matching rule ends the walk. The seed itself is not tested here.
func (w *Walker) Walk(ctx context.Context, seed string, snap *blocklist.Snapshot) WalkResult {
	start := time.Now()
	defer func() { metrics.ObserveWalk(time.Since(start)) }()

	if w.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.budget)
		defer cancel()
	}

	st := newWalkState(utils.CanonicalDNSName(seed))
	for len(st.queue) > 0 {
		if err := w.guard(ctx, st); err != nil {
			w.logger.Debug(map[string]any{
				"seed":    st.seed,
				"lookups": st.lookups,
				"pending": len(st.queue),
				"reason":  err.Error(),
			}, "walk stopped early")
			return WalkResult{Verdict: domain.Clean(), Lookups: st.lookups, Complete: false}
		}
		l := st.pop()
		records := w.lookup(ctx, st, l)
		for _, rec := range records {
			candidate, ok := w.candidate(st, l, rec)
			if !ok {
				continue
			}
			if rule, found := snap.Match(candidate); found {
				return WalkResult{
					Verdict:  domain.MatchedBy(rule, candidate, l.rt),
					Lookups:  st.lookups,
					Complete: true,
				}
			}
		}
	}
	return WalkResult{Verdict: domain.Clean(), Lookups: st.lookups, Complete: true}
}

// guard reports why the walk may not take another lookup, or nil.
func (w *Walker) guard(ctx context.Context, st *walkState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.maxLookups > 0 && st.lookups >= w.maxLookups {
		return errMaxLookups
	}
	return nil
}

// lookup queries one leg. Failures are logged and yield no records.
func (w *Walker) lookup(ctx context.Context, st *walkState, l leg) []domain.Record {
	st.lookups++
	qctx := ctx
	if w.queryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, w.queryTimeout)
		defer cancel()
	}
	records, err := w.resolver.Lookup(qctx, l.name, l.rt)
	if err != nil {
		metrics.ObserveDNSLookup(l.rt.String(), "error")
		w.logger.Debug(map[string]any{
			"seed":  st.seed,
			"name":  l.name,
			"type":  l.rt.String(),
			"error": err,
		}, "lookup failed")
		return nil
	}
	metrics.ObserveDNSLookup(l.rt.String(), "ok")
	return records
}

// candidate turns a record into the value tested against rules, queuing the
// address legs of MX exchanges as a side effect.
func (w *Walker) candidate(st *walkState, l leg, rec domain.Record) (string, bool) {
	switch {
	case l.rt == domain.RecordMX && rec.Type == domain.RecordMX:
		exchange := utils.CanonicalDNSName(rec.Value)
		if exchange == "" {
			// null MX: the domain accepts no mail
			return "", false
		}
		st.pushFront(exchange)
		return exchange, true
	case (l.rt == domain.RecordA || l.rt == domain.RecordAAAA) && rec.Type == l.rt:
		return rec.Value, rec.Value != ""
	default:
		return "", false
	}
}
