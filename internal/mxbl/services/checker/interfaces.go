package checker

import (
	"context"
	"time"

	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
)

// Resolver looks up one record type for a name. Implementations return the
// answers in message order; a name with no records of that type yields an
// empty slice and no error.
type Resolver interface {
	Lookup(ctx context.Context, name string, rt domain.RecordType) ([]domain.Record, error)
}

// RuleSource hands out a fresh snapshot of the rule set.
type RuleSource interface {
	Snapshot(ctx context.Context) (*blocklist.Snapshot, error)
}

// HitRecorder bumps a rule's hit counter and returns the new count.
type HitRecorder interface {
	IncrementHit(ctx context.Context, id int64, at time.Time) (int64, error)
}

var _ RuleSource = (*blocklist.Repository)(nil)
var _ HitRecorder = (blocklist.Store)(nil)
