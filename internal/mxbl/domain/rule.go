package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// recentHitWindow is how recent a last hit must be for Describe to flag it.
const recentHitWindow = 6 * time.Hour

// Rule is one persisted blocklist entry. An active rule enforces; an inactive
// rule only warns.
type Rule struct {
	ID      int64
	Pattern Pattern
	Reason  string
	Active  bool
	AddedAt time.Time
	AddedBy string
	Hits    int64
	LastHit *time.Time // nil when never hit
}

// NewRule builds an unsaved rule (ID 0) for pattern, active by default.
func NewRule(p Pattern, reason, addedBy string, addedAt time.Time) (Rule, error) {
	r := Rule{
		Pattern: p,
		Reason:  strings.TrimSpace(reason),
		Active:  true,
		AddedAt: addedAt,
		AddedBy: strings.TrimSpace(addedBy),
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate checks the rule for required fields.
func (r Rule) Validate() error {
	if r.Pattern == nil {
		return errors.New("rule pattern must be set")
	}
	if r.Reason == "" {
		return errors.New("rule reason must not be empty")
	}
	if r.AddedBy == "" {
		return errors.New("rule added_by must not be empty")
	}
	if r.AddedAt.IsZero() {
		return errors.New("rule addedAt must be set")
	}
	return nil
}

// Mode returns "ACTIVE" or "WARN".
func (r Rule) Mode() string {
	if r.Active {
		return "ACTIVE"
	}
	return "WARN"
}

// FullReason is the reason text attached to enforcement actions.
func (r Rule) FullReason() string {
	return fmt.Sprintf("mxbl #%d - %s", r.ID, r.Reason)
}

// Describe renders the one-line operator summary of the rule relative to now.
func (r Rule) Describe(now time.Time) string {
	lastHit := "never"
	if r.LastHit != nil {
		since := now.Sub(*r.LastHit)
		lastHit = PrettyDelta(since)
		if since < recentHitWindow {
			lastHit += " (recent)"
		}
	}
	pattern := "<nil>"
	if r.Pattern != nil {
		pattern = r.Pattern.Render()
	}
	return fmt.Sprintf("#%d: %s (%s) added %s by %s with %d hits (last hit: %s) [%s]",
		r.ID, pattern, r.Reason, PrettyDelta(now.Sub(r.AddedAt)), r.AddedBy, r.Hits, lastHit, r.Mode())
}

// SortRules orders rules for matching: active rules first, then ascending id.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Active != rules[j].Active {
			return rules[i].Active
		}
		return rules[i].ID < rules[j].ID
	})
}

// PrettyDelta renders a duration with its two most significant units,
// e.g. "2w3d ago", "4h12m ago", "9s ago". Negative durations count as zero.
func PrettyDelta(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	weeks := total / (7 * 24 * 3600)
	days := total / (24 * 3600) % 7
	hours := total / 3600 % 24
	minutes := total / 60 % 60
	seconds := total % 60

	switch {
	case weeks > 0:
		return fmt.Sprintf("%dw%dd ago", weeks, days)
	case days > 0:
		return fmt.Sprintf("%dd%dh ago", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh%dm ago", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds ago", minutes, seconds)
	default:
		return fmt.Sprintf("%ds ago", seconds)
	}
}
