package transport

import (
	"time"

	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
	"github.com/haukened/mxbl/internal/mxbl/services/admin"
)

type ruleJSON struct {
	ID      int64      `json:"id"`
	Pattern string     `json:"pattern"`
	Kind    string     `json:"kind"`
	Reason  string     `json:"reason"`
	Active  bool       `json:"active"`
	Mode    string     `json:"mode"`
	AddedAt time.Time  `json:"added_at"`
	AddedBy string     `json:"added_by"`
	Hits    int64      `json:"hits"`
	LastHit *time.Time `json:"last_hit,omitempty"`
	Summary string     `json:"summary"`
}

func toRuleJSON(r domain.Rule, now time.Time) ruleJSON {
	return ruleJSON{
		ID:      r.ID,
		Pattern: r.Pattern.Render(),
		Kind:    r.Pattern.Kind().String(),
		Reason:  r.Reason,
		Active:  r.Active,
		Mode:    r.Mode(),
		AddedAt: r.AddedAt,
		AddedBy: r.AddedBy,
		Hits:    r.Hits,
		LastHit: r.LastHit,
		Summary: r.Describe(now),
	}
}

func toRulesJSON(rules []domain.Rule, now time.Time) []ruleJSON {
	out := make([]ruleJSON, 0, len(rules))
	for _, r := range rules {
		out = append(out, toRuleJSON(r, now))
	}
	return out
}

type verdictJSON struct {
	Target    string    `json:"target"`
	Matched   bool      `json:"matched"`
	Rule      *ruleJSON `json:"rule,omitempty"`
	Candidate string    `json:"candidate,omitempty"`
	Via       string    `json:"via,omitempty"`
}

func toVerdictJSON(target string, v domain.Verdict, now time.Time) verdictJSON {
	out := verdictJSON{Target: target, Matched: v.Matched}
	if !v.Matched {
		return out
	}
	r := toRuleJSON(v.Rule, now)
	out.Rule = &r
	out.Candidate = v.Candidate
	if v.Via != domain.RecordNone {
		out.Via = v.Via.String()
	}
	return out
}

type eventResultJSON struct {
	Kind    string      `json:"kind"`
	Account string      `json:"account"`
	Domain  string      `json:"domain"`
	Action  string      `json:"action"`
	Verdict verdictJSON `json:"verdict"`
}

func toEventResultsJSON(results []admin.EventResult, now time.Time) []eventResultJSON {
	out := make([]eventResultJSON, 0, len(results))
	for _, r := range results {
		out = append(out, eventResultJSON{
			Kind:    r.Kind.String(),
			Account: r.Account,
			Domain:  r.Domain,
			Action:  string(r.Action),
			Verdict: toVerdictJSON(r.Domain, r.Verdict, now),
		})
	}
	return out
}

type cacheStatsJSON struct {
	Capacity    int    `json:"capacity"`
	Size        int    `json:"size"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

type cacheJSON struct {
	Entries []string       `json:"entries"`
	Stats   cacheStatsJSON `json:"stats"`
}

func toCacheJSON(entries []string, st blocklist.CacheStats) cacheJSON {
	if entries == nil {
		entries = []string{}
	}
	return cacheJSON{Entries: entries, Stats: cacheStatsJSON(st)}
}

type targetRequest struct {
	Target  string `json:"target"`
	Pattern string `json:"pattern,omitempty"`
}

type eventRequest struct {
	Kind    string `json:"kind"`
	Account string `json:"account"`
	Email   string `json:"email"`
}

type addRuleRequest struct {
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
	AddedBy string `json:"added_by"`
}

type patternRequest struct {
	Pattern string `json:"pattern"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type settingJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
