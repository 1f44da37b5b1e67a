// Package metrics exposes the Prometheus instruments recorded by mxbl.
package metrics

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mxbl"

var (
	checksTotal        *prometheus.CounterVec
	cacheLookupsTotal  *prometheus.CounterVec
	dnsLookupsTotal    *prometheus.CounterVec
	ruleHitsTotal      *prometheus.CounterVec
	invalidationsTotal prometheus.Counter
	walkDuration       prometheus.Histogram
	cacheEntries       prometheus.Gauge

	registry *prometheus.Registry
	once     sync.Once
)

func initMetrics() {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		var reg prometheus.Registerer = registry
		if !testing.Testing() {
			registry.MustRegister(
				prometheus.NewGoCollector(),
				prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			)
		}

		checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Domain checks by mode and verdict.",
		}, []string{"mode", "verdict"})

		cacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Decision cache lookups by result.",
		}, []string{"result"})

		dnsLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dns",
			Name:      "lookups_total",
			Help:      "DNS lookups issued while walking, by record type and outcome.",
		}, []string{"type", "outcome"})

		ruleHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_hits_total",
			Help:      "Rule matches by rule mode.",
		}, []string{"mode"})

		invalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cached clean domains evicted because a new or edited pattern matches them.",
		})

		walkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "walk_duration_seconds",
			Help:      "Time spent walking DNS records for one domain.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		})

		cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Domains currently held in the decision cache.",
		})

		reg.MustRegister(checksTotal, cacheLookupsTotal, dnsLookupsTotal,
			ruleHitsTotal, invalidationsTotal, walkDuration, cacheEntries)
	})
}

// Handler returns the HTTP handler serving the mxbl registry.
func Handler() http.Handler {
	initMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mostly for tests.
func Gatherer() prometheus.Gatherer {
	initMetrics()
	return registry
}

// ObserveCheck counts a finished check. mode is "live", "override" or "test".
func ObserveCheck(mode string, matched bool) {
	initMetrics()
	verdict := "clean"
	if matched {
		verdict = "matched"
	}
	checksTotal.WithLabelValues(mode, verdict).Inc()
}

// ObserveCacheLookup counts a decision cache lookup.
func ObserveCacheLookup(hit bool) {
	initMetrics()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveDNSLookup counts one resolver call. outcome is "ok" or "error".
func ObserveDNSLookup(recordType, outcome string) {
	initMetrics()
	dnsLookupsTotal.WithLabelValues(recordType, outcome).Inc()
}

// ObserveRuleHit counts a rule match; active selects the ACTIVE or WARN label.
func ObserveRuleHit(active bool) {
	initMetrics()
	mode := "warn"
	if active {
		mode = "active"
	}
	ruleHitsTotal.WithLabelValues(mode).Inc()
}

// AddInvalidations counts domains evicted by pattern re-checks.
func AddInvalidations(n int) {
	initMetrics()
	if n > 0 {
		invalidationsTotal.Add(float64(n))
	}
}

// ObserveWalk records how long a walk took.
func ObserveWalk(d time.Duration) {
	initMetrics()
	walkDuration.Observe(d.Seconds())
}

// SetCacheEntries reports the current decision cache size.
func SetCacheEntries(n int) {
	initMetrics()
	cacheEntries.Set(float64(n))
}
