// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for authorization decisions and the cleanup sweeper.
var (
	checkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authz_check_duration_seconds",
		Help:    "Histogram of permission check latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_decisions_total",
		Help: "Total number of permission decisions by reason class",
	}, []string{"reason", "allowed"})

	cacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_cache_events_total",
		Help: "Decision cache hits and misses",
	}, []string{"event"})

	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authz_sweeps_total",
		Help: "Total number of expired-grant cleanup sweeps",
	})

	grantsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authz_grants_purged_total",
		Help: "Total number of expired grants physically deleted",
	})
)

// recordCheck records latency and outcome of a completed check.
// Level reasons collapse into a single "level" class to bound
// cardinality.
func recordCheck(duration time.Duration, d Decision) {
	checkDuration.Observe(duration.Seconds())

	reason := d.Reason
	if len(reason) > 6 && reason[:6] == "level_" {
		reason = "level"
	}
	allowed := "false"
	if d.Allowed() {
		allowed = "true"
	}
	decisionsTotal.WithLabelValues(reason, allowed).Inc()
}

func recordCacheEvent(hit bool) {
	if hit {
		cacheEventsTotal.WithLabelValues("hit").Inc()
	} else {
		cacheEventsTotal.WithLabelValues("miss").Inc()
	}
}

func recordSweep(purged int) {
	sweepsTotal.Inc()
	grantsPurgedTotal.Add(float64(purged))
}
