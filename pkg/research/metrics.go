package research

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_sessions_total",
		Help: "Research sessions by report source and outcome.",
	}, []string{"source", "status"})

	subQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_subqueries_total",
		Help: "Sub-queries processed, labelled by outcome (content, empty, failed).",
	}, []string{"outcome"})

	subQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "research_subquery_duration_seconds",
		Help:    "Wall time spent processing a single sub-query.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	locationsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_locations_admitted_total",
		Help: "Source locations admitted into a session's visited set.",
	})

	locationsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_locations_duplicate_total",
		Help: "Source locations dropped because the session already visited them.",
	})

	ingestFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_index_ingest_failures_total",
		Help: "Best-effort vector index ingestions that failed.",
	})
)
