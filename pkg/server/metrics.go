package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "research_jobs_total",
	Help: "Research job state transitions by status.",
}, []string{"status"})
