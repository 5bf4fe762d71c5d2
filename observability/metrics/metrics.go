package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// World activity counters, exported over the daemon's /metrics endpoint.
var (
	Deploys = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proxyvm",
		Subsystem: "world",
		Name:      "deploys_total",
		Help:      "Total instance deployments segmented by kind (proxy or implementation).",
	}, []string{"kind"})

	Calls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proxyvm",
		Subsystem: "world",
		Name:      "calls_total",
		Help:      "Total dispatched calls segmented by method and outcome.",
	}, []string{"method", "outcome"})

	Upgrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proxyvm",
		Subsystem: "world",
		Name:      "upgrades_total",
		Help:      "Total upgrade attempts segmented by outcome.",
	}, []string{"outcome"})

	CallSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proxyvm",
		Subsystem: "world",
		Name:      "call_duration_seconds",
		Help:      "Latency distribution for dispatched calls.",
		Buckets:   prometheus.DefBuckets,
	})
)
