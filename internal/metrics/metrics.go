// Package metrics exposes the coordinator's Prometheus instrumentation,
// following the teacher's promauto-registered gauge/counter/histogram
// style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveEndpoints = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "power_coordinator_active_endpoints",
		Help: "Number of live job endpoint sessions.",
	})

	ClusterCapWatts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "power_coordinator_cluster_cap_watts",
		Help: "Current cluster-wide power cap in watts.",
	})

	ClusterMeasuredWatts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "power_coordinator_cluster_measured_watts",
		Help: "Aggregated measured cluster power in watts, including idle hosts.",
	})

	RebalanceGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "power_coordinator_rebalance_generation",
		Help: "Barrier generation counter at the last completed rebalance.",
	})

	RebalancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "power_coordinator_rebalances_total",
		Help: "Total number of rebalance rounds fired.",
	})

	ModelFitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "power_coordinator_model_fits_total",
		Help: "Runtime model refit attempts, partitioned by outcome.",
	}, []string{"outcome"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "power_coordinator_sessions_total",
		Help: "Endpoint sessions, partitioned by termination reason.",
	}, []string{"reason"})

	JobsLaunchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "power_coordinator_jobs_launched_total",
		Help: "Jobs dispatched by the scheduler.",
	})

	RebalanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "power_coordinator_rebalance_duration_seconds",
		Help:    "Wall-clock time spent computing one rebalance round.",
		Buckets: prometheus.DefBuckets,
	})
)
