package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nodesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "standby_nodes",
			Help: "Number of registered nodes by lifecycle status",
		},
		[]string{"status"},
	)

	provisioningAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "standby_provisioning_attempts_total",
			Help: "Provisioning attempts by result",
		},
		[]string{"result"},
	)

	provisioningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "standby_provisioning_duration_seconds",
			Help:    "Time from provisioning request to a ready node",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	queueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "standby_queue_wait_seconds",
			Help:    "Time requests spent queued before their node became ready",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	queuedRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "standby_queued_requests",
			Help: "Requests currently waiting for a node",
		},
		[]string{"node"},
	)

	activeRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "standby_active_requests",
			Help: "Requests currently executing on a node",
		},
		[]string{"node"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "standby_requests_total",
			Help: "Requests by outcome",
		},
		[]string{"outcome"},
	)

	terminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "standby_terminations_total",
			Help: "Node terminations by reason",
		},
		[]string{"reason"},
	)
)
