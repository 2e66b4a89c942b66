package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "selections_total", Help: "Selection attempts by outcome"},
		[]string{"outcome"},
	)
	selectionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "selection_latency_seconds",
		Help:      "Time to locate and route all candidates",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
	})
	routeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "route_requests_total", Help: "Routing provider calls by result"},
		[]string{"result"},
	)
	commitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "commits_total", Help: "Assignment and transition commits by outcome"},
		[]string{"kind", "outcome"},
	)
	assignedETASeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "assigned_eta_seconds",
		Help:      "Routed travel time of committed assignments",
		Buckets:   prometheus.ExponentialBuckets(60, 1.5, 10),
	})
)
