package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Bookings waiting for a dispatch worker.",
	})
	queueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_queue_dropped_total",
		Help: "Dispatch jobs dropped because the queue was full.",
	})
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_jobs_total",
		Help: "Dispatch jobs processed by outcome.",
	}, []string{"outcome"})
	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_sweeper_requeued_total",
		Help: "Pending bookings re-queued by the retry sweeper.",
	})
)
