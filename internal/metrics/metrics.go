// Package metrics provides Prometheus instrumentation for swarmhub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarmhub_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swarmhub_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// WebSocket metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarmhub_ws_connections_active",
		Help: "Number of active WebSocket connections.",
	})

	WSFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarmhub_ws_frames_total",
		Help: "Total number of WebSocket frames by direction.",
	}, []string{"direction"})

	WSEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swarmhub_ws_events_dropped_total",
		Help: "Events dropped due to full per-connection outbound queues.",
	})
)

// Coordination metrics.
var (
	ActiveProjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarmhub_active_projects",
		Help: "Number of live project actors.",
	})

	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarmhub_active_agents",
		Help: "Number of registered agents across all projects.",
	})

	ActiveLeases = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarmhub_active_leases",
		Help: "Number of live file leases across all projects.",
	})

	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarmhub_events_appended_total",
		Help: "Events appended to project logs by kind.",
	}, []string{"kind"})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarmhub_requests_total",
		Help: "Coordination requests by type and result code.",
	}, []string{"type", "code"})
)
