package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "orders_created_total", Help: "Total orders created"})
	AssignmentsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "assignments_total", Help: "Total successful partner assignments"})
	DispatchFailures  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "dispatch_failures_total", Help: "Assign attempts that exhausted all candidates"})
	ReservationRaces  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "reservation_races_total", Help: "Reservations lost to a concurrent claim"})
	TransitionsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "transitions_total", Help: "State transitions applied"}, []string{"to"})
	HubSubscribers    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "delivery_dispatch", Name: "hub_subscribers", Help: "Connections currently subscribed to the hub"})
	HubDroppedTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "hub_dropped_total", Help: "Messages dropped on full subscriber buffers"})
	PartnerUpdates    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "partner_location_updates_total", Help: "Partner location updates ingested"})
	AssignmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "delivery_dispatch", Name: "assignment_latency_seconds", Help: "Time spent finding and reserving a partner"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delivery_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
