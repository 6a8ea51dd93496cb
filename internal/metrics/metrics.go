// Package metrics holds the Prometheus collectors for ticket issuance and
// redemption.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TicketsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Total number of ticket payloads issued",
		},
	)

	TicketRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_redemptions_total",
			Help: "Redemption attempts by outcome",
		},
		[]string{"outcome"},
	)

	TicketResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_resets_total",
			Help: "Total number of administrative ticket resets",
		},
	)

	TicketImageUploadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_image_upload_failures_total",
			Help: "QR image uploads to object storage that failed",
		},
	)

	TicketEventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_events_dropped_total",
			Help: "Ticket audit events dropped because the broker was unavailable or the buffer was full",
		},
	)

	// HTTP metrics are labelled with the route pattern, never the raw path.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		TicketsIssuedTotal,
		TicketRedemptionsTotal,
		TicketResetsTotal,
		TicketImageUploadFailuresTotal,
		TicketEventsDroppedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
