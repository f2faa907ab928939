package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msms_queue_processed_total",
			Help: "Queue entries processed by the dispatcher, by outcome",
		},
		[]string{"outcome"}, // sent|failed|dead|lost|skipped
	)

	DispatchPassSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msms_dispatch_pass_seconds",
			Help:    "Duration of a dispatcher pass",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	GatewayRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msms_gateway_request_seconds",
			Help:    "Latency of gateway send calls by status class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status_class"}, // 2xx|4xx|5xx|error
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msms_webhook_events_total",
			Help: "Gateway webhook callbacks by kind and persistence result",
		},
		[]string{"kind", "result"}, // inbound|event , stored|error
	)
)

var registerOnce sync.Once

// MustRegister registers the collectors once; serve and worker commands both call it.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			QueueProcessed,
			DispatchPassSeconds,
			GatewayRequestSeconds,
			WebhookEvents,
		)
	})
}
