package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConsumerMetrics tracks message consumption per topic.
type ConsumerMetrics struct {
	Consumed      *prometheus.CounterVec
	DeadLettered  *prometheus.CounterVec
	HandleSeconds *prometheus.HistogramVec
}

// NewConsumerMetrics registers and returns consumer metrics for a service.
func NewConsumerMetrics(service string) *ConsumerMetrics {
	service = strings.ReplaceAll(service, "-", "_")
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saga",
		Subsystem: service,
		Name:      "messages_consumed_total",
		Help:      "Messages consumed, by topic and result.",
	}, []string{"topic", "result"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saga",
		Subsystem: service,
		Name:      "messages_dead_lettered_total",
		Help:      "Messages routed to the dead-letter topic.",
	}, []string{"topic"})
	handle := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "saga",
		Subsystem: service,
		Name:      "handler_duration_seconds",
		Help:      "Stage handler duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"topic"})

	prometheus.MustRegister(consumed, deadLettered, handle)
	return &ConsumerMetrics{Consumed: consumed, DeadLettered: deadLettered, HandleSeconds: handle}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
