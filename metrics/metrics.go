// Package metrics exports relay counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thankyoucode/livekit-webstream/domain"
)

const namespace = "webstream"

// Rejection reasons.
const (
	ReasonInvalidJSON   = "invalid_json"
	ReasonInvalidType   = "invalid_type"
	ReasonUnknownType   = "unknown_type"
	ReasonStreamerTaken = "streamer_taken"
	ReasonRoleAssigned  = "role_assigned"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry
	messages *prometheus.CounterVec
	relayed  *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// New registers the relay collectors on a fresh registry. stats feeds the
// connection gauges at scrape time.
func New(stats func() domain.Stats) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages received from clients, by message type.",
		}, []string{"type"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_total",
			Help:      "Messages queued to recipients, by message type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Messages with no eligible recipient, by message type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Messages answered with an error, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(m.messages, m.relayed, m.dropped, m.rejected)
	if stats != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections",
				Help:      "Open client connections.",
			}, func() float64 { return float64(stats().Connections) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "viewers",
				Help:      "Registered viewers.",
			}, func() float64 { return float64(stats().Viewers) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "streamer_connected",
				Help:      "1 while a streamer is registered.",
			}, func() float64 {
				if stats().Streamer {
					return 1
				}
				return 0
			}),
		)
	}
	return m
}

func (m *Metrics) Message(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Relayed(msgType string, recipients int) {
	if m == nil {
		return
	}
	if recipients == 0 {
		m.dropped.WithLabelValues(msgType).Inc()
		return
	}
	m.relayed.WithLabelValues(msgType).Add(float64(recipients))
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
