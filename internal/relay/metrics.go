package relay

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	registry      *prometheus.Registry
	registrations prometheus.Counter
	lookups       *prometheus.CounterVec
	enqueued      prometheus.Counter
	keyCarrying   prometheus.Counter
	fetched       prometheus.Counter
	acked         prometheus.Counter
	rejected      *prometheus.CounterVec
	subscribers   prometheus.Gauge
}

// newMetrics builds the relay counters on a private registry so several
// servers can live in one process.
func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley_relay",
			Name:      "registrations_total",
			Help:      "Number of accepted registrations and key updates.",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley_relay",
			Name:      "key_lookups_total",
			Help:      "Public key lookups by result.",
		}, []string{"result"}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley_relay",
			Name:      "envelopes_enqueued_total",
			Help:      "Number of envelopes accepted for delivery.",
		}),
		keyCarrying: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley_relay",
			Name:      "envelopes_with_wrapped_key_total",
			Help:      "Number of accepted envelopes carrying a wrapped conversation key.",
		}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley_relay",
			Name:      "envelopes_fetched_total",
			Help:      "Number of envelopes returned to recipients.",
		}),
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley_relay",
			Name:      "envelopes_acked_total",
			Help:      "Number of envelopes removed from queues.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley_relay",
			Name:      "requests_rejected_total",
			Help:      "Requests rejected, by reason.",
		}, []string{"reason"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley_relay",
			Name:      "subscribers",
			Help:      "Open websocket notification streams.",
		}),
	}
	m.registry.MustRegister(
		m.registrations,
		m.lookups,
		m.enqueued,
		m.keyCarrying,
		m.fetched,
		m.acked,
		m.rejected,
		m.subscribers,
	)
	return m
}
