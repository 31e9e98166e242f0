package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instrumentation for one Session. It is
// optional: a Session created without WithMetrics uses a no-op set so
// the core never depends on a running registry, matching the way
// apecloud-myduckserver and joaofoltran-pg-migrator keep their
// collectors separable from the hot path they instrument.
type Metrics struct {
	decodedLSN     prometheus.Gauge
	committedLSN   prometheus.Gauge
	reconnects     prometheus.Counter
	feedbackSent   prometheus.Counter
	handlerErrors  prometheus.Counter
	connectRetries prometheus.Counter
}

// NewMetrics builds a Metrics registered under the given namespace
// (e.g. "pgreplicate"). Register it with a prometheus.Registerer via
// Metrics.MustRegister before passing it to WithMetrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		decodedLSN: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decoded_lsn",
			Help:      "Highest WAL LSN handed to the handler.",
		}),
		committedLSN: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "committed_lsn",
			Help:      "Highest WAL LSN acknowledged to the server.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Number of times the replication connection was re-established.",
		}),
		feedbackSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_frames_total",
			Help:      "Number of standby status update (r) frames sent.",
		}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Number of handler invocations that returned an error.",
		}),
		connectRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_retries_total",
			Help:      "Number of connection attempts that failed and were retried.",
		}),
	}
}

// MustRegister registers every collector in m with r.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(m.decodedLSN, m.committedLSN, m.reconnects, m.feedbackSent, m.handlerErrors, m.connectRetries)
}

func (m *Metrics) setDecodedLSN(v uint64) {
	if m == nil {
		return
	}
	m.decodedLSN.Set(float64(v))
}

func (m *Metrics) setCommittedLSN(v uint64) {
	if m == nil {
		return
	}
	m.committedLSN.Set(float64(v))
}

func (m *Metrics) incReconnects() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) incFeedbackSent() {
	if m == nil {
		return
	}
	m.feedbackSent.Inc()
}

func (m *Metrics) incHandlerErrors() {
	if m == nil {
		return
	}
	m.handlerErrors.Inc()
}

func (m *Metrics) incConnectRetries() {
	if m == nil {
		return
	}
	m.connectRetries.Inc()
}
