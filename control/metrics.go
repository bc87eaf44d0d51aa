// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the event registry and channels.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hioload"

// Metrics groups every collector the library updates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registrations  prometheus.Counter
	Timeouts       prometheus.Counter
	Cancellations  prometheus.Counter
	ActiveWatches  prometheus.Gauge
	BytesRead      prometheus.Counter
	BytesWritten   prometheus.Counter
	Accepted       prometheus.Counter
	Connects       *prometheus.CounterVec
	Handshakes     *prometheus.CounterVec
	CallbackPanics prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg keeps them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "registrations_total",
			Help: "Readiness watches added to the registry.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "timeouts_total",
			Help: "Watches resolved by deadline expiry.",
		}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "cancellations_total",
			Help: "Watches resolved by unregister or shutdown.",
		}),
		ActiveWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "active_watches",
			Help: "Watches currently pending.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "read_bytes_total",
			Help: "Bytes read from sockets.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "written_bytes_total",
			Help: "Bytes written to sockets.",
		}),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "accepted_total",
			Help: "Connections accepted by listening channels.",
		}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "connects_total",
			Help: "Outbound connects by outcome.",
		}, []string{"status"}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tls", Name: "handshakes_total",
			Help: "TLS handshakes by outcome.",
		}, []string{"status"}),
		CallbackPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "callback_panics_total",
			Help: "Panics recovered from readiness or completion callbacks.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Registrations, m.Timeouts, m.Cancellations, m.ActiveWatches,
		m.BytesRead, m.BytesWritten, m.Accepted, m.Connects, m.Handshakes,
		m.CallbackPanics,
	}
}

// The helpers below are nil-safe so call sites never branch on whether metrics are enabled.

func (m *Metrics) IncRegistrations() {
	if m != nil {
		m.Registrations.Inc()
		m.ActiveWatches.Inc()
	}
}

// WatchResolved records the end of a watch; how is "ready", "timeout" or "canceled".
func (m *Metrics) WatchResolved(how string) {
	if m == nil {
		return
	}
	m.ActiveWatches.Dec()
	switch how {
	case "timeout":
		m.Timeouts.Inc()
	case "canceled":
		m.Cancellations.Inc()
	}
}

func (m *Metrics) AddRead(n int) {
	if m != nil && n > 0 {
		m.BytesRead.Add(float64(n))
	}
}

func (m *Metrics) AddWritten(n int) {
	if m != nil && n > 0 {
		m.BytesWritten.Add(float64(n))
	}
}

func (m *Metrics) IncAccepted() {
	if m != nil {
		m.Accepted.Inc()
	}
}

func (m *Metrics) IncConnect(status string) {
	if m != nil {
		m.Connects.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncHandshake(status string) {
	if m != nil {
		m.Handshakes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncPanics() {
	if m != nil {
		m.CallbackPanics.Inc()
	}
}
