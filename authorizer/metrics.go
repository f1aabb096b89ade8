package authorizer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics counts what the transport does with 401 responses. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Unauthorized prometheus.Counter
	Refreshes    *prometheus.CounterVec
	Retries      prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authorizer",
			Name:      "unauthorized_total",
			Help:      "Responses that came back 401 on an authorized request.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authorizer",
			Name:      "refresh_total",
			Help:      "Token renewals awaited by requests, by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authorizer",
			Name:      "retries_total",
			Help:      "Requests re-sent with a renewed access token.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Unauthorized, m.Refreshes, m.Retries)
	}
	return m
}

func (m *Metrics) unauthorized() {
	if m != nil {
		m.Unauthorized.Inc()
	}
}

func (m *Metrics) refreshed(err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) retried() {
	if m != nil {
		m.Retries.Inc()
	}
}
