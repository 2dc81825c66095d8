// Package metrics exposes prometheus collectors for the session core.
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "idynic_auth"

// Refresh outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDiscarded = "discarded"
)

// Callback results.
const (
	CallbackComplete = "complete"
	CallbackRejected = "rejected"
	CallbackFailed   = "failed"
)

type Metrics struct {
	refreshes      *prometheus.CounterVec
	refreshWaiters prometheus.Counter
	retries        prometheus.Counter
	authFailures   prometheus.Counter
	callbacks      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Token refresh calls made to the identity service, by outcome.",
		}, []string{"outcome"}),
		refreshWaiters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_joined_total",
			Help:      "Refresh demands that joined an in-flight refresh instead of starting one.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_retries_total",
			Help:      "Protected requests resent once after a 401 and a successful refresh.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_auth_failures_total",
			Help:      "Protected requests surfaced to the caller as authorization failures.",
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federated_callbacks_total",
			Help:      "Federated login callbacks processed, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.refreshWaiters, m.retries, m.authFailures, m.callbacks)
	}
	return m
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RefreshJoined() {
	if m == nil {
		return
	}
	m.refreshWaiters.Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

func (m *Metrics) Callback(result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(result).Inc()
}

// RefreshCounter returns the counter for outcome.
func (m *Metrics) RefreshCounter(outcome string) prometheus.Counter {
	return m.refreshes.WithLabelValues(outcome)
}

func (m *Metrics) RetryCounter() prometheus.Counter {
	return m.retries
}

func (m *Metrics) CallbackCounter(result string) prometheus.Counter {
	return m.callbacks.WithLabelValues(result)
}
