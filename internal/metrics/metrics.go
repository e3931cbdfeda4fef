// Package metrics exposes backend counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK          = "ok"
	ResultRejected    = "rejected"
	ResultRateLimited = "rate_limited"
	ResultInvalid     = "invalid"
)

// Backend holds the counters of the reference auth backend. Each Backend
// has its own registry so tests can create as many as they like.
type Backend struct {
	reg *prometheus.Registry

	Registrations *prometheus.CounterVec
	Challenges    *prometheus.CounterVec
	Logins        *prometheus.CounterVec
	Lookups       *prometheus.CounterVec
	Accounts      prometheus.Gauge
	Outstanding   prometheus.Gauge
}

// New creates the counters and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Backend {
	m := &Backend{
		reg: prometheus.NewRegistry(),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authd",
			Name:      "registrations_total",
			Help:      "Identity registrations by result.",
		}, []string{"result"}),
		Challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authd",
			Name:      "challenges_total",
			Help:      "Login challenges by result.",
		}, []string{"result"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authd",
			Name:      "logins_total",
			Help:      "Login verifications by result.",
		}, []string{"result"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authd",
			Name:      "key_lookups_total",
			Help:      "Public key directory lookups by result.",
		}, []string{"result"}),
		Accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authd",
			Name:      "accounts",
			Help:      "Registered accounts.",
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authd",
			Name:      "outstanding_challenges",
			Help:      "Challenges issued and not yet used or expired.",
		}),
	}
	m.reg.MustRegister(
		m.Registrations, m.Challenges, m.Logins, m.Lookups, m.Accounts, m.Outstanding,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Backend) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry over HTTP.
func (m *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
