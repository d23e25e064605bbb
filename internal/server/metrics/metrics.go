// Package metrics holds the Prometheus collectors of the archive server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomePermit = "permit"
	OutcomeDeny   = "deny"
	OutcomeOK     = "ok"
	OutcomeError  = "error"
)

// Metrics groups the collectors the services update. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	AccessDecisions    *prometheus.CounterVec
	RequestTransitions *prometheus.CounterVec
	Logins             *prometheus.CounterVec
	Refreshes          *prometheus.CounterVec
	UsageFailures      prometheus.Counter
	UsageDropped       prometheus.Counter
	GrantsExpired      prometheus.Counter
	SweepRuns          *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	RenditionsPurged   prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AccessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_access_decisions_total",
			Help: "Content gate decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		RequestTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_request_transitions_total",
			Help: "Access request state transitions by target status.",
		}, []string{"status"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_token_refreshes_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		UsageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_usage_record_failures_total",
			Help: "Grant usage counter updates that failed.",
		}),
		UsageDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_usage_events_dropped_total",
			Help: "Usage events dropped because the queue was full.",
		}),
		GrantsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_grants_expired_total",
			Help: "Grants relabelled as expired by the sweep.",
		}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_sweep_runs_total",
			Help: "Expiry sweep runs by outcome.",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_sweep_duration_seconds",
			Help:    "Expiry sweep latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		RenditionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_renditions_purged_total",
			Help: "Plaintext download copies deleted from the blob store.",
		}),
	}
	reg.MustRegister(
		m.AccessDecisions,
		m.RequestTransitions,
		m.Logins,
		m.Refreshes,
		m.UsageFailures,
		m.UsageDropped,
		m.GrantsExpired,
		m.SweepRuns,
		m.SweepDuration,
		m.RenditionsPurged,
	)
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) Decision(operation, outcome string) {
	if m == nil {
		return
	}
	m.AccessDecisions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.RequestTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) UsageFailed() {
	if m == nil {
		return
	}
	m.UsageFailures.Inc()
}

func (m *Metrics) UsageQueueFull() {
	if m == nil {
		return
	}
	m.UsageDropped.Inc()
}

// Sweep records one sweep run: how many grants it expired and how long it took.
func (m *Metrics) Sweep(expired int, seconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SweepRuns.WithLabelValues(OutcomeError).Inc()
	} else {
		m.SweepRuns.WithLabelValues(OutcomeOK).Inc()
		m.GrantsExpired.Add(float64(expired))
	}
	m.SweepDuration.Observe(seconds)
}

func (m *Metrics) Purged(n int) {
	if m == nil {
		return
	}
	m.RenditionsPurged.Add(float64(n))
}
