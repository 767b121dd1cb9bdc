// Package metrics owns the Prometheus collectors of the bot. Every method is
// safe on a nil receiver so components can run without instrumentation.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the registry and the collectors.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	updates       *prometheus.CounterVec
	handlerTime   *prometheus.HistogramVec
	submissions   prometheus.Counter
	decisions     *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	gateRemovals  prometheus.Counter
	announcements *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	updates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorbot_updates_total",
		Help: "Telegram updates handled, by kind and outcome",
	}, []string{"kind", "outcome"})

	handlerTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tutorbot_handler_duration_seconds",
		Help:    "Handler latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	submissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tutorbot_submissions_total",
		Help: "Registrations submitted for review",
	})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorbot_review_decisions_total",
		Help: "Review decisions by action and outcome",
	}, []string{"action", "outcome"})

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorbot_deliveries_total",
		Help: "Outbound notifications by outcome and error kind",
	}, []string{"outcome", "kind"})

	gateRemovals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tutorbot_gate_removals_total",
		Help: "Members removed from the gated channel",
	})

	announcements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorbot_announcements_total",
		Help: "Announcements sent by cohort",
	}, []string{"cohort"})

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorbot_job_runs_total",
		Help: "Scheduled job runs by job and outcome",
	}, []string{"job", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tutorbot_goroutines",
		Help: "Number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(updates, handlerTime, submissions, decisions, deliveries,
		gateRemovals, announcements, jobRuns, goroutines)

	return &Metrics{
		registry:      registry,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		updates:       updates,
		handlerTime:   handlerTime,
		submissions:   submissions,
		decisions:     decisions,
		deliveries:    deliveries,
		gateRemovals:  gateRemovals,
		announcements: announcements,
		jobRuns:       jobRuns,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveUpdate counts one handled update.
func (m *Metrics) ObserveUpdate(kind, route, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind, outcome).Inc()
	if route != "" {
		m.handlerTime.WithLabelValues(route).Observe(took.Seconds())
	}
}

// IncSubmission counts a registration entering the review queue.
func (m *Metrics) IncSubmission() {
	if m == nil {
		return
	}
	m.submissions.Inc()
}

// IncDecision counts an approve/reject attempt.
func (m *Metrics) IncDecision(action, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action, outcome).Inc()
}

// IncDelivery counts one outbound notification.
func (m *Metrics) IncDelivery(outcome, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.deliveries.WithLabelValues(outcome, kind).Inc()
}

// IncGateRemoval counts a member removed by the access gate.
func (m *Metrics) IncGateRemoval() {
	if m == nil {
		return
	}
	m.gateRemovals.Inc()
}

// IncAnnouncement counts a broadcast.
func (m *Metrics) IncAnnouncement(cohort string) {
	if m == nil {
		return
	}
	m.announcements.WithLabelValues(cohort).Inc()
}

// IncJobRun counts a scheduled job execution.
func (m *Metrics) IncJobRun(job, outcome string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
}
