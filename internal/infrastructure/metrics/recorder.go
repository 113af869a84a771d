package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ratelimit"

// Recorder implements ports.MetricsRecorder on Prometheus collectors. It also owns
// the HTTP request metrics the server middleware feeds.
type Recorder struct {
	reg prometheus.Registerer

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	decisions    *prometheus.CounterVec
	updates      *prometheus.CounterVec
	syncs        *prometheus.CounterVec
	syncDuration prometheus.Histogram
	pushes       *prometheus.CounterVec
}

// NewRecorder registers every collector on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		reg: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "The total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "The HTTP request latencies in seconds",
			},
			[]string{"method", "endpoint"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Admission decisions by outcome",
			},
			[]string{"decision"},
		),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_updates_total",
				Help:      "Policy updates received by source and whether they were applied",
			},
			[]string{"source", "outcome"},
		),
		syncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_sync_total",
				Help:      "Policy sync cycles by outcome",
			},
			[]string{"outcome"},
		),
		syncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "policy_sync_duration_seconds",
				Help:      "Duration of policy sync cycles",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		pushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_pushes_total",
				Help:      "Policy pushes to data planes by outcome",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(r.requestsTotal, r.requestDuration, r.decisions, r.updates, r.syncs, r.syncDuration, r.pushes)
	return r
}

// RequestsTotal returns the HTTP request counter for middleware use.
func (r *Recorder) RequestsTotal() *prometheus.CounterVec { return r.requestsTotal }

// RequestDuration returns the HTTP latency histogram for middleware use.
func (r *Recorder) RequestDuration() *prometheus.HistogramVec { return r.requestDuration }

// RegisterDataPlaneGauges exposes the cached policy count and live counter count.
func (r *Recorder) RegisterDataPlaneGauges(policies, counters func() int) {
	r.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_policies",
			Help:      "Tenants with a cached policy override",
		}, func() float64 { return float64(policies()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_counters",
			Help:      "Window counters currently held in memory",
		}, func() float64 { return float64(counters()) }),
	)
}

func (r *Recorder) ObserveDecision(allowed bool) {
	if allowed {
		r.decisions.WithLabelValues("allowed").Inc()
		return
	}
	r.decisions.WithLabelValues("denied").Inc()
}

func (r *Recorder) ObservePolicyUpdate(source string, applied bool) {
	outcome := "superseded"
	if applied {
		outcome = "applied"
	}
	r.updates.WithLabelValues(source, outcome).Inc()
}

func (r *Recorder) ObserveSync(outcome string, duration time.Duration) {
	r.syncs.WithLabelValues(outcome).Inc()
	r.syncDuration.Observe(duration.Seconds())
}

func (r *Recorder) ObservePush(outcome string) {
	r.pushes.WithLabelValues(outcome).Inc()
}
