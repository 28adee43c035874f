// Package metrics exposes Prometheus collectors for the judge.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups judge collectors on one registry. It implements the sandbox
// observer and the scheduler gauges.
type Metrics struct {
	registry *prometheus.Registry

	submissions    *prometheus.CounterVec
	verdicts       *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec
	memoryUsage    *prometheus.HistogramVec
	queueLength    prometheus.Gauge
	activeWorkers  prometheus.Gauge
	rejections     *prometheus.CounterVec
	rateLimitHits  prometheus.Counter
	statusRequests *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_submissions_total",
				Help: "Submissions accepted for judging",
			},
			[]string{"language", "mode"},
		),
		verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_verdicts_total",
				Help: "Final verdicts by language and status",
			},
			[]string{"language", "status"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "judge_phase_duration_ms",
				Help:    "Sandbox time per phase in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"language", "phase", "outcome"},
		),
		memoryUsage: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "judge_memory_usage_kb",
				Help:    "Peak memory per sandbox run in KB",
				Buckets: []float64{1024, 4096, 16384, 65536, 131072, 262144},
			},
			[]string{"language"},
		),
		queueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "judge_queue_length",
				Help: "Submissions waiting for a worker",
			},
		),
		activeWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "judge_active_workers",
				Help: "Workers currently judging a submission",
			},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_rejections_total",
				Help: "Submissions rejected before judging",
			},
			[]string{"reason"},
		),
		rateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "judge_rate_limit_hits_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		statusRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

func (m *Metrics) ObserveCompile(_ context.Context, languageID string, ok bool, timeMs int64, memoryKB int64) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.phaseDuration.WithLabelValues(languageID, "compile", outcome).Observe(float64(timeMs))
}

func (m *Metrics) ObserveRun(_ context.Context, languageID string, outcome string, timeMs int64, memoryKB int64) {
	m.phaseDuration.WithLabelValues(languageID, "run", outcome).Observe(float64(timeMs))
	if memoryKB > 0 {
		m.memoryUsage.WithLabelValues(languageID).Observe(float64(memoryKB))
	}
}

func (m *Metrics) SetQueueLength(n int) {
	m.queueLength.Set(float64(n))
}

func (m *Metrics) SetActiveWorkers(n int) {
	m.activeWorkers.Set(float64(n))
}

// SubmissionAccepted counts an admitted run or submit request.
func (m *Metrics) SubmissionAccepted(languageID, mode string) {
	m.submissions.WithLabelValues(languageID, mode).Inc()
}

// Verdict counts a final status.
func (m *Metrics) Verdict(languageID, status string) {
	m.verdicts.WithLabelValues(languageID, status).Inc()
}

// Rejected counts a request refused before judging, e.g. queue_full.
func (m *Metrics) Rejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) RateLimited() {
	m.rateLimitHits.Inc()
}

// Request counts one served HTTP request.
func (m *Metrics) Request(route string, code int) {
	m.statusRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
