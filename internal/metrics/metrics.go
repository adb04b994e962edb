package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wonny/stratstats/internal/contracts"
)

const namespace = "stratstats"

// Metrics holds every collector the service exports
// ⭐ SSOT: 메트릭 정의는 여기서만
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	importRowsTotal   prometheus.Counter
	importRejected    *prometheus.CounterVec
	monthsRecomputed  prometheus.Counter
	cascadeLength     prometheus.Histogram
	verifyMismatches  prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	wsClients           prometheus.Gauge
}

// New creates a metrics set on its own registry (plus Go/process collectors)
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Statistics service operations by result.",
		}, []string{"operation", "result"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Statistics service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		importRowsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Daily records persisted through bulk import.",
		}),
		importRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rejected_total",
			Help:      "Rejected bulk imports by error kind.",
		}, []string{"kind"}),
		monthsRecomputed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "months_recomputed_total",
			Help:      "Monthly aggregates recomputed.",
		}),
		cascadeLength: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cascade_months",
			Help:      "Months recomputed per cascade.",
			Buckets:   []float64{1, 2, 3, 6, 12, 24, 60, 120},
		}),
		verifyMismatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_mismatches_total",
			Help:      "Stored aggregates that differed from a full recomputation.",
		}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected statistics websocket clients.",
		}),
	}
}

// Registry exposes the underlying registry (tests, custom collectors)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one service operation
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "failure"
		if kind := contracts.KindOf(err); kind != "" {
			result = string(kind)
		}
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ImportAccepted records a persisted batch
func (m *Metrics) ImportAccepted(rows int) {
	if m == nil {
		return
	}
	m.importRowsTotal.Add(float64(rows))
}

// ImportRejected records a rejected batch
func (m *Metrics) ImportRejected(kind contracts.ErrorKind) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "INTERNAL"
	}
	m.importRejected.WithLabelValues(string(kind)).Inc()
}

// Cascade records the months touched by one cascade run
func (m *Metrics) Cascade(months int) {
	if m == nil {
		return
	}
	m.monthsRecomputed.Add(float64(months))
	m.cascadeLength.Observe(float64(months))
}

// VerifyMismatches records differences found by a consistency check
func (m *Metrics) VerifyMismatches(n int) {
	if m == nil || n == 0 {
		return
	}
	m.verifyMismatches.Add(float64(n))
}

// HTTPRequest records one served request
func (m *Metrics) HTTPRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, method, statusClass(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// WebsocketClients sets the connected client gauge
func (m *Metrics) WebsocketClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
